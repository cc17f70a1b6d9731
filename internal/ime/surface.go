package ime

// View is one render instruction for the editing surface: everything the
// host needs to draw the preedit overlay and any candidate UI.
type View struct {
	Active        bool
	Preedit       string
	Candidates    []string
	Selected      int
	Segments      []Segment
	ActiveSegment int
}

// Surface is the host text-editing surface the coordinator writes into. The
// coordinator only ever reads the cursor, reads and replaces single lines,
// renders overlay state, and passes through keys it does not handle.
type Surface interface {
	// Cursor returns the current insertion position.
	Cursor() Position

	// Line returns the text of one row.
	Line(row int) string

	// SetLine replaces the text of one row.
	SetLine(row int, text string)

	// Render draws the current preedit/candidate/segment overlay.
	Render(v View)

	// ForwardKey delivers a key the input method chose not to consume.
	ForwardKey(key string)
}
