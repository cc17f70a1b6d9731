// Package ime ties keystrokes, transliteration, debounced conversion, and
// segment/candidate selection into one input session driven by a single
// event loop.
package ime

import "strings"

// Position is a cursor location on the editing surface. Row and Col are
// 0-based; Col counts runes.
type Position struct {
	Row int
	Col int
}

// Segment is one contiguous span of the reading with its own candidate list.
// Selected is 1-based into Candidates; it is never 0 while the segment is
// displayed.
type Segment struct {
	Reading    string
	Start      int
	Length     int
	Candidates []string
	Selected   int
}

// Text returns the segment's selected candidate, falling back to its reading
// while no candidates are available.
func (s Segment) Text() string {
	if s.Selected >= 1 && s.Selected <= len(s.Candidates) {
		return s.Candidates[s.Selected-1]
	}
	return s.Reading
}

// Session is the mutable aggregate of one input episode. Only the
// coordinator's event loop touches it, so it carries no locking.
type Session struct {
	Enabled bool

	// Pending is unconverted Latin input still waiting for transliteration.
	Pending string

	// Reading is the transliterated text not yet resolved by the engine.
	Reading string

	// Candidates is the flat fallback list. Selected is 1-based; 0 means no
	// selection. Segmented display takes precedence whenever Segments is
	// non-empty.
	Candidates []string
	Selected   int

	Segments []Segment
	// ActiveSegment is 1-based into Segments, valid only when Segments is
	// non-empty.
	ActiveSegment int

	// Anchor is the surface position where committed text is inserted.
	Anchor Position

	// ExpectedSeq is the request seq the session currently trusts. It only
	// increases; a response is applied iff its seq matches exactly.
	ExpectedSeq uint64
}

// Segmented reports whether the session is in segmented display mode.
func (s *Session) Segmented() bool { return len(s.Segments) > 0 }

// HasSelection reports whether any candidate is currently selected, in
// either flat or segmented mode.
func (s *Session) HasSelection() bool { return s.Selected > 0 || s.Segmented() }

// ClearConversion drops candidates and segments but keeps the buffers, the
// anchor, and the enabled flag. Used when new input invalidates stale
// conversion results.
func (s *Session) ClearConversion() {
	s.Candidates = nil
	s.Selected = 0
	s.Segments = nil
	s.ActiveSegment = 0
}

// ClearAll resets the session to its post-commit state. Enabled and Anchor
// survive; ExpectedSeq keeps increasing so late replies stay rejected.
func (s *Session) ClearAll() {
	s.Pending = ""
	s.Reading = ""
	s.ClearConversion()
}

// SetSegments replaces the segment list. Every segment's selection resets to
// its first candidate and the active pointer moves to the first segment.
func (s *Session) SetSegments(segs []Segment) {
	for i := range segs {
		if len(segs[i].Candidates) > 0 {
			segs[i].Selected = 1
		} else {
			segs[i].Selected = 0
		}
	}
	s.Segments = segs
	if len(segs) > 0 {
		s.ActiveSegment = 1
	} else {
		s.ActiveSegment = 0
	}
	s.Candidates = nil
	s.Selected = 0
}

// CycleCandidate moves the flat selection by delta with wraparound at both
// ends. No-op when the candidate list is empty.
func (s *Session) CycleCandidate(delta int) {
	n := len(s.Candidates)
	if n == 0 {
		return
	}
	if s.Selected == 0 {
		s.Selected = 1
	}
	s.Selected = wrap(s.Selected+delta, n)
}

// CycleSegmentCandidate moves the active segment's local selection by delta
// with wraparound.
func (s *Session) CycleSegmentCandidate(delta int) {
	if !s.Segmented() {
		return
	}
	seg := &s.Segments[s.ActiveSegment-1]
	n := len(seg.Candidates)
	if n == 0 {
		return
	}
	seg.Selected = wrap(seg.Selected+delta, n)
}

// MoveSegment moves the active segment pointer by delta, clamped at both
// ends. It never wraps.
func (s *Session) MoveSegment(delta int) {
	if !s.Segmented() {
		return
	}
	next := s.ActiveSegment + delta
	if next < 1 {
		next = 1
	}
	if next > len(s.Segments) {
		next = len(s.Segments)
	}
	s.ActiveSegment = next
}

// ConvertedText is the display form of the resolved part of the session:
// the combined segment selections, the selected flat candidate, or the bare
// reading when nothing is selected yet.
func (s *Session) ConvertedText() string {
	if s.Segmented() {
		var b strings.Builder
		for _, seg := range s.Segments {
			b.WriteString(seg.Text())
		}
		return b.String()
	}
	if s.Selected >= 1 && s.Selected <= len(s.Candidates) {
		return s.Candidates[s.Selected-1]
	}
	return s.Reading
}

// ComposedText is everything a commit would insert: the converted text plus
// the still-pending Latin tail.
func (s *Session) ComposedText() string {
	return s.ConvertedText() + s.Pending
}

// wrap maps a 1-based index moved past either end back into [1, n].
func wrap(i, n int) int {
	i = (i - 1) % n
	if i < 0 {
		i += n
	}
	return i + 1
}
