package ime

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/bep/debounce"

	"henkan/internal/engine"
	"henkan/internal/notify"
	"henkan/internal/protocol"
	"henkan/internal/romaji"
)

const (
	// staleSeqJump is added to ExpectedSeq on cancel and commit so that any
	// reply already in flight mismatches and is dropped.
	staleSeqJump = 1 << 20

	historyLimit            = 8
	defaultDebounceInterval = 80 * time.Millisecond
)

// Converter is the engine connection surface the coordinator drives.
// *engine.Connection implements it; tests substitute a fake.
type Converter interface {
	Start(onReady func(error)) error
	Stop(onStopped func(error)) error
	Running() bool
	Ready() bool
	Send(req protocol.Request, fn engine.ResponseHandler) (uint64, error)
}

// Recorder persists committed conversions and recalls them when the engine
// has no candidates for a reading. *history.Store implements it.
type Recorder interface {
	Record(reading, candidate string) error
	Lookup(reading string, limit int) ([]string, error)
}

// Event loop messages. Everything that can touch the session arrives as one
// of these, delivered to the single Run goroutine.
type keyEvent struct{ key string }
type responseEvent struct{ resp protocol.Response }
type debounceEvent struct{ gen uint64 }
type readyEvent struct{ err error }
type enableEvent struct{}
type disableEvent struct{}

// Options configures a Coordinator. Zero values select defaults.
type Options struct {
	DebounceInterval time.Duration
	Keymap           *Keymap
	Binder           Binder
	History          Recorder
	Notifier         notify.Notifier
	Logger           *slog.Logger
}

// Coordinator is the session state machine. All mutation happens on the Run
// goroutine; the public methods only post events.
type Coordinator struct {
	engine   Converter
	surface  Surface
	keymap   *Keymap
	binder   Binder
	history  Recorder
	notifier notify.Notifier
	log      *slog.Logger

	session *Session
	events  chan any

	// schedule delays its argument by the debounce interval, restarting the
	// delay on every call. Tests substitute a synchronous version.
	schedule func(func())
	// gen invalidates scheduled conversions: a debounce firing whose gen no
	// longer matches is stale and dropped.
	gen uint64
}

// NewCoordinator wires a coordinator over an engine connection and an
// editing surface.
func NewCoordinator(conv Converter, surface Surface, opts Options) *Coordinator {
	if opts.DebounceInterval <= 0 {
		opts.DebounceInterval = defaultDebounceInterval
	}
	if opts.Keymap == nil {
		opts.Keymap = DefaultKeymap()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		engine:   conv,
		surface:  surface,
		keymap:   opts.Keymap,
		binder:   opts.Binder,
		history:  opts.History,
		notifier: opts.Notifier,
		log:      log.With(slog.String("component", "ime")),
		session:  &Session{},
		events:   make(chan any, 128),
		schedule: debounce.New(opts.DebounceInterval),
	}
}

// Session exposes the session aggregate for inspection. Callers outside the
// Run goroutine must not mutate it.
func (c *Coordinator) Session() *Session { return c.session }

// Run consumes events until ctx is done. Any pending content is committed
// before returning so editor exit never loses typed text.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if c.session.Enabled {
				c.commit()
			}
			return ctx.Err()
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

// Enable turns input mode on, capturing the anchor from the current cursor.
func (c *Coordinator) Enable() { c.post(enableEvent{}) }

// Disable commits pending content and turns input mode off.
func (c *Coordinator) Disable() { c.post(disableEvent{}) }

// KeyPressed delivers one key from the host surface.
func (c *Coordinator) KeyPressed(key string) { c.post(keyEvent{key: key}) }

func (c *Coordinator) post(ev any) { c.events <- ev }

// postResponse is the handler registered with every engine request; it moves
// the response from the reader goroutine onto the event loop.
func (c *Coordinator) postResponse(resp protocol.Response) {
	c.post(responseEvent{resp: resp})
}

func (c *Coordinator) handle(ev any) {
	switch ev := ev.(type) {
	case keyEvent:
		c.handleKey(ev.key)
	case responseEvent:
		c.handleResponse(ev.resp)
	case debounceEvent:
		c.handleDebounce(ev.gen)
	case readyEvent:
		c.handleReady(ev.err)
	case enableEvent:
		c.enable()
	case disableEvent:
		c.disable()
	}
}

func (c *Coordinator) handleKey(key string) {
	if !c.session.Enabled {
		c.surface.ForwardKey(key)
		return
	}
	action, ok := c.keymap.Lookup(key)
	if !ok {
		c.surface.ForwardKey(key)
		return
	}
	switch action {
	case ActionInput:
		c.handleLiteral(key)
	case ActionCommit:
		c.commit()
	case ActionCancel:
		c.cancel()
	case ActionBackspace:
		c.backspace(key)
	case ActionDisable:
		c.disable()
	case ActionNextCandidate:
		c.cycleCandidate(1)
	case ActionPrevCandidate:
		c.cycleCandidate(-1)
	case ActionNextSegment:
		c.moveSegment(1)
	case ActionPrevSegment:
		c.moveSegment(-1)
	case ActionShrinkSegment:
		c.adjustSegment(protocol.DirectionShrink)
	case ActionExtendSegment:
		c.adjustSegment(protocol.DirectionExtend)
	}
}

// handleLiteral feeds one literal key through transliteration. Typing over
// an existing selection commits it first.
func (c *Coordinator) handleLiteral(key string) {
	if c.session.HasSelection() {
		c.commit()
	}
	c.session.Pending += key
	emitted, remainder := romaji.Transliterate(c.session.Pending)
	c.session.Reading += emitted
	c.session.Pending = remainder
	c.session.ClearConversion()
	if c.session.Reading != "" {
		c.scheduleConversion()
	} else {
		c.gen++
	}
	c.render()
}

// commit inserts the composed text at the anchor, notifies the engine for
// learning when a reading was resolved, and resets to Idle with input mode
// still enabled.
func (c *Coordinator) commit() {
	c.gen++

	s := c.session
	// Committed conversion state must stay cleared: force any in-flight
	// conversion reply to mismatch, same as cancel.
	s.ExpectedSeq += staleSeqJump
	text := s.ComposedText()
	reading := s.Reading
	candidate := s.ConvertedText()

	if text != "" {
		c.insertAtAnchor(text)
	}
	if reading != "" {
		if _, err := c.engine.Send(protocol.NewCommit(reading, candidate), c.postResponse); err != nil {
			c.log.Debug("commit notification not sent", "error", err)
		}
		if c.history != nil {
			if err := c.history.Record(reading, candidate); err != nil {
				c.log.Warn("history record failed", "error", err)
			}
		}
	}
	s.ClearAll()
	c.render()
}

// cancel drops conversion state and forces ExpectedSeq far ahead so any
// in-flight reply mismatches.
func (c *Coordinator) cancel() {
	c.gen++
	c.session.ClearConversion()
	c.session.ExpectedSeq += staleSeqJump
	c.render()
}

// backspace removes from the pending tail first, then from the reading, and
// only passes the key through when both buffers are empty.
func (c *Coordinator) backspace(key string) {
	s := c.session
	switch {
	case s.Pending != "":
		s.Pending = trimLastRune(s.Pending)
	case s.Reading != "":
		s.Reading = trimLastRune(s.Reading)
	default:
		c.surface.ForwardKey(key)
		return
	}
	s.ClearConversion()
	if s.Reading != "" {
		c.scheduleConversion()
	} else {
		c.gen++
	}
	c.render()
}

func (c *Coordinator) cycleCandidate(delta int) {
	s := c.session
	if s.Segmented() {
		s.CycleSegmentCandidate(delta)
		c.render()
		return
	}
	if len(s.Candidates) == 0 {
		// Nothing to cycle yet: convert now instead of waiting out the
		// debounce interval.
		c.gen++
		c.fireConvert()
		return
	}
	s.CycleCandidate(delta)
	c.render()
}

func (c *Coordinator) moveSegment(delta int) {
	if !c.session.Segmented() {
		return
	}
	c.session.MoveSegment(delta)
	c.render()
}

// adjustSegment asks the engine to move the active segment's boundary.
// Adjustments that cannot produce a valid segmentation are refused locally
// without a request.
func (c *Coordinator) adjustSegment(dir protocol.Direction) {
	s := c.session
	if !s.Segmented() {
		return
	}
	idx := s.ActiveSegment
	seg := s.Segments[idx-1]
	if dir == protocol.DirectionShrink && seg.Length <= 1 {
		return
	}
	if dir == protocol.DirectionExtend {
		if idx == len(s.Segments) {
			return
		}
		if s.Segments[idx].Length <= 1 {
			return
		}
	}

	req := protocol.NewAdjustSegment(s.Reading, toWire(s.Segments), idx-1, dir)
	seq, err := c.engine.Send(req, c.postResponse)
	if err != nil {
		c.log.Warn("segment adjustment unavailable", "error", err)
		c.notifier.Notify("henkan", "conversion temporarily unavailable")
		return
	}
	s.ExpectedSeq = seq
}

func (c *Coordinator) enable() {
	if c.session.Enabled {
		return
	}
	if !c.engine.Running() {
		if err := c.engine.Start(func(err error) { c.post(readyEvent{err: err}) }); err != nil {
			c.log.Error("engine start failed", "error", err)
			c.notifier.Notify("henkan", "conversion engine unavailable")
		}
	}
	c.session.Enabled = true
	c.session.Anchor = c.surface.Cursor()
	if c.binder != nil {
		c.keymap.Install(c.binder)
	}
	c.render()
}

func (c *Coordinator) disable() {
	if !c.session.Enabled {
		return
	}
	c.commit()
	c.session.Enabled = false
	if c.binder != nil {
		c.keymap.Uninstall(c.binder)
	}
	c.render()
}

func (c *Coordinator) handleReady(err error) {
	if err != nil {
		c.log.Warn("engine not ready", "error", err)
		c.notifier.Notify("henkan", "conversion engine unavailable")
		return
	}
	c.log.Info("engine ready")
	if c.session.Enabled && c.session.Reading != "" {
		c.scheduleConversion()
	}
}

// scheduleConversion (re)starts the quiet-interval timer. Bumping gen first
// invalidates any previously scheduled firing.
func (c *Coordinator) scheduleConversion() {
	c.gen++
	gen := c.gen
	c.schedule(func() { c.post(debounceEvent{gen: gen}) })
}

func (c *Coordinator) handleDebounce(gen uint64) {
	if gen != c.gen {
		return
	}
	c.fireConvert()
}

// fireConvert sends the conversion request and marks its seq as the only
// response the session will accept.
func (c *Coordinator) fireConvert() {
	s := c.session
	if s.Reading == "" {
		return
	}
	req := protocol.NewConvert(s.Reading, utf8.RuneCountInString(s.Reading), true)
	seq, err := c.engine.Send(req, c.postResponse)
	if err != nil {
		c.log.Warn("conversion unavailable", "error", err)
		c.notifier.Notify("henkan", "conversion temporarily unavailable")
		return
	}
	s.ExpectedSeq = seq
}

func (c *Coordinator) handleResponse(resp protocol.Response) {
	s := c.session
	switch r := resp.(type) {
	case *protocol.ConvertResult:
		if !s.Enabled || s.Reading == "" || r.Seq != s.ExpectedSeq {
			c.log.Debug("stale conversion dropped", "seq", r.Seq, "expected", s.ExpectedSeq)
			return
		}
		if len(r.Segments) > 0 {
			s.SetSegments(fromWire(r.Segments))
		} else {
			candidates := r.Candidates
			if len(candidates) == 0 && c.history != nil {
				if recalled, err := c.history.Lookup(s.Reading, historyLimit); err == nil {
					candidates = recalled
				}
			}
			s.Segments = nil
			s.ActiveSegment = 0
			s.Candidates = candidates
			if len(candidates) > 0 {
				s.Selected = 1
			} else {
				s.Selected = 0
			}
		}
		c.render()

	case *protocol.AdjustSegmentResult:
		if !s.Enabled || s.Reading == "" || r.Seq != s.ExpectedSeq {
			c.log.Debug("stale adjustment dropped", "seq", r.Seq, "expected", s.ExpectedSeq)
			return
		}
		active := s.ActiveSegment
		s.SetSegments(fromWire(r.Segments))
		if active > len(s.Segments) {
			active = len(s.Segments)
		}
		if active >= 1 {
			s.ActiveSegment = active
		}
		c.render()

	case *protocol.CommitResult:
		if !r.Success {
			c.log.Warn("engine rejected commit", "seq", r.Seq)
		}

	case *protocol.Error:
		c.log.Warn("engine error", "seq", r.Seq, "error", r.Message)
		c.notifier.Notify("henkan", "conversion temporarily unavailable")
	}
}

func (c *Coordinator) render() {
	s := c.session
	c.surface.Render(View{
		Active:        s.Enabled,
		Preedit:       s.ComposedText(),
		Candidates:    s.Candidates,
		Selected:      s.Selected,
		Segments:      s.Segments,
		ActiveSegment: s.ActiveSegment,
	})
}

// insertAtAnchor splices text into the anchor's line and advances the anchor
// past it. Columns count runes.
func (c *Coordinator) insertAtAnchor(text string) {
	s := c.session
	line := []rune(c.surface.Line(s.Anchor.Row))
	col := s.Anchor.Col
	if col > len(line) {
		col = len(line)
	}
	c.surface.SetLine(s.Anchor.Row, string(line[:col])+text+string(line[col:]))
	s.Anchor.Col = col + utf8.RuneCountInString(text)
}

func toWire(segs []Segment) []protocol.Segment {
	out := make([]protocol.Segment, len(segs))
	for i, s := range segs {
		out[i] = protocol.Segment{
			Reading:    s.Reading,
			Start:      s.Start,
			Length:     s.Length,
			Candidates: s.Candidates,
		}
	}
	return out
}

func fromWire(segs []protocol.Segment) []Segment {
	out := make([]Segment, len(segs))
	for i, s := range segs {
		out[i] = Segment{
			Reading:    s.Reading,
			Start:      s.Start,
			Length:     s.Length,
			Candidates: s.Candidates,
		}
	}
	return out
}

func trimLastRune(s string) string {
	_, n := utf8.DecodeLastRuneInString(s)
	return s[:len(s)-n]
}
