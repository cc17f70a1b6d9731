// Package engine owns the external conversion engine process and the framed
// protocol session with it.
//
// One Connection owns one spawned process and its byte streams. Outgoing
// requests are stamped with a per-connection monotonic seq and the engine's
// session id once assigned; response handlers are registered under the seq
// before the frame is written and invoked exactly once when the matching
// response arrives. Handlers run on the connection's reader goroutine;
// callers that need single-threaded delivery (the session coordinator does)
// post the response onto their own event loop inside the handler.
//
// The connection lifecycle is an explicit state machine:
//
//	NotStarted → Spawning → Initializing → Ready → Stopping → Stopped
//
// "Ready" is reported only once the init response has been received, never
// on spawn alone; "stopped" only once the process exit has been observed.
// A stop requested mid-initialization is remembered and the shutdown request
// goes out as soon as initialization completes.
package engine

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"henkan/internal/protocol"
)

// Common errors.
var (
	// ErrExecutableNotFound means the resolution chain produced no engine
	// binary. Reported once at start; there is no retry.
	ErrExecutableNotFound = errors.New("engine: executable not found")

	// ErrNotRunning is returned for sends (or stops) on a connection that
	// has no live, initialized process behind it.
	ErrNotRunning = errors.New("engine: connection not running")

	// ErrAlreadyStarted is returned when Start is called on a connection
	// that is already spawning, initializing, or ready.
	ErrAlreadyStarted = errors.New("engine: connection already started")

	// ErrStopping is returned when a stop is already in progress.
	ErrStopping = errors.New("engine: stop already in progress")

	// ErrProcessExited reports that the engine process went away while a
	// start was pending.
	ErrProcessExited = errors.New("engine: process exited")
)

// State is the connection lifecycle state.
type State int

const (
	StateNotStarted State = iota
	StateSpawning
	StateInitializing
	StateReady
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateSpawning:
		return "spawning"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// defaultStopTimeout bounds how long a shutdown request may go unanswered
// before the process is terminated forcibly.
const defaultStopTimeout = 5 * time.Second

// Config configures a Connection.
type Config struct {
	// ExecutablePath overrides executable resolution entirely. The path
	// must exist; resolution does not fall through a broken override.
	ExecutablePath string

	// ExecutableName is the binary resolved on PATH and in BuildDirs.
	// Defaults to "henkan-server".
	ExecutableName string

	// BuildDirs are directories searched after PATH, for locally built
	// engine binaries. Defaults to target/release and target/debug.
	BuildDirs []string

	// Args are extra arguments passed to the engine process.
	Args []string

	// Options is the capability configuration sent with init. May be nil.
	Options *protocol.EngineOptions

	// StopTimeout bounds graceful shutdown before the process is killed.
	StopTimeout time.Duration

	Logger *slog.Logger
}

// ResponseHandler receives the response correlated to one request. It is
// invoked exactly once, on the reader goroutine, and must tolerate being a
// no-op target (e.g. when the session has moved on).
type ResponseHandler func(protocol.Response)

// Connection owns one engine process. The zero value is not usable; use New.
type Connection struct {
	cfg Config
	log *slog.Logger

	mu            sync.Mutex
	state         State
	proc          proc
	sessionID     string
	version       string
	hasDictionary bool
	nextSeq       uint64
	initSeq       uint64
	pending       map[uint64]ResponseHandler
	onReady       func(error)
	onStopped     func(error)
	stopRequested bool
	killTimer     *time.Timer

	// newProc is swapped by tests to avoid spawning real processes.
	newProc func(path string, args []string) (proc, error)
}

// New creates a connection. It does not spawn anything; call Start.
func New(cfg Config) *Connection {
	if cfg.ExecutableName == "" {
		cfg.ExecutableName = DefaultExecutableName
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Connection{
		cfg:     cfg,
		log:     log.With(slog.String("component", "engine")),
		pending: make(map[uint64]ResponseHandler),
		newProc: startProc,
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Running reports whether a process is alive behind the connection.
func (c *Connection) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateSpawning, StateInitializing, StateReady, StateStopping:
		return true
	}
	return false
}

// Ready reports whether the connection has completed initialization and can
// accept requests.
func (c *Connection) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateReady
}

// SessionID returns the session id assigned by the engine, or "" before the
// first initialization completes. The id survives process exit; a restart
// offers it back to the engine on the init request.
func (c *Connection) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Version returns the engine version reported at initialization.
func (c *Connection) Version() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// HasDictionary reports the capability flag from the init response.
func (c *Connection) HasDictionary() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasDictionary
}

// Start resolves the engine executable, spawns it, and sends the init
// request. Resolution and spawn failures are returned synchronously and
// onReady is not called for them. Otherwise onReady fires exactly once:
// with nil once the init response arrives, or with an error if the process
// exits first.
func (c *Connection) Start(onReady func(error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateNotStarted, StateStopped:
	default:
		return ErrAlreadyStarted
	}

	path, err := Resolve(c.cfg)
	if err != nil {
		return err
	}

	p, err := c.newProc(path, c.cfg.Args)
	if err != nil {
		return fmt.Errorf("engine: spawn %s: %w", path, err)
	}

	c.proc = p
	c.state = StateSpawning
	c.onReady = onReady
	c.onStopped = nil
	c.stopRequested = false
	// A session id assigned by an earlier process is kept: sendLocked stamps
	// it on the init request so the engine may resume the session, and the
	// init response replaces it.
	c.pending = make(map[uint64]ResponseHandler)

	go c.readLoop(p)
	go c.stderrLoop(p)
	go c.waitLoop(p)

	c.log.Info("engine process spawned", "path", path, "pid", p.pid())

	// Initialization: ready is reported only once the engine answers.
	c.state = StateInitializing
	seq, err := c.sendLocked(protocol.NewInit(c.cfg.Options), nil)
	if err != nil {
		c.log.Error("init request failed, terminating engine", "error", err)
		p.terminate()
		return nil // onReady fires via waitLoop
	}
	c.initSeq = seq
	return nil
}

// Stop sends a shutdown request and reports through onStopped only after
// the process exit is observed. Stopping a connection that is still
// initializing defers the shutdown until initialization completes.
func (c *Connection) Stop(onStopped func(error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateNotStarted, StateStopped:
		return ErrNotRunning
	case StateStopping:
		return ErrStopping
	case StateSpawning, StateInitializing:
		c.stopRequested = true
		c.onStopped = onStopped
		return nil
	}

	c.onStopped = onStopped
	c.shutdownLocked()
	return nil
}

// Send stamps req with the next seq and the session id, registers fn under
// that seq, and writes the frame as one unit. fn may be nil for
// notifications whose response only needs logging.
func (c *Connection) Send(req protocol.Request, fn ResponseHandler) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return 0, fmt.Errorf("%w (state %s)", ErrNotRunning, c.state)
	}
	return c.sendLocked(req, fn)
}

// sendLocked requires c.mu held and a live process.
func (c *Connection) sendLocked(req protocol.Request, fn ResponseHandler) (uint64, error) {
	c.nextSeq++
	seq := c.nextSeq
	req.SetSeq(seq)
	req.SetSessionID(c.sessionID)

	payload, err := protocol.EncodeRequest(req)
	if err != nil {
		return 0, err
	}
	if fn != nil {
		c.pending[seq] = fn
	}
	if err := protocol.WriteFrame(c.proc.stdin(), payload); err != nil {
		delete(c.pending, seq)
		return 0, fmt.Errorf("engine: write %s: %w", req.Kind(), err)
	}
	c.log.Debug("request sent", "type", req.Kind(), "seq", seq)
	return seq, nil
}

// shutdownLocked moves to Stopping, sends the shutdown request, and arms
// the kill timer. Requires c.mu held and a live process.
func (c *Connection) shutdownLocked() {
	c.state = StateStopping
	if _, err := c.sendLocked(protocol.NewShutdown(), nil); err != nil {
		c.log.Warn("shutdown request failed, terminating engine", "error", err)
		c.proc.terminate()
		return
	}
	p := c.proc
	c.killTimer = time.AfterFunc(c.cfg.StopTimeout, func() {
		c.log.Warn("engine did not exit after shutdown request, terminating")
		p.terminate()
	})
}

// readLoop drains the engine's output stream: every chunk is appended to
// the frame scanner and all complete frames present are dispatched before
// the next read. A frame that fails to parse is logged and skipped; the
// length prefix already delimited it, so later frames are unaffected.
func (c *Connection) readLoop(p proc) {
	var scanner protocol.Scanner
	buf := make([]byte, 32*1024)
	for {
		n, err := p.stdout().Read(buf)
		if n > 0 {
			scanner.Feed(buf[:n])
			for {
				payload, ok, ferr := scanner.Next()
				if !ok {
					break
				}
				if ferr != nil {
					c.log.Warn("frame discarded", "error", ferr)
					continue
				}
				resp, derr := protocol.DecodeResponse(payload)
				if derr != nil {
					c.log.Warn("frame skipped", "error", derr)
					continue
				}
				c.dispatch(resp)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.log.Debug("engine stdout closed", "error", err)
			}
			return
		}
	}
}

// dispatch routes one parsed response: init results feed the connection
// state machine, everything else resolves a pending handler by seq.
func (c *Connection) dispatch(resp protocol.Response) {
	var ready func(error)

	c.mu.Lock()
	if ir, ok := resp.(*protocol.InitResult); ok {
		c.sessionID = ir.SessionID
		c.version = ir.Version
		c.hasDictionary = ir.HasDictionary
		if c.state == StateInitializing {
			c.state = StateReady
			ready = c.onReady
			c.onReady = nil
			if c.stopRequested {
				c.shutdownLocked()
			}
		}
	}
	fn := c.pending[resp.ResponseSeq()]
	delete(c.pending, resp.ResponseSeq())
	c.mu.Unlock()

	if ready != nil {
		ready(nil)
	}
	if fn != nil {
		fn(resp)
		return
	}
	if errResp, ok := resp.(*protocol.Error); ok {
		// Unmatched error, typically seq 0 from an engine-side parse
		// failure.
		c.log.Warn("engine error", "seq", errResp.Seq, "error", errResp.Message)
	}
}

// stderrLoop forwards the engine's stderr lines into the log.
func (c *Connection) stderrLoop(p proc) {
	s := bufio.NewScanner(p.stderr())
	for s.Scan() {
		c.log.Debug("engine stderr", "line", s.Text())
	}
}

// waitLoop observes process exit and resolves every callback that is still
// outstanding: the pending start, the pending stop, and all registered
// request handlers (which receive a synthetic error response).
func (c *Connection) waitLoop(p proc) {
	code := p.wait()

	c.mu.Lock()
	expected := c.state == StateStopping || c.stopRequested
	c.state = StateStopped
	if c.killTimer != nil {
		c.killTimer.Stop()
		c.killTimer = nil
	}
	ready := c.onReady
	c.onReady = nil
	stopped := c.onStopped
	c.onStopped = nil
	handlers := c.pending
	c.pending = make(map[uint64]ResponseHandler)
	c.proc = nil
	c.mu.Unlock()

	switch {
	case !expected && code != 0:
		c.log.Warn("engine exited unexpectedly", "code", code)
	case !expected:
		c.log.Warn("engine exited unexpectedly")
	default:
		c.log.Info("engine stopped", "code", code)
	}

	if ready != nil {
		ready(fmt.Errorf("%w (code %d)", ErrProcessExited, code))
	}
	for seq, fn := range handlers {
		fn(&protocol.Error{Seq: seq, Message: "engine process exited"})
	}
	if stopped != nil {
		stopped(nil)
	}
}
