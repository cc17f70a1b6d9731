package engine

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"henkan/internal/protocol"
)

// fakeProc replaces the spawned engine process with in-memory pipes.
type fakeProc struct {
	inR  *io.PipeReader // engine side: reads requests
	inW  *io.PipeWriter
	outR *io.PipeReader // connection side: reads responses
	outW *io.PipeWriter
	errR *io.PipeReader
	errW *io.PipeWriter

	exitCode chan int
	exitOnce sync.Once
}

func newFakeProc() *fakeProc {
	p := &fakeProc{exitCode: make(chan int, 1)}
	p.inR, p.inW = io.Pipe()
	p.outR, p.outW = io.Pipe()
	p.errR, p.errW = io.Pipe()
	return p
}

func (p *fakeProc) stdin() io.Writer  { return p.inW }
func (p *fakeProc) stdout() io.Reader { return p.outR }
func (p *fakeProc) stderr() io.Reader { return p.errR }
func (p *fakeProc) pid() int          { return 4242 }
func (p *fakeProc) wait() int         { return <-p.exitCode }
func (p *fakeProc) terminate()        { p.exit(-1) }

// exit simulates process death: streams close and wait returns.
func (p *fakeProc) exit(code int) {
	p.exitOnce.Do(func() {
		p.outW.Close()
		p.errW.Close()
		p.inR.Close()
		p.exitCode <- code
	})
}

// fakeEngine reads framed requests off the fake process's stdin and lets
// tests script the responses.
type fakeEngine struct {
	t    *testing.T
	p    *fakeProc
	reqs chan map[string]any
}

func startFakeEngine(t *testing.T, p *fakeProc) *fakeEngine {
	e := &fakeEngine{t: t, p: p, reqs: make(chan map[string]any, 16)}
	go func() {
		for {
			var prefix [4]byte
			if _, err := io.ReadFull(p.inR, prefix[:]); err != nil {
				return
			}
			payload := make([]byte, binary.BigEndian.Uint32(prefix[:]))
			if _, err := io.ReadFull(p.inR, payload); err != nil {
				return
			}
			var m map[string]any
			if err := json.Unmarshal(payload, &m); err != nil {
				continue
			}
			e.reqs <- m
		}
	}()
	return e
}

func (e *fakeEngine) nextRequest() map[string]any {
	e.t.Helper()
	select {
	case m := <-e.reqs:
		return m
	case <-time.After(2 * time.Second):
		e.t.Fatal("timed out waiting for a request frame")
		return nil
	}
}

func (e *fakeEngine) respond(v any) {
	e.t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(e.t, err)
	require.NoError(e.t, protocol.WriteFrame(e.p.outW, payload))
}

func reqSeq(m map[string]any) uint64 {
	return uint64(m["seq"].(float64))
}

// newTestConnection wires a Connection to a fresh fake process. The
// executable override points at a real temp file so resolution succeeds.
func newTestConnection(t *testing.T) (*Connection, *fakeProc, *fakeEngine) {
	t.Helper()
	exe := filepath.Join(t.TempDir(), "henkan-server")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755))

	p := newFakeProc()
	c := New(Config{
		ExecutablePath: exe,
		StopTimeout:    time.Second,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	c.newProc = func(string, []string) (proc, error) { return p, nil }
	return c, p, startFakeEngine(t, p)
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
		return nil
	}
}

// startReady drives a connection through spawn and init to Ready.
func startReady(t *testing.T, c *Connection, e *fakeEngine) {
	t.Helper()
	ready := make(chan error, 1)
	require.NoError(t, c.Start(func(err error) { ready <- err }))

	init := e.nextRequest()
	require.Equal(t, protocol.TypeInit, init["type"])
	e.respond(map[string]any{
		"type": "init_result", "seq": reqSeq(init),
		"session_id": "sess-1", "version": "0.3.0", "has_dictionary": true,
	})
	require.NoError(t, waitErr(t, ready))
}

func TestStartReportsReadyOnlyAfterInitResponse(t *testing.T) {
	c, _, e := newTestConnection(t)

	ready := make(chan error, 1)
	require.NoError(t, c.Start(func(err error) { ready <- err }))

	// Spawn happened, init in flight: not ready yet.
	assert.Equal(t, StateInitializing, c.State())
	select {
	case <-ready:
		t.Fatal("ready reported before init response")
	case <-time.After(50 * time.Millisecond):
	}

	init := e.nextRequest()
	require.Equal(t, protocol.TypeInit, init["type"])
	e.respond(map[string]any{
		"type": "init_result", "seq": reqSeq(init),
		"session_id": "sess-9", "version": "0.3.0", "has_dictionary": false,
	})

	require.NoError(t, waitErr(t, ready))
	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, "sess-9", c.SessionID())
	assert.Equal(t, "0.3.0", c.Version())
	assert.False(t, c.HasDictionary())
}

func TestStartFailsSynchronouslyWhenUnresolvable(t *testing.T) {
	c := New(Config{
		ExecutablePath: filepath.Join(t.TempDir(), "missing-server"),
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	err := c.Start(func(error) { t.Fatal("onReady must not fire for a sync failure") })
	assert.ErrorIs(t, err, ErrExecutableNotFound)
	assert.Equal(t, StateNotStarted, c.State())
}

func TestSendStampsSeqAndSessionID(t *testing.T) {
	c, _, e := newTestConnection(t)
	startReady(t, c, e)

	_, err := c.Send(protocol.NewConvert("きょうは", 4, true), nil)
	require.NoError(t, err)

	req := e.nextRequest()
	assert.Equal(t, protocol.TypeConvert, req["type"])
	assert.Equal(t, "sess-1", req["session_id"])
	assert.Equal(t, uint64(2), reqSeq(req), "seq continues after the init request")
}

func TestResponsesCorrelateOutOfOrder(t *testing.T) {
	c, _, e := newTestConnection(t)
	startReady(t, c, e)

	type reply struct {
		seq  uint64
		resp protocol.Response
	}
	got := make(chan reply, 3)
	var seqs []uint64
	for i := 0; i < 3; i++ {
		seq, err := c.Send(protocol.NewConvert("かな", 2, true), func(resp protocol.Response) {
			got <- reply{resp.ResponseSeq(), resp}
		})
		require.NoError(t, err)
		seqs = append(seqs, seq)
		e.nextRequest()
	}

	// Deliver responses out of order: 3rd, 1st, 2nd.
	for _, i := range []int{2, 0, 1} {
		e.respond(map[string]any{
			"type": "convert_result", "seq": seqs[i],
			"session_id": "sess-1", "candidates": []string{"仮名"},
		})
	}

	seen := make(map[uint64]int)
	for i := 0; i < 3; i++ {
		select {
		case r := <-got:
			seen[r.seq]++
			_, ok := r.resp.(*protocol.ConvertResult)
			assert.True(t, ok)
		case <-time.After(2 * time.Second):
			t.Fatal("missing correlated response")
		}
	}
	for _, seq := range seqs {
		assert.Equal(t, 1, seen[seq], "handler for seq %d must fire exactly once", seq)
	}
}

func TestSendOnNotRunningConnection(t *testing.T) {
	c := New(Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	_, err := c.Send(protocol.NewConvert("かな", 2, true), nil)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestStopReportsAfterProcessExit(t *testing.T) {
	c, p, e := newTestConnection(t)
	startReady(t, c, e)

	stopped := make(chan error, 1)
	require.NoError(t, c.Stop(func(err error) { stopped <- err }))
	assert.Equal(t, StateStopping, c.State())

	req := e.nextRequest()
	require.Equal(t, protocol.TypeShutdown, req["type"])
	e.respond(map[string]any{"type": "shutdown_result", "seq": reqSeq(req)})

	// Stopped is reported only on process exit, not on the ack.
	select {
	case <-stopped:
		t.Fatal("stop reported before process exit")
	case <-time.After(50 * time.Millisecond):
	}

	p.exit(0)
	require.NoError(t, waitErr(t, stopped))
	assert.Equal(t, StateStopped, c.State())
	assert.False(t, c.Running())
}

func TestStopDuringInitializationDefersShutdown(t *testing.T) {
	c, p, e := newTestConnection(t)

	ready := make(chan error, 1)
	require.NoError(t, c.Start(func(err error) { ready <- err }))
	init := e.nextRequest()

	stopped := make(chan error, 1)
	require.NoError(t, c.Stop(func(err error) { stopped <- err }))

	// Init completes; the deferred shutdown must go out now.
	e.respond(map[string]any{
		"type": "init_result", "seq": reqSeq(init),
		"session_id": "sess-1", "version": "0.3.0", "has_dictionary": true,
	})
	require.NoError(t, waitErr(t, ready))

	req := e.nextRequest()
	require.Equal(t, protocol.TypeShutdown, req["type"])
	p.exit(0)
	require.NoError(t, waitErr(t, stopped))
}

func TestUnexpectedExitResolvesPendingCallbacks(t *testing.T) {
	c, p, e := newTestConnection(t)
	startReady(t, c, e)

	got := make(chan protocol.Response, 1)
	_, err := c.Send(protocol.NewConvert("かな", 2, true), func(resp protocol.Response) {
		got <- resp
	})
	require.NoError(t, err)
	e.nextRequest()

	p.exit(3)

	select {
	case resp := <-got:
		errResp, ok := resp.(*protocol.Error)
		require.True(t, ok, "pending handler gets a synthetic error response")
		assert.Contains(t, errResp.Message, "exited")
	case <-time.After(2 * time.Second):
		t.Fatal("pending handler never resolved after process exit")
	}

	require.Eventually(t, func() bool { return c.State() == StateStopped },
		2*time.Second, 10*time.Millisecond)
	_, err = c.Send(protocol.NewConvert("かな", 2, true), nil)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestRestartAfterStop(t *testing.T) {
	c, p, e := newTestConnection(t)
	startReady(t, c, e)

	stopped := make(chan error, 1)
	require.NoError(t, c.Stop(func(err error) { stopped <- err }))
	e.nextRequest() // shutdown
	p.exit(0)
	require.NoError(t, waitErr(t, stopped))

	// A stopped connection can be started again with a fresh process.
	p2 := newFakeProc()
	c.newProc = func(string, []string) (proc, error) { return p2, nil }
	e2 := startFakeEngine(t, p2)

	ready := make(chan error, 1)
	require.NoError(t, c.Start(func(err error) { ready <- err }))
	init := e2.nextRequest()
	assert.Equal(t, "sess-1", init["session_id"], "re-init offers the previous session id back")
	e2.respond(map[string]any{
		"type": "init_result", "seq": reqSeq(init),
		"session_id": "sess-2", "version": "0.3.0", "has_dictionary": true,
	})
	require.NoError(t, waitErr(t, ready))
	assert.Equal(t, "sess-2", c.SessionID())

	// Requests on the restarted connection carry the engine's new assignment.
	_, err := c.Send(protocol.NewConvert("かな", 2, true), nil)
	require.NoError(t, err)
	req := e2.nextRequest()
	assert.Equal(t, "sess-2", req["session_id"])
}
