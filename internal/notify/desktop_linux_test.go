//go:build linux

package notify

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBusObject struct {
	method string
	ch     chan *dbus.Call
	args   []interface{}
}

func (f *fakeBusObject) Go(method string, flags dbus.Flags, ch chan *dbus.Call, args ...interface{}) *dbus.Call {
	f.method = method
	f.ch = ch
	f.args = args
	return nil
}

type syncBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestDesktopNotifyDoesNotWaitForReply(t *testing.T) {
	obj := &fakeBusObject{}
	d := &Desktop{obj: obj, log: slog.New(slog.NewTextHandler(io.Discard, nil))}

	// Notify returns with the reply still outstanding; a blocked session bus
	// must never stall the caller.
	d.Notify("henkan", "conversion temporarily unavailable")

	require.NotNil(t, obj.ch, "call must be dispatched asynchronously")
	assert.Equal(t, notifyMethod, obj.method)
	require.Len(t, obj.args, 8)
	assert.Equal(t, "henkan", obj.args[3])
	assert.Equal(t, "conversion temporarily unavailable", obj.args[4])
}

func TestDesktopNotifyLogsDeliveryFailure(t *testing.T) {
	obj := &fakeBusObject{}
	buf := &syncBuffer{}
	d := &Desktop{obj: obj, log: slog.New(slog.NewTextHandler(buf, nil))}

	d.Notify("henkan", "conversion temporarily unavailable")
	require.NotNil(t, obj.ch)
	assert.Empty(t, buf.String())

	obj.ch <- &dbus.Call{Err: errors.New("bus gone")}
	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "bus gone")
	}, time.Second, 10*time.Millisecond)
}
