//go:build linux

package notify

import (
	"log/slog"

	"github.com/godbus/dbus/v5"
)

const (
	notificationsDest = "org.freedesktop.Notifications"
	notificationsPath = "/org/freedesktop/Notifications"
	notifyMethod      = "org.freedesktop.Notifications.Notify"

	// expireMillis keeps failure toasts short-lived; they are advisory.
	expireMillis = int32(5000)
)

// busObject is the slice of dbus.BusObject the notifier uses.
type busObject interface {
	Go(method string, flags dbus.Flags, ch chan *dbus.Call, args ...interface{}) *dbus.Call
}

// Desktop sends notifications over the D-Bus session bus.
type Desktop struct {
	obj busObject
	log *slog.Logger
}

// NewDesktop connects to the session bus. When no bus is available (headless
// session, no DBUS_SESSION_BUS_ADDRESS) it falls back to a log notifier.
func NewDesktop(logger *slog.Logger) Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := dbus.SessionBus()
	if err != nil {
		logger.Debug("session bus unavailable, notifications go to the log", "error", err)
		return NewLog(logger)
	}
	obj := conn.Object(notificationsDest, dbus.ObjectPath(notificationsPath))
	return &Desktop{obj: obj, log: logger}
}

// Notify dispatches the bus call asynchronously; it is invoked from the
// coordinator's event loop and must never wait on the session bus.
func (d *Desktop) Notify(summary, body string) {
	ch := make(chan *dbus.Call, 1)
	d.obj.Go(notifyMethod, 0, ch,
		"henkan",            // app name
		uint32(0),           // replaces id
		"",                  // icon
		summary, body,
		[]string{},          // actions
		map[string]dbus.Variant{},
		expireMillis,
	)
	go func() {
		if call := <-ch; call.Err != nil {
			d.log.Warn(summary, "detail", body, "notify_error", call.Err)
		}
	}()
}
