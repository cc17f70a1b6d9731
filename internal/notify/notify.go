// Package notify delivers transient, non-blocking user notifications.
//
// Conversion failures in the input front-end are never fatal; they degrade
// to "conversion temporarily unavailable" and the user is told through
// whatever channel the platform offers. On Linux that is a desktop
// notification over the session bus; everywhere else (and whenever the bus
// is unreachable) the message lands in the log.
package notify

import "log/slog"

// Notifier reports a transient, user-visible failure. Implementations must
// not block the caller.
type Notifier interface {
	Notify(summary, body string)
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) Notify(string, string) {}

// Log writes notifications to a structured logger.
type Log struct {
	log *slog.Logger
}

// NewLog returns a log-backed notifier.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{log: logger}
}

func (n *Log) Notify(summary, body string) {
	n.log.Warn(summary, "detail", body)
}
