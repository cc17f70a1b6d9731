//go:build !linux

package notify

import "log/slog"

// NewDesktop has no desktop transport off Linux; notifications go to the log.
func NewDesktop(logger *slog.Logger) Notifier {
	return NewLog(logger)
}
