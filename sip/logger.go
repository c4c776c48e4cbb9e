package sip

import "log/slog"

var (
	defLogger *slog.Logger
)

// SetDefaultLogger overrides the logger every transaction and parser in this
// package falls back to when none was passed explicitly. Call it once
// during stack setup, before any transaction is created.
func SetDefaultLogger(l *slog.Logger) {
	defLogger = l
}

// DefaultLogger returns the package-wide fallback logger, or slog.Default()
// if none was configured.
func DefaultLogger() *slog.Logger {
	if defLogger != nil {
		return defLogger
	}
	return slog.Default()
}
