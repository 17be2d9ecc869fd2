package logging

import "log/slog"

// EnableTrace turns on per-lookup trace logging. Off by default: a backfill
// touches 24 hour documents and a wind sweep hundreds of cells, so the trace
// paths drown the regular logs when left on.
var EnableTrace = false

// Trace logs through the given logger at DEBUG level when EnableTrace is set.
func Trace(logger *slog.Logger, msg string, args ...any) {
	if EnableTrace {
		logger.Debug(msg, args...)
	}
}

// TraceDefault is Trace against the default logger.
func TraceDefault(msg string, args ...any) {
	if EnableTrace {
		slog.Debug(msg, args...)
	}
}
