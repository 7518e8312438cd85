package log

import (
	"context"
	"log/slog"
)

// TraceWriter adapts a slog logger to the expression and template trace
// interfaces. Info lines go out at DEBUG, verbose lines below DEBUG so they
// only show up when a handler is configured for them.
type TraceWriter struct {
	logger *slog.Logger
}

// LevelVerbose sits one step below DEBUG.
const LevelVerbose = slog.LevelDebug - 4

// NewTraceWriter wraps l. A nil logger uses the global one.
func NewTraceWriter(l *slog.Logger) *TraceWriter {
	if l == nil {
		l = Get()
	}
	return &TraceWriter{logger: l}
}

func (t *TraceWriter) Info(message string) {
	t.logger.Debug(message)
}

func (t *TraceWriter) Verbose(message string) {
	t.logger.Log(context.Background(), LevelVerbose, message)
}

func (t *TraceWriter) Error(message string) {
	t.logger.Warn(message)
}
