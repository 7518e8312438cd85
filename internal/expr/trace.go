package expr

import "strings"

// TraceWriter receives parse and evaluation traces. Info carries the
// canonical and realized expression, Verbose the per-node detail.
type TraceWriter interface {
	Info(message string)
	Verbose(message string)
}

// NoopTrace discards everything.
type NoopTrace struct{}

func (NoopTrace) Info(string)    {}
func (NoopTrace) Verbose(string) {}

func indent(level int) string {
	return strings.Repeat("..", level)
}
