package template

import (
	"fmt"

	"github.com/mattjoyce/runway/internal/expr"
)

// Limits bounds error reporting and reader memory.
type Limits struct {
	MaxErrors        int
	MaxMessageLength int
	MaxDepth         int
	MaxEvents        int
	MaxBytes         int
}

// Context is the per-document state shared by the reader, the converter
// and the evaluator. It is not safe for concurrent use.
type Context struct {
	Errors *Errors
	Memory *Memory
	Trace  expr.TraceWriter

	// NamedValues and Functions are the expression extensions accepted
	// while reading and invoked while evaluating.
	NamedValues []expr.NamedValueInfo
	Functions   []expr.FunctionInfo

	// State is handed to named values during evaluation.
	State any

	files []string
}

// NewContext returns a context with the given limits. A nil trace
// discards expression traces.
func NewContext(limits Limits, trace expr.TraceWriter) *Context {
	if trace == nil {
		trace = expr.NoopTrace{}
	}
	return &Context{
		Errors: NewErrors(limits.MaxErrors, limits.MaxMessageLength),
		Memory: NewMemory(limits.MaxDepth, limits.MaxEvents, limits.MaxBytes),
		Trace:  trace,
	}
}

// AddFile registers a file name and returns its 1-based id.
func (c *Context) AddFile(name string) int {
	c.files = append(c.files, name)
	return len(c.files)
}

// FileName resolves an id from AddFile. Unknown ids return "".
func (c *Context) FileName(id int) string {
	if id < 1 || id > len(c.files) {
		return ""
	}
	return c.files[id-1]
}

// Files returns the file table in id order.
func (c *Context) Files() []string {
	return append([]string(nil), c.files...)
}

// Error records err against the location of t. t may be nil.
func (c *Context) Error(t Token, err error) {
	c.Errors.Addf(c.prefix(t), "%s", err.Error())
}

// Errorf records a formatted message against the location of t.
func (c *Context) Errorf(t Token, format string, args ...any) {
	c.Errors.Addf(c.prefix(t), format, args...)
}

func (c *Context) prefix(t Token) string {
	if t == nil {
		return ""
	}
	p := t.Pos()
	name := c.FileName(p.FileID)
	switch {
	case p.Line > 0 && name != "":
		return fmt.Sprintf("%s (Line: %d, Col: %d)", name, p.Line, p.Column)
	case p.Line > 0:
		return fmt.Sprintf("(Line: %d, Col: %d)", p.Line, p.Column)
	default:
		return name
	}
}

// WithExtensions returns a shallow copy of c that shares the error list and
// memory but carries its own expression extensions and state.
func (c *Context) WithExtensions(namedValues []expr.NamedValueInfo, functions []expr.FunctionInfo, state any) *Context {
	cp := *c
	cp.NamedValues = namedValues
	cp.Functions = functions
	cp.State = state
	return &cp
}
