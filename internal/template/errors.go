package template

import (
	"errors"
	"fmt"
	"strings"
)

// ErrReaderProtocol signals that a caller drove an ObjectReader out of
// order. It is a programming error, not a content error.
var ErrReaderProtocol = errors.New("object reader protocol violation")

// ValidationError is one content error found while reading, converting or
// evaluating a template.
type ValidationError struct {
	Code    string
	Message string
}

func (e ValidationError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

const (
	DefaultMaxErrors        = 10
	DefaultMaxMessageLength = 500
)

// Errors accumulates validation errors up to a bound. Past the bound new
// errors are dropped and Full reports true.
type Errors struct {
	MaxErrors        int
	MaxMessageLength int

	items []ValidationError
	full  bool
}

// NewErrors returns a bounded error list. Non-positive limits use the
// defaults.
func NewErrors(maxErrors, maxMessageLength int) *Errors {
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}
	if maxMessageLength <= 0 {
		maxMessageLength = DefaultMaxMessageLength
	}
	return &Errors{MaxErrors: maxErrors, MaxMessageLength: maxMessageLength}
}

// Add records err. A ValidationError keeps its code.
func (e *Errors) Add(err error) {
	if err == nil {
		return
	}
	var ve ValidationError
	if !errors.As(err, &ve) {
		ve = ValidationError{Message: err.Error()}
	}
	e.add(ve)
}

// Addf records a formatted message with an optional position prefix.
func (e *Errors) Addf(prefix string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if prefix != "" {
		msg = prefix + ": " + msg
	}
	e.add(ValidationError{Message: msg})
}

func (e *Errors) add(ve ValidationError) {
	if len(e.items) >= e.MaxErrors {
		e.full = true
		return
	}
	if len(ve.Message) > e.MaxMessageLength {
		ve.Message = ve.Message[:e.MaxMessageLength] + "[...]"
	}
	e.items = append(e.items, ve)
}

func (e *Errors) Count() int { return len(e.items) }

func (e *Errors) Full() bool { return e.full }

// Items returns a copy of the recorded errors.
func (e *Errors) Items() []ValidationError {
	return append([]ValidationError(nil), e.items...)
}

// Check returns nil when no errors were recorded, otherwise an error that
// joins every message.
func (e *Errors) Check() error {
	if len(e.items) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(e.items)+1)
	for _, item := range e.items {
		msgs = append(msgs, item.Error())
	}
	if e.full {
		msgs = append(msgs, "maximum error count reached; further errors were dropped")
	}
	return errors.New(strings.Join(msgs, "\n"))
}
