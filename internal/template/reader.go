package template

import "fmt"

// ObjectReader is a pull-based event stream over a parsed document:
//
//	DocumentStart (Scalar | SequenceStart ... SequenceEnd | MappingStart ... MappingEnd) DocumentEnd
//
// Each Allow method consumes the next event only when it has the requested
// kind. ValidateStart and ValidateEnd return ErrReaderProtocol when the
// stream is not where the caller expects. Malformed input is reported by
// Err, separately from protocol violations.
type ObjectReader interface {
	AllowScalar() (LiteralToken, bool)
	AllowSequenceStart() (*SequenceToken, bool)
	AllowSequenceEnd() bool
	AllowMappingStart() (*MappingToken, bool)
	AllowMappingEnd() bool
	ValidateStart() error
	ValidateEnd() error
	Err() error
}

type eventKind int

const (
	eventDocumentStart eventKind = iota
	eventDocumentEnd
	eventScalar
	eventSequenceStart
	eventSequenceEnd
	eventMappingStart
	eventMappingEnd
)

func (k eventKind) String() string {
	switch k {
	case eventDocumentStart:
		return "DocumentStart"
	case eventDocumentEnd:
		return "DocumentEnd"
	case eventScalar:
		return "Scalar"
	case eventSequenceStart:
		return "SequenceStart"
	case eventSequenceEnd:
		return "SequenceEnd"
	case eventMappingStart:
		return "MappingStart"
	default:
		return "MappingEnd"
	}
}

type event struct {
	kind  eventKind
	token Token
}

// eventSource produces events lazily. ok is false at end of stream.
type eventSource interface {
	next() (ev event, ok bool, err error)
}

// streamReader implements ObjectReader over an eventSource with one event
// of lookahead.
type streamReader struct {
	src  eventSource
	cur  *event
	done bool
	err  error
}

func (r *streamReader) peek() *event {
	if r.cur != nil || r.done {
		return r.cur
	}
	ev, ok, err := r.src.next()
	if err != nil {
		r.err = err
		r.done = true
		return nil
	}
	if !ok {
		r.done = true
		return nil
	}
	r.cur = &ev
	return r.cur
}

func (r *streamReader) accept(kind eventKind) (Token, bool) {
	ev := r.peek()
	if ev == nil || ev.kind != kind {
		return nil, false
	}
	r.cur = nil
	return ev.token, true
}

func (r *streamReader) AllowScalar() (LiteralToken, bool) {
	t, ok := r.accept(eventScalar)
	if !ok {
		return nil, false
	}
	return t.(LiteralToken), true
}

func (r *streamReader) AllowSequenceStart() (*SequenceToken, bool) {
	t, ok := r.accept(eventSequenceStart)
	if !ok {
		return nil, false
	}
	return t.(*SequenceToken), true
}

func (r *streamReader) AllowSequenceEnd() bool {
	_, ok := r.accept(eventSequenceEnd)
	return ok
}

func (r *streamReader) AllowMappingStart() (*MappingToken, bool) {
	t, ok := r.accept(eventMappingStart)
	if !ok {
		return nil, false
	}
	return t.(*MappingToken), true
}

func (r *streamReader) AllowMappingEnd() bool {
	_, ok := r.accept(eventMappingEnd)
	return ok
}

func (r *streamReader) ValidateStart() error {
	if _, ok := r.accept(eventDocumentStart); ok {
		return nil
	}
	return r.unexpected(eventDocumentStart)
}

func (r *streamReader) ValidateEnd() error {
	if _, ok := r.accept(eventDocumentEnd); !ok {
		return r.unexpected(eventDocumentEnd)
	}
	if ev := r.peek(); ev != nil {
		return fmt.Errorf("%w: unexpected %s after document end", ErrReaderProtocol, ev.kind)
	}
	return nil
}

func (r *streamReader) Err() error { return r.err }

func (r *streamReader) unexpected(want eventKind) error {
	if r.err != nil {
		return r.err
	}
	ev := r.peek()
	if ev == nil {
		return fmt.Errorf("%w: expected %s, found end of stream", ErrReaderProtocol, want)
	}
	return fmt.Errorf("%w: expected %s, found %s", ErrReaderProtocol, want, ev.kind)
}
