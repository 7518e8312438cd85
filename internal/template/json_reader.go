package template

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/tidwall/jsonc"
)

// JSONReader streams a JSON document. Comments and trailing commas are
// accepted; they are blanked out before decoding so offsets still map to
// the original text.
type JSONReader struct {
	streamReader
}

// NewJSONReader prepares content for streaming. Syntax errors surface
// through Err as the stream is read.
func NewJSONReader(fileID int, content []byte) *JSONReader {
	data := jsonc.ToJSON(content)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	src := &jsonSource{fileID: fileID, data: data, dec: dec}
	src.lines = lineStarts(data)
	return &JSONReader{streamReader{src: src}}
}

type jsonSource struct {
	fileID int
	data   []byte
	lines  []int
	dec    *json.Decoder
	state  int
	// open containers
	depth int
}

func (s *jsonSource) next() (event, bool, error) {
	switch s.state {
	case 0:
		s.state = 1
		return event{kind: eventDocumentStart}, true, nil
	case 2:
		s.state = 3
		if _, err := s.dec.Token(); err != io.EOF {
			if err == nil {
				err = errors.New("unexpected data after top-level value")
			}
			return event{}, false, fmt.Errorf("parse json: %w", err)
		}
		return event{kind: eventDocumentEnd}, true, nil
	case 3:
		return event{}, false, nil
	}

	start := skipSeparators(s.data, int(s.dec.InputOffset()))
	tok, err := s.dec.Token()
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return event{}, false, fmt.Errorf("parse json: %w", err)
	}
	p := s.position(start)

	var ev event
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			s.depth++
			ev = event{kind: eventMappingStart, token: &MappingToken{Position: p}}
		case '[':
			s.depth++
			ev = event{kind: eventSequenceStart, token: &SequenceToken{Position: p}}
		case '}':
			s.depth--
			ev = event{kind: eventMappingEnd}
		case ']':
			s.depth--
			ev = event{kind: eventSequenceEnd}
		}
	case nil:
		ev = event{kind: eventScalar, token: &NullToken{Position: p}}
	case bool:
		ev = event{kind: eventScalar, token: &BooleanToken{Position: p, Value: v}}
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return event{}, false, fmt.Errorf("parse json: number %s: %w", v, err)
		}
		ev = event{kind: eventScalar, token: &NumberToken{Position: p, Value: f}}
	case string:
		ev = event{kind: eventScalar, token: &StringToken{Position: p, Value: v}}
	}

	// the top-level value is complete
	if s.depth == 0 {
		s.state = 2
	}
	return ev, true, nil
}

func (s *jsonSource) position(offset int) Position {
	line := sort.Search(len(s.lines), func(i int) bool { return s.lines[i] > offset })
	col := offset - s.lines[line-1] + 1
	return Position{FileID: s.fileID, Line: line, Column: col}
}

func skipSeparators(data []byte, off int) int {
	for off < len(data) {
		switch data[off] {
		case ' ', '\t', '\r', '\n', ',', ':':
			off++
		default:
			return off
		}
	}
	return off
}

func lineStarts(data []byte) []int {
	starts := []int{0}
	for i, b := range data {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}
