// Package schema checks the structure of a workflow document before it is
// converted into a pipeline.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed workflow.schema.json
var workflowSchema []byte

const resourceName = "workflow.json"

// Error is one structural violation.
type Error struct {
	Path    string `json:"path"` // JSON pointer into the document, "" for the root
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func workflow() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		var doc any
		if err := json.Unmarshal(workflowSchema, &doc); err != nil {
			compileErr = fmt.Errorf("unmarshal schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(resourceName, doc); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile(resourceName)
		if compileErr != nil {
			compileErr = fmt.Errorf("compile schema: %w", compileErr)
		}
	})
	return compiled, compileErr
}

// Validate checks a document given as plain data (nil, bool, float64,
// string, []any, map[string]any). The returned error is reserved for schema
// setup failures; violations are returned as a sorted list.
func Validate(doc any) ([]*Error, error) {
	sch, err := workflow()
	if err != nil {
		return nil, err
	}

	// round-trip so the validator sees exactly what encoding/json produces
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(data, &normalized); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}

	verr := sch.Validate(normalized)
	if verr == nil {
		return nil, nil
	}
	ve, ok := verr.(*jsonschema.ValidationError)
	if !ok {
		return []*Error{{Message: verr.Error()}}, nil
	}

	var out []*Error
	seen := make(map[string]struct{})
	for _, cause := range flatten(ve) {
		e := &Error{
			Path:    pointer(cause.InstanceLocation),
			Message: leafMessage(cause),
		}
		key := e.Path + "\x00" + e.Message
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func flatten(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var flat []*jsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flatten(cause)...)
	}
	return flat
}

func pointer(loc []string) string {
	if len(loc) == 0 {
		return ""
	}
	return "/" + strings.Join(loc, "/")
}

// leafMessage strips the header and location prefix the validator puts on
// every rendered error, leaving the violation itself.
func leafMessage(ve *jsonschema.ValidationError) string {
	msg := strings.TrimSpace(ve.Error())
	if i := strings.LastIndex(msg, "\n"); i >= 0 {
		msg = msg[i+1:]
	}
	msg = strings.TrimPrefix(strings.TrimSpace(msg), "- ")
	if strings.HasPrefix(msg, "at '") {
		if j := strings.Index(msg, "': "); j >= 0 {
			msg = msg[j+3:]
		}
	}
	if msg == "" {
		msg = fmt.Sprintf("%v", ve.ErrorKind)
	}
	return msg
}
