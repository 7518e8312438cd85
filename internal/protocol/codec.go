package protocol

import (
	"encoding/json"
	"fmt"
	"io"
)

// EncodeRequest serializes a JobRequest to JSON and writes it to w.
func EncodeRequest(w io.Writer, req *JobRequest) error {
	if req.JobID == "" {
		return fmt.Errorf("request missing required field: job_id")
	}
	if err := json.NewEncoder(w).Encode(req); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return nil
}

// DecodeRequest reads a JobRequest written by EncodeRequest.
func DecodeRequest(r io.Reader) (*JobRequest, error) {
	var req JobRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	if req.JobID == "" {
		return nil, fmt.Errorf("request missing required field: job_id")
	}
	return &req, nil
}

// DecodeCompletion reads and validates a Completion. Unknown fields are
// rejected and the result name is normalized.
func DecodeCompletion(r io.Reader) (*Completion, error) {
	var c Completion

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to decode completion: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks required fields and normalizes Result.
func (c *Completion) Validate() error {
	if c.JobID == "" {
		return fmt.Errorf("completion missing required field: job_id")
	}
	if c.Result == "" {
		return fmt.Errorf("completion missing required field: result")
	}
	r, ok := ParseTaskResult(string(c.Result))
	if !ok {
		return fmt.Errorf("invalid result value: %q", c.Result)
	}
	c.Result = r
	return nil
}
