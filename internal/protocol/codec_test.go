package protocol

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestEncodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     *JobRequest
		wantErr bool
		checkFn func(t *testing.T, output string)
	}{
		{
			name: "valid request",
			req: &JobRequest{
				JobID:   "job-123",
				JobName: "build",
				Labels:  []string{"ubuntu-latest"},
				Variables: map[string]Variable{
					"github_token": {Value: "s3cret", IsSecret: true},
				},
				Steps:      []Step{{ID: "step-1", Name: "__run", Reference: StepReference{Kind: "script"}, Enabled: true}},
				EnqueuedAt: time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC),
			},
			checkFn: func(t *testing.T, output string) {
				for _, want := range []string{`"job_id":"job-123"`, `"labels":["ubuntu-latest"]`, `"is_secret":true`, `"kind":"script"`} {
					if !strings.Contains(output, want) {
						t.Errorf("output missing %s: %s", want, output)
					}
				}
			},
		},
		{
			name:    "missing job id",
			req:     &JobRequest{JobName: "build"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := EncodeRequest(&buf, tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EncodeRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, buf.String())
			}
		})
	}
}

func TestRequestRoundTrip(t *testing.T) {
	req := &JobRequest{
		JobID:       "job-1",
		ContextData: map[string]any{"matrix": map[string]any{"os": "linux"}},
		Environment: []any{map[string]any{"CI": "true"}},
	}
	var buf bytes.Buffer
	if err := EncodeRequest(&buf, req); err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	got, err := DecodeRequest(&buf)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	matrix, ok := got.ContextData["matrix"].(map[string]any)
	if !ok || matrix["os"] != "linux" {
		t.Fatalf("context data = %#v", got.ContextData)
	}
}

func TestDecodeCompletion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    TaskResult
		wantErr string
	}{
		{name: "succeeded", input: `{"job_id":"j","result":"Succeeded"}`, want: ResultSucceeded},
		{name: "case insensitive", input: `{"job_id":"j","result":"failed","outputs":{"a":"1"}}`, want: ResultFailed},
		{name: "missing job id", input: `{"result":"Succeeded"}`, wantErr: "job_id"},
		{name: "missing result", input: `{"job_id":"j"}`, wantErr: "result"},
		{name: "unknown result", input: `{"job_id":"j","result":"Exploded"}`, wantErr: "invalid result"},
		{name: "unknown field", input: `{"job_id":"j","result":"Failed","extra":1}`, wantErr: "unknown field"},
		{name: "not json", input: `nope`, wantErr: "failed to decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := DecodeCompletion(strings.NewReader(tt.input))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeCompletion: %v", err)
			}
			if c.Result != tt.want {
				t.Fatalf("Result = %q, want %q", c.Result, tt.want)
			}
		})
	}
}

func TestNeedsResult(t *testing.T) {
	tests := map[TaskResult]string{
		ResultSucceeded:           NeedsSuccess,
		ResultSucceededWithIssues: NeedsSuccess,
		ResultFailed:              NeedsFailure,
		ResultAbandoned:           NeedsFailure,
		ResultCanceled:            NeedsCancelled,
		ResultSkipped:             NeedsSkipped,
	}
	for in, want := range tests {
		if got := in.NeedsResult(); got != want {
			t.Errorf("%s.NeedsResult() = %q, want %q", in, got, want)
		}
	}
	if TaskResult("succeeded").Valid() {
		t.Error("lowercase result should not be Valid before normalization")
	}
	if !ResultSkipped.Valid() {
		t.Error("Skipped should be Valid")
	}
}
