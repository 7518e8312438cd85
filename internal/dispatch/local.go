package dispatch

import (
	"context"
	"maps"
	"strings"
	"sync"

	"github.com/mattjoyce/runway/internal/protocol"
)

// LocalWorker completes every request without running it. Results and
// Outputs are keyed by the request's job name; Default covers the rest.
type LocalWorker struct {
	Default protocol.TaskResult
	Results map[string]protocol.TaskResult
	Outputs map[string]map[string]string

	mu   sync.Mutex
	seen []*protocol.JobRequest
}

func (w *LocalWorker) Run(_ context.Context, req *protocol.JobRequest) (protocol.Completion, error) {
	w.mu.Lock()
	w.seen = append(w.seen, req)
	w.mu.Unlock()

	result := w.Default
	if result == "" {
		result = protocol.ResultSucceeded
	}
	if r, ok := lookupFold(w.Results, req.JobName); ok {
		result = r
	}
	outputs, _ := lookupFold(w.Outputs, req.JobName)
	return protocol.Completion{JobID: req.JobID, Result: result, Outputs: maps.Clone(outputs)}, nil
}

// Requests returns the requests run so far in order.
func (w *LocalWorker) Requests() []*protocol.JobRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*protocol.JobRequest(nil), w.seen...)
}

func lookupFold[V any](m map[string]V, key string) (V, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	var zero V
	return zero, false
}
