package api

import (
	"net/http"

	"github.com/mattjoyce/runway/internal/auth"
)

// route documents one authenticated operation.
type route struct {
	method, path, summary, scope string
	body                         string
	responses                    map[string]string
}

var routes = []route{
	{"get", "/runs", "List recent runs", auth.ScopeRunsRead, "",
		map[string]string{"200": "Runs, newest first"}},
	{"post", "/runs", "Start a workflow run", auth.ScopeRunsWrite, "StartRunRequest",
		map[string]string{"201": "Run started", "400": "Bad request", "404": "Workflow not found", "409": "Workflow not triggered by the event", "422": "Invalid workflow"}},
	{"get", "/runs/{runID}", "Get a run and its jobs", auth.ScopeRunsRead, "",
		map[string]string{"200": "Run", "404": "Run not found"}},
	{"post", "/runs/{runID}/cancel", "Cancel a run", auth.ScopeRunsWrite, "",
		map[string]string{"202": "Cancellation requested", "404": "Run not found"}},
	{"post", "/jobs/acquire", "Acquire the oldest job request matching the worker labels", auth.ScopeJobsWrite, "AcquireRequest",
		map[string]string{"200": "Job request", "204": "Nothing queued for these labels"}},
	{"post", "/jobs/complete", "Report a job result", auth.ScopeJobsWrite, "Completion",
		map[string]string{"200": "Completion accepted", "400": "Invalid completion", "404": "Job not acquired", "409": "Run already finished"}},
	{"get", "/events", "Stream lifecycle events (text/event-stream)", auth.ScopeEventsRead, "",
		map[string]string{"200": "Event stream"}},
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the API.
func buildOpenAPIDoc() map[string]any {
	paths := map[string]any{
		"/healthz": map[string]any{
			"get": map[string]any{
				"operationId": "healthz",
				"summary":     "Liveness and queue depth",
				"responses":   map[string]any{"200": map[string]any{"description": "OK"}},
			},
		},
	}
	for _, rt := range routes {
		responses := map[string]any{
			"401": map[string]any{"description": "Missing or invalid token"},
			"403": map[string]any{"description": "Insufficient scope"},
		}
		for code, desc := range rt.responses {
			responses[code] = map[string]any{"description": desc}
		}
		op := map[string]any{
			"operationId": rt.method + operationName(rt.path),
			"summary":     rt.summary,
			"responses":   responses,
			"security":    []any{map[string]any{"BearerAuth": []string{rt.scope}}},
		}
		if rt.body != "" {
			op["requestBody"] = map[string]any{
				"required": true,
				"content": map[string]any{
					"application/json": map[string]any{
						"schema": map[string]any{"$ref": "#/components/schemas/" + rt.body},
					},
				},
			}
		}
		item, _ := paths[rt.path].(map[string]any)
		if item == nil {
			item = map[string]any{}
			paths[rt.path] = item
		}
		item[rt.method] = op
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "runway",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
			"schemas": map[string]any{
				"StartRunRequest": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"workflow":  map[string]any{"type": "string"},
						"content":   map[string]any{"type": "string"},
						"file_name": map[string]any{"type": "string"},
						"event":     map[string]any{"type": "string"},
						"ref":       map[string]any{"type": "string"},
						"sha":       map[string]any{"type": "string"},
						"payload":   map[string]any{"type": "object"},
					},
				},
				"AcquireRequest": map[string]any{
					"type":     "object",
					"required": []string{"labels"},
					"properties": map[string]any{
						"labels": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
				},
				"Completion": map[string]any{
					"type":                 "object",
					"required":             []string{"job_id", "result"},
					"additionalProperties": false,
					"properties": map[string]any{
						"job_id": map[string]any{"type": "string"},
						"result": map[string]any{
							"type": "string",
							"enum": []string{"Succeeded", "SucceededWithIssues", "Failed", "Abandoned", "Canceled", "Skipped"},
						},
						"outputs": map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}},
					},
				},
			},
		},
	}
}

// operationName turns "/runs/{runID}/cancel" into "RunsRunIDCancel".
func operationName(path string) string {
	out := make([]byte, 0, len(path))
	upper := true
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case c == '/' || c == '{' || c == '}':
			upper = true
		case upper && c >= 'a' && c <= 'z':
			out = append(out, c-'a'+'A')
			upper = false
		default:
			out = append(out, c)
			upper = false
		}
	}
	return string(out)
}

// handleOpenAPI handles GET /openapi.json (no auth).
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}
