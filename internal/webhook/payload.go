package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattjoyce/runway/internal/orchestrator"
)

// toOptions maps a delivery onto run options. The decoded payload is kept
// whole as github.event.
func toOptions(event string, body []byte) (orchestrator.Options, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return orchestrator.Options{}, fmt.Errorf("decode payload: %w", err)
	}
	if payload == nil {
		return orchestrator.Options{}, fmt.Errorf("decode payload: not a JSON object")
	}

	o := orchestrator.Options{
		Event:           event,
		Ref:             str(payload, "ref"),
		Sha:             firstNonEmpty(str(payload, "after"), str(payload, "head_commit", "id")),
		Repository:      str(payload, "repository", "full_name"),
		RepositoryOwner: firstNonEmpty(str(payload, "repository", "owner", "login"), str(payload, "repository", "owner", "name")),
		Actor:           str(payload, "sender", "login"),
		Payload:         payload,
	}

	switch event {
	case "pull_request", "pull_request_target":
		o.HeadRef = str(payload, "pull_request", "head", "ref")
		o.BaseRef = str(payload, "pull_request", "base", "ref")
		o.Sha = str(payload, "pull_request", "head", "sha")
		if n, ok := payload["number"].(float64); ok {
			o.Ref = fmt.Sprintf("refs/pull/%d/merge", int64(n))
		}
	case "create", "delete":
		// ref is a bare name here; ref_type says which namespace.
		if ref := o.Ref; ref != "" && !strings.HasPrefix(ref, "refs/") {
			if str(payload, "ref_type") == "tag" {
				o.Ref = "refs/tags/" + ref
			} else {
				o.Ref = "refs/heads/" + ref
			}
		}
	}
	if o.RepositoryOwner == "" {
		if owner, _, ok := strings.Cut(o.Repository, "/"); ok {
			o.RepositoryOwner = owner
		}
	}
	return o, nil
}

func str(m map[string]any, path ...string) string {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = obj[key]
	}
	s, _ := cur.(string)
	return s
}
