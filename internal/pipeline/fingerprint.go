package pipeline

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/runway/internal/template"
)

// Fingerprint hashes the converted structure of p, so formatting and key
// order changes in the source document do not change it.
func Fingerprint(p *PipelineTemplate) (string, error) {
	type stepShape struct {
		Name      string `json:"name"`
		Display   string `json:"display_name"`
		Condition string `json:"condition"`
		Kind      string `json:"kind"`
		Reference any    `json:"reference"`
		Inputs    any    `json:"inputs"`
		Env       any    `json:"env"`
		Timeout   any    `json:"timeout"`
		Enabled   bool   `json:"enabled"`
	}
	type jobShape struct {
		Name            string      `json:"name"`
		Display         string      `json:"display_name"`
		DependsOn       []string    `json:"depends_on"`
		Target          *Target     `json:"target"`
		JobTarget       any         `json:"job_target"`
		Condition       string      `json:"condition"`
		Strategy        any         `json:"strategy"`
		Timeout         any         `json:"timeout"`
		CancelTimeout   any         `json:"cancel_timeout"`
		ContinueOnError bool        `json:"continue_on_error"`
		Env             any         `json:"env"`
		Container       any         `json:"container"`
		Services        any         `json:"services"`
		Outputs         any         `json:"outputs"`
		Steps           []stepShape `json:"steps"`
	}
	type fingerprintShape struct {
		Name     string     `json:"name"`
		Events   []string   `json:"events"`
		Triggers *Triggers  `json:"triggers"`
		Env      any        `json:"env"`
		Defaults any        `json:"defaults"`
		Jobs     []jobShape `json:"jobs"`
	}

	shape := fingerprintShape{
		Name:     p.Name,
		Events:   p.Triggers.EventNames(),
		Triggers: p.Triggers,
		Env:      contextData(p.Env),
		Defaults: contextData(p.Defaults),
	}
	for _, job := range p.Jobs {
		js := jobShape{
			Name:            job.Name,
			Display:         job.DisplayName,
			DependsOn:       append([]string(nil), job.DependsOn...),
			Target:          job.Target,
			JobTarget:       contextData(job.JobTarget),
			Condition:       job.Condition,
			Strategy:        contextData(job.Strategy),
			Timeout:         contextData(job.Timeout),
			CancelTimeout:   contextData(job.CancelTimeout),
			ContinueOnError: job.ContinueOnError,
			Env:             contextData(job.Env),
			Container:       contextData(job.Container),
			Services:        contextData(job.Services),
			Outputs:         contextData(job.Outputs),
		}
		if job.JobDisplayName != nil {
			js.Display = job.JobDisplayName.String()
		}
		for _, step := range job.Steps {
			var timeout any = step.TimeoutInMinutes
			if step.Timeout != nil {
				timeout = contextData(step.Timeout)
			}
			js.Steps = append(js.Steps, stepShape{
				Name:      step.Name,
				Display:   step.DisplayName,
				Condition: step.Condition,
				Kind:      step.Reference.Kind(),
				Reference: step.Reference,
				Inputs:    contextData(step.Inputs),
				Env:       contextData(step.Environment),
				Timeout:   timeout,
				Enabled:   step.Enabled,
			})
		}
		shape.Jobs = append(shape.Jobs, js)
	}

	body, err := json.Marshal(shape)
	if err != nil {
		return "", fmt.Errorf("marshal pipeline fingerprint input: %w", err)
	}
	sum := blake3.Sum256(body)
	return "blake3:" + hex.EncodeToString(sum[:]), nil
}

func contextData(t template.Token) any {
	if t == nil {
		return nil
	}
	if m, ok := t.(*template.MappingToken); ok && m == nil {
		return nil
	}
	return template.ToContextData(t)
}
