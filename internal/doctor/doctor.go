// Package doctor checks a runway configuration and the workflows it points
// at before a server is started with them.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattjoyce/runway/internal/config"
	"github.com/mattjoyce/runway/internal/pipeline"
	"github.com/mattjoyce/runway/internal/template"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateState(r)
	d.validateDispatch(r)
	d.validateListeners(r)
	d.validateWebhooks(r)
	d.validateWorkflows(r)
	d.warnOpenAPI(r)
	d.warnAuthSyntax(r)
	d.warnEmptySecrets(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateState checks that the database directory exists or can be made.
func (d *Doctor) validateState(r *Result) {
	dir := filepath.Dir(d.cfg.State.Path)
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		d.addWarning(r, "state", "state.path", fmt.Sprintf("directory %s does not exist yet and will be created", dir))
	case err != nil:
		d.addError(r, "state", "state.path", err.Error())
	case !info.IsDir():
		d.addError(r, "state", "state.path", fmt.Sprintf("%s is not a directory", dir))
	}
}

// validateDispatch checks the in-process worker host.
func (d *Doctor) validateDispatch(r *Result) {
	dc := d.cfg.Dispatch
	if !dc.Enabled {
		if !d.cfg.API.Enabled {
			d.addWarning(r, "dispatch", "dispatch.enabled",
				"neither dispatch nor the API is enabled; queued jobs can never be acquired")
		}
		return
	}
	if dc.Executor == "" {
		d.addWarning(r, "dispatch", "dispatch.executor",
			"no executor configured; every job completes as Succeeded without running")
		return
	}
	if _, err := d.lookPath(dc.Executor); err != nil {
		d.addError(r, "dispatch", "dispatch.executor", fmt.Sprintf("executor %q not found: %v", dc.Executor, err))
	}
}

// validateListeners rejects two servers on one address.
func (d *Doctor) validateListeners(r *Result) {
	if d.cfg.Webhooks == nil || !d.cfg.API.Enabled {
		return
	}
	if d.cfg.Webhooks.Listen == d.cfg.API.Listen {
		d.addError(r, "listen", "webhooks.listen",
			fmt.Sprintf("webhooks and api both listen on %s", d.cfg.API.Listen))
	}
}

// validateWebhooks checks for path conflicts and unresolved secrets.
func (d *Doctor) validateWebhooks(r *Result) {
	if d.cfg.Webhooks == nil {
		return
	}
	seen := make(map[string]int)
	for i, ep := range d.cfg.Webhooks.Endpoints {
		field := fmt.Sprintf("webhooks.endpoints[%d]", i)

		normalized := strings.TrimSuffix(ep.Path, "/")
		if prevIdx, exists := seen[normalized]; exists {
			d.addError(r, "webhooks", field+".path",
				fmt.Sprintf("webhook path %q conflicts with webhooks.endpoints[%d]", ep.Path, prevIdx))
		}
		seen[normalized] = i

		if len(ep.Secret) < 16 {
			d.addWarning(r, "webhooks", field+".secret", "secret is shorter than 16 characters")
		}
	}
}

// validateWorkflows loads every workflow a webhook can start.
func (d *Doctor) validateWorkflows(r *Result) {
	if d.cfg.Webhooks == nil {
		return
	}
	checked := make(map[string]bool)
	var paths []string
	for _, ep := range d.cfg.Webhooks.Endpoints {
		for _, wf := range ep.Workflows {
			if !checked[wf] {
				checked[wf] = true
				paths = append(paths, wf)
			}
		}
	}
	sort.Strings(paths)

	for _, path := range paths {
		p, err := pipeline.LoadFile(template.NewContext(d.cfg.Limits.Template(), nil), path)
		if err != nil {
			d.addError(r, "workflow", path, err.Error())
			continue
		}
		for _, e := range p.Errors {
			d.addError(r, "workflow", path, e.Message)
		}
		if len(p.Errors) == 0 && p.Triggers == nil {
			d.addWarning(r, "workflow", path, "workflow has no 'on' section and runs for every event")
		}
	}
}

// warnOpenAPI flags an unauthenticated API reachable off the host.
func (d *Doctor) warnOpenAPI(r *Result) {
	a := d.cfg.API
	if !a.Enabled || a.Auth.APIKey != "" || len(a.Auth.Tokens) > 0 {
		return
	}
	host, _, err := net.SplitHostPort(a.Listen)
	if err != nil {
		return
	}
	if ip := net.ParseIP(host); host == "localhost" || (ip != nil && ip.IsLoopback()) {
		return
	}
	d.addWarning(r, "api", "api.auth",
		fmt.Sprintf("API listens on %s without authentication", a.Listen))
}

// warnAuthSyntax warns about overlapping credentials.
func (d *Doctor) warnAuthSyntax(r *Result) {
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "api", "api.auth",
			"both api_key and tokens configured; api_key grants every scope")
	}
	seen := make(map[string]bool)
	for i, t := range d.cfg.API.Auth.Tokens {
		if seen[t.Token] {
			d.addWarning(r, "api", fmt.Sprintf("api.auth.tokens[%d].token", i), "token value repeated; the first entry wins")
		}
		seen[t.Token] = true
	}
}

// warnEmptySecrets flags secrets that would be masked as nothing.
func (d *Doctor) warnEmptySecrets(r *Result) {
	names := make([]string, 0, len(d.cfg.Secrets))
	for name := range d.cfg.Secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.TrimSpace(d.cfg.Secrets[name]) == "" {
			d.addWarning(r, "secrets", "secrets."+name, "secret value is empty")
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
