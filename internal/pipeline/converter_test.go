package pipeline

import (
	"reflect"
	"strings"
	"testing"

	"github.com/mattjoyce/runway/internal/template"
)

func newContext() *template.Context {
	return template.NewContext(template.Limits{}, nil)
}

func load(t *testing.T, doc string) *PipelineTemplate {
	t.Helper()
	p, err := Load(newContext(), "ci.yml", []byte(doc))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return p
}

func errorText(p *PipelineTemplate) string {
	var msgs []string
	for _, e := range p.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "\n")
}

// readToken materializes a YAML snippet with the workflow extensions.
func readToken(t *testing.T, ctx *template.Context, doc string) template.Token {
	t.Helper()
	if ctx.NamedValues == nil {
		ctx.NamedValues, ctx.Functions = ReadExtensions()
	}
	r, err := template.NewYAMLReader(ctx.AddFile("snippet.yml"), []byte(doc))
	if err != nil {
		t.Fatalf("NewYAMLReader() error = %v", err)
	}
	tok, err := template.Read(ctx, r)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	return tok
}

const sampleWorkflow = `
name: ci
on:
  push:
    branches: [main]
env:
  CI: true
jobs:
  build:
    runs-on: ubuntu-latest
    timeout-minutes: 30
    steps:
      - run: |
          npm ci
          npm test
      - uses: actions/setup-node@v4
        with:
          node-version: 18
  deploy:
    name: Deploy ${{ github.ref }}
    needs: build
    if: eq(github.ref, 'refs/heads/main')
    runs-on: [self-hosted, linux]
    outputs:
      url: ${{ steps.publish.outputs.url }}
    steps:
      - id: publish
        run: ./publish.sh
`

func TestLoadConvertsWorkflow(t *testing.T) {
	p := load(t, sampleWorkflow)
	if len(p.Errors) > 0 {
		t.Fatalf("errors:\n%s", errorText(p))
	}
	if p.Name != "ci" {
		t.Fatalf("Name = %q", p.Name)
	}
	if !strings.HasPrefix(p.Fingerprint, "blake3:") {
		t.Fatalf("Fingerprint = %q, want prefix blake3:", p.Fingerprint)
	}
	if !reflect.DeepEqual(p.FileTable, []string{"ci.yml"}) {
		t.Fatalf("FileTable = %v", p.FileTable)
	}
	if len(p.Jobs) != 2 {
		t.Fatalf("len(Jobs) = %d, want 2", len(p.Jobs))
	}

	build := p.Jobs[0]
	if build.DisplayName != "build" || build.Condition != DefaultCondition {
		t.Fatalf("build = %+v", build)
	}
	if build.Target == nil || build.Target.Pool != "Hosted Ubuntu 1604" || !reflect.DeepEqual(build.Target.Labels, []string{"ubuntu-latest"}) {
		t.Fatalf("build.Target = %+v", build.Target)
	}
	if n, ok := ConvertToJobTimeout(newContext(), build.Timeout, false); !ok || n != 30 {
		t.Fatalf("build timeout = %d, %v", n, ok)
	}

	var names, displays []string
	for _, s := range build.Steps {
		names = append(names, s.Name)
		displays = append(displays, s.DisplayName)
	}
	if want := []string{"__checkout", "__run", "__actions_setup-node"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("step names = %v, want %v", names, want)
	}
	if want := []string{"Checkout", "Run: npm ci", "Action: actions/setup-node@v4"}; !reflect.DeepEqual(displays, want) {
		t.Fatalf("step display names = %v, want %v", displays, want)
	}
	ref, ok := build.Steps[2].Reference.(*RepositoryPathReference)
	if !ok || ref.Name != "actions/setup-node" || ref.Ref != "v4" || ref.RepositoryType != RepositoryTypeGitHub {
		t.Fatalf("uses reference = %#v", build.Steps[2].Reference)
	}
	if v, ok := build.Steps[2].Inputs.Get("node-version"); !ok || v.String() != "18" {
		t.Fatalf("node-version input = %v", v)
	}

	deploy := p.Jobs[1]
	if deploy.JobDisplayName == nil || deploy.DisplayName != "" {
		t.Fatalf("deploy display name = %q / %v", deploy.DisplayName, deploy.JobDisplayName)
	}
	if !reflect.DeepEqual(deploy.DependsOn, []string{"build"}) {
		t.Fatalf("deploy.DependsOn = %v", deploy.DependsOn)
	}
	if want := "and(succeeded(), eq(github.ref, 'refs/heads/main'))"; deploy.Condition != want {
		t.Fatalf("deploy.Condition = %q, want %q", deploy.Condition, want)
	}
	if deploy.Target == nil || !reflect.DeepEqual(deploy.Target.Labels, []string{"self-hosted", "linux"}) {
		t.Fatalf("deploy.Target = %+v", deploy.Target)
	}
	if deploy.Steps[1].Name != "publish" {
		t.Fatalf("deploy step name = %q", deploy.Steps[1].Name)
	}

	if !p.Triggers.Match("push", "refs/heads/main") || p.Triggers.Match("push", "refs/heads/dev") {
		t.Fatal("push trigger filter not applied")
	}
}

func TestFingerprintIgnoresFormatting(t *testing.T) {
	a := load(t, "jobs:\n  a:\n    runs-on: ubuntu-latest\n    steps:\n      - run: echo hi\n")
	b := load(t, "jobs: {a: {steps: [{run: echo hi}], runs-on: ubuntu-latest}}\n")
	c := load(t, "jobs:\n  a:\n    runs-on: ubuntu-latest\n    steps:\n      - run: echo bye\n")
	if a.Fingerprint == "" || a.Fingerprint != b.Fingerprint {
		t.Fatalf("fingerprints differ: %q vs %q", a.Fingerprint, b.Fingerprint)
	}
	if a.Fingerprint == c.Fingerprint {
		t.Fatal("different steps produced the same fingerprint")
	}
}

func TestLoadJSON(t *testing.T) {
	doc := `{
  // comments are allowed
  "jobs": {
    "a": {"runs-on": "windows-latest", "steps": [{"run": "dir"}],},
  },
}`
	p, err := Load(newContext(), "ci.json", []byte(doc))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(p.Errors) > 0 {
		t.Fatalf("errors:\n%s", errorText(p))
	}
	if got := p.Jobs[0].Target.Pool; got != "Hosted Windows 2019 with VS2019" {
		t.Fatalf("Pool = %q", got)
	}
}

func TestLoadReportsSchemaViolations(t *testing.T) {
	p := load(t, "jobs:\n  a:\n    runs-on: ubuntu-latest\n    steps: []\n    colour: blue\n")
	if len(p.Errors) == 0 {
		t.Fatal("expected schema errors")
	}
	for _, e := range p.Errors {
		if e.Code != CodeSchemaViolation {
			t.Fatalf("Code = %q, want %q (%s)", e.Code, CodeSchemaViolation, e.Message)
		}
	}
	if !strings.Contains(errorText(p), "/jobs/a") {
		t.Fatalf("errors do not locate the job:\n%s", errorText(p))
	}
	if p.Fingerprint != "" || p.Jobs != nil {
		t.Fatal("a document with schema errors must not be converted")
	}
}

func TestLoadReportsSyntaxErrors(t *testing.T) {
	p := load(t, "jobs: [unclosed\n")
	if len(p.Errors) == 0 || !strings.HasPrefix(p.Errors[0].Message, "ci.yml") {
		t.Fatalf("errors = %v", p.Errors)
	}
}

func TestConvertToPipelineErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "invalid job name",
			doc:  "jobs:\n  1st:\n    runs-on: ubuntu-latest\n    steps: [{run: x}]\n",
			want: "Job name 1st is invalid",
		},
		{
			name: "unknown vm image",
			doc:  "jobs:\n  a:\n    runs-on: commodore-64\n    steps: [{run: x}]\n",
			want: "Unexpected VM image 'commodore-64'",
		},
		{
			name: "unknown dependency",
			doc:  "jobs:\n  root:\n    runs-on: ubuntu-latest\n    steps: [{run: x}]\n  a:\n    runs-on: ubuntu-latest\n    needs: ghost\n    steps: [{run: x}]\n",
			want: "jobs: a depends on unknown ghost.",
		},
		{
			name: "cycle",
			doc:  "jobs:\n  a:\n    runs-on: ubuntu-latest\n    steps: [{run: x}]\n  b:\n    runs-on: ubuntu-latest\n    needs: [a, c]\n    steps: [{run: x}]\n  c:\n    runs-on: ubuntu-latest\n    needs: b\n    steps: [{run: x}]\n",
			want: "which creates a cycle",
		},
		{
			name: "uses format",
			doc:  "jobs:\n  a:\n    runs-on: ubuntu-latest\n    steps: [{uses: actions/checkout}]\n",
			want: "Expected format {org}/{repo}[/path]@ref. Actual 'actions/checkout'",
		},
		{
			name: "run and uses",
			doc:  "jobs:\n  a:\n    runs-on: ubuntu-latest\n    steps: [{run: x, uses: a/b@v1}]\n",
			want: "may define only one of",
		},
		{
			name: "step without action",
			doc:  "jobs:\n  a:\n    runs-on: ubuntu-latest\n    steps: [{name: nothing}]\n",
			want: "Either 'uses' or 'run' is required",
		},
		{
			name: "invalid step id",
			doc:  "jobs:\n  a:\n    runs-on: ubuntu-latest\n    steps: [{id: 9lives, run: x}]\n",
			want: "Action id 9lives is invalid",
		},
		{
			name: "duplicate step id",
			doc:  "jobs:\n  a:\n    runs-on: ubuntu-latest\n    steps: [{id: s, run: x}, {id: S, run: y}]\n",
			want: "The name S appears more than once",
		},
		{
			name: "workspace clean",
			doc:  "jobs:\n  a:\n    runs-on: ubuntu-latest\n    workspace: {clean: maybe}\n    steps: [{run: x}]\n",
			want: "Invalid boolean 'maybe' for workspace.clean",
		},
		{
			name: "bad condition",
			doc:  "jobs:\n  a:\n    runs-on: ubuntu-latest\n    if: eq(matrix.os, 'x')\n    steps: [{run: x}]\n",
			want: "Unrecognized value: 'matrix'",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := load(t, tt.doc)
			if got := errorText(p); !strings.Contains(got, tt.want) {
				t.Fatalf("errors:\n%s\nwant substring %q", got, tt.want)
			}
		})
	}
}

func TestConvertWorkspaceClean(t *testing.T) {
	p := load(t, "jobs:\n  a:\n    runs-on: ubuntu-latest\n    workspace:\n      clean: 'true'\n    steps: [{run: x}]\n  b:\n    runs-on: ubuntu-latest\n    steps: [{run: x}]\n")
	if len(p.Errors) > 0 {
		t.Fatalf("errors:\n%s", errorText(p))
	}
	if !p.Jobs[0].CleanWorkspace || p.Jobs[1].CleanWorkspace {
		t.Fatalf("CleanWorkspace = %v, %v; want true, false", p.Jobs[0].CleanWorkspace, p.Jobs[1].CleanWorkspace)
	}
}

func TestJobValidateCodes(t *testing.T) {
	ctx := newContext()
	root := readToken(t, ctx, "jobs:\n  a:\n    name: lonely\n")
	p := ConvertToPipeline(ctx, root)
	var codes []string
	for _, e := range p.Errors {
		codes = append(codes, e.Code)
	}
	if want := []string{CodeTargetRequired, CodeStepsRequired}; !reflect.DeepEqual(codes, want) {
		t.Fatalf("codes = %v, want %v", codes, want)
	}
}

func TestConvertToJobTarget(t *testing.T) {
	tests := []struct {
		doc      string
		pool     string
		labels   []string
		deferred bool
	}{
		{doc: "macOS-latest", pool: "Hosted macOS", labels: []string{"macos-latest"}},
		{doc: "{pool: Default}", pool: "Default", labels: []string{"default"}},
		{doc: "[windows-2019, gpu]", pool: "Hosted Windows 2019 with VS2019", labels: []string{"windows-2019", "gpu"}},
		{doc: "${{ matrix.os }}", deferred: true},
	}
	for _, tt := range tests {
		ctx := newContext()
		target, tok := ConvertToJobTarget(ctx, readToken(t, ctx, tt.doc), true)
		if err := ctx.Errors.Check(); err != nil {
			t.Fatalf("%s: %v", tt.doc, err)
		}
		if tt.deferred {
			if target != nil || tok == nil {
				t.Fatalf("%s: expected a deferred target", tt.doc)
			}
			continue
		}
		if target.Pool != tt.pool || !reflect.DeepEqual(target.Labels, tt.labels) {
			t.Fatalf("%s: target = %+v", tt.doc, target)
		}
	}
}

func TestConvertToEnvironment(t *testing.T) {
	ctx := newContext()
	env := ConvertToEnvironment(ctx, readToken(t, ctx, "A: 1\nB: ${{ github.sha }}\n${{ insert }}: {}\nC: [x]\n"), true)
	if env == nil || len(env.Pairs) != 2 {
		t.Fatalf("env = %+v", env)
	}
	if !strings.Contains(ctx.Errors.Check().Error(), "Unexpected type 'Sequence'") {
		t.Fatalf("errors = %v", ctx.Errors.Check())
	}

	ctx = newContext()
	if env := ConvertToEnvironment(ctx, readToken(t, ctx, "${{ github.event }}"), true); env != nil || ctx.Errors.Count() != 0 {
		t.Fatalf("expression env = %v, errors = %v", env, ctx.Errors.Check())
	}
}

func TestConvertToJobTimeouts(t *testing.T) {
	tests := []struct {
		doc  string
		want int
		ok   bool
		err  string
	}{
		{doc: "30", want: 30, ok: true},
		{doc: "'45'", want: 45, ok: true},
		{doc: "3x", err: "Invalid timeout '3x'"},
		{doc: "-1", err: "Invalid timeout '-1'"},
		{doc: "1.5", err: "Invalid timeout '1.5'"},
		{doc: "${{ matrix.timeout }}"},
	}
	for _, tt := range tests {
		ctx := newContext()
		got, ok := ConvertToJobTimeout(ctx, readToken(t, ctx, tt.doc), true)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("%s: got %d, %v", tt.doc, got, ok)
		}
		errs := ctx.Errors.Check()
		if tt.err == "" && errs != nil {
			t.Fatalf("%s: unexpected errors %v", tt.doc, errs)
		}
		if tt.err != "" && (errs == nil || !strings.Contains(errs.Error(), tt.err)) {
			t.Fatalf("%s: errors = %v, want %q", tt.doc, errs, tt.err)
		}
	}

	ctx := newContext()
	if _, ok := ConvertToJobCancelTimeout(ctx, readToken(t, ctx, "soon"), false); ok {
		t.Fatal("expected cancel timeout error")
	}
	if !strings.Contains(ctx.Errors.Check().Error(), "Invalid cancel timeout 'soon'") {
		t.Fatalf("errors = %v", ctx.Errors.Check())
	}
}
