package template

import (
	"errors"
	"strings"
	"testing"

	"github.com/mattjoyce/runway/internal/expr"
)

var testNamedValues = []expr.NamedValueInfo{
	expr.StateNamedValue("github"),
	expr.StateNamedValue("matrix"),
}

func materialize(t *testing.T, limits Limits, src string) (*Context, Token) {
	t.Helper()
	ctx := NewContext(limits, nil)
	ctx.NamedValues = testNamedValues
	r, err := NewYAMLReader(ctx.AddFile("w.yml"), []byte(src))
	if err != nil {
		t.Fatalf("NewYAMLReader: %v", err)
	}
	tok, err := Read(ctx, r)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return ctx, tok
}

func mustGet(t *testing.T, tok Token, key string) Token {
	t.Helper()
	m, ok := tok.(*MappingToken)
	if !ok {
		t.Fatalf("expected mapping, got %T", tok)
	}
	v, ok := m.Get(key)
	if !ok {
		t.Fatalf("key %q not found", key)
	}
	return v
}

func TestMaterializeExpressions(t *testing.T) {
	ctx, tok := materialize(t, Limits{}, `
literal: ${{ 'x' }}
number: ${{ 3 }}
flag: ${{ true }}
sha: ${{ github.sha }}
embedded: "a ${{ github.sha }} {b} ${{ matrix.os }}"
plain: no expressions
`)
	if err := ctx.Errors.Check(); err != nil {
		t.Fatalf("unexpected errors: %v", err)
	}

	if s, ok := mustGet(t, tok, "literal").(*StringToken); !ok || s.Value != "x" {
		t.Fatalf("literal = %#v", mustGet(t, tok, "literal"))
	}
	if n, ok := mustGet(t, tok, "number").(*NumberToken); !ok || n.Value != 3 {
		t.Fatalf("number = %#v", mustGet(t, tok, "number"))
	}
	if b, ok := mustGet(t, tok, "flag").(*BooleanToken); !ok || !b.Value {
		t.Fatalf("flag = %#v", mustGet(t, tok, "flag"))
	}

	sha, ok := mustGet(t, tok, "sha").(*BasicExpressionToken)
	if !ok || sha.Expression != "github.sha" {
		t.Fatalf("sha = %#v", mustGet(t, tok, "sha"))
	}

	embedded, ok := mustGet(t, tok, "embedded").(*BasicExpressionToken)
	if !ok {
		t.Fatalf("embedded = %#v", mustGet(t, tok, "embedded"))
	}
	want := "format('a {0} {{b}} {1}', github.sha, matrix.os)"
	if embedded.Expression != want {
		t.Fatalf("embedded expression = %q, want %q", embedded.Expression, want)
	}
	if embedded.Pos().Line != 6 {
		t.Fatalf("embedded line = %d, want 6", embedded.Pos().Line)
	}
}

func TestMaterializeExpressionErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unclosed", "a: ${{ github.sha", "The expression is not closed"},
		{"empty", "a: ${{ }}", "An expression was expected"},
		{"unknown value", "a: ${{ secrets.token }}", "Unrecognized value: 'secrets'"},
		{"insert as value", "a: ${{ insert }}", "The directive 'insert' is not allowed"},
		{"duplicate key", "a: 1\nA: 2", "'A' is already defined"},
		{"complex key", "? [1]\n: 2", "A mapping key must be a string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, _ := materialize(t, Limits{}, tt.src)
			err := ctx.Errors.Check()
			if err == nil {
				t.Fatalf("expected an error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %q, want it to contain %q", err.Error(), tt.want)
			}
			if !strings.Contains(err.Error(), "w.yml (Line: ") {
				t.Fatalf("error %q does not carry a position", err.Error())
			}
		})
	}
}

func TestMaterializeInsertKey(t *testing.T) {
	ctx, tok := materialize(t, Limits{}, "${{ insert }}:\n  a: 1\nb: 2\n")
	if err := ctx.Errors.Check(); err != nil {
		t.Fatalf("unexpected errors: %v", err)
	}
	m := tok.(*MappingToken)
	if _, ok := m.Pairs[0].Key.(*InsertExpressionToken); !ok {
		t.Fatalf("first key = %#v, want insert directive", m.Pairs[0].Key)
	}
}

func TestMaterializeNormalizesKeys(t *testing.T) {
	ctx, tok := materialize(t, Limits{}, "true: 1\n3: 2\nnull: 3\n")
	if err := ctx.Errors.Check(); err != nil {
		t.Fatalf("unexpected errors: %v", err)
	}
	var keys []string
	for _, p := range tok.(*MappingToken).Pairs {
		s, ok := p.Key.(*StringToken)
		if !ok {
			t.Fatalf("key %#v is not a string token", p.Key)
		}
		keys = append(keys, s.Value)
	}
	if got := strings.Join(keys, ","); got != "true,3,null" {
		t.Fatalf("keys = %s", got)
	}
}

func TestMaterializeDepthLimit(t *testing.T) {
	ctx, tok := materialize(t, Limits{MaxDepth: 2}, "a:\n  b:\n    c: 1\n")
	if tok != nil {
		t.Fatalf("expected no result, got %#v", tok)
	}
	err := ctx.Errors.Check()
	if err == nil || !strings.Contains(err.Error(), "Maximum object depth exceeded") {
		t.Fatalf("error = %v", err)
	}
}

func TestMaterializeEventLimit(t *testing.T) {
	ctx, _ := materialize(t, Limits{MaxEvents: 3}, "[1, 2, 3, 4]")
	err := ctx.Errors.Check()
	if err == nil || !strings.Contains(err.Error(), "Maximum events exceeded") {
		t.Fatalf("error = %v", err)
	}
}

func TestMaterializeBoundedErrors(t *testing.T) {
	ctx, _ := materialize(t, Limits{MaxErrors: 2}, "a: ${{ }}\nb: ${{ }}\nc: ${{ }}\n")
	if ctx.Errors.Count() != 2 {
		t.Fatalf("count = %d, want 2", ctx.Errors.Count())
	}
	if !ctx.Errors.Full() {
		t.Fatal("expected the error list to report full")
	}
}

type scriptedReader struct {
	startErr error
}

func (r scriptedReader) AllowScalar() (LiteralToken, bool)          { return nil, false }
func (r scriptedReader) AllowSequenceStart() (*SequenceToken, bool) { return nil, false }
func (r scriptedReader) AllowSequenceEnd() bool                     { return false }
func (r scriptedReader) AllowMappingStart() (*MappingToken, bool)   { return nil, false }
func (r scriptedReader) AllowMappingEnd() bool                      { return false }
func (r scriptedReader) ValidateStart() error                       { return r.startErr }
func (r scriptedReader) ValidateEnd() error                         { return nil }
func (r scriptedReader) Err() error                                 { return nil }

func TestReadReturnsProtocolErrors(t *testing.T) {
	ctx := NewContext(Limits{}, nil)

	_, err := Read(ctx, scriptedReader{startErr: ErrReaderProtocol})
	if !errors.Is(err, ErrReaderProtocol) {
		t.Fatalf("err = %v, want ErrReaderProtocol", err)
	}

	// a reader that offers nothing after the document start
	_, err = Read(ctx, scriptedReader{})
	if !errors.Is(err, ErrReaderProtocol) {
		t.Fatalf("err = %v, want ErrReaderProtocol", err)
	}
	if ctx.Errors.Count() != 0 {
		t.Fatalf("protocol errors must not be recorded as content errors: %v", ctx.Errors.Check())
	}
}
