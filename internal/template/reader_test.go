package template

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readYAML(t *testing.T, src string) (*Context, Token) {
	t.Helper()
	ctx := NewContext(Limits{}, nil)
	id := ctx.AddFile("workflow.yml")
	r, err := NewYAMLReader(id, []byte(src))
	require.NoError(t, err)
	tok, err := Read(ctx, r)
	require.NoError(t, err)
	return ctx, tok
}

func readJSON(t *testing.T, src string) (*Context, Token) {
	t.Helper()
	ctx := NewContext(Limits{}, nil)
	id := ctx.AddFile("workflow.json")
	tok, err := Read(ctx, NewJSONReader(id, []byte(src)))
	require.NoError(t, err)
	return ctx, tok
}

func TestYAMLScalarTyping(t *testing.T) {
	ctx, tok := readYAML(t, `
a: null
b: ~
c: True
d: false
e: 12
f: 1.5
g: "12"
h: yes
i: !!str 42
j: hello
`)
	require.NoError(t, ctx.Errors.Check())
	m := tok.(*MappingToken)

	cases := map[string]TokenType{
		"a": TypeNull,
		"b": TypeNull,
		"c": TypeBoolean,
		"d": TypeBoolean,
		"e": TypeNumber,
		"f": TypeNumber,
		"g": TypeString,
		"h": TypeString,
		"i": TypeString,
		"j": TypeString,
	}
	for key, want := range cases {
		v, ok := m.Get(key)
		require.True(t, ok, key)
		assert.Equal(t, want, v.Type(), key)
	}

	c, _ := m.Get("c")
	assert.Equal(t, "true", c.String())
	a, _ := m.Get("a")
	assert.Equal(t, "null", a.String())
}

func TestYAMLPositionsAndAliases(t *testing.T) {
	ctx, tok := readYAML(t, "base: &b\n  x: 1\ncopy: *b\n")
	require.NoError(t, ctx.Errors.Check())
	m := tok.(*MappingToken)

	base, _ := m.Get("base")
	cp, _ := m.Get("copy")
	assert.True(t, Equal(base, cp))
	assert.Equal(t, 1, m.Pairs[0].Key.Pos().Line)
	assert.Equal(t, 3, m.Pairs[1].Key.Pos().Line)
	assert.Equal(t, "workflow.yml", ctx.FileName(m.Pos().FileID))
}

func TestYAMLEmptyDocument(t *testing.T) {
	ctx, tok := readYAML(t, "")
	require.NoError(t, ctx.Errors.Check())
	assert.Equal(t, TypeNull, tok.Type())
}

func TestYAMLSyntaxError(t *testing.T) {
	_, err := NewYAMLReader(1, []byte("a: [1, 2"))
	require.Error(t, err)
}

func TestJSONReaderCommentsAndPositions(t *testing.T) {
	ctx, tok := readJSON(t, `{
  // build job
  "jobs": {
    "build": {"steps": [1, true, null, "x",],},
  },
}`)
	require.NoError(t, ctx.Errors.Check())
	m := tok.(*MappingToken)

	jobs, ok := m.Get("jobs")
	require.True(t, ok)
	assert.Equal(t, 3, m.Pairs[0].Key.Pos().Line)
	assert.Equal(t, 3, m.Pairs[0].Key.Pos().Column)

	build, _ := jobs.(*MappingToken).Get("build")
	steps, _ := build.(*MappingToken).Get("steps")
	items := steps.(*SequenceToken).Items
	require.Len(t, items, 4)
	assert.Equal(t, TypeNumber, items[0].Type())
	assert.Equal(t, TypeBoolean, items[1].Type())
	assert.Equal(t, TypeNull, items[2].Type())
	assert.Equal(t, TypeString, items[3].Type())
}

func TestJSONReaderMalformed(t *testing.T) {
	ctx, tok := readJSON(t, `{"a": [1, 2}`)
	assert.Nil(t, tok)
	assert.Error(t, ctx.Errors.Check())
}

func TestJSONReaderTrailingData(t *testing.T) {
	ctx, _ := readJSON(t, `{"a": 1} {"b": 2}`)
	assert.Error(t, ctx.Errors.Check())
}

func TestReaderProtocolViolation(t *testing.T) {
	r := NewJSONReader(1, []byte(`[1]`))
	require.NoError(t, r.ValidateStart())

	// the sequence has not been consumed
	err := r.ValidateEnd()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReaderProtocol))

	r = NewJSONReader(1, []byte(`[1]`))
	_, ok := r.AllowScalar()
	assert.False(t, ok)
	err = NewJSONReader(1, []byte(`1`)).ValidateEnd()
	assert.True(t, errors.Is(err, ErrReaderProtocol))
}

func TestReaderAllowSequence(t *testing.T) {
	r := NewJSONReader(1, []byte(`["a"]`))
	require.NoError(t, r.ValidateStart())
	_, ok := r.AllowMappingStart()
	assert.False(t, ok)

	seq, ok := r.AllowSequenceStart()
	require.True(t, ok)
	assert.Equal(t, 1, seq.Pos().Line)

	lit, ok := r.AllowScalar()
	require.True(t, ok)
	assert.Equal(t, "a", lit.String())
	assert.False(t, r.AllowMappingEnd())
	assert.True(t, r.AllowSequenceEnd())
	require.NoError(t, r.ValidateEnd())
}
