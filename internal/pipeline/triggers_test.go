package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggersMatch(t *testing.T) {
	ctx := newContext()
	triggers := convertToTriggers(ctx, readToken(t, ctx, `
push:
  branches: ['main', 'release/**', '!release/old-*']
  tags: ['v*']
  tags-ignore: ['v0.*']
pull_request:
workflow_dispatch: {}
`))
	require.NoError(t, ctx.Errors.Check())
	assert.Equal(t, []string{"pull_request", "push", "workflow_dispatch"}, triggers.EventNames())

	tests := []struct {
		event string
		ref   string
		want  bool
	}{
		{"push", "refs/heads/main", true},
		{"PUSH", "refs/heads/main", true},
		{"push", "refs/heads/dev", false},
		{"push", "refs/heads/release/1.0/hotfix", true},
		{"push", "refs/heads/release/old-1", false},
		{"push", "refs/tags/v1.2.0", true},
		{"push", "refs/tags/v0.9.0", false},
		{"push", "refs/tags/nightly", false},
		{"pull_request", "refs/pull/7/merge", true},
		{"workflow_dispatch", "refs/heads/anything", true},
		{"schedule", "refs/heads/main", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, triggers.Match(tt.event, tt.ref), "%s %s", tt.event, tt.ref)
	}
}

func TestTriggersOnlyTagFilters(t *testing.T) {
	ctx := newContext()
	triggers := convertToTriggers(ctx, readToken(t, ctx, "push:\n  tags: ['v*']\n"))
	require.NoError(t, ctx.Errors.Check())
	assert.True(t, triggers.Match("push", "refs/tags/v1"))
	assert.False(t, triggers.Match("push", "refs/heads/main"))
}

func TestTriggersBranchesIgnore(t *testing.T) {
	ctx := newContext()
	triggers := convertToTriggers(ctx, readToken(t, ctx, "push:\n  branches-ignore: ['dependabot/**']\n"))
	require.NoError(t, ctx.Errors.Check())
	assert.True(t, triggers.Match("push", "refs/heads/main"))
	assert.False(t, triggers.Match("push", "refs/heads/dependabot/npm/lodash"))
	assert.False(t, triggers.Match("push", "refs/tags/v1"))
}

func TestTriggersForms(t *testing.T) {
	var nilTriggers *Triggers
	assert.True(t, nilTriggers.Match("push", "refs/heads/main"))

	ctx := newContext()
	single := convertToTriggers(ctx, readToken(t, ctx, "push"))
	list := convertToTriggers(ctx, readToken(t, ctx, "[push, Pull_Request]"))
	require.NoError(t, ctx.Errors.Check())
	assert.True(t, single.Match("push", "refs/tags/v1"))
	assert.False(t, single.Match("pull_request", ""))
	assert.True(t, list.Match("pull_request", ""))

	convertToTriggers(ctx, readToken(t, ctx, "push:\n  branches: ['[unclosed']\n"))
	require.Error(t, ctx.Errors.Check())
	assert.Contains(t, ctx.Errors.Check().Error(), "Invalid pattern '[unclosed' for branches")
}
