package pipeline

import (
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/mattjoyce/runway/internal/template"
)

const (
	refHeadsPrefix = "refs/heads/"
	refTagsPrefix  = "refs/tags/"
)

// Triggers is the set of events that start the workflow. A nil *Triggers
// accepts every event.
type Triggers struct {
	// Events maps a lower-case event name to its filter. A nil filter
	// accepts every ref.
	Events map[string]*EventFilter
}

// EventFilter narrows an event by ref. Paths and Types are carried for
// callers that know the changed files or activity type.
type EventFilter struct {
	Branches       []string
	BranchesIgnore []string
	Tags           []string
	TagsIgnore     []string
	Paths          []string
	PathsIgnore    []string
	Types          []string
}

// EventNames returns the configured events in sorted order.
func (t *Triggers) EventNames() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.Events))
	for name := range t.Events {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Match reports whether event on ref starts the workflow.
func (t *Triggers) Match(event, ref string) bool {
	if t == nil {
		return true
	}
	filter, ok := t.Events[strings.ToLower(event)]
	if !ok {
		return false
	}
	return filter.match(ref)
}

func (f *EventFilter) match(ref string) bool {
	if f == nil {
		return true
	}
	hasBranchFilter := len(f.Branches) > 0 || len(f.BranchesIgnore) > 0
	hasTagFilter := len(f.Tags) > 0 || len(f.TagsIgnore) > 0

	switch {
	case strings.HasPrefix(ref, refTagsPrefix):
		if !hasTagFilter {
			return !hasBranchFilter
		}
		return matchFilters(strings.TrimPrefix(ref, refTagsPrefix), f.Tags, f.TagsIgnore)
	default:
		if !hasBranchFilter {
			return !hasTagFilter
		}
		return matchFilters(strings.TrimPrefix(ref, refHeadsPrefix), f.Branches, f.BranchesIgnore)
	}
}

// matchFilters applies an include list, where a leading '!' negates a
// pattern and the last matching pattern wins, followed by an ignore list.
func matchFilters(name string, include, ignore []string) bool {
	matched := len(include) == 0
	for _, pattern := range include {
		negate := strings.HasPrefix(pattern, "!")
		if ok, _ := doublestar.Match(strings.TrimPrefix(pattern, "!"), name); ok {
			matched = !negate
		}
	}
	if !matched {
		return false
	}
	for _, pattern := range ignore {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return false
		}
	}
	return true
}

func convertToTriggers(ctx *template.Context, t template.Token) *Triggers {
	triggers := &Triggers{Events: map[string]*EventFilter{}}
	switch x := t.(type) {
	case *template.StringToken:
		triggers.Events[strings.ToLower(x.Value)] = nil
	case *template.SequenceToken:
		for _, item := range x.Items {
			lit, ok := item.(*template.StringToken)
			if !ok {
				unexpectedType(ctx, item, keyOn, template.TypeString)
				continue
			}
			triggers.Events[strings.ToLower(lit.Value)] = nil
		}
	case *template.MappingToken:
		for _, p := range x.Pairs {
			key, ok := assertLiteral(ctx, p.Key, keyOn)
			if !ok {
				continue
			}
			triggers.Events[strings.ToLower(key.String())] = convertToEventFilter(ctx, p.Value)
		}
	default:
		unexpectedType(ctx, t, keyOn, template.TypeMapping)
		return nil
	}
	return triggers
}

func convertToEventFilter(ctx *template.Context, t template.Token) *EventFilter {
	if t == nil || t.Type() == template.TypeNull {
		return nil
	}
	m, ok := assertMapping(ctx, t, "event filter")
	if !ok {
		return nil
	}
	filter := &EventFilter{}
	for _, p := range m.Pairs {
		key, ok := assertLiteral(ctx, p.Key, "event filter")
		if !ok {
			continue
		}
		var target *[]string
		switch key.String() {
		case "branches":
			target = &filter.Branches
		case "branches-ignore":
			target = &filter.BranchesIgnore
		case "tags":
			target = &filter.Tags
		case "tags-ignore":
			target = &filter.TagsIgnore
		case "paths":
			target = &filter.Paths
		case "paths-ignore":
			target = &filter.PathsIgnore
		case "types":
			filter.Types = convertToStringList(ctx, p.Value, key.String())
			continue
		default:
			unexpectedValue(ctx, key, "event filter")
			continue
		}
		patterns := convertToStringList(ctx, p.Value, key.String())
		for _, pattern := range patterns {
			if !doublestar.ValidatePattern(strings.TrimPrefix(pattern, "!")) {
				ctx.Errorf(p.Value, "Invalid pattern '%s' for %s", pattern, key.String())
			}
		}
		*target = patterns
	}
	return filter
}

func convertToStringList(ctx *template.Context, t template.Token, what string) []string {
	switch x := t.(type) {
	case *template.StringToken:
		return []string{x.Value}
	case *template.SequenceToken:
		var out []string
		for _, item := range x.Items {
			lit, ok := assertLiteral(ctx, item, what)
			if !ok {
				continue
			}
			out = append(out, lit.String())
		}
		return out
	}
	unexpectedType(ctx, t, what, template.TypeSequence)
	return nil
}
