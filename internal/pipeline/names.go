package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattjoyce/runway/internal/graph"
)

// ReferenceNameBuilder produces sanitized, unique names from segments.
// Segments are joined with '_'; illegal characters become '_'.
type ReferenceNameBuilder struct {
	name     strings.Builder
	distinct map[string]struct{}
}

func NewReferenceNameBuilder() *ReferenceNameBuilder {
	return &ReferenceNameBuilder{distinct: make(map[string]struct{})}
}

// AppendSegment adds a segment to the name being built. Empty segments are
// ignored.
func (b *ReferenceNameBuilder) AppendSegment(value string) {
	if value == "" {
		return
	}
	if b.name.Len() == 0 {
		if first := value[0]; !isLetter(first) && first != '_' {
			b.name.WriteByte('_')
		}
	} else {
		b.name.WriteByte('_')
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		if isLetter(c) || isDigit(c) || c == '_' || c == '-' {
			b.name.WriteByte(c)
		} else {
			b.name.WriteByte('_')
		}
	}
}

// Build returns the accumulated name, suffixed "_2", "_3" and so on when an
// earlier Build already returned it, and resets the builder.
func (b *ReferenceNameBuilder) Build() (string, error) {
	original := b.name.String()
	b.name.Reset()
	if original == "" {
		original = "job"
	}
	for attempt := 1; attempt < 1000; attempt++ {
		suffix := ""
		if attempt > 1 {
			suffix = "_" + strconv.Itoa(attempt)
		}
		candidate := original
		if len(candidate) > graph.MaxNameLength-len(suffix) {
			candidate = candidate[:graph.MaxNameLength-len(suffix)]
		}
		candidate += suffix
		key := strings.ToLower(candidate)
		if _, taken := b.distinct[key]; !taken {
			b.distinct[key] = struct{}{}
			return candidate, nil
		}
	}
	return "", fmt.Errorf("unable to create a unique name for %q", original)
}

func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }

// DisplayNameBuilder renders "job (seg1, seg2)" display names.
type DisplayNameBuilder struct {
	jobDisplayName string
	segments       []string
}

func NewDisplayNameBuilder(jobDisplayName string) *DisplayNameBuilder {
	return &DisplayNameBuilder{jobDisplayName: jobDisplayName}
}

func (b *DisplayNameBuilder) AppendSegment(value string) {
	if value != "" {
		b.segments = append(b.segments, value)
	}
}

// Build returns the display name and clears the segments.
func (b *DisplayNameBuilder) Build() string {
	if len(b.segments) == 0 {
		return b.jobDisplayName
	}
	joined := strings.Join(b.segments, ", ")
	b.segments = b.segments[:0]

	result := joined
	if b.jobDisplayName != "" {
		result = fmt.Sprintf("%s (%s)", b.jobDisplayName, joined)
	}
	if len(result) > graph.MaxNameLength {
		result = result[:graph.MaxNameLength]
	}
	return result
}
