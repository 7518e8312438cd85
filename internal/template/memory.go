package template

import "fmt"

const (
	DefaultMaxDepth  = 50
	DefaultMaxEvents = 1000000
	DefaultMaxBytes  = 10 * 1024 * 1024
)

// Memory tracks reader depth, event count and approximate bytes against
// fixed limits.
type Memory struct {
	MaxDepth  int
	MaxEvents int
	MaxBytes  int

	depth  int
	events int
	bytes  int
}

// NewMemory applies defaults for non-positive limits.
func NewMemory(maxDepth, maxEvents, maxBytes int) *Memory {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Memory{MaxDepth: maxDepth, MaxEvents: maxEvents, MaxBytes: maxBytes}
}

func (m *Memory) IncrementEvents() error {
	m.events++
	if m.events > m.MaxEvents {
		return fmt.Errorf("Maximum events exceeded: %d", m.MaxEvents)
	}
	return nil
}

func (m *Memory) IncrementDepth() error {
	m.depth++
	if m.depth > m.MaxDepth {
		return fmt.Errorf("Maximum object depth exceeded: %d", m.MaxDepth)
	}
	return nil
}

func (m *Memory) DecrementDepth() {
	if m.depth > 0 {
		m.depth--
	}
}

// AddBytes charges a string plus a fixed per-token overhead.
func (m *Memory) AddBytes(s string) error {
	m.bytes += len(s) + 16
	if m.bytes > m.MaxBytes {
		return fmt.Errorf("Maximum memory exceeded: %d bytes", m.MaxBytes)
	}
	return nil
}

func (m *Memory) Depth() int  { return m.depth }
func (m *Memory) Events() int { return m.events }
func (m *Memory) Bytes() int  { return m.bytes }
