// Package state persists run counters and run records.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Counters hands out monotonically increasing values per key. The first
// value for a key is 0.
type Counters interface {
	Next(ctx context.Context, key string) (int64, error)
}

// Store keeps counters and runs in SQLite.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Next returns the current value of key and stores its successor.
func (s *Store) Next(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, fmt.Errorf("counter key is empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var cur int64
	err = tx.QueryRowContext(ctx, "SELECT value FROM run_counter WHERE key = ?;", key).Scan(&cur)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read counter %q: %w", key, err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
INSERT INTO run_counter(key, value, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  value = excluded.value,
  updated_at = excluded.updated_at;
`, key, cur+1, now)
	if err != nil {
		return 0, fmt.Errorf("upsert counter %q: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return cur, nil
}

// MemoryCounters is a process-local Counters.
type MemoryCounters struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{values: make(map[string]int64)}
}

func (c *MemoryCounters) Next(_ context.Context, key string) (int64, error) {
	if key == "" {
		return 0, fmt.Errorf("counter key is empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.values[key]
	c.values[key] = cur + 1
	return cur, nil
}
