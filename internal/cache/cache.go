// Package cache provides result-cache adapters behind the interface the
// orchestrator consumes. Storage policy (eviction, persistence) stays inside
// the adapter; the orchestrator never reasons about it.
package cache

import (
	"context"
	"time"
)

// Entry is one cached orchestration result.
type Entry struct {
	Response   string        `json:"response"`
	Agent      string        `json:"agent,omitempty"`
	Model      string        `json:"model,omitempty"`
	Iterations int           `json:"iterations,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	StoredAt   time.Time     `json:"stored_at"`
}

// Store is the consumed cache interface.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool)
	Set(ctx context.Context, key string, entry *Entry)
}
