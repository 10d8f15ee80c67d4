// Package usage keeps free-tier consumption counters per device identity,
// with a durable primary store and a best-effort fallback.
package usage

import (
	"context"
	"errors"
	"time"
)

// Record is the free-quota state for one identity. FreeUsed only ever
// increments within an epoch.
type Record struct {
	Identity string    `json:"identity"`
	FreeUsed int       `json:"free_used"`
	LastIP   string    `json:"last_ip,omitempty"`
	LastUsed time.Time `json:"last_used,omitempty"`
}

var ErrUnavailable = errors.New("usage: store unavailable")

// Store reads and updates usage counters. Increment must be atomic:
// insert-or-increment in one store operation so concurrent requests for the
// same identity never lose updates.
type Store interface {
	Get(ctx context.Context, identity string) (Record, error)
	Increment(ctx context.Context, identity, ip string) (Record, error)
}

// TrialStore counts trial uses per normalized email.
type TrialStore interface {
	Uses(ctx context.Context, email string) (int, error)
	IncrementTrial(ctx context.Context, email string) (int, error)
}

// Result is a read outcome carrying the degradation status instead of
// signalling fallback through caught errors.
type Result struct {
	Record   Record
	Degraded bool
}
