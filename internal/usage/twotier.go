package usage

import (
	"context"

	"metagate.io/internal/obs"
)

// TwoTier composes a primary durable store with a secondary fallback. It
// reports degradation as data instead of driving control flow off caught
// errors: reads fall back primary -> secondary -> zero record (fail-open
// for availability), writes are best-effort against whichever tier is
// reachable. Failed writes mean free usage may be undercounted; that is
// the accepted failure mode.
type TwoTier struct {
	primary  Store
	fallback Store
}

// NewTwoTier composes the tiers. fallback may be nil.
func NewTwoTier(primary, fallback Store) *TwoTier {
	return &TwoTier{primary: primary, fallback: fallback}
}

// Get reads a usage record, noting which tier answered.
func (t *TwoTier) Get(ctx context.Context, identity string) Result {
	if rec, err := t.primary.Get(ctx, identity); err == nil {
		return Result{Record: rec}
	} else {
		logStoreError("usage.get.primary", identity, err)
	}
	if t.fallback != nil {
		if rec, err := t.fallback.Get(ctx, identity); err == nil {
			return Result{Record: rec, Degraded: true}
		} else {
			logStoreError("usage.get.fallback", identity, err)
		}
	}
	return Result{Record: Record{Identity: identity}, Degraded: true}
}

// Increment bumps the counter, preferring the primary's atomic upsert. The
// fallback path is a non-atomic read-modify-write; lost updates there only
// undercount free usage.
func (t *TwoTier) Increment(ctx context.Context, identity, ip string) Result {
	if rec, err := t.primary.Increment(ctx, identity, ip); err == nil {
		return Result{Record: rec}
	} else {
		logStoreError("usage.increment.primary", identity, err)
	}
	if t.fallback != nil {
		if rec, err := t.fallback.Increment(ctx, identity, ip); err == nil {
			return Result{Record: rec, Degraded: true}
		} else {
			logStoreError("usage.increment.fallback", identity, err)
		}
	}
	return Result{Record: Record{Identity: identity}, Degraded: true}
}

func logStoreError(op, identity string, err error) {
	obs.LogRequest(map[string]any{
		"level":    "warn",
		"msg":      "usage store error",
		"op":       op,
		"identity": identity,
		"error":    err.Error(),
	})
}
