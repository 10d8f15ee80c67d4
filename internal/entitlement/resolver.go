// Package entitlement resolves what a request is allowed to do. It is the
// single source of truth for blocking and redaction; no handler decides
// access on its own.
package entitlement

import (
	"context"
	"errors"
	"strings"

	"metagate.io/internal/credits"
	"metagate.io/internal/obs"
	"metagate.io/internal/redact"
	"metagate.io/internal/usage"
)

// Decision reasons. Exactly one is set on every decision.
const (
	ReasonTrialFull       = "TRIAL_FULL"
	ReasonPaidFull        = "PAID_FULL"
	ReasonFreeRedacted    = "FREE_REDACTED"
	ReasonBlockedNoCredit = "BLOCKED_NO_CREDITS"
)

// Input carries everything the resolver may consult for one request.
// Identity is the resolved device identity and is always present.
type Input struct {
	UserID     string
	TrialEmail string
	Identity   string
}

// Decision is the resolved entitlement. ChargeCredits means the caller must
// reserve and commit one credit around the extraction; it is only ever set
// together with ModeFull.
type Decision struct {
	Allowed          bool        `json:"allowed"`
	Mode             redact.Mode `json:"mode"`
	ChargeCredits    bool        `json:"chargeCredits"`
	Reason           string      `json:"reason"`
	CreditsRemaining int64       `json:"creditsRemaining,omitempty"`
	FreeQuotaUsed    int         `json:"freeQuotaUsed"`
	UserID           string      `json:"userId,omitempty"`
	Degraded         bool        `json:"degraded,omitempty"`
}

// Resolver evaluates the three entitlement branches in strict precedence:
// trial email, then authenticated credits, then anonymous free quota. The
// first applicable branch wins and later ones are never consulted.
type Resolver struct {
	trials     usage.TrialStore
	ledger     credits.Ledger
	counters   *usage.TwoTier
	freeLimit  int
	trialLimit int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFreeLimit overrides the anonymous free-quota limit.
func WithFreeLimit(n int) Option {
	return func(r *Resolver) { r.freeLimit = n }
}

// WithTrialLimit overrides the per-email trial limit.
func WithTrialLimit(n int) Option {
	return func(r *Resolver) { r.trialLimit = n }
}

// NewResolver wires the resolver's data sources.
func NewResolver(trials usage.TrialStore, ledger credits.Ledger, counters *usage.TwoTier, opts ...Option) *Resolver {
	r := &Resolver{
		trials:     trials,
		ledger:     ledger,
		counters:   counters,
		freeLimit:  2,
		trialLimit: 2,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BalanceID maps a user id onto its credit balance key.
func BalanceID(userID string) string { return "user:" + userID }

// Resolve never returns an error. Internal faults degrade to the most
// conservative decision, a block, and are logged; they must not widen
// access and must not surface as a request failure.
func (r *Resolver) Resolve(ctx context.Context, in Input) Decision {
	if email, ok := NormalizeEmail(in.TrialEmail); ok {
		return r.resolveTrial(ctx, email)
	}
	if in.UserID != "" {
		return r.resolveAuthenticated(ctx, in.UserID)
	}
	return r.resolveAnonymous(ctx, in.Identity)
}

func (r *Resolver) resolveTrial(ctx context.Context, email string) Decision {
	uses, err := r.trials.Uses(ctx, email)
	if err != nil {
		return r.blocked("trial lookup", err)
	}
	if uses >= r.trialLimit {
		return Decision{Reason: ReasonBlockedNoCredit, Mode: redact.ModeRedacted}
	}
	return Decision{
		Allowed: true,
		Mode:    redact.ModeFull,
		Reason:  ReasonTrialFull,
	}
}

func (r *Resolver) resolveAuthenticated(ctx context.Context, userID string) Decision {
	bal, err := r.ledger.Get(ctx, BalanceID(userID))
	if err != nil && !errors.Is(err, credits.ErrNotFound) {
		return r.blocked("balance lookup", err)
	}
	if bal.Available() < 1 {
		return Decision{Reason: ReasonBlockedNoCredit, Mode: redact.ModeRedacted, UserID: userID}
	}
	return Decision{
		Allowed:          true,
		Mode:             redact.ModeFull,
		ChargeCredits:    true,
		Reason:           ReasonPaidFull,
		CreditsRemaining: bal.Available() - 1,
		UserID:           userID,
	}
}

func (r *Resolver) resolveAnonymous(ctx context.Context, identity string) Decision {
	res := r.counters.Get(ctx, identity)
	if res.Record.FreeUsed >= r.freeLimit {
		return Decision{
			Reason:        ReasonBlockedNoCredit,
			Mode:          redact.ModeRedacted,
			FreeQuotaUsed: res.Record.FreeUsed,
			Degraded:      res.Degraded,
		}
	}
	return Decision{
		Allowed:       true,
		Mode:          redact.ModeRedacted,
		Reason:        ReasonFreeRedacted,
		FreeQuotaUsed: res.Record.FreeUsed,
		Degraded:      res.Degraded,
	}
}

func (r *Resolver) blocked(op string, err error) Decision {
	obs.LogRequest(map[string]any{
		"level": "warn",
		"msg":   "entitlement degraded to block",
		"op":    op,
		"error": err.Error(),
	})
	return Decision{Reason: ReasonBlockedNoCredit, Mode: redact.ModeRedacted, Degraded: true}
}

// NormalizeEmail trims and lowercases, and rejects anything without an @
// or shorter than four characters. A rejected email means the trial branch
// does not apply at all. Callers recording trial consumption must use the
// same normalization the resolver reads with.
func NormalizeEmail(raw string) (string, bool) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if len(email) <= 3 || !strings.Contains(email, "@") {
		return "", false
	}
	return email, true
}
