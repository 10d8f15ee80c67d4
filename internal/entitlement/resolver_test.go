package entitlement

import (
	"context"
	"errors"
	"testing"

	"metagate.io/internal/credits"
	"metagate.io/internal/redact"
	"metagate.io/internal/usage"
)

func newResolver(t *testing.T) (*Resolver, *usage.Memory, credits.Ledger) {
	t.Helper()
	mem := usage.NewMemory()
	ledger := credits.NewInMemory()
	counters := usage.NewTwoTier(mem, nil)
	return NewResolver(mem, ledger, counters), mem, ledger
}

func TestAnonymousFreshGetsRedacted(t *testing.T) {
	r, _, _ := newResolver(t)

	d := r.Resolve(context.Background(), Input{Identity: "dev-1"})
	if !d.Allowed || d.Mode != redact.ModeRedacted || d.Reason != ReasonFreeRedacted {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if d.FreeQuotaUsed != 0 {
		t.Fatalf("fresh identity must report zero quota used, got %d", d.FreeQuotaUsed)
	}
}

func TestAnonymousQuotaMonotonicity(t *testing.T) {
	r, mem, _ := newResolver(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d := r.Resolve(ctx, Input{Identity: "dev-1"})
		if !d.Allowed {
			t.Fatalf("call %d within quota must be allowed: %+v", i, d)
		}
		if _, err := mem.Increment(ctx, "dev-1", "10.0.0.1"); err != nil {
			t.Fatal(err)
		}
	}

	d := r.Resolve(ctx, Input{Identity: "dev-1"})
	if d.Allowed || d.Reason != ReasonBlockedNoCredit {
		t.Fatalf("exhausted quota must block with BLOCKED_NO_CREDITS: %+v", d)
	}
	if d.FreeQuotaUsed != 2 {
		t.Fatalf("expected freeQuotaUsed=2, got %d", d.FreeQuotaUsed)
	}
}

func TestTrialPrecedesAuthenticated(t *testing.T) {
	r, _, ledger := newResolver(t)
	ctx := context.Background()

	// The user has credits, but a trial email on the request wins.
	if _, err := ledger.Purchase(ctx, BalanceID("u-1"), 5, ""); err != nil {
		t.Fatal(err)
	}
	d := r.Resolve(ctx, Input{UserID: "u-1", TrialEmail: " New@Example.COM ", Identity: "dev-1"})
	if d.Reason != ReasonTrialFull || d.ChargeCredits {
		t.Fatalf("trial branch must win over credits: %+v", d)
	}
	if d.Mode != redact.ModeFull {
		t.Fatalf("trial grants full mode, got %q", d.Mode)
	}
}

func TestTrialExhaustedBlocks(t *testing.T) {
	r, mem, _ := newResolver(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := mem.IncrementTrial(ctx, "used@example.com"); err != nil {
			t.Fatal(err)
		}
	}
	d := r.Resolve(ctx, Input{TrialEmail: "Used@example.com", Identity: "dev-1"})
	if d.Allowed || d.Reason != ReasonBlockedNoCredit {
		t.Fatalf("exhausted trial must block: %+v", d)
	}
}

func TestInvalidTrialEmailFallsThrough(t *testing.T) {
	r, _, _ := newResolver(t)

	for _, email := range []string{"", "   ", "a@", "no-at-sign.example"} {
		d := r.Resolve(context.Background(), Input{TrialEmail: email, Identity: "dev-1"})
		if d.Reason != ReasonFreeRedacted {
			t.Fatalf("email %q must fall through to anonymous, got %+v", email, d)
		}
	}
}

func TestAuthenticatedWithCredits(t *testing.T) {
	r, _, ledger := newResolver(t)
	ctx := context.Background()

	if _, err := ledger.Purchase(ctx, BalanceID("u-1"), 3, ""); err != nil {
		t.Fatal(err)
	}
	d := r.Resolve(ctx, Input{UserID: "u-1", Identity: "dev-1"})
	if !d.Allowed || d.Reason != ReasonPaidFull || !d.ChargeCredits {
		t.Fatalf("unexpected paid decision: %+v", d)
	}
	if d.CreditsRemaining != 2 {
		t.Fatalf("expected creditsRemaining=2, got %d", d.CreditsRemaining)
	}
}

func TestAuthenticatedWithoutCreditsBlocks(t *testing.T) {
	r, _, _ := newResolver(t)

	d := r.Resolve(context.Background(), Input{UserID: "u-broke", Identity: "dev-1"})
	if d.Allowed || d.Reason != ReasonBlockedNoCredit {
		t.Fatalf("empty balance must block: %+v", d)
	}
	if d.UserID != "u-broke" {
		t.Fatalf("blocked paid decision keeps the user id, got %+v", d)
	}
}

func TestChargeImpliesFullMode(t *testing.T) {
	r, mem, ledger := newResolver(t)
	ctx := context.Background()

	if _, err := ledger.Purchase(ctx, BalanceID("u-1"), 1, ""); err != nil {
		t.Fatal(err)
	}
	inputs := []Input{
		{Identity: "dev-1"},
		{UserID: "u-1", Identity: "dev-1"},
		{UserID: "u-none", Identity: "dev-1"},
		{TrialEmail: "t@example.com", Identity: "dev-1"},
	}
	_, _ = mem.IncrementTrial(ctx, "other@example.com")
	for _, in := range inputs {
		d := r.Resolve(ctx, in)
		if d.ChargeCredits && d.Mode != redact.ModeFull {
			t.Fatalf("chargeCredits set with mode %q: %+v", d.Mode, d)
		}
	}
}

type failingTrials struct{}

func (failingTrials) Uses(ctx context.Context, email string) (int, error) {
	return 0, errors.New("store down")
}

func (failingTrials) IncrementTrial(ctx context.Context, email string) (int, error) {
	return 0, errors.New("store down")
}

func TestInternalFaultDegradesToBlock(t *testing.T) {
	mem := usage.NewMemory()
	r := NewResolver(failingTrials{}, credits.NewInMemory(), usage.NewTwoTier(mem, nil))

	d := r.Resolve(context.Background(), Input{TrialEmail: "t@example.com", Identity: "dev-1"})
	if d.Allowed {
		t.Fatalf("internal fault must never widen access: %+v", d)
	}
	if d.Reason != ReasonBlockedNoCredit || !d.Degraded {
		t.Fatalf("expected degraded conservative block, got %+v", d)
	}
}

func TestCustomLimits(t *testing.T) {
	mem := usage.NewMemory()
	r := NewResolver(mem, credits.NewInMemory(), usage.NewTwoTier(mem, nil), WithFreeLimit(1), WithTrialLimit(1))
	ctx := context.Background()

	if _, err := mem.Increment(ctx, "dev-1", "10.0.0.1"); err != nil {
		t.Fatal(err)
	}
	if d := r.Resolve(ctx, Input{Identity: "dev-1"}); d.Allowed {
		t.Fatalf("free limit 1 must block after one use: %+v", d)
	}

	if _, err := mem.IncrementTrial(ctx, "t@example.com"); err != nil {
		t.Fatal(err)
	}
	if d := r.Resolve(ctx, Input{TrialEmail: "t@example.com"}); d.Allowed {
		t.Fatalf("trial limit 1 must block after one use: %+v", d)
	}
}
