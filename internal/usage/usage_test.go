package usage

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryIncrementMonotonic(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		rec, err := m.Increment(ctx, "dev-1", "10.0.0.1")
		if err != nil {
			t.Fatal(err)
		}
		if rec.FreeUsed != i {
			t.Fatalf("expected free_used=%d, got %d", i, rec.FreeUsed)
		}
	}

	rec, err := m.Get(ctx, "dev-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.FreeUsed != 3 || rec.LastIP != "10.0.0.1" || rec.LastUsed.IsZero() {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestMemoryGetAbsentIsZero(t *testing.T) {
	m := NewMemory()
	rec, err := m.Get(context.Background(), "never-seen")
	if err != nil {
		t.Fatal(err)
	}
	if rec.FreeUsed != 0 || rec.Identity != "never-seen" {
		t.Fatalf("expected zero record, got %+v", rec)
	}
}

func TestMemoryConcurrentIncrements(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Increment(ctx, "dev-1", "10.0.0.1")
		}()
	}
	wg.Wait()

	rec, _ := m.Get(ctx, "dev-1")
	if rec.FreeUsed != 50 {
		t.Fatalf("lost updates: expected 50, got %d", rec.FreeUsed)
	}
}

func TestMemoryTrialUses(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if n, _ := m.Uses(ctx, "a@example.com"); n != 0 {
		t.Fatalf("expected 0 uses, got %d", n)
	}
	if n, _ := m.IncrementTrial(ctx, "a@example.com"); n != 1 {
		t.Fatalf("expected 1 use, got %d", n)
	}
	if n, _ := m.IncrementTrial(ctx, "a@example.com"); n != 2 {
		t.Fatalf("expected 2 uses, got %d", n)
	}
}

type failingStore struct{}

func (failingStore) Get(ctx context.Context, identity string) (Record, error) {
	return Record{}, ErrUnavailable
}

func (failingStore) Increment(ctx context.Context, identity, ip string) (Record, error) {
	return Record{}, ErrUnavailable
}

func TestTwoTierFallsBackOnPrimaryFailure(t *testing.T) {
	fallback := NewMemory()
	tt := NewTwoTier(failingStore{}, fallback)
	ctx := context.Background()

	res := tt.Increment(ctx, "dev-1", "10.0.0.1")
	if !res.Degraded {
		t.Fatal("expected degraded result from fallback")
	}
	if res.Record.FreeUsed != 1 {
		t.Fatalf("expected fallback counter=1, got %d", res.Record.FreeUsed)
	}

	got := tt.Get(ctx, "dev-1")
	if !got.Degraded || got.Record.FreeUsed != 1 {
		t.Fatalf("expected degraded read of fallback counter, got %+v", got)
	}
}

func TestTwoTierPrefersPrimary(t *testing.T) {
	primary := NewMemory()
	fallback := NewMemory()
	tt := NewTwoTier(primary, fallback)
	ctx := context.Background()

	res := tt.Increment(ctx, "dev-1", "10.0.0.1")
	if res.Degraded {
		t.Fatal("healthy primary must not report degraded")
	}
	if rec, _ := fallback.Get(ctx, "dev-1"); rec.FreeUsed != 0 {
		t.Fatal("fallback must stay untouched while primary is healthy")
	}
}

func TestTwoTierBothDownReadsZero(t *testing.T) {
	tt := NewTwoTier(failingStore{}, failingStore{})
	res := tt.Get(context.Background(), "dev-1")
	if !res.Degraded || res.Record.FreeUsed != 0 {
		t.Fatalf("expected fail-open zero record, got %+v", res)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	rec := decode("dev-1", "not-an-encoded-counter")
	if rec.FreeUsed != 0 {
		t.Fatalf("garbage value must decode to zero, got %+v", rec)
	}
}
