package breaker

import (
	"testing"
	"time"
)

func testBreaker() (*Breaker, *time.Time) {
	now := time.Now()
	b := New(Thresholds{
		QueueDepth:       500,
		CPUPercent:       85,
		MemPercent:       90,
		ResetTimeout:     30 * time.Second,
		SuccessThreshold: 3,
	}, WithClock(func() time.Time { return now }))
	return b, &now
}

func TestQueueDepthSequenceTransitions(t *testing.T) {
	b, now := testBreaker()

	depths := []int{0, 0, 600, 600, 600, 0, 0, 0, 0, 0}
	var states []State
	for _, d := range depths {
		b.UpdateMetrics(d, 0, 0)
		states = append(states, b.Snapshot().State)
		*now = now.Add(time.Minute) // beyond reset timeout between samples
	}

	// closed, closed, trip->open, re-open (probe trips), re-open,
	// half_open success x3 -> closed on the third clean sample.
	seen := map[State]bool{}
	var order []State
	for _, s := range states {
		if !seen[s] {
			seen[s] = true
			order = append(order, s)
		}
	}
	want := []State{StateClosed, StateOpen, StateHalfOpen}
	for i, s := range want {
		if i >= len(order) || order[i] != s {
			t.Fatalf("expected state order %v, got %v (all: %v)", want, order, states)
		}
	}
	if states[len(states)-1] != StateClosed {
		t.Fatalf("expected breaker to close after recovery, ended %s", states[len(states)-1])
	}
}

func TestFreeTierDelayedOnlyWhileOpenOrHalfOpen(t *testing.T) {
	b, now := testBreaker()

	if adm := b.Admit(TierFree); adm.Delayed {
		t.Fatal("closed breaker must not delay free tier")
	}

	b.UpdateMetrics(600, 0, 0)
	adm := b.Admit(TierFree)
	if !adm.Allowed || !adm.Delayed {
		t.Fatalf("open breaker must delay (not reject) free tier: %+v", adm)
	}
	if adm.EstimatedWaitSeconds != 60 { // ceil(600/10)
		t.Fatalf("expected wait 60s, got %d", adm.EstimatedWaitSeconds)
	}

	*now = now.Add(time.Minute)
	if st := b.Snapshot().State; st != StateHalfOpen {
		t.Fatalf("expected half_open after reset timeout, got %s", st)
	}
	if adm := b.Admit(TierFree); !adm.Delayed {
		t.Fatal("half_open breaker must still delay free tier")
	}
}

func TestEstimatedWaitCapped(t *testing.T) {
	b, _ := testBreaker()
	b.UpdateMetrics(10_000, 0, 0)
	if adm := b.Admit(TierFree); adm.EstimatedWaitSeconds != 300 {
		t.Fatalf("expected wait capped at 300s, got %d", adm.EstimatedWaitSeconds)
	}
}

func TestPaidTierNeverDelayedExceptExtremeLoad(t *testing.T) {
	b, _ := testBreaker()

	b.UpdateMetrics(600, 0, 0) // open, but not extreme
	if adm := b.Admit(TierPaid); adm.Delayed {
		t.Fatal("paid tier must not be delayed while merely open")
	}

	b.UpdateMetrics(1501, 0, 0) // > 3x threshold
	adm := b.Admit(TierPaid)
	if !adm.Allowed {
		t.Fatal("paid tier must never be blocked")
	}
	if !adm.Delayed || adm.EstimatedWaitSeconds != 5 {
		t.Fatalf("expected small fixed paid delay under extreme load, got %+v", adm)
	}
}

func TestCPUAndMemTrip(t *testing.T) {
	b, _ := testBreaker()
	b.UpdateMetrics(0, 86, 0)
	if b.Snapshot().State != StateOpen {
		t.Fatal("cpu over threshold must trip")
	}

	b2, _ := testBreaker()
	b2.UpdateMetrics(0, 0, 91)
	if b2.Snapshot().State != StateOpen {
		t.Fatal("mem over threshold must trip")
	}
}

func TestHalfOpenReTripsOnPressure(t *testing.T) {
	b, now := testBreaker()
	b.UpdateMetrics(600, 0, 0)
	*now = now.Add(time.Minute)
	if b.Snapshot().State != StateHalfOpen {
		t.Fatal("expected half_open")
	}
	b.UpdateMetrics(700, 0, 0)
	if b.Snapshot().State != StateOpen {
		t.Fatal("pressure while half_open must re-open")
	}
}

func TestRecordSuccessClosesHalfOpen(t *testing.T) {
	b, now := testBreaker()
	b.UpdateMetrics(600, 0, 0)
	*now = now.Add(time.Minute)

	for i := 0; i < 3; i++ {
		b.RecordSuccess()
	}
	if st := b.Snapshot().State; st != StateClosed {
		t.Fatalf("expected closed after success threshold, got %s", st)
	}
}

func TestColdStartClosed(t *testing.T) {
	b := New(Thresholds{})
	if b.Snapshot().State != StateClosed {
		t.Fatal("cold start must be closed")
	}
}
