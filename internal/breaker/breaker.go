// Package breaker sheds load by delaying free-tier traffic while the
// process is under resource pressure. Paid traffic is never blocked, only
// nudged under extreme load.
package breaker

import (
	"math"
	"sync"
	"time"
)

// State of the load-shedding machine.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Tier classifies admission priority.
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// Thresholds configure when the breaker trips.
type Thresholds struct {
	QueueDepth       int
	CPUPercent       float64
	MemPercent       float64
	ResetTimeout     time.Duration
	SuccessThreshold int
}

// Admission is the verdict for one request. Allowed is always true: the
// breaker delays, it does not reject.
type Admission struct {
	Allowed              bool
	Delayed              bool
	EstimatedWaitSeconds int
}

// Snapshot is a read-only view of breaker state for operators and metrics.
type Snapshot struct {
	State         State     `json:"state"`
	QueueDepth    int       `json:"queue_depth"`
	CPUUsage      float64   `json:"cpu_usage"`
	MemUsage      float64   `json:"mem_usage"`
	LastTrippedAt time.Time `json:"last_tripped_at,omitempty"`
	SuccessCount  int       `json:"success_count"`
}

// Breaker is the process-wide load-shedding state machine. It holds no
// persistent state; a cold start is always closed.
type Breaker struct {
	mu  sync.Mutex
	cfg Thresholds

	state        State
	queueDepth   int
	cpuUsage     float64
	memUsage     float64
	lastTripped  time.Time
	successCount int

	now func() time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) Option {
	return func(b *Breaker) {
		if fn != nil {
			b.now = fn
		}
	}
}

// New creates a closed breaker with the given thresholds.
func New(cfg Thresholds, opts ...Option) *Breaker {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 500
	}
	if cfg.CPUPercent <= 0 {
		cfg.CPUPercent = 85
	}
	if cfg.MemPercent <= 0 {
		cfg.MemPercent = 90
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 3
	}
	b := &Breaker{
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// UpdateMetrics feeds a metrics sample and advances the state machine.
// This is the only mutation path; callers must funnel samples through a
// single collector or serialize them.
func (b *Breaker) UpdateMetrics(queueDepth int, cpuPercent, memPercent float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.queueDepth = queueDepth
	b.cpuUsage = cpuPercent
	b.memUsage = memPercent

	now := b.now()
	b.advance(now)

	tripped := queueDepth > b.cfg.QueueDepth ||
		cpuPercent > b.cfg.CPUPercent ||
		memPercent > b.cfg.MemPercent

	switch b.state {
	case StateClosed:
		if tripped {
			b.trip(now)
		}
	case StateHalfOpen:
		if tripped {
			b.trip(now)
			return
		}
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.successCount = 0
		}
	}
}

// RecordSuccess reports a completed request while probing in half-open.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance(b.now())
	if b.state != StateHalfOpen {
		return
	}
	b.successCount++
	if b.successCount >= b.cfg.SuccessThreshold {
		b.state = StateClosed
		b.successCount = 0
	}
}

// Admit evaluates admission for a tier. Safe for concurrent use.
func (b *Breaker) Admit(tier Tier) Admission {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance(b.now())

	if tier == TierPaid {
		// Paid traffic is only nudged under extreme load.
		if b.queueDepth > 3*b.cfg.QueueDepth {
			return Admission{Allowed: true, Delayed: true, EstimatedWaitSeconds: 5}
		}
		return Admission{Allowed: true}
	}

	if b.state == StateOpen || b.state == StateHalfOpen {
		wait := int(math.Ceil(float64(b.queueDepth) / 10))
		if wait > 300 {
			wait = 300
		}
		return Admission{Allowed: true, Delayed: true, EstimatedWaitSeconds: wait}
	}
	return Admission{Allowed: true}
}

// Snapshot returns the current state without mutating it beyond the timed
// open -> half_open transition.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance(b.now())
	return Snapshot{
		State:         b.state,
		QueueDepth:    b.queueDepth,
		CPUUsage:      b.cpuUsage,
		MemUsage:      b.memUsage,
		LastTrippedAt: b.lastTripped,
		SuccessCount:  b.successCount,
	}
}

// StateGauge maps the state onto the metric scale (0=closed, 1=half_open,
// 2=open).
func (s Snapshot) StateGauge() float64 {
	switch s.State {
	case StateOpen:
		return 2
	case StateHalfOpen:
		return 1
	default:
		return 0
	}
}

func (b *Breaker) trip(now time.Time) {
	b.state = StateOpen
	b.lastTripped = now
	b.successCount = 0
}

// advance applies the open -> half_open timeout. Callers hold b.mu.
func (b *Breaker) advance(now time.Time) {
	if b.state == StateOpen && now.Sub(b.lastTripped) >= b.cfg.ResetTimeout {
		b.state = StateHalfOpen
		b.successCount = 0
	}
}
