package risk

import (
	"strings"
	"sync"
	"time"
)

const (
	windowSpan        = time.Hour
	maxEventsPerKey   = 256
	geoAnomalyMinIPs  = 4
)

// user-agent substrings treated as automation markers.
var uaMarkers = []string{
	"headless", "bot", "crawler", "spider", "phantomjs", "selenium", "puppeteer", "playwright",
}

type event struct {
	at     time.Time
	ip     string
	failed bool
	badUA  bool
}

// Tracker keeps a bounded per-identity window of recent activity and turns
// it into Signals on demand.
type Tracker struct {
	mu     sync.Mutex
	events map[string][]event
	now    func() time.Time
}

// NewTracker creates an empty activity tracker.
func NewTracker() *Tracker {
	return &Tracker{
		events: make(map[string][]event),
		now:    time.Now,
	}
}

// WithNow overrides the clock (tests).
func (t *Tracker) WithNow(fn func() time.Time) *Tracker {
	if fn != nil {
		t.now = fn
	}
	return t
}

// RecordRequest notes one request for an identity.
func (t *Tracker) RecordRequest(identity, ip, userAgent string) {
	t.record(identity, ip, userAgent, false)
}

// RecordFailure notes one failed attempt (invalid token, rejected input)
// for an identity.
func (t *Tracker) RecordFailure(identity, ip, userAgent string) {
	t.record(identity, ip, userAgent, true)
}

func (t *Tracker) record(identity, ip, userAgent string, failed bool) {
	if identity == "" {
		return
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	evs := trim(t.events[identity], now)
	evs = append(evs, event{at: now, ip: ip, failed: failed, badUA: anomalousUA(userAgent)})
	if len(evs) > maxEventsPerKey {
		evs = evs[len(evs)-maxEventsPerKey:]
	}
	t.events[identity] = evs
}

// Signals assembles the scoring inputs for an identity. tokenAge comes from
// the verified device token; everything else from the activity window.
func (t *Tracker) Signals(identity string, tokenAge time.Duration) Signals {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	evs := trim(t.events[identity], now)
	if len(evs) == 0 {
		delete(t.events, identity)
	} else {
		t.events[identity] = evs
	}

	ips := make(map[string]struct{})
	var failed int
	var badUA bool
	for _, e := range evs {
		if e.ip != "" {
			ips[e.ip] = struct{}{}
		}
		if e.failed {
			failed++
		}
		if e.badUA {
			badUA = true
		}
	}

	return Signals{
		DistinctIPs:      len(ips),
		TokenAge:         tokenAge,
		RequestsLastHour: len(evs),
		FailedAttempts:   failed,
		GeoAnomaly:       len(ips) >= geoAnomalyMinIPs,
		UAAnomaly:        badUA,
	}
}

func trim(evs []event, now time.Time) []event {
	cutoff := now.Add(-windowSpan)
	idx := 0
	for idx < len(evs) && evs[idx].at.Before(cutoff) {
		idx++
	}
	return evs[idx:]
}

func anomalousUA(ua string) bool {
	ua = strings.ToLower(ua)
	for _, marker := range uaMarkers {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}
