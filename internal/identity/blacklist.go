package identity

import (
	"sync"
	"time"
)

// Blacklist is a bounded set of revoked token identifiers. Entries expire
// after a TTL; when capacity is exceeded the entry closest to expiry is
// evicted. Both bounds hold from the first insert, so the set can never
// grow without limit.
type Blacklist struct {
	mu       sync.Mutex
	entries  map[string]time.Time // id -> expiry
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewBlacklist creates a revocation set with the given capacity and TTL.
func NewBlacklist(capacity int, ttl time.Duration) *Blacklist {
	if capacity <= 0 {
		capacity = 1
	}
	return &Blacklist{
		entries:  make(map[string]time.Time),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// WithNow overrides the clock (tests).
func (b *Blacklist) WithNow(fn func() time.Time) *Blacklist {
	if fn != nil {
		b.now = fn
	}
	return b
}

// Add revokes an identifier.
func (b *Blacklist) Add(id string) {
	if id == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.evictExpired(now)
	if _, ok := b.entries[id]; !ok && len(b.entries) >= b.capacity {
		b.evictSoonest()
	}
	b.entries[id] = now.Add(b.ttl)
}

// Contains reports whether an identifier is currently revoked.
func (b *Blacklist) Contains(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	exp, ok := b.entries[id]
	if !ok {
		return false
	}
	if !b.now().Before(exp) {
		delete(b.entries, id)
		return false
	}
	return true
}

// Len reports the number of live entries.
func (b *Blacklist) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evictExpired(b.now())
	return len(b.entries)
}

func (b *Blacklist) evictExpired(now time.Time) {
	for id, exp := range b.entries {
		if !now.Before(exp) {
			delete(b.entries, id)
		}
	}
}

func (b *Blacklist) evictSoonest() {
	var victim string
	var soonest time.Time
	for id, exp := range b.entries {
		if victim == "" || exp.Before(soonest) {
			victim, soonest = id, exp
		}
	}
	if victim != "" {
		delete(b.entries, victim)
	}
}
