package usage

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Memory is a key-value usage store holding encoded counters. It stands in
// for the secondary fallback store: its Increment is a read-modify-write
// over the encoded value, a documented best-effort degradation compared to
// the primary's atomic upsert. The mutex only protects the in-process map.
type Memory struct {
	mu     sync.Mutex
	kv     map[string]string
	trials map[string]int
	now    func() time.Time
}

var (
	_ Store      = (*Memory)(nil)
	_ TrialStore = (*Memory)(nil)
)

// NewMemory creates an empty in-memory usage store.
func NewMemory() *Memory {
	return &Memory{
		kv:     make(map[string]string),
		trials: make(map[string]int),
		now:    time.Now,
	}
}

func (m *Memory) Get(ctx context.Context, identity string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, ok := m.kv[identity]
	if !ok {
		return Record{Identity: identity}, nil
	}
	return decode(identity, raw), nil
}

func (m *Memory) Increment(ctx context.Context, identity, ip string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := Record{Identity: identity}
	if raw, ok := m.kv[identity]; ok {
		rec = decode(identity, raw)
	}
	rec.FreeUsed++
	rec.LastIP = ip
	rec.LastUsed = m.now().UTC()
	m.kv[identity] = encode(rec)
	return rec, nil
}

func (m *Memory) Uses(ctx context.Context, email string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trials[email], nil
}

func (m *Memory) IncrementTrial(ctx context.Context, email string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trials[email]++
	return m.trials[email], nil
}

// encode packs a record as "freeUsed|lastIP|lastUsedUnix", the same shape a
// remote kv fallback would hold.
func encode(rec Record) string {
	return strconv.Itoa(rec.FreeUsed) + "|" + rec.LastIP + "|" +
		strconv.FormatInt(rec.LastUsed.Unix(), 10)
}

func decode(identity, raw string) Record {
	rec := Record{Identity: identity}
	parts := strings.SplitN(raw, "|", 3)
	if len(parts) != 3 {
		return rec
	}
	if n, err := strconv.Atoi(parts[0]); err == nil {
		rec.FreeUsed = n
	}
	rec.LastIP = parts[1]
	if ts, err := strconv.ParseInt(parts[2], 10, 64); err == nil && ts > 0 {
		rec.LastUsed = time.Unix(ts, 0).UTC()
	}
	return rec
}
