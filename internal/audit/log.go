package audit

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"metagate.io/internal/ids"
	"metagate.io/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Severity classifies an audit event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Event is an immutable audit record.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"ts"`
	Severity  Severity       `json:"severity"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details"`
	RequestID string         `json:"request_id,omitempty"`
}

// Log is an append-only event buffer, bounded by capacity and TTL. Every
// appended event is also emitted as a structured JSON log line.
type Log struct {
	mu       sync.Mutex
	events   []Event
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewLog creates a buffer keeping at most capacity events for at most ttl.
func NewLog(capacity int, ttl time.Duration) *Log {
	if capacity <= 0 {
		capacity = 1
	}
	return &Log{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// WithNow overrides the clock (tests).
func (l *Log) WithNow(fn func() time.Time) *Log {
	if fn != nil {
		l.now = fn
	}
	return l
}

// Append records an event, filling in id and timestamp when absent, and
// emits it as a JSON line.
func (l *Log) Append(ctx context.Context, event Event) Event {
	if event.ID == "" {
		event.ID = ids.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	if event.Details == nil {
		event.Details = map[string]any{}
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		event.RequestID = rid
	}

	l.mu.Lock()
	l.evict(l.now())
	l.events = append(l.events, event)
	if len(l.events) > l.capacity {
		l.events = l.events[len(l.events)-l.capacity:]
	}
	l.mu.Unlock()

	l.emit(event)
	return event
}

// Recent returns up to limit most recent live events, newest first.
func (l *Log) Recent(limit int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evict(l.now())
	if limit <= 0 || limit > len(l.events) {
		limit = len(l.events)
	}
	out := make([]Event, 0, limit)
	for i := len(l.events) - 1; i >= len(l.events)-limit; i-- {
		out = append(out, l.events[i])
	}
	return out
}

// Len reports the number of live events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.now())
	return len(l.events)
}

func (l *Log) evict(now time.Time) {
	if l.ttl <= 0 {
		return
	}
	cutoff := now.Add(-l.ttl)
	idx := 0
	for idx < len(l.events) && l.events[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		l.events = l.events[idx:]
	}
}

func (l *Log) emit(event Event) {
	entry := map[string]any{
		"ts":       event.Timestamp.Format(time.RFC3339Nano),
		"type":     "audit",
		"event":    event.Action,
		"severity": string(event.Severity),
		"actor":    event.Actor,
		"fields":   event.Details,
	}
	if event.RequestID != "" {
		entry["request_id"] = event.RequestID
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	obs.Logger().Println(string(data))
}
