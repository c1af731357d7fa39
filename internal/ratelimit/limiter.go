// Package ratelimit provides a fixed-window per-user request limiter.
package ratelimit

import (
	"sync"
	"time"
)

type record struct {
	count   int
	resetAt time.Time
}

// Limiter allows up to quota requests per window for each user. Records are
// created lazily on the first request and reset on the first request after
// the window elapses.
type Limiter struct {
	mu      sync.Mutex
	records map[int64]*record
	quota   int
	window  time.Duration
	now     func() time.Time
}

// New creates a limiter. A non-positive quota disables limiting.
func New(quota int, window time.Duration) *Limiter {
	return &Limiter{
		records: make(map[int64]*record),
		quota:   quota,
		window:  window,
		now:     time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow reports whether the user may make another request. A rejected call
// leaves the record untouched.
func (l *Limiter) Allow(id int64) bool {
	if l.quota <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec, ok := l.records[id]
	if !ok || !now.Before(rec.resetAt) {
		l.records[id] = &record{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	if rec.count >= l.quota {
		return false
	}
	rec.count++
	return true
}

// Count returns requests counted in the user's current window.
func (l *Limiter) Count(id int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.records[id]; ok {
		return rec.count
	}
	return 0
}

// Forget drops the records of the given users.
func (l *Limiter) Forget(ids ...int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		delete(l.records, id)
	}
}

// Sweep drops records whose window has elapsed and returns how many were
// dropped.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	for id, rec := range l.records {
		if !now.Before(rec.resetAt) {
			delete(l.records, id)
			n++
		}
	}
	return n
}

// Len returns the number of tracked users.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
