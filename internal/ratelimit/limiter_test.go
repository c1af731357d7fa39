package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func TestAllowRejectsOverQuota(t *testing.T) {
	t.Parallel()

	c := newClock()
	l := New(2, time.Minute).WithClock(c.Now)

	if !l.Allow(1) || !l.Allow(1) {
		t.Fatal("first two requests should be allowed")
	}
	if l.Allow(1) {
		t.Fatal("third request in the window should be rejected")
	}
	if got := l.Count(1); got != 2 {
		t.Fatalf("rejected call mutated count: %d", got)
	}
}

func TestAllowResetsAfterWindow(t *testing.T) {
	t.Parallel()

	c := newClock()
	l := New(2, time.Minute).WithClock(c.Now)
	l.Allow(1)
	l.Allow(1)
	l.Allow(1)

	c.Advance(time.Minute)
	if !l.Allow(1) {
		t.Fatal("request after the window should be allowed")
	}
	if got := l.Count(1); got != 1 {
		t.Fatalf("expected counter reset to 1, got %d", got)
	}
}

func TestAllowIsPerUser(t *testing.T) {
	t.Parallel()

	l := New(1, time.Minute)
	if !l.Allow(1) {
		t.Fatal("user 1 should be allowed")
	}
	if !l.Allow(2) {
		t.Fatal("user 2 should not share user 1's quota")
	}
	if l.Allow(1) {
		t.Fatal("user 1 should be limited")
	}
}

func TestZeroQuotaDisablesLimiting(t *testing.T) {
	t.Parallel()

	l := New(0, time.Minute)
	for i := 0; i < 10; i++ {
		if !l.Allow(1) {
			t.Fatal("limiter with zero quota rejected a request")
		}
	}
	if l.Len() != 0 {
		t.Fatalf("disabled limiter kept records: %d", l.Len())
	}
}

func TestSweepAndForget(t *testing.T) {
	t.Parallel()

	c := newClock()
	l := New(2, time.Minute).WithClock(c.Now)
	l.Allow(1)
	c.Advance(30 * time.Second)
	l.Allow(2)
	l.Allow(3)
	c.Advance(45 * time.Second)

	if n := l.Sweep(); n != 1 {
		t.Fatalf("expected 1 swept, got %d", n)
	}
	l.Forget(2)
	if l.Len() != 1 || l.Count(3) != 1 {
		t.Fatalf("unexpected records after forget: len=%d", l.Len())
	}
}
