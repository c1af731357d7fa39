package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/metacards/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestGetCreatesIdleSession(t *testing.T) {
	t.Parallel()

	s := NewStore()
	sess := s.Get(42)
	if sess.State != domain.StateIdle {
		t.Fatalf("expected IDLE, got %s", sess.State)
	}
	if sess.UserID != 42 || sess.RunID == "" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", s.Len())
	}
}

func TestGetIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewStore()
	first := s.Get(7)
	second := s.Get(7)
	if first.RunID != second.RunID || first.State != second.State {
		t.Fatalf("Get not idempotent: %+v vs %+v", first, second)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()

	s := NewStore()
	sess := s.Get(7)
	sess.State = domain.StateCompleted
	if got := s.Get(7).State; got != domain.StateIdle {
		t.Fatalf("mutating copy changed store: %s", got)
	}
}

func TestConcurrentGetCreatesOneSession(t *testing.T) {
	t.Parallel()

	s := NewStore()
	var wg sync.WaitGroup
	ids := make([]string, 64)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = s.Get(99).RunID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("concurrent Get created more than one session: %s vs %s", id, ids[0])
		}
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", s.Len())
	}
}

func TestSaveAndStale(t *testing.T) {
	t.Parallel()

	s := NewStore()
	sess := s.Get(1)
	sess.State = domain.StateAwaitingState
	if err := s.Save(sess); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := s.Get(1).State; got != domain.StateAwaitingState {
		t.Fatalf("expected AWAITING_STATE, got %s", got)
	}

	s.Reset(1)
	if err := s.Save(sess); !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale after reset, got %v", err)
	}
	if got := s.Get(1).State; got != domain.StateIdle {
		t.Fatalf("stale save overwrote reset session: %s", got)
	}
}

func TestResetReplacesSession(t *testing.T) {
	t.Parallel()

	s := NewStore()
	old := s.Get(5)
	old.State = domain.StateCompleted
	_ = s.Save(old)

	fresh := s.Reset(5)
	if fresh.RunID == old.RunID {
		t.Fatal("reset kept the old run ID")
	}
	if fresh.State != domain.StateIdle {
		t.Fatalf("expected IDLE after reset, got %s", fresh.State)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", s.Len())
	}
}

func TestTouchIsMonotonic(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))
	if s.Touch(3) {
		t.Fatal("Touch on unknown user should report false")
	}

	start := s.Get(3).LastActivity
	clock.Advance(time.Minute)
	if !s.Touch(3) {
		t.Fatal("Touch on known user should report true")
	}
	touched := s.Get(3).LastActivity
	if !touched.After(start) {
		t.Fatalf("LastActivity not advanced: %v -> %v", start, touched)
	}

	sess := s.Get(3)
	sess.LastActivity = start
	_ = s.Save(sess)
	if got := s.Get(3).LastActivity; got.Before(touched) {
		t.Fatalf("Save moved LastActivity back: %v", got)
	}
}

func TestSweepRemovesIdleSessions(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))
	s.Get(1)
	clock.Advance(8 * time.Minute)
	s.Get(2)
	clock.Advance(3 * time.Minute)

	removed := s.Expire(10 * time.Minute)
	if len(removed) != 1 || removed[0] != 1 {
		t.Fatalf("expected only user 1 removed, got %v", removed)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 session left, got %d", s.Len())
	}
	if n := s.Sweep(10 * time.Minute); n != 0 {
		t.Fatalf("second sweep removed %d", n)
	}
}

func TestSweepSkipsLockedSessions(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))
	s.Get(1)
	unlock := s.Lock(1)
	clock.Advance(time.Hour)

	if n := s.Sweep(10 * time.Minute); n != 0 {
		t.Fatalf("sweep removed a session with an event in progress")
	}
	unlock()
	if n := s.Sweep(10 * time.Minute); n != 1 {
		t.Fatalf("expected 1 removed after unlock, got %d", n)
	}
}

func TestLockSerializesSameUser(t *testing.T) {
	t.Parallel()

	s := NewStore()
	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock(11)
			defer unlock()
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxActive)
	}
}

func TestLockDoesNotBlockOtherUsers(t *testing.T) {
	t.Parallel()

	s := NewStore()
	unlock := s.Lock(1)
	defer unlock()

	done := make(chan struct{})
	go func() {
		release := s.Lock(2)
		release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock for user 2 blocked on user 1")
	}
}

func TestCountByState(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Get(1)
	sess := s.Get(2)
	sess.State = domain.StateAwaitingState
	_ = s.Save(sess)

	counts := s.CountByState()
	if counts["IDLE"] != 1 || counts["AWAITING_STATE"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}
