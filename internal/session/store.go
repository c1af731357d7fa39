// Package session provides the in-memory per-user session store.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/metacards/internal/domain"
)

const shardCount = 32

// ErrStale is returned by Save when the stored session was replaced after
// the caller read it.
var ErrStale = errors.New("session was replaced")

// entry holds one user's session. turn serializes event handling for the
// user; mu guards sess and is only held for copies.
type entry struct {
	turn    sync.Mutex
	mu      sync.Mutex
	sess    *domain.Session
	removed bool
}

type shard struct {
	mu      sync.RWMutex
	entries map[int64]*entry
}

// Store maps user IDs to sessions. Users hash onto independent shards so
// traffic for different users does not contend on one lock.
type Store struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[int64]*entry)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) shardFor(id int64) *shard {
	h := uint64(id) * 0x9E3779B97F4A7C15
	return s.shards[h>>59]
}

// load returns the entry for id, creating it under the shard lock when absent.
func (s *Store) load(id int64) *entry {
	sh := s.shardFor(id)

	sh.mu.RLock()
	e, ok := sh.entries[id]
	sh.mu.RUnlock()
	if ok {
		return e
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[id]; ok {
		return e
	}
	e = &entry{sess: domain.NewSession(id, s.now())}
	sh.entries[id] = e
	return e
}

// Get returns a copy of the user's session, creating a fresh IDLE session on
// first contact.
func (s *Store) Get(id int64) *domain.Session {
	e := s.load(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.Clone()
}

// Save stores sess as the user's current session. The write is rejected with
// ErrStale when the session was reset since sess was read.
func (s *Store) Save(sess *domain.Session) error {
	e := s.load(sess.UserID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess.RunID != sess.RunID {
		return ErrStale
	}
	next := sess.Clone()
	if next.LastActivity.Before(e.sess.LastActivity) {
		next.LastActivity = e.sess.LastActivity
	}
	e.sess = next
	return nil
}

// Reset replaces the user's session with a fresh IDLE one and returns a copy.
func (s *Store) Reset(id int64) *domain.Session {
	e := s.load(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sess = domain.NewSession(id, s.now())
	return e.sess.Clone()
}

// Touch records activity for the user. It reports false when the user has
// no session.
func (s *Store) Touch(id int64) bool {
	sh := s.shardFor(id)
	sh.mu.RLock()
	e, ok := sh.entries[id]
	sh.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	e.sess.Touch(s.now())
	e.mu.Unlock()
	return true
}

// Lock serializes event handling for one user. The returned func releases
// the lock. Entries swept while a caller waited are skipped, so every
// holder works on the live entry.
func (s *Store) Lock(id int64) func() {
	for {
		e := s.load(id)
		e.turn.Lock()
		if !e.removed {
			return e.turn.Unlock
		}
		e.turn.Unlock()
	}
}

// Sweep removes sessions idle for longer than maxIdle and returns how many
// were removed.
func (s *Store) Sweep(maxIdle time.Duration) int {
	return len(s.Expire(maxIdle))
}

// Expire removes sessions idle for longer than maxIdle and returns their
// user IDs. Sessions with an event in progress are left alone.
func (s *Store) Expire(maxIdle time.Duration) []int64 {
	cutoff := s.now().Add(-maxIdle)
	var removed []int64

	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, e := range sh.entries {
			if !e.turn.TryLock() {
				continue
			}
			e.mu.Lock()
			idle := e.sess.LastActivity.Before(cutoff)
			e.mu.Unlock()
			if idle {
				e.removed = true
				delete(sh.entries, id)
				removed = append(removed, id)
			}
			e.turn.Unlock()
		}
		sh.mu.Unlock()
	}

	if len(removed) > 0 {
		slog.Debug("Expired idle sessions", "count", len(removed), "max_idle", maxIdle)
	}
	return removed
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// CountByState returns live sessions grouped by state name.
func (s *Store) CountByState() map[string]int {
	out := make(map[string]int)
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, e := range sh.entries {
			e.mu.Lock()
			out[e.sess.State.String()]++
			e.mu.Unlock()
		}
		sh.mu.RUnlock()
	}
	return out
}
