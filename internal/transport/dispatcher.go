package transport

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
)

const defaultMaxPending = 16

// Dispatcher runs a Handler for inbound events. Events for one user are
// handled one at a time in arrival order; different users run in parallel.
type Dispatcher struct {
	h          Handler
	log        *slog.Logger
	maxPending int

	mu      sync.Mutex
	pending map[int64][]Event
	active  map[int64]bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. maxPending bounds the backlog per
// user; events beyond it are dropped.
func NewDispatcher(h Handler, maxPending int, log *slog.Logger) *Dispatcher {
	if maxPending <= 0 {
		maxPending = defaultMaxPending
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		h:          h,
		log:        log,
		maxPending: maxPending,
		pending:    make(map[int64][]Event),
		active:     make(map[int64]bool),
	}
}

// Dispatch queues ev for its user.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	d.mu.Lock()
	if len(d.pending[ev.UserID]) >= d.maxPending {
		d.mu.Unlock()
		d.log.Warn("Dropping event, user backlog full", "user_id", ev.UserID, "kind", ev.Kind.String())
		return
	}
	d.pending[ev.UserID] = append(d.pending[ev.UserID], ev)
	if d.active[ev.UserID] {
		d.mu.Unlock()
		return
	}
	d.active[ev.UserID] = true
	d.wg.Add(1)
	d.mu.Unlock()

	go d.drain(ctx, ev.UserID)
}

func (d *Dispatcher) drain(ctx context.Context, userID int64) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		queue := d.pending[userID]
		if len(queue) == 0 {
			delete(d.pending, userID)
			delete(d.active, userID)
			d.mu.Unlock()
			return
		}
		ev := queue[0]
		d.pending[userID] = queue[1:]
		d.mu.Unlock()

		d.handle(ctx, ev)
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Event handler panicked",
				"user_id", ev.UserID,
				"kind", ev.Kind.String(),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	d.h.Handle(ctx, ev)
}

// Wait blocks until every queued event has been handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Backlog returns the number of queued events across users.
func (d *Dispatcher) Backlog() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, q := range d.pending {
		n += len(q)
	}
	return n
}
