package generation

import (
	"container/heap"
	"context"
	"sync"
)

// Priority orders queued requests. Higher values are admitted first.
type Priority int

// Request priorities.
const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

type waiter struct {
	priority Priority
	seq      uint64
	ready    chan struct{}
	granted  bool
	index    int
}

type waitQueue []*waiter

func (q waitQueue) Len() int { return len(q) }

func (q waitQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q waitQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *waitQueue) Push(x any) {
	w := x.(*waiter)
	w.index = len(*q)
	*q = append(*q, w)
}

func (q *waitQueue) Pop() any {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*q = old[:n-1]
	return w
}

// Gate bounds the number of in-flight provider calls. Callers beyond the
// limit wait, highest priority first, then in arrival order.
type Gate struct {
	mu       sync.Mutex
	limit    int
	inFlight int
	seq      uint64
	queue    waitQueue
}

// NewGate creates a gate admitting at most limit concurrent holders.
func NewGate(limit int) *Gate {
	if limit <= 0 {
		limit = 1
	}
	return &Gate{limit: limit}
}

// Acquire blocks until a slot is free or ctx is done. The returned func
// releases the slot and is safe to call more than once.
func (g *Gate) Acquire(ctx context.Context, p Priority) (func(), error) {
	g.mu.Lock()
	if g.inFlight < g.limit && len(g.queue) == 0 {
		g.inFlight++
		g.mu.Unlock()
		return g.releaser(), nil
	}
	g.seq++
	w := &waiter{priority: p, seq: g.seq, ready: make(chan struct{})}
	heap.Push(&g.queue, w)
	g.mu.Unlock()

	select {
	case <-w.ready:
		return g.releaser(), nil
	case <-ctx.Done():
		g.mu.Lock()
		if w.granted {
			// Slot was handed over while we gave up.
			g.mu.Unlock()
			g.release()
			return nil, ctx.Err()
		}
		heap.Remove(&g.queue, w.index)
		g.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (g *Gate) releaser() func() {
	var once sync.Once
	return func() { once.Do(g.release) }
}

func (g *Gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight--
	for g.inFlight < g.limit && len(g.queue) > 0 {
		w := heap.Pop(&g.queue).(*waiter)
		w.granted = true
		g.inFlight++
		close(w.ready)
	}
}

// InFlight returns the number of current holders.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// Waiting returns the number of queued callers.
func (g *Gate) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// Limit returns the admission ceiling.
func (g *Gate) Limit() int { return g.limit }
