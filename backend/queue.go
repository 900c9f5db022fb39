package qbridge

import (
	"sync"
	"sync/atomic"
)

// deferredQueue holds work scheduled for an object from any goroutine, to be
// run later on the owner. wakePending is true while a wake event for the
// queue is posted and not yet delivered, so a burst of pushes posts one
// event.
type deferredQueue struct {
	mu          sync.Mutex
	items       []func()
	wakePending atomic.Bool
}

// push appends fn and reports whether the caller must post a wake event.
// The flag is tested after the append, so the owner either sees fn in the
// drain it is about to do or has cleared the flag and receives a new wake.
func (q *deferredQueue) push(fn func()) (wake bool) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()
	return q.wakePending.CompareAndSwap(false, true)
}

// detach takes all queued work, leaving the queue empty.
func (q *deferredQueue) detach() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// clear drops all queued work without running it.
func (q *deferredQueue) clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

func (q *deferredQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
