package qbridge

import "sync"

// GuardedPointer tracks whether an owner-affine value is still alive. The
// pointer is set at construction and nulled exactly once by Invalidate; all
// access to it happens under the same lock, so checking liveness and using
// the value is a single critical section.
type GuardedPointer[T any] struct {
	mu  sync.Mutex
	ptr *T
}

func NewGuardedPointer[T any](p *T) *GuardedPointer[T] {
	return &GuardedPointer[T]{ptr: p}
}

// TryWithTarget calls action with the live pointer while holding the guard's
// lock and returns its result. If the pointer has been invalidated, action is
// not called and the second result is false.
//
// action must be short; it blocks Invalidate and every other reader.
func TryWithTarget[T, R any](g *GuardedPointer[T], action func(*T) R) (R, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ptr == nil {
		var zero R
		return zero, false
	}
	return action(g.ptr), true
}

// Try is TryWithTarget for actions without a result.
func (g *GuardedPointer[T]) Try(action func(*T)) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ptr == nil {
		return false
	}
	action(g.ptr)
	return true
}

// Invalidate nulls the pointer. It returns true for the call that performed
// the invalidation and false for any later call.
func (g *GuardedPointer[T]) Invalidate() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ptr == nil {
		return false
	}
	g.ptr = nil
	return true
}

// Alive reports whether the pointer has not been invalidated. The answer may
// be stale as soon as it is returned; use Try to act on a live value.
func (g *GuardedPointer[T]) Alive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ptr != nil
}
