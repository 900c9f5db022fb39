package qbridge

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// RecursiveMutex is a mutual exclusion lock that may be locked again by the
// goroutine already holding it. Each Lock must be paired with an Unlock from
// the same goroutine.
//
// Every object has one; it serializes the object's state between direct
// calls on the owner goroutine and work queued through a Thread, which also
// runs on the owner. Nested acquisition happens when owner code that holds
// the lock processes the loop, or when a queued function invokes a method.
type RecursiveMutex struct {
	mu    sync.Mutex
	owner atomic.Uint64
	depth int
}

func (m *RecursiveMutex) Lock() {
	id := goroutineID()
	if m.owner.Load() == id {
		m.depth++
		return
	}
	m.mu.Lock()
	m.owner.Store(id)
	m.depth = 1
}

// TryLock attempts to lock m without blocking and reports whether it
// succeeded.
func (m *RecursiveMutex) TryLock() bool {
	id := goroutineID()
	if m.owner.Load() == id {
		m.depth++
		return true
	}
	if !m.mu.TryLock() {
		return false
	}
	m.owner.Store(id)
	m.depth = 1
	return true
}

// Unlock releases one level of locking. It panics if the calling goroutine
// does not hold m.
func (m *RecursiveMutex) Unlock() {
	if m.owner.Load() != goroutineID() {
		panic("qbridge: unlock of RecursiveMutex not held by this goroutine")
	}
	m.depth--
	if m.depth == 0 {
		m.owner.Store(0)
		m.mu.Unlock()
	}
}

// WithLock calls fn while holding m. The lock is released even if fn panics.
func (m *RecursiveMutex) WithLock(fn func()) {
	m.Lock()
	defer m.Unlock()
	fn()
}

// goroutineID returns the current goroutine's ID, parsed from the header of
// runtime.Stack ("goroutine 123 [running]:").
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
