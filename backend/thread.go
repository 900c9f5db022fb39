package qbridge

import "fmt"

// Thread is a handle that lets any goroutine schedule work on an object
// owned by a Loop. The work runs later on the owner goroutine, holding the
// object's domain lock.
//
// A Thread stays safe to use after its object is destroyed; Queue then
// reports ErrDestroyed and discards the work. Threads are cheap to copy
// with Clone and may be shared between goroutines.
type Thread[T QObject] struct {
	guard *GuardedPointer[objectImpl]
	lock  *RecursiveMutex
}

// NewThread returns a Thread for obj, which must have been initialized with
// Loop.InitObject. obj must be the same value that was initialized, e.g. a
// pointer to the struct embedding QObject.
func NewThread[T QObject](obj T) (*Thread[T], error) {
	impl, isQObject := asQObject(obj)
	if !isQObject {
		return nil, ErrNotQObject
	} else if impl == nil {
		return nil, ErrNotInitialized
	} else if impl.IsDestroyed() {
		return nil, ErrDestroyed
	} else if _, ok := impl.object.(T); !ok {
		return nil, fmt.Errorf("%w: initialized as %T", ErrNotQObject, impl.object)
	}
	return &Thread[T]{guard: impl.guard, lock: impl.lock}, nil
}

// Queue schedules fn to be called with the object on the owner goroutine. It
// never waits for fn to run. Functions queued by one goroutine run in the
// order they were queued.
//
// Queue returns ErrDestroyed if the object has been destroyed, and
// ErrLoopClosed if its loop no longer accepts events. In both cases fn is
// never called. If the object is destroyed after Queue returns but before fn
// runs, fn is dropped silently.
func (t *Thread[T]) Queue(fn func(obj T)) error {
	lock := t.lock
	err, alive := TryWithTarget(t.guard, func(o *objectImpl) error {
		obj := o.object.(T)
		return o.enqueue(func() {
			lock.Lock()
			defer lock.Unlock()
			fn(obj)
		})
	})
	if !alive {
		return ErrDestroyed
	}
	return err
}

// Call queues a call of the named method, as QObject.Invoke. An error
// returned by the method is logged by the loop. Call fails immediately if the
// method does not exist.
func (t *Thread[T]) Call(method string, args ...interface{}) error {
	err, alive := TryWithTarget(t.guard, func(o *objectImpl) error {
		if _, exists := o.typeInfo.methodName(method); !exists {
			return fmt.Errorf("qbridge: method %s does not exist on %s", method, o.typeInfo.Name)
		}
		return o.enqueue(func() {
			if err := o.Invoke(method, args...); err != nil {
				o.loop.warn(o.id, err, `queued call of `+method+` failed`)
			}
		})
	})
	if !alive {
		return ErrDestroyed
	}
	return err
}

// Clone returns another handle to the same object. It may be called from any
// goroutine.
func (t *Thread[T]) Clone() *Thread[T] {
	return &Thread[T]{guard: t.guard, lock: t.lock}
}

// IsDestroyed reports whether the object has been destroyed. A false result
// may be stale by the time it is used; the result of Queue is authoritative.
func (t *Thread[T]) IsDestroyed() bool {
	return !t.guard.Alive()
}
