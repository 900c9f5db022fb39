package qbridge

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

type channelLocker struct {
	L    chan struct{}
	A    chan struct{}
	U    chan struct{}
	done <-chan struct{}
}

func newChannelLocker(done <-chan struct{}) *channelLocker {
	return &channelLocker{
		L:    make(chan struct{}),
		A:    make(chan struct{}),
		U:    make(chan struct{}),
		done: done,
	}
}

// Lock and Unlock return immediately once the processing goroutine has
// exited; nothing is being processed then.
func (cl *channelLocker) Lock() {
	select {
	case cl.L <- struct{}{}:
	case <-cl.done:
		return
	}
	// wait until ownership has been released
	select {
	case <-cl.A:
	case <-cl.done:
	}
}

func (cl *channelLocker) Unlock() {
	select {
	case cl.U <- struct{}{}:
	case <-cl.done:
	}
}

// RunLockable processes the loop in a separate goroutine and returns a
// sync.Locker, which can be used for mutually exclusive execution with
// Process. That is, locking guarantees that Process is not and will not run
// until unlocked.
//
// Object state is only touched by queued work during Process, so objects can
// be safely modified, initialized and destroyed while holding this lock.
//
// RunLockable also returns a channel, which will receive one error value and
// close when processing stops: nil when the loop is closed, ctx.Err() when
// ctx is done.
func (l *Loop) RunLockable(ctx context.Context) (sync.Locker, <-chan error) {
	errChannel := make(chan error, 1)
	exited := make(chan struct{})
	lock := newChannelLocker(exited)

	if !l.running.CompareAndSwap(false, true) {
		errChannel <- ErrLoopAlreadyRunning
		close(errChannel)
		close(exited)
		return lock, errChannel
	}

	go func() {
		defer close(errChannel)
		defer close(exited)
		defer l.running.Store(false)

		if l.lockOSThread {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
		}
		id := goroutineID()
		if !l.owner.CompareAndSwap(0, id) {
			errChannel <- ErrNotOwner
			return
		}
		defer l.owner.Store(0)

		for {
			if err := l.Process(); err != nil {
				if errors.Is(err, ErrLoopClosed) {
					err = nil
				}
				errChannel <- err
				return
			}
			select {
			case <-ctx.Done():
				errChannel <- ctx.Err()
				return
			case <-l.done:
				errChannel <- nil
				return
			case <-l.signal:
			case <-lock.L:
				// the lock holder acts as the owner until it unlocks
				l.owner.Store(0)
				lock.A <- struct{}{}
				<-lock.U
				l.owner.Store(id)
			}
		}
	}()

	return lock, errChannel
}
