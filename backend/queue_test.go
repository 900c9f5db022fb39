package qbridge

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestDeferredQueue(t *testing.T) {
	var q deferredQueue
	var order []int

	assert.True(t, q.push(func() { order = append(order, 1) }), "first push must request a wake")
	assert.False(t, q.push(func() { order = append(order, 2) }), "wake already pending")
	assert.Equal(t, 2, q.len())

	q.wakePending.Store(false)
	for _, fn := range q.detach() {
		fn()
	}
	assert.Equal(t, []int{1, 2}, order)
	assert.Zero(t, q.len())

	assert.True(t, q.push(func() {}), "wake must be requested again after clearing")
	q.clear()
	assert.Zero(t, q.len())
	assert.Empty(t, q.detach())
}

// processUntil processes l on the calling goroutine until done reports true.
func processUntil(t *testing.T, l *Loop, done func() bool) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		require.NoError(t, l.Process())
		if done() {
			return
		}
		select {
		case <-l.ProcessSignal():
		case <-deadline:
			t.Fatal("timed out waiting for queued work; a wake was lost")
		}
	}
}

// Workers queue while the owner keeps draining. If the wake flag were
// cleared after draining, or pushes tested the flag before appending, work
// could be left in a queue with no wake posted, and processUntil would
// time out.
func TestQueueClearBeforeDrain(t *testing.T) {
	l, _ := newLoggedLoop(t)
	obj := &BasicQObject{}
	require.NoError(t, l.InitObject(obj))
	thread, err := NewThread(obj)
	require.NoError(t, err)

	const workers, perWorker = 8, 2000
	var executed atomic.Int64

	g, _ := errgroup.WithContext(context.Background())
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				if err := thread.Queue(func(*BasicQObject) { executed.Add(1) }); err != nil {
					return err
				}
				if i%100 == 0 {
					time.Sleep(time.Microsecond)
				}
			}
			return nil
		})
	}

	processUntil(t, l, func() bool { return executed.Load() == workers*perWorker })
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(workers*perWorker), executed.Load())
}

// However many closures are queued from however many goroutines, at most one
// wake event is outstanding for an object.
func TestQueueWakeCollapsing(t *testing.T) {
	l, _ := newLoggedLoop(t)
	obj := &BasicQObject{}
	require.NoError(t, l.InitObject(obj))
	thread, err := NewThread(obj)
	require.NoError(t, err)

	var executed atomic.Int64
	g := new(errgroup.Group)
	for w := 0; w < 16; w++ {
		g.Go(func() error {
			for i := 0; i < 500; i++ {
				if err := thread.Queue(func(*BasicQObject) { executed.Add(1) }); err != nil {
					return err
				}
				if n := l.Pending(); n > 1 {
					t.Errorf("%d wake events pending for one object", n)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, l.Pending())
	assert.Len(t, l.ProcessSignal(), 1)

	require.NoError(t, l.Process())
	assert.Equal(t, int64(16*500), executed.Load())
	assert.Zero(t, l.Pending())
}

func TestQueuePanicIsolation(t *testing.T) {
	var panics []*PanicError
	l, _ := newLoggedLoop(t, WithPanicHandler(func(p *PanicError) { panics = append(panics, p) }))
	obj := &BasicQObject{}
	require.NoError(t, l.InitObject(obj))
	thread, err := NewThread(obj)
	require.NoError(t, err)

	var ran []int
	require.NoError(t, thread.Queue(func(*BasicQObject) { ran = append(ran, 1) }))
	require.NoError(t, thread.Queue(func(*BasicQObject) { panic("closure fault") }))
	require.NoError(t, thread.Queue(func(*BasicQObject) { ran = append(ran, 3) }))
	require.NoError(t, l.Process())

	assert.Equal(t, []int{1, 3}, ran)
	require.Len(t, panics, 1)
	assert.Equal(t, "closure fault", panics[0].Value)
	assert.Equal(t, obj.Identifier(), panics[0].Object)
	assert.NotEmpty(t, panics[0].Stack)
	assert.Contains(t, panics[0].Error(), obj.Identifier())

	// The domain lock was released by the panicking closure
	assert.True(t, obj.QObject.(*objectImpl).lock.TryLock())
	obj.Unlock()
}

func TestQueuePanicLogged(t *testing.T) {
	l, logs := newLoggedLoop(t)
	obj := &BasicQObject{}
	require.NoError(t, l.InitObject(obj))
	thread, err := NewThread(obj)
	require.NoError(t, err)

	require.NoError(t, thread.Queue(func(*BasicQObject) { panic("logged fault") }))
	require.NoError(t, l.Process())

	out := logs.String()
	assert.Contains(t, out, `recovered panic on owner goroutine`)
	assert.Contains(t, out, `logged fault`)
	assert.Contains(t, out, obj.Identifier())
}

func TestQueuePanicHandlerPanics(t *testing.T) {
	l, logs := newLoggedLoop(t, WithPanicHandler(func(p *PanicError) { panic("handler fault") }))
	obj := &BasicQObject{}
	require.NoError(t, l.InitObject(obj))
	thread, err := NewThread(obj)
	require.NoError(t, err)

	var ran bool
	require.NoError(t, thread.Queue(func(*BasicQObject) { panic("closure fault") }))
	require.NoError(t, thread.Queue(func(*BasicQObject) { ran = true }))
	require.NoError(t, l.Process())
	assert.True(t, ran)
	assert.Contains(t, logs.String(), `panic handler panicked`)
}
