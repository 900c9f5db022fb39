package qbridge

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
)

// Loop is a single-owner event loop. Events may be posted to it from any
// goroutine; they are delivered, in posting order, on whichever goroutine is
// processing the loop (the owner).
//
// Objects initialized with a Loop belong to its owner. Other goroutines
// schedule work on them through a Thread, which posts at most one wake event
// per object at a time.
type Loop struct {
	logger       *logiface.Logger[logiface.Event]
	panicHandler func(*PanicError)
	lockOSThread bool

	mu     sync.Mutex
	posted []postedEvent
	closed bool
	wake   *wakeFD
	signal chan struct{}
	done   chan struct{}

	nextEventType atomic.Int32
	queueEvent    EventType

	// goroutine id of the owner while the loop is being processed, else 0
	owner   atomic.Uint64
	running atomic.Bool

	objMu   sync.Mutex
	objects map[string]*objectImpl
}

// NewLoop creates a Loop. It does not start processing; use Run,
// RunLockable, or Process with ProcessSignal.
func NewLoop(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	l := &Loop{
		logger:       cfg.logger,
		panicHandler: cfg.panicHandler,
		lockOSThread: cfg.lockOSThread,
		signal:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		objects:      make(map[string]*objectImpl),
	}
	l.nextEventType.Store(int32(FirstUserEventType))

	if cfg.wakeFD {
		if l.wake, err = newWakeFD(); err != nil {
			return nil, fmt.Errorf("qbridge: wake descriptor: %w", err)
		}
	}

	if l.queueEvent, err = l.RegisterEventType(); err != nil {
		return nil, err
	}
	return l, nil
}

// RegisterEventType allocates a new event type, unique within this loop.
func (l *Loop) RegisterEventType() (EventType, error) {
	t := EventType(l.nextEventType.Add(1) - 1)
	if t > LastUserEventType {
		return 0, ErrEventTypesExhausted
	}
	return t, nil
}

// PostEvent queues an event for delivery to target on the owner goroutine
// and signals that the loop needs processing. It may be called from any
// goroutine. ErrLoopClosed is returned once the loop is closed.
func (l *Loop) PostEvent(target EventReceiver, t EventType) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLoopClosed
	}
	l.posted = append(l.posted, postedEvent{target: target, typ: t})

	select {
	case l.signal <- struct{}{}:
		if l.wake != nil {
			if err := l.wake.Wake(); err != nil {
				l.logger.Warning().Err(err).Log(`wake descriptor write failed`)
			}
		}
	default:
		// a signal is already pending
	}
	return nil
}

// removePostedEvents drops undelivered events for target.
func (l *Loop) removePostedEvents(target EventReceiver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.posted[:0]
	for _, ev := range l.posted {
		if ev.target != target {
			kept = append(kept, ev)
		}
	}
	for i := len(kept); i < len(l.posted); i++ {
		l.posted[i] = postedEvent{}
	}
	l.posted = kept
}

// Pending returns the number of posted events that have not been delivered.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.posted)
}

// Process delivers all events posted before the call, without blocking to
// wait for more. Events posted while delivering are left for the next call,
// and ProcessSignal will be signalled for them.
//
// The goroutine calling Process is the owner for its duration. ErrNotOwner
// is returned if another goroutine is processing the loop, and
// ErrLoopClosed once the loop is closed.
func (l *Loop) Process() error {
	id := goroutineID()
	if l.owner.Load() != id {
		if !l.owner.CompareAndSwap(0, id) {
			return ErrNotOwner
		}
		defer l.owner.Store(0)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	// Clear the signal before taking the events: anything posted after this
	// point signals again.
	select {
	case <-l.signal:
	default:
	}
	if l.wake != nil {
		if err := l.wake.Clear(); err != nil {
			l.logger.Warning().Err(err).Log(`wake descriptor read failed`)
		}
	}
	events := l.posted
	l.posted = nil
	l.mu.Unlock()

	for i, ev := range events {
		if l.Closed() {
			break
		}
		l.deliver(ev)
		events[i] = postedEvent{}
	}
	return nil
}

func (l *Loop) deliver(ev postedEvent) {
	defer func() {
		if r := recover(); r != nil {
			l.reportPanic(&PanicError{Value: r, Stack: debug.Stack(), Object: identifierOf(ev.target)})
		}
	}()
	if !ev.target.Event(ev.typ) {
		l.logger.Debug().
			Int(`event_type`, int(ev.typ)).
			Str(`object`, identifierOf(ev.target)).
			Log(`event not handled`)
	}
}

// safeRun runs fn, recovering and reporting a panic so that the caller can
// continue with other work.
func (l *Loop) safeRun(object string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.reportPanic(&PanicError{Value: r, Stack: debug.Stack(), Object: object})
		}
	}()
	fn()
}

// ProcessSignal returns a channel which receives a value whenever the loop
// has events to process. The caller must call Process after reading from it.
// At most one signal is pending at a time.
//
// Combined with Process, this lets applications multiplex the loop with
// other channels and control exactly when object state is touched.
func (l *Loop) ProcessSignal() <-chan struct{} {
	return l.signal
}

// Done returns a channel that is closed when the loop is closed.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Run processes events until ctx is done or the loop is closed. Be aware
// that while Run is active, object state may be touched by queued work at
// any time from Run's goroutine. For more control over concurrency, see
// Process and RunLockable.
//
// Run returns nil when the loop is closed, and ctx.Err() when ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopAlreadyRunning
	}
	defer l.running.Store(false)

	if l.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	if !l.owner.CompareAndSwap(0, goroutineID()) {
		return ErrNotOwner
	}
	defer l.owner.Store(0)

	for {
		if err := l.Process(); err != nil {
			if errors.Is(err, ErrLoopClosed) {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.signal:
		}
	}
}

// Close stops the loop. Undelivered events are dropped, PostEvent fails
// with ErrLoopClosed, and Run returns. Objects are not destroyed.
func (l *Loop) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLoopClosed
	}
	l.closed = true
	l.posted = nil
	close(l.done)
	if l.wake != nil {
		return l.wake.Close()
	}
	return nil
}

func (l *Loop) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// WakeFD returns a file descriptor which is readable whenever the loop
// needs processing, if the loop was created WithWakeFD. This allows an
// external poll-based event loop to drive Process. The descriptor is owned
// by the loop and closed by Close; the caller must not read from it.
func (l *Loop) WakeFD() (int, bool) {
	if l.wake == nil {
		return -1, false
	}
	return l.wake.FD(), true
}

// IsOwner reports whether the calling goroutine is currently processing the
// loop.
func (l *Loop) IsOwner() bool {
	return l.owner.Load() == goroutineID()
}

// checkOwner allows owner-only operations from the owner, and from any
// goroutine while nobody is processing the loop; in that case the
// application is responsible for serializing them, e.g. with RunLockable.
func (l *Loop) checkOwner() error {
	if owner := l.owner.Load(); owner != 0 && owner != goroutineID() {
		return ErrNotOwner
	}
	return nil
}

func (l *Loop) addObject(o *objectImpl) error {
	l.objMu.Lock()
	defer l.objMu.Unlock()
	if existing, exists := l.objects[o.id]; exists && existing != o {
		return fmt.Errorf("qbridge: duplicate object identifier %s", o.id)
	}
	l.objects[o.id] = o
	return nil
}

func (l *Loop) removeObject(o *objectImpl) {
	l.objMu.Lock()
	defer l.objMu.Unlock()
	if l.objects[o.id] == o {
		delete(l.objects, o.id)
	}
}

// Object returns a live object by its identifier, or nil.
func (l *Loop) Object(id string) QObject {
	l.objMu.Lock()
	impl := l.objects[id]
	l.objMu.Unlock()
	if impl == nil {
		return nil
	}
	obj, _ := impl.object.(QObject)
	return obj
}

// InitObject explicitly initializes a QObject, assigning an identifier and
// setting up signal functions. It must be called on the owner.
//
// Objects must be initialized before they can be used with NewThread or
// have signals emitted. Initializing an object that is already initialized
// does nothing; initializing a destroyed object gives it a new identity,
// and threads created before the destruction stay detached from it.
func (l *Loop) InitObject(obj QObject) error {
	_, err := initObject(obj, l)
	return err
}

// InitObjectId is equivalent to InitObject, but takes an identifier for the
// object. Nothing is changed if the object has already been initialized.
func (l *Loop) InitObjectId(obj QObject, id string) error {
	if eobj := l.Object(id); eobj != nil && eobj != obj {
		return errors.New("qbridge: object id in use")
	}
	_, err := initObjectId(obj, l, id)
	return err
}

func identifierOf(target EventReceiver) string {
	if o, ok := target.(*objectImpl); ok {
		return o.id
	}
	return ""
}
