// Package qbridge lets any goroutine schedule work on objects that belong to a single-owner event loop.
//
// Many toolkits require that their objects are only touched from one thread, usually the one running the
// event loop. Applications still have work to do elsewhere: network clients, sensors, computations. This
// package gives that work a safe way back to the owner, without blocking on it, and without the worker
// needing to know whether the object still exists.
//
// # Objects
//
// In the middle of everything is QObject. When QObject is embedded in a struct, that type is "a QObject" and
// can be owned by a Loop. Exported methods can be invoked by name, and func fields are signals with
// listeners. QObject also embeds a few useful methods, such as signalling property changes.
//
//	type Counter struct {
//	    qbridge.QObject
//	    Value int
//	}
//
//	func (c *Counter) Add(n int) {
//	    c.Value += n
//	    c.Changed("Value")
//	}
//
// Objects are initialized with Loop.InitObject and destroyed with Destroy, both on the owner. Destroying an
// object drops any work queued for it that has not run yet.
//
// # Threads
//
// A Thread is a handle to an object which can be used from any goroutine. Queue schedules a function to be
// called with the object on the owner, holding the object's lock:
//
//	counter := &Counter{}
//	loop.InitObject(counter)
//	thread, _ := qbridge.NewThread(counter)
//
//	go func() {
//	    err := thread.Queue(func(c *Counter) { c.Add(1) })
//	    if errors.Is(err, qbridge.ErrDestroyed) {
//	        // counter is gone; nothing was scheduled
//	    }
//	}()
//
// Handles may be cloned and kept for as long as needed. After the object is destroyed, Queue returns
// ErrDestroyed and never calls the function. However many functions are queued before the owner gets to
// run them, the loop receives at most one event per object; all queued functions then run in order.
//
// # Data Models
//
// For lists of data, Model provides a list model API. An object which embeds Model, implements the
// ModelDataSource interface, and calls Model's methods for changes to data emits signals describing each
// change to its listeners.
//
// # Loop
//
// Loop delivers events on the goroutine processing it, the owner. It is driven by calling Run or (in a
// loop) Process together with ProcessSignal. Be aware that any members of any initialized QObjects can be
// touched by queued work during calls to Run or Process. RunLockable() provides a sync.Locker for exclusive
// execution with Process(). WakeFD exposes a file descriptor for driving the loop from a poll-based event
// loop instead.
//
// Panics in queued work are recovered, so the remaining work still runs, and are passed to the handler
// given with WithPanicHandler or logged.
package qbridge
