package qbridge

// EventType identifies a kind of event posted to an EventReceiver. Types are
// allocated with RegisterEventType, in the range FirstUserEventType to
// LastUserEventType.
type EventType int32

const (
	FirstUserEventType EventType = 1000
	LastUserEventType  EventType = 65535
)

// EventReceiver is implemented by targets of posted events. Event is always
// called on the owner goroutine, and returns false if the event type was not
// recognized.
type EventReceiver interface {
	Event(t EventType) bool
}

// EventLoop is the capability objects need from an event loop: registering
// a custom event type and posting an event of that type to a specific
// target, to be delivered later as a call to the target's Event method on
// the owner goroutine.
//
// Loop is the implementation used by this package.
type EventLoop interface {
	RegisterEventType() (EventType, error)
	PostEvent(target EventReceiver, t EventType) error
}

var _ EventLoop = (*Loop)(nil)

type postedEvent struct {
	target EventReceiver
	typ    EventType
}
