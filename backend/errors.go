package qbridge

import (
	"errors"
	"fmt"
)

var (
	// ErrDestroyed is returned when work is queued for an object that has
	// already been destroyed. The work is discarded.
	ErrDestroyed = errors.New("qbridge: object is destroyed")

	// ErrLoopClosed is returned when an event is posted to a closed Loop.
	ErrLoopClosed = errors.New("qbridge: loop is closed")

	// ErrLoopAlreadyRunning is returned by Run and RunLockable when the loop
	// is already being driven by another goroutine.
	ErrLoopAlreadyRunning = errors.New("qbridge: loop is already running")

	// ErrNotOwner is returned when an owner-only operation is attempted from
	// a goroutine other than the one currently processing the loop.
	ErrNotOwner = errors.New("qbridge: not called from the owner goroutine")

	ErrNotQObject          = errors.New("qbridge: struct does not embed QObject")
	ErrNotInitialized      = errors.New("qbridge: object is not initialized")
	ErrEventTypesExhausted = errors.New("qbridge: no event types left to register")
	ErrUnsupported         = errors.New("qbridge: not supported on this platform")
)

// PanicError describes a panic recovered while running queued work or
// delivering an event on the owner goroutine.
type PanicError struct {
	// Value is the value passed to panic.
	Value interface{}
	// Stack is the stack of the panicking goroutine.
	Stack []byte
	// Object is the identifier of the target object, if there was one.
	Object string
}

func (e *PanicError) Error() string {
	if e.Object != "" {
		return fmt.Sprintf("qbridge: panic in work for object %s: %v", e.Object, e.Value)
	}
	return fmt.Sprintf("qbridge: panic during event delivery: %v", e.Value)
}

// Unwrap returns the panic value if it was an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
