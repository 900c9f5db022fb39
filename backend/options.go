package qbridge

import (
	"errors"

	"github.com/joeycumines/logiface"
)

type loopOptions struct {
	logger       *logiface.Logger[logiface.Event]
	panicHandler func(*PanicError)
	wakeFD       bool
	lockOSThread bool
}

// LoopOption configures a Loop created with NewLoop.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLogger sets the structured logger used for warnings and recovered
// panics. The default logs JSON lines to stderr at warning level.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if logger == nil {
			return errors.New("qbridge: nil logger")
		}
		opts.logger = logger
		return nil
	}}
}

// WithPanicHandler sets a function to receive panics recovered from queued
// work and event delivery. It is called on the owner goroutine. Without a
// handler, panics are logged at error level.
func WithPanicHandler(handler func(*PanicError)) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.panicHandler = handler
		return nil
	}}
}

// WithWakeFD makes the loop maintain an OS file descriptor that becomes
// readable whenever the loop needs processing. See Loop.WakeFD.
func WithWakeFD() LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.wakeFD = true
		return nil
	}}
}

// WithLockOSThread makes Run and RunLockable lock the owner goroutine to its
// OS thread for as long as they run. This is needed when the owner must also
// call into libraries with real thread affinity.
func WithLockOSThread() LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.lockOSThread = true
		return nil
	}}
}

func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.logger == nil {
		cfg.logger = defaultLogger()
	}
	return cfg, nil
}
