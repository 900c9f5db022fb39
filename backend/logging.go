package qbridge

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

func defaultLogger() *logiface.Logger[logiface.Event] {
	return NewLogger(os.Stderr, logiface.LevelWarning)
}

// NewLogger returns a logger writing JSON lines to w, for use with
// WithLogger.
func NewLogger(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}

func (l *Loop) warn(object string, err error, msg string) {
	l.logger.Warning().
		Str(`object`, object).
		Err(err).
		Log(msg)
}

func (l *Loop) reportPanic(p *PanicError) {
	if l.panicHandler != nil {
		defer func() {
			if r := recover(); r != nil {
				l.logger.Err().
					Str(`object`, p.Object).
					Interface(`panic`, r).
					Log(`panic handler panicked`)
			}
		}()
		l.panicHandler(p)
		return
	}
	l.logger.Err().
		Str(`object`, p.Object).
		Interface(`panic`, p.Value).
		Str(`stack`, string(p.Stack)).
		Log(`recovered panic on owner goroutine`)
}
