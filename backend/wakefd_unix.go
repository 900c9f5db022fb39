//go:build unix && !linux

package qbridge

import (
	"errors"

	"golang.org/x/sys/unix"
)

// wakeFD is a non-blocking pipe whose read end is readable while a wake is
// pending.
type wakeFD struct {
	r, w int
}

func newWakeFD() (*wakeFD, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, err
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, err
		}
	}
	return &wakeFD{r: p[0], w: p[1]}, nil
}

func (w *wakeFD) FD() int {
	return w.r
}

func (w *wakeFD) Wake() error {
	if _, err := unix.Write(w.w, []byte{1}); err != nil && !errors.Is(err, unix.EAGAIN) {
		return err
	}
	return nil
}

// Clear drains the pipe.
func (w *wakeFD) Clear() error {
	var buf [64]byte
	for {
		n, err := unix.Read(w.r, buf[:])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return nil
			}
			return err
		}
		if n < len(buf) {
			return nil
		}
	}
}

func (w *wakeFD) Close() error {
	err := unix.Close(w.r)
	if werr := unix.Close(w.w); err == nil {
		err = werr
	}
	return err
}
