//go:build linux

package qbridge

import (
	"encoding/binary"
	"errors"

	"golang.org/x/sys/unix"
)

// wakeFD is an eventfd which is readable while a wake is pending.
type wakeFD struct {
	fd int
}

func newWakeFD() (*wakeFD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &wakeFD{fd: fd}, nil
}

func (w *wakeFD) FD() int {
	return w.fd
}

func (w *wakeFD) Wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(w.fd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return err
	}
	return nil
}

// Clear resets the eventfd counter, making the descriptor unreadable.
func (w *wakeFD) Clear() error {
	var buf [8]byte
	if _, err := unix.Read(w.fd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return err
	}
	return nil
}

func (w *wakeFD) Close() error {
	return unix.Close(w.fd)
}
