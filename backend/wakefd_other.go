//go:build !unix

package qbridge

type wakeFD struct{}

func newWakeFD() (*wakeFD, error) {
	return nil, ErrUnsupported
}

func (w *wakeFD) FD() int      { return -1 }
func (w *wakeFD) Wake() error  { return ErrUnsupported }
func (w *wakeFD) Clear() error { return ErrUnsupported }
func (w *wakeFD) Close() error { return nil }
