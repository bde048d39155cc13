package backend

import "github.com/nexswitch/vswitch/pkg/corerr"

// ErrUnknownPort builds the standard "no such backend port" error.
func ErrUnknownPort(op string) error {
	return corerr.New(op, corerr.InvalidArgument, "unknown backend port")
}

// ErrPortDown builds the standard "port has no carrier" error.
func ErrPortDown(op string) error {
	return corerr.New(op, corerr.PortDown, "port has no carrier")
}

// ErrIO wraps an underlying I/O failure as a backend error.
func ErrIO(op string, err error) error {
	return corerr.Wrap(op, corerr.BackendError, "i/o failure", err)
}
