// Package fdpass moves a single open descriptor between processes.
//
// A descriptor travels as an SCM_RIGHTS control message over an anonymous
// AF_UNIX SOCK_SEQPACKET socketpair. Ownership is explicit: an OwnedFD has
// exactly one owner, Send consumes it, and Receive produces a new one only
// after the control message has the exact shape of a single-descriptor
// transfer.
package fdpass

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// ErrReleased is returned when ownership of an OwnedFD has already been
// handed out or the descriptor was closed.
var ErrReleased = errors.New("descriptor already released")

// OwnedFD is an open descriptor with a single owner.
// It is not safe for concurrent use.
type OwnedFD struct {
	fd int
}

// NewOwnedFD takes ownership of fd.
func NewOwnedFD(fd int) *OwnedFD {
	return &OwnedFD{fd: fd}
}

// Fd returns the descriptor number without giving up ownership.
// It returns -1 once the descriptor has been released or closed.
func (o *OwnedFD) Fd() int {
	if o == nil {
		return -1
	}
	return o.fd
}

// Valid reports whether o still owns an open descriptor.
func (o *OwnedFD) Valid() bool {
	return o.Fd() >= 0
}

// Release gives up ownership and returns the raw descriptor number.
// The caller becomes responsible for closing it. A second call fails.
func (o *OwnedFD) Release() (int, error) {
	if !o.Valid() {
		return -1, ErrReleased
	}
	fd := o.fd
	o.fd = -1
	return fd, nil
}

// File releases the descriptor into an *os.File with the given name.
func (o *OwnedFD) File(name string) (*os.File, error) {
	fd, err := o.Release()
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), name), nil
}

// Close closes the descriptor if it is still owned. Calling Close on a
// released or closed OwnedFD is a no-op.
func (o *OwnedFD) Close() error {
	fd, err := o.Release()
	if err != nil {
		return nil
	}
	return unix.Close(fd)
}
