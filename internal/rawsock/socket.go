package rawsock

import (
	"fmt"
	"os"

	"github.com/doughall/rawsock/internal/fdpass"
)

// Socket is a raw socket obtained through the helper. The caller owns it
// and must Close it, or take the descriptor with Release or File.
type Socket struct {
	fd  *fdpass.OwnedFD
	req Request
}

// Request returns the request this socket satisfies.
func (s *Socket) Request() Request {
	return s.req
}

// Fd returns the descriptor number while the Socket still owns it, or -1.
func (s *Socket) Fd() int {
	return s.fd.Fd()
}

// Release hands the raw descriptor to the caller. It fails on a second call.
func (s *Socket) Release() (int, error) {
	return s.fd.Release()
}

// File hands the descriptor to the caller as an *os.File.
func (s *Socket) File() (*os.File, error) {
	return s.fd.File(fmt.Sprintf("rawsock:%d/%d", s.req.Family(), s.req.Protocol()))
}

// Close closes the socket if it has not been released.
func (s *Socket) Close() error {
	return s.fd.Close()
}
