package fdpass

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Pair is a connected, anonymous socketpair that carries one descriptor.
//
// The local end stays in this process as a *net.UnixConn. The remote end is
// an *os.File meant to be inherited by a child through exec.Cmd.ExtraFiles;
// it is never opened by name.
type Pair struct {
	local  *net.UnixConn
	remote *os.File
}

// NewPair creates both endpoints in one socketpair(2) call. Both start
// close-on-exec; os/exec clears the flag on the copy it hands to a child.
func NewPair() (*Pair, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("creating socketpair: %w", err)
	}

	localFile := os.NewFile(uintptr(fds[0]), "rawsock-broker")
	remote := os.NewFile(uintptr(fds[1]), "rawsock-helper")

	// FileConn dups the fd internally, so the original is closed either way.
	conn, err := net.FileConn(localFile)
	localFile.Close()
	if err != nil {
		remote.Close()
		return nil, fmt.Errorf("converting broker endpoint to net.Conn: %w", err)
	}

	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		remote.Close()
		return nil, fmt.Errorf("unexpected endpoint type %T", conn)
	}

	return &Pair{local: unixConn, remote: remote}, nil
}

// Local returns the endpoint retained by this process.
func (p *Pair) Local() *net.UnixConn {
	return p.local
}

// Remote returns the endpoint to be inherited by the child process.
func (p *Pair) Remote() *os.File {
	return p.remote
}

// CloseRemote closes this process's copy of the remote endpoint. Call it
// once the child has been started so the child holds the only copy.
func (p *Pair) CloseRemote() error {
	if p.remote == nil {
		return nil
	}
	err := p.remote.Close()
	p.remote = nil
	return err
}

// Close closes every endpoint this process still holds. It is safe to call
// after CloseRemote and more than once.
func (p *Pair) Close() error {
	var errs []error
	if err := p.CloseRemote(); err != nil {
		errs = append(errs, err)
	}
	if p.local != nil {
		if err := p.local.Close(); err != nil {
			errs = append(errs, err)
		}
		p.local = nil
	}
	return errors.Join(errs...)
}
