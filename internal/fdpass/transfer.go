package fdpass

import (
	"errors"
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

// Receive validation errors. Every descriptor that arrived alongside one of
// these is closed before the error is returned.
var (
	ErrNoDescriptor        = errors.New("no descriptor received")
	ErrTruncated           = errors.New("descriptor message truncated")
	ErrUnexpectedPayload   = errors.New("unexpected payload length")
	ErrUnexpectedControl   = errors.New("unexpected control message")
	ErrMultipleDescriptors = errors.New("more than one descriptor received")
)

// spareRights is how many descriptors Receive leaves room for so that a
// sender passing too many is seen and cleaned up instead of truncated.
const spareRights = 4

// Send transmits the descriptor held by fd over the socket channelFD as a
// single SCM_RIGHTS message with a one-byte payload. Send consumes fd: this
// process's copy is closed whether or not the transfer succeeds.
func Send(channelFD int, fd *OwnedFD) error {
	defer fd.Close()

	if !fd.Valid() {
		return ErrReleased
	}

	rights := unix.UnixRights(fd.Fd())
	for {
		err := unix.Sendmsg(channelFD, []byte{0}, rights, nil, unix.MSG_NOSIGNAL)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("sendmsg: %w", err)
		}
		return nil
	}
}

// Receive reads one message from conn and returns the single descriptor it
// carries. The message must have a one-byte payload and exactly one control
// message of level SOL_SOCKET, type SCM_RIGHTS, holding exactly one
// descriptor. Any other shape is rejected.
func Receive(conn *net.UnixConn) (*OwnedFD, error) {
	payload := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(spareRights*4))

	// A zero-length read surfaces as io.EOF on SOCK_SEQPACKET, but control
	// data may still have arrived with it.
	n, oobn, flags, _, err := conn.ReadMsgUnix(payload, oob)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("recvmsg: %w", err)
	}

	msgs, fds, err := parseControl(oob[:oobn])
	if err != nil {
		closeAll(fds)
		return nil, fmt.Errorf("parsing control messages: %w", err)
	}

	reject := func(err error) (*OwnedFD, error) {
		closeAll(fds)
		return nil, err
	}

	switch {
	case flags&(unix.MSG_CTRUNC|unix.MSG_TRUNC) != 0:
		return reject(ErrTruncated)
	case len(msgs) == 0:
		return reject(ErrNoDescriptor)
	case n != 1:
		return reject(fmt.Errorf("%w: %d bytes", ErrUnexpectedPayload, n))
	case len(msgs) != 1:
		return reject(fmt.Errorf("%w: %d control messages", ErrUnexpectedControl, len(msgs)))
	}

	header := msgs[0].Header
	if header.Level != unix.SOL_SOCKET || header.Type != unix.SCM_RIGHTS {
		return reject(fmt.Errorf("%w: level %d type %d", ErrUnexpectedControl, header.Level, header.Type))
	}
	if uint64(header.Len) != uint64(unix.CmsgLen(4)) {
		if len(fds) > 1 {
			return reject(fmt.Errorf("%w: %d", ErrMultipleDescriptors, len(fds)))
		}
		return reject(fmt.Errorf("%w: length %d", ErrUnexpectedControl, header.Len))
	}
	if len(fds) != 1 {
		return reject(fmt.Errorf("%w: %d", ErrMultipleDescriptors, len(fds)))
	}

	unix.CloseOnExec(fds[0])
	return NewOwnedFD(fds[0]), nil
}

// parseControl splits oob into control messages and returns every
// descriptor carried by SCM_RIGHTS among them. If a message is malformed,
// the messages and descriptors before it are returned with the error so the
// caller can still close what the kernel installed.
func parseControl(oob []byte) ([]unix.SocketControlMessage, []int, error) {
	var msgs []unix.SocketControlMessage
	var fds []int
	for len(oob) >= unix.CmsgLen(0) {
		hdr, data, rest, err := unix.ParseOneSocketControlMessage(oob)
		if err != nil {
			return msgs, fds, err
		}
		m := unix.SocketControlMessage{Header: hdr, Data: data}
		msgs = append(msgs, m)
		if rights, err := unix.ParseUnixRights(&m); err == nil {
			fds = append(fds, rights...)
		}
		oob = rest
	}
	return msgs, fds, nil
}

func closeAll(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}
