package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/doughall/rawsock/internal/rawsock"
)

// pollInterval bounds how long a blocking read waits before rechecking the
// context.
const pollInterval = time.Second

// snapLen is the receive buffer size; large enough for any frame on a
// standard or jumbo MTU link.
const snapLen = 65536

// ErrNotPacketSocket is returned when the socket is not AF_PACKET.
var ErrNotPacketSocket = errors.New("capture requires an AF_PACKET socket")

// Socket is the descriptor a Reader reads from. *rawsock.Socket satisfies
// it.
type Socket interface {
	Fd() int
	Request() rawsock.Request
	Close() error
}

// Reader reads frames from a raw AF_PACKET socket it owns.
type Reader struct {
	sock   Socket
	buf    []byte
	logger *slog.Logger
	stats  *Stats

	// lastPoll is the UnixNano time the last read returned. It is the only
	// field safe to read from other goroutines.
	lastPoll atomic.Int64
}

// NewReader takes ownership of sock. The read timeout set here lets Run
// observe context cancellation.
func NewReader(sock Socket, logger *slog.Logger) (*Reader, error) {
	if sock.Request().Family() != unix.AF_PACKET {
		return nil, fmt.Errorf("%w: family %d", ErrNotPacketSocket, sock.Request().Family())
	}

	tv := unix.NsecToTimeval(pollInterval.Nanoseconds())
	if err := unix.SetsockoptTimeval(sock.Fd(), unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return nil, fmt.Errorf("setting receive timeout: %w", err)
	}

	return &Reader{
		sock:   sock,
		buf:    make([]byte, snapLen),
		logger: logger,
		stats:  NewStats(),
	}, nil
}

// Bind restricts the socket to one interface and ethertype. An empty name
// keeps all interfaces.
func (r *Reader) Bind(ifname string, ethertype uint16) error {
	addr := &unix.SockaddrLinklayer{Protocol: uint16(rawsock.EthernetProtocol(ethertype))}
	if ifname != "" {
		iface, err := net.InterfaceByName(ifname)
		if err != nil {
			return fmt.Errorf("looking up interface %s: %w", ifname, err)
		}
		addr.Ifindex = iface.Index
	}
	if err := unix.Bind(r.sock.Fd(), addr); err != nil {
		return fmt.Errorf("binding to %q: %w", ifname, err)
	}
	r.logger.Debug("capture socket bound",
		slog.String("interface", ifname),
		slog.String("ethertype", EtherTypeName(ethertype)),
	)
	return nil
}

// SetPromiscuous enables promiscuous mode on ifname for as long as the
// socket stays open.
func (r *Reader) SetPromiscuous(ifname string) error {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return fmt.Errorf("looking up interface %s: %w", ifname, err)
	}
	mreq := &unix.PacketMreq{Ifindex: int32(iface.Index), Type: unix.PACKET_MR_PROMISC}
	if err := unix.SetsockoptPacketMreq(r.sock.Fd(), unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, mreq); err != nil {
		return fmt.Errorf("enabling promiscuous mode on %s: %w", ifname, err)
	}
	return nil
}

// Next blocks for at most the poll interval and returns the next frame.
// It returns (nil, nil) when the interval elapses without a frame. The
// frame's slices are valid until the following call.
func (r *Reader) Next() (*Frame, error) {
	n, from, err := unix.Recvfrom(r.sock.Fd(), r.buf, 0)
	r.lastPoll.Store(time.Now().UnixNano())
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("recvfrom: %w", err)
	}

	frame, err := ParseFrame(r.buf[:n])
	if err != nil {
		r.stats.Malformed++
		return nil, nil
	}
	if ll, ok := from.(*unix.SockaddrLinklayer); ok {
		frame.Ifindex = ll.Ifindex
		frame.PacketType = ll.Pkttype
	}
	r.stats.Add(frame)
	return frame, nil
}

// Run delivers frames to fn until ctx is done, fn returns an error, or
// limit frames have been delivered (limit <= 0 means no limit).
func (r *Reader) Run(ctx context.Context, limit int, fn func(*Frame) error) error {
	delivered := 0
	for limit <= 0 || delivered < limit {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		frame, err := r.Next()
		if err != nil {
			return err
		}
		if frame == nil {
			continue
		}
		if err := fn(frame); err != nil {
			return err
		}
		delivered++
	}
	return nil
}

// PolledWithin reports whether a read returned within d. A Reader that is
// never read reports false.
func (r *Reader) PolledWithin(d time.Duration) bool {
	last := r.lastPoll.Load()
	return last != 0 && time.Since(time.Unix(0, last)) <= d
}

// Stats returns the running counters.
func (r *Reader) Stats() *Stats {
	return r.stats
}

// Close closes the underlying socket.
func (r *Reader) Close() error {
	return r.sock.Close()
}
