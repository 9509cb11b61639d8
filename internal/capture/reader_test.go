package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/doughall/rawsock/internal/rawsock"
)

// nopLogger returns a logger that discards all output, suitable for tests.
func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fdSocket is a socket created directly by the test instead of through the
// broker.
type fdSocket struct {
	fd  int
	req rawsock.Request
}

func (s *fdSocket) Fd() int                  { return s.fd }
func (s *fdSocket) Request() rawsock.Request { return s.req }
func (s *fdSocket) Close() error             { return unix.Close(s.fd) }

// loopbackReader opens an AF_PACKET socket bound to lo for all ethertypes.
func loopbackReader(t *testing.T) (*Reader, *net.Interface) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("requires CAP_NET_RAW")
	}
	lo, err := net.InterfaceByName("lo")
	if err != nil {
		t.Skipf("no loopback interface: %v", err)
	}

	req := rawsock.DefaultRequest()
	fd, err := unix.Socket(req.Family(), unix.SOCK_RAW|unix.SOCK_CLOEXEC, req.SocketProtocol())
	if err != nil {
		t.Fatalf("socket failed: %v", err)
	}
	r, err := NewReader(&fdSocket{fd: fd, req: req}, nopLogger())
	if err != nil {
		unix.Close(fd)
		t.Fatalf("NewReader failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	if err := r.Bind(lo.Name, unix.ETH_P_ALL); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	return r, lo
}

// sendLoopback writes n UDP datagrams over lo.
func sendLoopback(t *testing.T, n int) {
	t.Helper()
	conn, err := net.Dial("udp", "127.0.0.1:9")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	for i := 0; i < n; i++ {
		if _, err := conn.Write([]byte("rawsock capture")); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
}

func TestNewReaderRejectsNonPacketSocket(t *testing.T) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socket failed: %v", err)
	}
	defer unix.Close(fd)

	req, err := rawsock.NewRequest(unix.AF_INET, unix.IPPROTO_ICMP)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if _, err := NewReader(&fdSocket{fd: fd, req: req}, nopLogger()); !errors.Is(err, ErrNotPacketSocket) {
		t.Errorf("expected ErrNotPacketSocket, got: %v", err)
	}
}

func TestReaderRunLimit(t *testing.T) {
	r, lo := loopbackReader(t)

	if r.PolledWithin(time.Minute) {
		t.Error("PolledWithin = true before any read")
	}

	sendLoopback(t, 5)

	var frames []*Frame
	err := r.Run(context.Background(), 3, func(f *Frame) error {
		frames = append(frames, f)
		return nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("delivered %d frames, want 3", len(frames))
	}
	for _, f := range frames {
		if f.Ifindex != lo.Index {
			t.Errorf("frame from ifindex %d, want %d", f.Ifindex, lo.Index)
		}
	}

	if !r.PolledWithin(time.Minute) {
		t.Error("PolledWithin = false after reads")
	}
	if r.Stats().Frames < 3 {
		t.Errorf("Stats().Frames = %d, want at least 3", r.Stats().Frames)
	}
}

func TestReaderRunCancelled(t *testing.T) {
	r, _ := loopbackReader(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, 0, func(*Frame) error { return nil })
	}()

	// Cancellation is noticed after at most one poll interval.
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error on cancellation: %v", err)
		}
	case <-time.After(pollInterval + 5*time.Second):
		t.Fatal("Run did not return after the context was cancelled")
	}
}

func TestReaderRunCallbackError(t *testing.T) {
	r, _ := loopbackReader(t)
	sendLoopback(t, 1)

	errStop := errors.New("stop")
	err := r.Run(context.Background(), 0, func(*Frame) error { return errStop })
	if !errors.Is(err, errStop) {
		t.Errorf("expected callback error, got: %v", err)
	}
}

func TestReaderSetPromiscuous(t *testing.T) {
	r, lo := loopbackReader(t)

	if err := r.SetPromiscuous(lo.Name); err != nil {
		t.Errorf("SetPromiscuous failed: %v", err)
	}
	if err := r.SetPromiscuous("rawsock-missing0"); err == nil {
		t.Error("expected error for unknown interface")
	}
	if err := r.Bind("rawsock-missing0", unix.ETH_P_ALL); err == nil {
		t.Error("expected error binding to unknown interface")
	}
}
