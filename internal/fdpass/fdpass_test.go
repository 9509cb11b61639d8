package fdpass

import (
	"errors"
	"os"
	"testing"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
)

// openFDs returns the number of descriptors open in this test process.
func openFDs(t *testing.T) int32 {
	t.Helper()
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		t.Fatalf("NewProcess failed: %v", err)
	}
	n, err := proc.NumFDs()
	if err != nil {
		t.Fatalf("NumFDs failed: %v", err)
	}
	return n
}

// newSocket returns an unprivileged socket to use as transfer payload.
func newSocket(t *testing.T) int {
	t.Helper()
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socket failed: %v", err)
	}
	return fd
}

func newPair(t *testing.T) *Pair {
	t.Helper()
	pair, err := NewPair()
	if err != nil {
		t.Fatalf("NewPair failed: %v", err)
	}
	t.Cleanup(func() { pair.Close() })
	return pair
}

func isOpen(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

func TestOwnedFD(t *testing.T) {
	t.Run("release hands out ownership once", func(t *testing.T) {
		fd := newSocket(t)
		owned := NewOwnedFD(fd)

		got, err := owned.Release()
		if err != nil {
			t.Fatalf("Release failed: %v", err)
		}
		defer unix.Close(got)
		if got != fd {
			t.Errorf("Release = %d, want %d", got, fd)
		}
		if owned.Valid() {
			t.Error("expected OwnedFD to be invalid after Release")
		}
		if _, err := owned.Release(); !errors.Is(err, ErrReleased) {
			t.Errorf("second Release error = %v, want ErrReleased", err)
		}
		if _, err := owned.File("again"); !errors.Is(err, ErrReleased) {
			t.Errorf("File after Release error = %v, want ErrReleased", err)
		}
	})

	t.Run("close is idempotent", func(t *testing.T) {
		fd := newSocket(t)
		owned := NewOwnedFD(fd)
		if err := owned.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if err := owned.Close(); err != nil {
			t.Errorf("second Close failed: %v", err)
		}
		if owned.Fd() != -1 {
			t.Errorf("Fd after Close = %d, want -1", owned.Fd())
		}
	})

	t.Run("nil is never valid", func(t *testing.T) {
		var owned *OwnedFD
		if owned.Valid() {
			t.Error("nil OwnedFD reported valid")
		}
		if err := owned.Close(); err != nil {
			t.Errorf("Close on nil failed: %v", err)
		}
	})

	t.Run("file takes the descriptor", func(t *testing.T) {
		owned := NewOwnedFD(newSocket(t))
		f, err := owned.File("payload")
		if err != nil {
			t.Fatalf("File failed: %v", err)
		}
		defer f.Close()
		if f.Name() != "payload" {
			t.Errorf("Name = %q, want payload", f.Name())
		}
		if owned.Valid() {
			t.Error("expected OwnedFD to be invalid after File")
		}
	})
}

func TestPairClose(t *testing.T) {
	pair, err := NewPair()
	if err != nil {
		t.Fatalf("NewPair failed: %v", err)
	}
	if err := pair.CloseRemote(); err != nil {
		t.Fatalf("CloseRemote failed: %v", err)
	}
	if pair.Remote() != nil {
		t.Error("expected nil remote after CloseRemote")
	}
	if err := pair.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := pair.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestSendReceive(t *testing.T) {
	pair := newPair(t)
	payload := newSocket(t)

	if err := Send(int(pair.Remote().Fd()), NewOwnedFD(payload)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if isOpen(payload) {
		t.Error("expected sender copy to be closed after Send")
	}

	received, err := Receive(pair.Local())
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	defer received.Close()

	sotype, err := unix.GetsockoptInt(received.Fd(), unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		t.Fatalf("getsockopt on received descriptor failed: %v", err)
	}
	if sotype != unix.SOCK_DGRAM {
		t.Errorf("received SO_TYPE = %d, want %d", sotype, unix.SOCK_DGRAM)
	}

	flags, err := unix.FcntlInt(uintptr(received.Fd()), unix.F_GETFD, 0)
	if err != nil {
		t.Fatalf("fcntl failed: %v", err)
	}
	if flags&unix.FD_CLOEXEC == 0 {
		t.Error("expected received descriptor to be close-on-exec")
	}
}

func TestSendReleased(t *testing.T) {
	pair := newPair(t)
	owned := NewOwnedFD(newSocket(t))
	owned.Close()

	if err := Send(int(pair.Remote().Fd()), owned); !errors.Is(err, ErrReleased) {
		t.Errorf("Send error = %v, want ErrReleased", err)
	}
}

func TestSendFailureClosesDescriptor(t *testing.T) {
	pair := newPair(t)
	remote := int(pair.Remote().Fd())
	// Shut the channel so sendmsg fails.
	if err := pair.Local().Close(); err != nil {
		t.Fatalf("closing local end failed: %v", err)
	}

	payload := newSocket(t)
	if err := Send(remote, NewOwnedFD(payload)); err == nil {
		t.Fatal("expected Send to fail on a closed channel")
	}
	if isOpen(payload) {
		t.Error("expected payload descriptor to be closed after failed Send")
	}
}

func TestReceiveRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		send func(t *testing.T, channel int)
		want error
	}{
		{
			name: "payload without rights",
			send: func(t *testing.T, channel int) {
				if err := unix.Sendmsg(channel, []byte{0}, nil, nil, 0); err != nil {
					t.Fatalf("sendmsg failed: %v", err)
				}
			},
			want: ErrNoDescriptor,
		},
		{
			name: "two descriptors in one message",
			send: func(t *testing.T, channel int) {
				a, b := newSocket(t), newSocket(t)
				defer unix.Close(a)
				defer unix.Close(b)
				if err := unix.Sendmsg(channel, []byte{0}, unix.UnixRights(a, b), nil, 0); err != nil {
					t.Fatalf("sendmsg failed: %v", err)
				}
			},
			want: ErrMultipleDescriptors,
		},
		{
			// The kernel merges both rights messages into one on receipt.
			name: "two rights messages",
			send: func(t *testing.T, channel int) {
				a, b := newSocket(t), newSocket(t)
				defer unix.Close(a)
				defer unix.Close(b)
				oob := append(unix.UnixRights(a), unix.UnixRights(b)...)
				if err := unix.Sendmsg(channel, []byte{0}, oob, nil, 0); err != nil {
					t.Fatalf("sendmsg failed: %v", err)
				}
			},
			want: ErrMultipleDescriptors,
		},
		{
			name: "oversized payload",
			send: func(t *testing.T, channel int) {
				a := newSocket(t)
				defer unix.Close(a)
				if err := unix.Sendmsg(channel, []byte("xx"), unix.UnixRights(a), nil, 0); err != nil {
					t.Fatalf("sendmsg failed: %v", err)
				}
			},
			want: ErrTruncated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair := newPair(t)
			tt.send(t, int(pair.Remote().Fd()))

			before := openFDs(t)
			received, err := Receive(pair.Local())
			if err == nil {
				received.Close()
				t.Fatal("expected Receive to fail")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Receive error = %v, want %v", err, tt.want)
			}
			if after := openFDs(t); after != before {
				t.Errorf("open descriptors changed from %d to %d", before, after)
			}
		})
	}
}

func TestReceivePeerClosed(t *testing.T) {
	pair := newPair(t)
	if err := pair.CloseRemote(); err != nil {
		t.Fatalf("CloseRemote failed: %v", err)
	}

	if _, err := Receive(pair.Local()); !errors.Is(err, ErrNoDescriptor) {
		t.Errorf("Receive error = %v, want ErrNoDescriptor", err)
	}
}

func TestParseControl(t *testing.T) {
	t.Run("well formed", func(t *testing.T) {
		oob := append(unix.UnixRights(7, 8), unix.UnixRights(9)...)
		msgs, fds, err := parseControl(oob)
		if err != nil {
			t.Fatalf("parseControl failed: %v", err)
		}
		if len(msgs) != 2 {
			t.Errorf("got %d messages, want 2", len(msgs))
		}
		if len(fds) != 3 || fds[0] != 7 || fds[1] != 8 || fds[2] != 9 {
			t.Errorf("fds = %v, want [7 8 9]", fds)
		}
	})

	t.Run("malformed tail keeps earlier rights", func(t *testing.T) {
		// The second header claims more bytes than remain in the buffer.
		tail := unix.UnixRights(9)[:unix.CmsgLen(0)+2]
		oob := append(unix.UnixRights(7), tail...)

		_, fds, err := parseControl(oob)
		if err == nil {
			t.Fatal("expected error for truncated control message")
		}
		if len(fds) != 1 || fds[0] != 7 {
			t.Errorf("fds = %v, want [7] so the caller can close it", fds)
		}
	})

	t.Run("empty", func(t *testing.T) {
		msgs, fds, err := parseControl(nil)
		if err != nil || len(msgs) != 0 || len(fds) != 0 {
			t.Errorf("parseControl(nil) = %v, %v, %v", msgs, fds, err)
		}
	})
}
