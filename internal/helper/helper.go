// helper.go is the entire privileged code path: parse three integers, create
// one raw socket, hand it to the broker, exit. It never logs, never reads the
// environment and never retries.
package helper

import (
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/doughall/rawsock/internal/fdpass"
)

// ErrUsage is returned by ParseArgs for any malformed argument list.
var ErrUsage = errors.New("usage: rawsocket-helper <channel_fd> <family> <protocol>")

// SocketFunc creates a socket. Production code passes unix.Socket; tests
// substitute an unprivileged constructor.
type SocketFunc func(domain, typ, proto int) (int, error)

// Invocation is a fully validated helper argument list.
type Invocation struct {
	ChannelFD int
	Family    int
	Protocol  int
}

// ParseArgs validates the helper's positional arguments. Each must be a
// non-empty run of ASCII digits, with no sign or whitespace, that fits a C
// int.
func ParseArgs(args []string) (Invocation, error) {
	if len(args) != ArgCount {
		return Invocation{}, fmt.Errorf("%w: got %d arguments", ErrUsage, len(args))
	}

	var values [ArgCount]int
	for i, arg := range args {
		if !isDigits(arg) {
			return Invocation{}, fmt.Errorf("%w: argument %d %q is not a decimal number", ErrUsage, i+1, arg)
		}
		v, err := strconv.ParseInt(arg, 10, 32)
		if err != nil {
			return Invocation{}, fmt.Errorf("%w: argument %d %q: %v", ErrUsage, i+1, arg, err)
		}
		values[i] = int(v)
	}

	return Invocation{
		ChannelFD: values[0],
		Family:    values[1],
		Protocol:  values[2],
	}, nil
}

// isDigits reports whether s is non-empty and all ASCII digits.
// strconv alone would accept a leading sign.
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Run executes one helper invocation and returns the process exit status.
func Run(args []string, socket SocketFunc) int {
	inv, err := ParseArgs(args)
	if err != nil {
		return ExitUsage
	}
	defer unix.Close(inv.ChannelFD)

	// Refuse to do the privileged work if the channel cannot carry it.
	if domain, err := unix.GetsockoptInt(inv.ChannelFD, unix.SOL_SOCKET, unix.SO_DOMAIN); err != nil || domain != unix.AF_UNIX {
		return ExitUsage
	}

	fd, err := socket(inv.Family, unix.SOCK_RAW|unix.SOCK_CLOEXEC, inv.Protocol)
	if err != nil {
		if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
			return ExitDenied
		}
		return ExitSocket
	}

	// Send closes our copy of fd on success and on failure.
	if err := fdpass.Send(inv.ChannelFD, fdpass.NewOwnedFD(fd)); err != nil {
		return ExitTransfer
	}
	return ExitOK
}

// Main runs the helper with the real socket(2).
func Main(args []string) int {
	return Run(args, unix.Socket)
}
