// Package rawsock obtains raw sockets for an unprivileged process.
//
// The Broker does not create the socket itself. For every Open it creates a
// private socketpair, runs the one-shot rawsocket-helper executable (which
// holds CAP_NET_RAW) with an allow-listed environment, waits for it to exit
// and receives the socket it created as an SCM_RIGHTS message. The helper
// reports failures only through its exit status.
//
// Open is synchronous and takes no context: it blocks until the helper has
// exited and the descriptor has been read. Concurrent calls share nothing
// beyond the Broker's immutable options.
//
// Usage:
//
//	sock, err := rawsock.CreateDefaultRawSocket()
//	if errors.Is(err, rawsock.ErrSpawn) {
//		// fix the helper installation
//	}
//	defer sock.Close()
package rawsock

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/doughall/rawsock/internal/fdpass"
	"github.com/doughall/rawsock/internal/helper"
)

// installHint is attached to errors whose fix is in the helper installation.
const installHint = "install " + helper.Name + " on PATH, owned by root, with 'setcap cap_net_raw+ep'"

// Options configures a Broker. The zero value is usable.
type Options struct {
	// HelperName is looked up on PATH when HelperPath is empty.
	// Default: rawsocket-helper.
	HelperName string

	// HelperPath is an absolute helper path that bypasses the PATH lookup.
	HelperPath string

	// EnvAllowlist names the only environment variables passed to the
	// helper. Default: PATH.
	EnvAllowlist []string

	// Logger receives stage transitions at debug level. Default: discard.
	Logger *slog.Logger
}

// Broker obtains raw sockets through the helper.
type Broker struct {
	helperName string
	helperPath string
	allowlist  []string
	logger     *slog.Logger
	lookupEnv  func(string) (string, bool)
}

// NewBroker validates opts and returns a Broker.
func NewBroker(opts Options) (*Broker, error) {
	b := &Broker{
		helperName: opts.HelperName,
		helperPath: opts.HelperPath,
		allowlist:  append([]string(nil), opts.EnvAllowlist...),
		logger:     opts.Logger,
		lookupEnv:  os.LookupEnv,
	}

	if b.helperName == "" {
		b.helperName = helper.Name
	}
	if strings.ContainsRune(b.helperName, filepath.Separator) {
		return nil, fmt.Errorf("helper name %q must not contain a path separator; use HelperPath", b.helperName)
	}
	if b.helperPath != "" && !filepath.IsAbs(b.helperPath) {
		return nil, fmt.Errorf("helper path %q must be absolute", b.helperPath)
	}
	if opts.EnvAllowlist == nil {
		b.allowlist = append([]string(nil), DefaultEnvAllowlist...)
	}
	if err := validateAllowlist(b.allowlist); err != nil {
		return nil, err
	}
	if b.logger == nil {
		b.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return b, nil
}

// Open creates a raw socket for req. On success the returned Socket is a
// live SOCK_RAW socket of the requested family and no other descriptor
// remains open from this call. The protocol is not verified after receipt;
// see verifySocket. On failure the error is an *Error.
func (b *Broker) Open(req Request) (*Socket, error) {
	inv := &invocation{
		broker: b,
		req:    req,
		logger: b.logger.With(slog.String("request", req.String())),
	}

	sock, err := inv.run()
	if err != nil {
		inv.logger.Warn("raw socket request failed", slog.String("error", err.Error()))
		return nil, err
	}
	inv.logger.Debug("raw socket delegated", slog.Int("fd", sock.Fd()))
	return sock, nil
}

// resolveHelper returns the absolute path of the helper executable.
func (b *Broker) resolveHelper() (string, error) {
	if b.helperPath != "" {
		return b.helperPath, nil
	}
	// LookPath refuses results relative to the working directory.
	path, err := exec.LookPath(b.helperName)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("helper resolved to relative path %q", path)
	}
	return path, nil
}

// environment returns the helper's complete environment.
func (b *Broker) environment() []string {
	return buildEnv(b.allowlist, b.lookupEnv)
}

// invocation is the state of one Open call. Stages only move forward.
type invocation struct {
	broker *Broker
	req    Request
	logger *slog.Logger
	stage  Stage
	pair   *fdpass.Pair
	path   string
}

func (inv *invocation) advance(stage Stage) {
	inv.stage = stage
	inv.logger.Debug("broker stage", slog.String("stage", stage.String()))
}

func (inv *invocation) fail(kind, err error) *Error {
	return &Error{
		Kind:     kind,
		Stage:    inv.stage,
		Helper:   inv.path,
		ExitCode: -1,
		Err:      err,
	}
}

func (inv *invocation) run() (*Socket, error) {
	if err := inv.req.validate(); err != nil {
		return nil, inv.fail(ErrInvalidRequest, err)
	}

	pair, err := fdpass.NewPair()
	if err != nil {
		return nil, inv.fail(ErrTransport, err)
	}
	inv.pair = pair
	defer inv.close()
	inv.advance(StageChannelCreated)

	if err := inv.spawnAndWait(); err != nil {
		return nil, err
	}

	fd, err := fdpass.Receive(pair.Local())
	if err != nil {
		inv.advance(StageTransportFailed)
		return nil, inv.fail(ErrTransport, err)
	}
	if err := verifySocket(fd.Fd(), inv.req); err != nil {
		fd.Close()
		inv.advance(StageTransportFailed)
		return nil, inv.fail(ErrTransport, err)
	}
	inv.advance(StageDescriptorReceived)

	return &Socket{fd: fd, req: inv.req}, nil
}

// spawnAndWait runs the helper to completion and translates its exit status.
func (inv *invocation) spawnAndWait() error {
	path, err := inv.broker.resolveHelper()
	if err != nil {
		e := inv.fail(ErrSpawn, err)
		e.Hint = installHint
		return e
	}
	inv.path = path

	cmd := exec.Command(path, helper.Args(helper.ChannelFD, inv.req.Family(), inv.req.SocketProtocol())...)
	cmd.Env = inv.broker.environment()
	cmd.ExtraFiles = []*os.File{inv.pair.Remote()} // becomes fd 3 in child

	if err := cmd.Start(); err != nil {
		e := inv.fail(ErrSpawn, err)
		e.Hint = installHint
		return e
	}
	inv.advance(StageHelperSpawned)

	// The child holds the only remaining copy of its endpoint, so the
	// receive sees EOF rather than blocking if nothing was sent.
	if err := inv.pair.CloseRemote(); err != nil {
		inv.logger.Warn("failed to close helper endpoint", slog.String("error", err.Error()))
	}

	err = cmd.Wait()
	inv.advance(StageHelperExited)

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return inv.fail(ErrSpawn, err)
	}
	return inv.exitError(cmd.ProcessState)
}

// exitError maps the helper's termination to an error kind, or nil on success.
func (inv *invocation) exitError(state *os.ProcessState) error {
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		e := inv.fail(ErrPrivilegedCall, errors.New("helper terminated abnormally"))
		e.Signal = status.Signal()
		return e
	}

	code := state.ExitCode()
	if code == helper.ExitOK {
		return nil
	}

	var e *Error
	switch code {
	case helper.ExitUsage:
		e = inv.fail(ErrArgument, nil)
	case helper.ExitDenied:
		e = inv.fail(ErrSpawn, errors.New("helper lacks permission to create raw sockets"))
		e.Hint = installHint
	case helper.ExitSocket:
		e = inv.fail(ErrPrivilegedCall, nil)
	case helper.ExitTransfer:
		e = inv.fail(ErrTransport, errors.New("helper could not send the descriptor"))
	default:
		e = inv.fail(ErrPrivilegedCall, errors.New("helper terminated abnormally"))
	}
	e.ExitCode = code
	return e
}

func (inv *invocation) close() {
	if err := inv.pair.Close(); err != nil {
		inv.logger.Warn("failed to close channel", slog.String("error", err.Error()))
	}
	inv.advance(StageClosed)
}

// errWrongSocket is returned when the received descriptor is not the
// socket that was asked for.
var errWrongSocket = errors.New("received descriptor does not match request")

// verifySocket checks the received descriptor's type and family. The
// protocol cannot be checked: SO_PROTOCOL reads as 0 on AF_PACKET sockets
// whatever protocol they were created with.
func verifySocket(fd int, req Request) error {
	sotype, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		return fmt.Errorf("%w: %v", errWrongSocket, err)
	}
	if sotype != unix.SOCK_RAW {
		return fmt.Errorf("%w: socket type %d", errWrongSocket, sotype)
	}

	domain, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_DOMAIN)
	if err != nil {
		return fmt.Errorf("%w: %v", errWrongSocket, err)
	}
	if domain != req.Family() {
		return fmt.Errorf("%w: family %d, want %d", errWrongSocket, domain, req.Family())
	}
	return nil
}

// CreateRawSocket opens req with a default Broker.
func CreateRawSocket(req Request) (*Socket, error) {
	b, err := NewBroker(Options{})
	if err != nil {
		return nil, err
	}
	return b.Open(req)
}

// CreateDefaultRawSocket opens an AF_PACKET / ETH_P_ALL socket with a
// default Broker.
func CreateDefaultRawSocket() (*Socket, error) {
	return CreateRawSocket(DefaultRequest())
}
