package rawsock

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// Error kinds. Every error returned by Open wraps exactly one of them.
var (
	// ErrInvalidRequest means the Request failed validation. Nothing ran.
	ErrInvalidRequest = errors.New("invalid socket request")

	// ErrArgument means the helper rejected its arguments.
	ErrArgument = errors.New("helper rejected its arguments")

	// ErrPrivilegedCall means socket(2) failed inside the helper, or the
	// helper terminated abnormally.
	ErrPrivilegedCall = errors.New("privileged socket call failed")

	// ErrTransport means the channel could not be created, or the
	// descriptor could not be sent or received in the expected shape.
	ErrTransport = errors.New("descriptor transport failed")

	// ErrSpawn means the helper could not be executed, or ran without the
	// capability it needs. The fix is in the installation, not the request.
	ErrSpawn = errors.New("helper could not be executed")
)

// Stage is a point in the broker's per-invocation state machine.
type Stage int

const (
	StageInit Stage = iota
	StageChannelCreated
	StageHelperSpawned
	StageHelperExited
	StageDescriptorReceived
	StageTransportFailed
	StageClosed
)

var stageNames = [...]string{
	StageInit:               "init",
	StageChannelCreated:     "channel-created",
	StageHelperSpawned:      "helper-spawned",
	StageHelperExited:       "helper-exited",
	StageDescriptorReceived: "descriptor-received",
	StageTransportFailed:    "transport-failed",
	StageClosed:             "closed",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Error describes a failed Open. It unwraps to both Kind and Err, so
// errors.Is works against the kind sentinels and the underlying cause.
type Error struct {
	// Kind is one of the Err* sentinels above.
	Kind error

	// Stage is the last stage reached before the failure.
	Stage Stage

	// Helper is the resolved helper path, empty if resolution failed.
	Helper string

	// ExitCode is the helper's exit status, or -1 if it did not exit normally.
	ExitCode int

	// Signal is the signal that killed the helper, or 0.
	Signal syscall.Signal

	// Hint is an actionable remediation, if one is known.
	Hint string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())

	details := []string{"stage " + e.Stage.String()}
	if e.ExitCode > 0 {
		details = append(details, fmt.Sprintf("exit status %d", e.ExitCode))
	}
	if e.Signal != 0 {
		details = append(details, "signal "+e.Signal.String())
	}
	fmt.Fprintf(&b, " (%s)", strings.Join(details, ", "))

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Hint != "" {
		b.WriteString("; ")
		b.WriteString(e.Hint)
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
