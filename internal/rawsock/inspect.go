package rawsock

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// capabilityXattr holds file capabilities set with setcap(8).
const capabilityXattr = "security.capability"

// Installation describes the helper executable as found on disk.
type Installation struct {
	Path       string      `yaml:"path"`
	Owner      uint32      `yaml:"owner_uid"`
	Mode       os.FileMode `yaml:"mode"`
	Setuid     bool        `yaml:"setuid"`
	FileCaps   bool        `yaml:"file_capabilities"`
	Executable bool        `yaml:"executable"`
	Problems   []string    `yaml:"problems,omitempty"`
}

// OK reports whether no installation problems were found.
func (i *Installation) OK() bool {
	return len(i.Problems) == 0
}

// Inspect resolves the helper and reports how it is installed. It never runs
// the helper. The result is advisory: Open does not consult it, and a
// passing report does not guarantee the kernel will honour the capability.
func (b *Broker) Inspect() (*Installation, error) {
	path, err := b.resolveHelper()
	if err != nil {
		return nil, &Error{Kind: ErrSpawn, ExitCode: -1, Err: err, Hint: installHint}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &Error{Kind: ErrSpawn, Helper: path, ExitCode: -1, Err: err, Hint: installHint}
	}

	inst := &Installation{
		Path:   path,
		Mode:   info.Mode(),
		Setuid: info.Mode()&os.ModeSetuid != 0,
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		inst.Owner = st.Uid
	}

	// A nil buffer asks only for the attribute size.
	if _, err := unix.Getxattr(path, capabilityXattr, nil); err == nil {
		inst.FileCaps = true
	}
	inst.Executable = unix.Access(path, unix.X_OK) == nil

	if !info.Mode().IsRegular() {
		inst.Problems = append(inst.Problems, "not a regular file")
	}
	if inst.Owner != 0 {
		inst.Problems = append(inst.Problems, fmt.Sprintf("owned by uid %d, not root", inst.Owner))
	}
	if info.Mode().Perm()&0o022 != 0 {
		inst.Problems = append(inst.Problems, "writable by group or others")
	}
	if !inst.FileCaps && !(inst.Setuid && inst.Owner == 0) {
		inst.Problems = append(inst.Problems, "no file capabilities and not setuid root")
	}
	if !inst.Executable {
		inst.Problems = append(inst.Problems, "not executable by this user")
	}

	return inst, nil
}
