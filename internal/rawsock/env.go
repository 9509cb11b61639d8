package rawsock

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultEnvAllowlist is the only environment the helper sees by default.
var DefaultEnvAllowlist = []string{"PATH"}

// ErrUnsafeEnv is returned for an allowlist entry that may not reach the helper.
var ErrUnsafeEnv = errors.New("environment variable not allowed for helper")

// validateAllowlist rejects malformed names and anything the dynamic loader
// interprets.
func validateAllowlist(names []string) error {
	for _, name := range names {
		switch {
		case name == "":
			return fmt.Errorf("%w: empty name", ErrUnsafeEnv)
		case strings.ContainsAny(name, "=\x00"):
			return fmt.Errorf("%w: %q", ErrUnsafeEnv, name)
		case strings.HasPrefix(name, "LD_"):
			return fmt.Errorf("%w: %s", ErrUnsafeEnv, name)
		}
	}
	return nil
}

// buildEnv returns NAME=value for every allowlisted name that is set.
// The result is never nil: a nil Env would make os/exec inherit everything.
func buildEnv(names []string, lookup func(string) (string, bool)) []string {
	env := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		value, ok := lookup(name)
		if !ok || strings.ContainsRune(value, 0) {
			continue
		}
		env = append(env, name+"="+value)
	}
	return env
}
