package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
)

// Error is returned for any command that did not exit with status zero.
// Category holds an errdefs sentinel when the tool output could be
// classified, so callers can use errdefs.IsNotFound and friends.
type Error struct {
	Command  Command
	ExitCode int // -1 when the process was signalled or never started
	Stderr   string
	Cause    error
	Category error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("command %q failed", e.Command.String())
	if e.ExitCode >= 0 {
		msg = fmt.Sprintf("%s with exit status %d", msg, e.ExitCode)
	}
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Stderr)
	} else if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for category matching.
func (e *Error) Is(target error) bool {
	return e.Category != nil && errors.Is(e.Category, target)
}

// Output fragments printed by ip, ebtables, iptables and kill, lowercased.
var (
	notFoundPatterns = []string{
		"cannot find device",
		"does not exist",
		"no such device",
		"no such file or directory",
		"no such process",
		"bad rule",
		"does a matching rule exist",
		"rule does not exist",
		"no chain/target/match by that name",
		"cannot assign requested address",
	}
	existsPatterns = []string{
		"file exists",
		"already exists",
	}
	permissionPatterns = []string{
		"operation not permitted",
		"permission denied",
	}
)

// Classify wraps a failed command into an *Error, deriving its category from
// the tool output. Unrecognised output leaves Category nil.
func Classify(cmd Command, exitCode int, stderr string, cause error) error {
	stderr = strings.TrimSpace(stderr)
	e := &Error{
		Command:  cmd,
		ExitCode: exitCode,
		Stderr:   stderr,
		Cause:    cause,
	}

	msg := strings.ToLower(stderr)
	switch {
	case containsAny(msg, notFoundPatterns):
		e.Category = errdefs.ErrNotFound
	case containsAny(msg, existsPatterns):
		e.Category = errdefs.ErrAlreadyExists
	case containsAny(msg, permissionPatterns):
		e.Category = errdefs.ErrPermissionDenied
	}
	return e
}

// IgnoreNotFound returns nil for errors classified as not found. Destroy
// paths use it so that removing an absent resource is a successful no-op.
func IgnoreNotFound(err error) error {
	if err == nil || errdefs.IsNotFound(err) {
		return nil
	}
	return err
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
