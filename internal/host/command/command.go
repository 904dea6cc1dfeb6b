// Package command runs the external tools that mutate host networking
// (ip, ebtables, iptables, dnsmasq, kill).
//
// Every host mutation in cvdnet goes through the Runner interface so the
// topology code can be exercised against a fake runner that records
// invocations and simulates failures without touching a real network stack.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/containerd/log"
)

// DefaultTimeout bounds a single external command when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Command is a fully formed argv. It is never interpreted by a shell.
type Command struct {
	Name string
	Args []string
}

// New builds a Command from a binary name and its arguments.
func New(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// String renders the command line for logs and error messages.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Runner executes a command synchronously and reports whether it exited with
// status zero. A nil error means success.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// Exec is the Runner backed by os/exec.
type Exec struct {
	// Timeout bounds each command. Zero means DefaultTimeout.
	Timeout time.Duration
}

// NewExec returns an Exec runner with the given per-command timeout.
func NewExec(timeout time.Duration) *Exec {
	return &Exec{Timeout: timeout}
}

// Run executes cmd and waits for it to finish or for the timeout to expire,
// in which case the process is killed and the returned error wraps
// context.DeadlineExceeded.
func (e *Exec) Run(ctx context.Context, cmd Command) error {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.G(ctx).WithField("cmd", cmd.String()).Debug("running external command")

	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Stdin = nil
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	if err == nil {
		log.G(ctx).WithFields(log.Fields{
			"cmd":      cmd.Name,
			"duration": time.Since(start),
		}).Trace("external command succeeded")
		return nil
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}

	return Classify(cmd, exitCode, stderr.String(), err)
}
