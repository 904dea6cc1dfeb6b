// Package commandtest provides a fake command.Runner for tests.
package commandtest

import (
	"context"
	"strings"
	"sync"

	"github.com/spin-stack/cvdnet/internal/host/command"
)

// Call is one recorded invocation and the error it returned.
type Call struct {
	Command command.Command
	Err     error
}

// Line returns the rendered command line.
func (c Call) Line() string {
	return c.Command.String()
}

type failure struct {
	substr string
	nth    int // 0 fails every match, otherwise only the nth match (1-based)
	seen   int
	err    func(command.Command) error
}

// Recorder records every command it is asked to run. Commands succeed unless
// a failure rule matches them.
type Recorder struct {
	mu       sync.Mutex
	calls    []Call
	failures []*failure
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Run implements command.Runner.
func (r *Recorder) Run(ctx context.Context, cmd command.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	line := cmd.String()
	var err error
	for _, f := range r.failures {
		if !strings.Contains(line, f.substr) {
			continue
		}
		f.seen++
		if f.nth == 0 || f.nth == f.seen {
			err = f.err(cmd)
			break
		}
	}
	r.calls = append(r.calls, Call{Command: cmd, Err: err})
	return err
}

// Fail makes every command whose line contains substr fail with a generic
// exit status 1.
func (r *Recorder) Fail(substr string) {
	r.addFailure(substr, 0, func(cmd command.Command) error {
		return command.Classify(cmd, 1, "simulated failure", nil)
	})
}

// FailNth makes only the nth (1-based) command containing substr fail.
func (r *Recorder) FailNth(substr string, nth int) {
	r.addFailure(substr, nth, func(cmd command.Command) error {
		return command.Classify(cmd, 1, "simulated failure", nil)
	})
}

// NotFound makes every command containing substr fail as if the target
// resource did not exist.
func (r *Recorder) NotFound(substr string) {
	r.addFailure(substr, 0, func(cmd command.Command) error {
		return command.Classify(cmd, 1, "Cannot find device", nil)
	})
}

// Exists makes every command containing substr fail as if the target
// resource already existed.
func (r *Recorder) Exists(substr string) {
	r.addFailure(substr, 0, func(cmd command.Command) error {
		return command.Classify(cmd, 2, "RTNETLINK answers: File exists", nil)
	})
}

// FailWith makes every command containing substr return err.
func (r *Recorder) FailWith(substr string, err error) {
	r.addFailure(substr, 0, func(command.Command) error { return err })
}

func (r *Recorder) addFailure(substr string, nth int, fn func(command.Command) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, &failure{substr: substr, nth: nth, err: fn})
}

// Calls returns a copy of the recorded invocations.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Lines returns every recorded command line in order.
func (r *Recorder) Lines() []string {
	calls := r.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = c.Line()
	}
	return lines
}

// Succeeded returns the command lines that returned no error, which is the
// set of commands that actually changed host state.
func (r *Recorder) Succeeded() []string {
	var lines []string
	for _, c := range r.Calls() {
		if c.Err == nil {
			lines = append(lines, c.Line())
		}
	}
	return lines
}

// Matching returns the recorded lines containing substr.
func (r *Recorder) Matching(substr string) []string {
	var lines []string
	for _, l := range r.Lines() {
		if strings.Contains(l, substr) {
			lines = append(lines, l)
		}
	}
	return lines
}

// Reset forgets recorded calls but keeps failure rules.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
