// Package exectest provides a recording CommandRunner for tests.
package exectest

import (
	"context"
	"strings"
	"sync"

	"github.com/rrfs-ci/autoci/internal/exec"
)

// Call is one recorded invocation.
type Call struct {
	Dir     string
	Command string
	// Env is set only for commands run through RunEnv.
	Env []string
}

// Response is what the fake returns for a matching command.
type Response struct {
	Output []byte
	Err    error
	// Do runs before the response is returned, e.g. to create files the
	// real command would have written.
	Do func()
}

// Runner records every command and answers from a table keyed by
// command substring. Unmatched commands succeed with no output.
type Runner struct {
	mu        sync.Mutex
	calls     []Call
	responses []match
	existing  map[string]bool
}

type match struct {
	substr string
	resp   Response
}

// New creates an empty fake runner.
func New() *Runner {
	return &Runner{existing: make(map[string]bool)}
}

// On registers resp for any command containing substr. The first
// registered match wins.
func (r *Runner) On(substr string, resp Response) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, match{substr: substr, resp: resp})
	return r
}

// SetExists marks path as existing for Exists.
func (r *Runner) SetExists(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.existing[path] = true
}

// Calls returns a copy of the recorded calls.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Commands returns just the recorded command lines.
func (r *Runner) Commands() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Command
	}
	return out
}

// Run records name and args joined by spaces.
func (r *Runner) Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error) {
	return r.record(ctx, workDir, strings.Join(append([]string{name}, args...), " "))
}

// RunEnv records the command like Run, along with env.
func (r *Runner) RunEnv(ctx context.Context, workDir string, env []string, name string, args ...string) ([]byte, error) {
	return r.recordCall(ctx, Call{
		Dir:     workDir,
		Command: strings.Join(append([]string{name}, args...), " "),
		Env:     append([]string(nil), env...),
	})
}

// RunShell records the command line.
func (r *Runner) RunShell(ctx context.Context, workDir string, command string) ([]byte, error) {
	return r.record(ctx, workDir, command)
}

// Exists reports paths registered with SetExists.
func (r *Runner) Exists(_ context.Context, _ string, path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.existing[path]
}

func (r *Runner) record(ctx context.Context, dir, command string) ([]byte, error) {
	return r.recordCall(ctx, Call{Dir: dir, Command: command})
}

func (r *Runner) recordCall(ctx context.Context, call Call) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.calls = append(r.calls, call)
	var resp Response
	for _, m := range r.responses {
		if strings.Contains(call.Command, m.substr) {
			resp = m.resp
			break
		}
	}
	r.mu.Unlock()

	if resp.Do != nil {
		resp.Do()
	}
	return resp.Output, resp.Err
}

var (
	_ exec.CommandRunner = (*Runner)(nil)
	_ exec.EnvRunner     = (*Runner)(nil)
)
