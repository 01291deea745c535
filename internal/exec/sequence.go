package exec

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
)

// Command is a shell command line and the directory it runs in.
type Command struct {
	Line string
	Dir  string
}

// String renders the command for logs and error messages.
func (c Command) String() string {
	if c.Dir == "" {
		return c.Line
	}
	return fmt.Sprintf("(cd %s && %s)", c.Dir, c.Line)
}

// CommandError reports the first command in a sequence that failed.
type CommandError struct {
	Command Command
	Output  []byte
	Err     error
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(string(e.Output))
	if out == "" {
		return fmt.Sprintf("command %q in %s: %v", e.Command.Line, e.Command.Dir, e.Err)
	}
	return fmt.Sprintf("command %q in %s: %v: %s", e.Command.Line, e.Command.Dir, e.Err, lastLines(out, 20))
}

func (e *CommandError) Unwrap() error { return e.Err }

// RunSequence runs cmds in order through r.RunShell and stops at the first
// failure, which is returned as a *CommandError. Context cancellation
// between commands is reported the same way.
func RunSequence(ctx context.Context, r CommandRunner, cmds []Command, logger *log.Logger) error {
	for i, c := range cmds {
		if err := ctx.Err(); err != nil {
			return &CommandError{Command: c, Err: err}
		}
		if logger != nil {
			logger.Info("running command", "step", i+1, "of", len(cmds), "cmd", c.Line, "dir", c.Dir)
		}

		out, err := r.RunShell(ctx, c.Dir, c.Line)
		if err != nil {
			if logger != nil {
				logger.Error("command failed", "cmd", c.Line, "dir", c.Dir, "err", err)
			}
			return &CommandError{Command: c, Output: out, Err: err}
		}
		if logger != nil && len(out) > 0 {
			logger.Debug("command output", "cmd", c.Line, "output", strings.TrimSpace(string(out)))
		}
	}
	return nil
}

// lastLines keeps the tail of long command output.
func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return "...\n" + strings.Join(lines[len(lines)-n:], "\n")
}
