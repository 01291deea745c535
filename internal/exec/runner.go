package exec

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
)

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct {
	// Env is appended to the inherited environment of every command.
	Env []string
}

// NewRunner creates a new ExecRunner.
func NewRunner(env ...string) *ExecRunner {
	return &ExecRunner{Env: env}
}

// Run executes a program and returns combined stdout/stderr output.
func (r *ExecRunner) Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error) {
	return r.RunEnv(ctx, workDir, nil, name, args...)
}

// RunEnv is Run with env appended after r.Env. Later entries win.
func (r *ExecRunner) RunEnv(ctx context.Context, workDir string, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	if len(r.Env) > 0 || len(env) > 0 {
		cmd.Env = append(append(os.Environ(), r.Env...), env...)
	}
	return cmd.CombinedOutput()
}

// RunShell executes a command line through "sh -c".
func (r *ExecRunner) RunShell(ctx context.Context, workDir string, command string) ([]byte, error) {
	return r.Run(ctx, workDir, "sh", "-c", command)
}

// Exists reports whether path exists.
func (r *ExecRunner) Exists(_ context.Context, workDir string, path string) bool {
	if !filepath.IsAbs(path) && workDir != "" {
		path = filepath.Join(workDir, path)
	}
	_, err := os.Stat(path)
	return err == nil
}

// Verify ExecRunner implements CommandRunner at compile time.
var (
	_ CommandRunner = (*ExecRunner)(nil)
	_ EnvRunner     = (*ExecRunner)(nil)
)
