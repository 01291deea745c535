// Package exec runs the shell commands that clone, build, and test a pull
// request.
package exec

import (
	"context"
)

// CommandRunner runs external commands. Jobs depend on this interface so
// tests can record commands instead of executing them.
type CommandRunner interface {
	// Run executes a program and returns combined stdout/stderr output.
	// The working directory is set to workDir if non-empty.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// RunShell executes a command line through "sh -c".
	RunShell(ctx context.Context, workDir string, command string) (output []byte, err error)

	// Exists reports whether path exists, relative to workDir if not absolute.
	Exists(ctx context.Context, workDir string, path string) bool
}

// EnvRunner is implemented by runners that can add environment variables
// to a single command without exposing them in its arguments.
type EnvRunner interface {
	RunEnv(ctx context.Context, workDir string, env []string, name string, args ...string) (output []byte, err error)
}
