// Package git provides the git operations needed to check out a pull
// request: clone, submodules, and local identity.
package git

import "context"

// CloneOperations fetch a repository.
type CloneOperations interface {
	// Clone clones url at branch into parentDir/dest.
	Clone(ctx context.Context, parentDir, url, branch, dest string) error
	// SubmoduleUpdate initializes and updates submodules recursively.
	SubmoduleUpdate(ctx context.Context, repoDir string) error
}

// ConfigOperations read and write repository-local settings.
type ConfigOperations interface {
	// SetConfig sets a repository-local git config key.
	SetConfig(ctx context.Context, repoDir, key, value string) error
	// HeadSHA returns the commit checked out in repoDir.
	HeadSHA(ctx context.Context, repoDir string) (string, error)
}

// Runner defines the complete interface for git operations.
// Consumers should prefer using focused interfaces when possible.
type Runner interface {
	CloneOperations
	ConfigOperations
	// Run executes an arbitrary git command in repoDir.
	Run(ctx context.Context, repoDir string, args ...string) (string, error)
}
