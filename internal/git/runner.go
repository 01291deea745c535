package git

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rrfs-ci/autoci/internal/exec"
)

// ErrNoCredentialEnv is returned when a token is set but the command runner
// cannot pass environment variables to git.
var ErrNoCredentialEnv = errors.New("command runner cannot pass git credentials")

// ExecRunner implements Runner by invoking the git CLI through a
// CommandRunner.
type ExecRunner struct {
	cmd   exec.CommandRunner
	token string
}

// NewRunner creates a git runner on top of cmd.
func NewRunner(cmd exec.CommandRunner) *ExecRunner {
	return &ExecRunner{cmd: cmd}
}

// WithToken returns a copy of r that authenticates to github.com with
// token. The token reaches git through its environment only, so it never
// appears in command arguments or in a clone's .git/config.
func (r *ExecRunner) WithToken(token string) *ExecRunner {
	c := *r
	c.token = token
	return &c
}

// run executes a git command and returns its trimmed output. URLs with
// credentials are redacted in errors.
func (r *ExecRunner) run(ctx context.Context, dir string, args ...string) (string, error) {
	var (
		out []byte
		err error
	)
	if r.token == "" {
		out, err = r.cmd.Run(ctx, dir, "git", args...)
	} else {
		envRunner, ok := r.cmd.(exec.EnvRunner)
		if !ok {
			return "", fmt.Errorf("git %s: %w", redactArgs(args), ErrNoCredentialEnv)
		}
		out, err = envRunner.RunEnv(ctx, dir, CredentialEnv(r.token), "git", args...)
	}
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", redactArgs(args), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// Run executes an arbitrary git command in repoDir.
func (r *ExecRunner) Run(ctx context.Context, repoDir string, args ...string) (string, error) {
	return r.run(ctx, repoDir, args...)
}

// Clone clones url at branch into parentDir/dest.
func (r *ExecRunner) Clone(ctx context.Context, parentDir, url, branch, dest string) error {
	args := []string{"clone"}
	if branch != "" {
		args = append(args, "-b", branch)
	}
	args = append(args, url, dest)
	_, err := r.run(ctx, parentDir, args...)
	return err
}

// SubmoduleUpdate initializes and updates submodules recursively.
func (r *ExecRunner) SubmoduleUpdate(ctx context.Context, repoDir string) error {
	_, err := r.run(ctx, repoDir, "submodule", "update", "--init", "--recursive")
	return err
}

// SetConfig sets a repository-local git config key.
func (r *ExecRunner) SetConfig(ctx context.Context, repoDir, key, value string) error {
	_, err := r.run(ctx, repoDir, "config", key, value)
	return err
}

// HeadSHA returns the commit checked out in repoDir.
func (r *ExecRunner) HeadSHA(ctx context.Context, repoDir string) (string, error) {
	return r.run(ctx, repoDir, "rev-parse", "HEAD")
}

// Verify ExecRunner implements Runner at compile time.
var _ Runner = (*ExecRunner)(nil)

// GitHubURL returns the https clone URL for owner/repo.
func GitHubURL(fullName string) string {
	u := url.URL{Scheme: "https", Host: "github.com", Path: "/" + fullName}
	return u.String()
}

// TokenEnvVar carries the token to the credential helper.
const TokenEnvVar = "AUTOCI_GIT_TOKEN"

// credentialHelper answers git's "get" request from TokenEnvVar.
const credentialHelper = `!f() { test "$1" = get && echo username=x-access-token && echo "password=$` + TokenEnvVar + `"; }; f`

// CredentialEnv returns environment variables that configure a github.com
// credential helper for one git invocation. The empty helper entry clears
// helpers inherited from user and system config. Needs git 2.31 or later.
func CredentialEnv(token string) []string {
	const key = "credential.https://github.com.helper"
	return []string{
		"GIT_CONFIG_COUNT=2",
		"GIT_CONFIG_KEY_0=" + key,
		"GIT_CONFIG_VALUE_0=",
		"GIT_CONFIG_KEY_1=" + key,
		"GIT_CONFIG_VALUE_1=" + credentialHelper,
		"GIT_TERMINAL_PROMPT=0",
		TokenEnvVar + "=" + token,
	}
}

// Redact hides credentials in a URL. Strings that are not URLs with user
// info are returned unchanged.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.User("redacted")
	return u.String()
}

func redactArgs(args []string) string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = Redact(a)
	}
	return strings.Join(out, " ")
}
