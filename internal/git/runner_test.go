package git_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rrfs-ci/autoci/internal/exec"
	"github.com/rrfs-ci/autoci/internal/exec/exectest"
	"github.com/rrfs-ci/autoci/internal/git"
)

func TestExecRunner_Commands(t *testing.T) {
	fake := exectest.New().On("rev-parse", exectest.Response{Output: []byte("abc123\n")})
	r := git.NewRunner(fake)
	ctx := context.Background()

	require.NoError(t, r.Clone(ctx, "/work/pr/7/20240101000000", "https://github.com/o/app", "feature", "app"))
	require.NoError(t, r.SubmoduleUpdate(ctx, "/work/app"))
	require.NoError(t, r.SetConfig(ctx, "/work/app", "user.name", "ci-bot"))
	sha, err := r.HeadSHA(ctx, "/work/app")
	require.NoError(t, err)
	assert.Equal(t, "abc123", sha)

	assert.Equal(t, []exectest.Call{
		{Dir: "/work/pr/7/20240101000000", Command: "git clone -b feature https://github.com/o/app app"},
		{Dir: "/work/app", Command: "git submodule update --init --recursive"},
		{Dir: "/work/app", Command: "git config user.name ci-bot"},
		{Dir: "/work/app", Command: "git rev-parse HEAD"},
	}, fake.Calls())
}

func TestExecRunner_CloneWithoutBranch(t *testing.T) {
	fake := exectest.New()
	require.NoError(t, git.NewRunner(fake).Clone(context.Background(), "/w", "u", "", "d"))
	assert.Equal(t, []string{"git clone u d"}, fake.Commands())
}

func TestExecRunner_ErrorRedactsToken(t *testing.T) {
	fake := exectest.New().On("clone", exectest.Response{
		Output: []byte("fatal: Authentication failed"),
		Err:    errors.New("exit status 128"),
	})

	err := git.NewRunner(fake).Clone(context.Background(), "/w", "https://s3cret@github.com/owner/app", "main", "app")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "s3cret")
	assert.Contains(t, err.Error(), "Authentication failed")
}

func TestExecRunner_TokenOnlyInEnvironment(t *testing.T) {
	fake := exectest.New()
	r := git.NewRunner(fake).WithToken("s3cret")
	ctx := context.Background()

	require.NoError(t, r.Clone(ctx, "/w", git.GitHubURL("owner/app"), "main", "app"))
	require.NoError(t, r.SubmoduleUpdate(ctx, "/w/app"))

	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "git clone -b main https://github.com/owner/app app", calls[0].Command)
	for _, c := range calls {
		assert.NotContains(t, c.Command, "s3cret")
		assert.Equal(t, git.CredentialEnv("s3cret"), c.Env)
	}
}

func TestExecRunner_WithTokenLeavesOriginalAnonymous(t *testing.T) {
	fake := exectest.New()
	anon := git.NewRunner(fake)
	_ = anon.WithToken("s3cret")

	require.NoError(t, anon.SubmoduleUpdate(context.Background(), "/w"))
	assert.Nil(t, fake.Calls()[0].Env)
}

func TestExecRunner_TokenNeedsEnvRunner(t *testing.T) {
	fake := exectest.New()
	// Embedding the interface hides the fake's RunEnv.
	var cmd exec.CommandRunner = struct{ exec.CommandRunner }{fake}

	err := git.NewRunner(cmd).WithToken("s3cret").Clone(context.Background(), "/w", "u", "", "d")
	require.ErrorIs(t, err, git.ErrNoCredentialEnv)
	assert.Empty(t, fake.Calls())
}

func TestCredentialEnv(t *testing.T) {
	env := git.CredentialEnv("s3cret")
	assert.Contains(t, env, "GIT_CONFIG_COUNT=2")
	assert.Contains(t, env, "GIT_CONFIG_KEY_1=credential.https://github.com.helper")
	assert.Contains(t, env, "GIT_CONFIG_VALUE_0=")
	assert.Contains(t, env, git.TokenEnvVar+"=s3cret")

	var withToken int
	for _, kv := range env {
		if strings.Contains(kv, "s3cret") {
			withToken++
		}
	}
	assert.Equal(t, 1, withToken, "token appears only in its own variable")
}

func TestGitHubURL(t *testing.T) {
	assert.Equal(t, "https://github.com/owner/app", git.GitHubURL("owner/app"))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "https://redacted@github.com/o/r", git.Redact("https://tok@github.com/o/r"))
	assert.Equal(t, "https://github.com/o/r", git.Redact("https://github.com/o/r"))
	assert.Equal(t, "feature", git.Redact("feature"))
}
