package exec_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rrfs-ci/autoci/internal/exec"
	"github.com/rrfs-ci/autoci/internal/exec/exectest"
	"github.com/rrfs-ci/autoci/internal/logging"
)

func TestRunSequence_StopsAtFirstFailure(t *testing.T) {
	boom := errors.New("exit status 2")
	fake := exectest.New().On("git clone", exectest.Response{Output: []byte("fatal: repo not found\n"), Err: boom})

	cmds := []exec.Command{
		{Line: `mkdir -p "/work/pr/1"`, Dir: "/"},
		{Line: "git clone -b main https://example.invalid/repo app", Dir: "/work/pr/1"},
		{Line: "git submodule update --init --recursive", Dir: "/work/pr/1/app"},
	}

	err := exec.RunSequence(context.Background(), fake, cmds, logging.Discard())
	require.Error(t, err)

	var cmdErr *exec.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, cmds[1], cmdErr.Command)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "fatal: repo not found")

	assert.Equal(t, []exectest.Call{
		{Dir: "/", Command: `mkdir -p "/work/pr/1"`},
		{Dir: "/work/pr/1", Command: "git clone -b main https://example.invalid/repo app"},
	}, fake.Calls())
}

func TestRunSequence_AllSucceed(t *testing.T) {
	fake := exectest.New()
	cmds := []exec.Command{{Line: "true", Dir: "/a"}, {Line: "true", Dir: "/b"}}

	require.NoError(t, exec.RunSequence(context.Background(), fake, cmds, nil))
	assert.Len(t, fake.Calls(), 2)
}

func TestRunSequence_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := exectest.New()
	err := exec.RunSequence(ctx, fake, []exec.Command{{Line: "true"}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fake.Calls())
}

func TestCommandError_TruncatesOutput(t *testing.T) {
	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, "line")
	}
	err := &exec.CommandError{
		Command: exec.Command{Line: "make", Dir: "/src"},
		Output:  []byte(strings.Join(lines, "\n")),
		Err:     errors.New("exit status 1"),
	}
	assert.Contains(t, err.Error(), "...")
	assert.Equal(t, 20, strings.Count(err.Error(), "line"))
}

func TestCommand_String(t *testing.T) {
	assert.Equal(t, "ls", exec.Command{Line: "ls"}.String())
	assert.Equal(t, "(cd /tmp && ls)", exec.Command{Line: "ls", Dir: "/tmp"}.String())
}

func TestExecRunner(t *testing.T) {
	dir := t.TempDir()
	r := exec.NewRunner("AUTOCI_TEST_VALUE=hello")

	out, err := r.RunShell(context.Background(), dir, `echo "$AUTOCI_TEST_VALUE" > out.txt && cat out.txt`)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))

	assert.True(t, r.Exists(context.Background(), dir, "out.txt"))
	assert.True(t, r.Exists(context.Background(), "", filepath.Join(dir, "out.txt")))
	assert.False(t, r.Exists(context.Background(), dir, "missing.txt"))

	_, err = r.RunShell(context.Background(), dir, "exit 3")
	assert.Error(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}
