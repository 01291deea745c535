package job

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rrfs-ci/autoci/internal/exec/exectest"
	"github.com/rrfs-ci/autoci/internal/expt"
	"github.com/rrfs-ci/autoci/internal/git"
	"github.com/rrfs-ci/autoci/internal/report"
	"github.com/rrfs-ci/autoci/internal/state"
)

type fakeTracker struct {
	bodies []string
}

func (f *fakeTracker) PostComment(_ context.Context, body string) (string, error) {
	f.bodies = append(f.bodies, body)
	return "comment-1", nil
}

func (f *fakeTracker) body(t *testing.T) string {
	t.Helper()
	require.Len(t, f.bodies, 1, "exactly one comment should be posted")
	return f.bodies[0]
}

var fixedNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

type harness struct {
	workdir string
	fake    *exectest.Runner
	tracker *fakeTracker
	runner  *Runner
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		workdir: t.TempDir(),
		fake:    exectest.New(),
		tracker: &fakeTracker{},
	}
	opts = append([]Option{WithSettings(Settings{GitUser: "ci-bot", GitEmail: "ci-bot@example.com", Account: "zrtrr"})}, opts...)
	h.runner = NewRunner(RequiredConfig{
		Exec:     h.fake,
		Reporter: report.New(h.tracker, nil),
	}, opts...)
	return h
}

func (h *harness) context(action Action) Context {
	return Context{
		Machine:  "hera",
		Compiler: "intel",
		Workdir:  h.workdir,
		Action:   action,
		User:     "ciuser",
		Now:      func() time.Time { return fixedNow },
		PR: PullRequest{
			ID:               1234,
			Number:           56,
			HeadRepoFullName: "dev/ufs-weather-model",
			HeadRepoName:     "ufs-weather-model",
			HeadRef:          "feature/x",
			HeadSHA:          "abc123",
		},
		Repo: Repo{AppAddress: "ufs-community/ufs-weather-model", AppBranch: "develop"},
	}
}

func (h *harness) location() string {
	return filepath.Join(h.workdir, "pr", "1234", "20240102030405", "ufs-weather-model")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

const passingRTLog = `Start Regression test
working dir = /scratch1/stmp2/ciuser/FV3_RT/rt_12345/compile_1
Test 001 control PASS
REGRESSION TEST WAS SUCCESSFUL
`

const failingRTLog = `Start Regression test
working dir = /scratch1/stmp2/ciuser/FV3_RT/rt_12345/compile_1
Test 001 control failed in run_test
Test 014 fv3_gfdlmp failed in check_result
`

func TestRunRT_Passed(t *testing.T) {
	h := newHarness(t)
	h.fake.On("rt.sh", exectest.Response{Do: func() {
		writeFile(t, filepath.Join(h.location(), "tests", "RegressionTests_hera.intel.log"), passingRTLog)
	}})

	res, err := h.runner.Run(context.Background(), h.context(ActionRT))
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, "comment-1", res.CommentID)
	assert.Equal(t, h.location(), res.RepoLocation)

	assert.Equal(t,
		"Repo location: "+h.location()+"\n"+
			"Please manually delete: /scratch1/stmp2/ciuser/FV3_RT/rt_12345\n"+
			"Regression test successful",
		h.tracker.body(t))

	cloneDir := filepath.Dir(h.location())
	assert.Equal(t, []exectest.Call{
		{Dir: cloneDir, Command: "git clone -b feature/x https://github.com/dev/ufs-weather-model ufs-weather-model"},
		{Dir: h.location(), Command: "git submodule update --init --recursive"},
		{Dir: h.location(), Command: "git config user.email ci-bot@example.com"},
		{Dir: h.location(), Command: "git config user.name ci-bot"},
		{Dir: h.location(), Command: `export RT_COMPILER="intel" && cd tests && /bin/bash --login ./rt.sh -r -k > intel_out 2>&1`},
	}, h.fake.Calls())
}

func TestRunRT_FailedTests(t *testing.T) {
	h := newHarness(t)
	h.fake.On("rt.sh", exectest.Response{
		Err: errors.New("exit status 1"),
		Do: func() {
			writeFile(t, filepath.Join(h.location(), "tests", "RegressionTests_hera.intel.log"), failingRTLog)
		},
	})

	res, err := h.runner.Run(context.Background(), h.context(ActionRT))
	require.NoError(t, err, "failing tests are a result, not an error")
	assert.False(t, res.Passed)

	body := h.tracker.body(t)
	assert.Contains(t, body, "Test 001 control failed in run_test")
	assert.Contains(t, body, "Test 014 fv3_gfdlmp failed in check_result")
	assert.Contains(t, body, "Please manually delete: /scratch1/stmp2/ciuser/FV3_RT/rt_12345")
	assert.True(t, strings.HasSuffix(body, "Regression test FAILED"), body)
}

func TestRunRT_GnuUsesGnuConf(t *testing.T) {
	h := newHarness(t)
	jc := h.context(ActionRT)
	jc.Compiler = "gnu"
	h.fake.On("rt.sh", exectest.Response{Do: func() {
		writeFile(t, filepath.Join(h.location(), "tests", "RegressionTests_hera.gnu.log"), passingRTLog)
	}})

	_, err := h.runner.Run(context.Background(), jc)
	require.NoError(t, err)
	cmds := h.fake.Commands()
	assert.Equal(t, `export RT_COMPILER="gnu" && cd tests && /bin/bash --login ./rt.sh -r -k -l rt_gnu.conf > gnu_out 2>&1`, cmds[len(cmds)-1])
}

func TestRunRT_MissingLog(t *testing.T) {
	h := newHarness(t)
	h.fake.On("rt.sh", exectest.Response{Err: errors.New("exit status 2"), Output: []byte("module: command not found")})

	res, err := h.runner.Run(context.Background(), h.context(ActionRT))
	require.Error(t, err)
	assert.False(t, res.Passed)
	assert.Contains(t, h.tracker.body(t), "RT job failed")
	assert.Contains(t, h.tracker.body(t), "module: command not found")
}

func TestRunRT_CloneFailureStillComments(t *testing.T) {
	h := newHarness(t, WithSettings(Settings{Token: "s3cret"}))
	h.fake.On("git clone", exectest.Response{Err: errors.New("exit status 128"), Output: []byte("fatal: repository not found")})

	_, err := h.runner.Run(context.Background(), h.context(ActionRT))
	require.Error(t, err)
	body := h.tracker.body(t)
	assert.Contains(t, body, "Repo location: ")
	assert.Contains(t, body, "repository not found")
	assert.NotContains(t, body, "s3cret")

	calls := h.fake.Calls()
	require.NotEmpty(t, calls)
	clone := calls[0]
	assert.True(t, strings.HasPrefix(clone.Command, "git clone"), clone.Command)
	assert.NotContains(t, clone.Command, "s3cret", "token stays out of argv and the remote URL")
	assert.Contains(t, clone.Env, git.TokenEnvVar+"=s3cret")
}

func TestRun_UnsupportedMachine(t *testing.T) {
	h := newHarness(t)
	jc := h.context(ActionRT)
	jc.Workdir = ""
	jc.Machine = "frontier"

	_, err := h.runner.Run(context.Background(), jc)
	require.ErrorIs(t, err, ErrUnsupportedMachine)
	assert.Equal(t, "Machine frontier is not supported for this job", h.tracker.body(t))
	assert.Empty(t, h.fake.Calls())
}

func TestRun_InvalidContext(t *testing.T) {
	h := newHarness(t)
	jc := h.context(ActionRT)
	jc.Compiler = "cray"

	_, err := h.runner.Run(context.Background(), jc)
	require.ErrorIs(t, err, ErrUnsupportedCompiler)
	assert.Empty(t, h.tracker.bodies, "nothing is posted for a malformed request")
}

func TestRunBL_CreatesAndMovesBaseline(t *testing.T) {
	h := newHarness(t)
	h.fake.On("git clone", exectest.Response{Do: func() {
		writeFile(t, filepath.Join(h.location(), "tests", "rt.sh"), "#!/bin/bash\nBL_DATE=20240115\n")
	}})
	h.fake.On("rt.sh", exectest.Response{Do: func() {
		writeFile(t, filepath.Join(h.location(), "tests", "RegressionTests_hera.intel.log"), passingRTLog)
	}})

	res, err := h.runner.Run(context.Background(), h.context(ActionBL))
	require.NoError(t, err)
	assert.True(t, res.Passed)

	bldir := filepath.Join(h.workdir, "RT", "NEMSfv3gfs", "gsl-develop-20240115", "INTEL")
	info, err := os.Stat(bldir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	cmds := h.fake.Commands()
	scratch := filepath.Join(h.workdir, "stmp4", "ciuser", "FV3_RT", "REGRESSION_TEST_INTEL")
	assert.Contains(t, cmds, `export RT_COMPILER="intel" && cd tests && /bin/bash --login ./rt.sh -r -c -k > intel_out 2>&1`)
	assert.Equal(t, "mv "+scratch+"/* "+bldir+"/", cmds[len(cmds)-1])
	assert.True(t, strings.HasSuffix(h.tracker.body(t), "Baseline creation and move successful"))
}

func TestRunBL_BaselineExists(t *testing.T) {
	h := newHarness(t)
	h.fake.On("git clone", exectest.Response{Do: func() {
		writeFile(t, filepath.Join(h.location(), "tests", "rt.sh"), "BL_DATE=20240115\n")
	}})
	bldir := BaselineDir(h.workdir, "20240115", "intel")
	require.NoError(t, os.MkdirAll(bldir, 0755))

	res, err := h.runner.Run(context.Background(), h.context(ActionBL))
	require.ErrorIs(t, err, ErrBaselineExists)
	assert.False(t, res.Passed)
	assert.Contains(t, h.tracker.body(t), bldir+"\n Exists already. It should not yet. Please delete.")
	for _, c := range h.fake.Commands() {
		assert.NotContains(t, c, "rt.sh", "regression tests must not run over an existing baseline")
	}
}

func TestRunBL_MissingDate(t *testing.T) {
	h := newHarness(t)
	h.fake.On("git clone", exectest.Response{Do: func() {
		writeFile(t, filepath.Join(h.location(), "tests", "rt.sh"), "#!/bin/bash\necho no date\n")
	}})

	_, err := h.runner.Run(context.Background(), h.context(ActionBL))
	require.Error(t, err)
	assert.Contains(t, h.tracker.body(t), "BL_DATE not found in rt.sh")
}

func TestRunBL_RegressionFailed(t *testing.T) {
	h := newHarness(t)
	h.fake.On("git clone", exectest.Response{Do: func() {
		writeFile(t, filepath.Join(h.location(), "tests", "rt.sh"), "BL_DATE=20240115\n")
	}})
	h.fake.On("rt.sh", exectest.Response{Do: func() {
		writeFile(t, filepath.Join(h.location(), "tests", "RegressionTests_hera.intel.log"), failingRTLog)
	}})

	res, err := h.runner.Run(context.Background(), h.context(ActionBL))
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.True(t, strings.HasSuffix(h.tracker.body(t), "Baseline creation FAILED"))
	_, statErr := os.Stat(BaselineDir(h.workdir, "20240115", "intel"))
	assert.True(t, os.IsNotExist(statErr))
}

const externalsCfg = `[ufs-weather-model]
protocol = git
repo_url = https://github.com/ufs-community/ufs-weather-model
branch = develop
local_path = src/ufs-weather-model
required = True

[regional_workflow]
protocol = git
repo_url = https://github.com/ufs-community/regional_workflow
tag = v1.0
local_path = regional_workflow
required = True
`

func buildHarness(t *testing.T, action Action, buildLog string, opts ...Option) (*harness, Context) {
	t.Helper()
	h := newHarness(t, opts...)
	jc := h.context(action)
	jc.Repo.AppAddress = "ufs-community/ufs-srweather-app"
	loc := filepath.Join(h.workdir, "pr", "1234", "20240102030405", "ufs-srweather-app")

	h.fake.On("git clone", exectest.Response{Do: func() {
		writeFile(t, filepath.Join(loc, ExternalsFile), externalsCfg)
	}})
	h.fake.On("./build.sh", exectest.Response{Do: func() {
		writeFile(t, filepath.Join(loc, "test", "build.out"), buildLog)
	}})
	return h, jc
}

func TestRunBuild_Successful(t *testing.T) {
	h, jc := buildHarness(t, ActionBuild, "Building ufs-weather-model\nall targets built\n")

	res, err := h.runner.Run(context.Background(), jc)
	require.NoError(t, err)
	assert.True(t, res.Passed)

	loc := res.RepoLocation
	assert.Equal(t, []exectest.Call{
		{Dir: filepath.Dir(loc), Command: "git clone -b develop https://github.com/ufs-community/ufs-srweather-app ufs-srweather-app"},
		{Dir: loc, Command: "./manage_externals/checkout_externals"},
		{Dir: filepath.Join(loc, "test"), Command: `export SR_WX_APP_TOP_DIR="` + loc + `" && ./build.sh hera > build.out 2>&1`},
	}, h.fake.Calls())

	cfg, err := os.ReadFile(filepath.Join(loc, ExternalsFile))
	require.NoError(t, err)
	assert.Contains(t, string(cfg), "repo_url = https://github.com/dev/ufs-weather-model\n")
	assert.Contains(t, string(cfg), "hash = abc123\n")
	assert.Contains(t, string(cfg), "tag = v1.0\n", "other sections are untouched")

	assert.Equal(t, "Repo location: "+loc+"\nBuild was Successful", h.tracker.body(t))
}

func TestRunBuild_Failed(t *testing.T) {
	h, jc := buildHarness(t, ActionBuild, "compile step 3 FAILED\nlink FAIL: libfv3\n")

	res, err := h.runner.Run(context.Background(), jc)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	body := h.tracker.body(t)
	assert.Contains(t, body, "compile step 3 FAILED\nlink FAIL: libfv3\nBuild Failed")
	for _, c := range h.fake.Commands() {
		assert.NotContains(t, c, "end_to_end_tests.sh")
	}
}

func TestRunWE_PollsExperiments(t *testing.T) {
	exptRoot := filepath.Join(t.TempDir(), "expt_dirs")
	db, err := state.Open(filepath.Join(t.TempDir(), "autoci.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	var events []expt.EventKind
	h, jc := buildHarness(t, ActionWE, "ok\n",
		WithSettings(Settings{
			Account:  "zrtrr",
			ExptRoot: exptRoot,
			Poll:     expt.Options{Interval: time.Millisecond, MaxIterations: 5},
		}),
		WithHistory(db),
		WithPollObserver(func(ev expt.Event) { events = append(events, ev.Kind) }),
	)
	h.fake.On("end_to_end_tests.sh", exectest.Response{Do: func() {
		writeFile(t, expt.LogPath(exptRoot, "grid_RRFS_CONUS_25km", expt.DefaultLogFilename),
			"task make_grid succeeded\nThis cycle is complete: 2024010200\n")
		writeFile(t, expt.LogPath(exptRoot, "nco_inline_post", expt.DefaultLogFilename),
			"task run_fcst FAILED with exit 1\n")
	}})

	res, err := h.runner.Run(context.Background(), jc)
	require.NoError(t, err)
	require.NotNil(t, res.Summary)
	assert.False(t, res.Passed, "one experiment failed")
	assert.Equal(t, 1, res.Summary.Completed)
	assert.Equal(t, 1, res.Summary.Failed)
	assert.Equal(t, 2, res.Summary.Total)
	assert.False(t, res.Summary.TimedOut)

	loc := res.RepoLocation
	assert.Contains(t, h.fake.Calls(), exectest.Call{
		Dir:     filepath.Join(loc, "regional_workflow", "tests", "WE2E"),
		Command: "./end_to_end_tests.sh hera zrtrr > expt.out 2>&1",
	})

	body := h.tracker.body(t)
	assert.Contains(t, body, "Build was Successful\nRocoto jobs started\n")
	assert.Contains(t, body, "Experiment done: grid_RRFS_CONUS_25km\nThis cycle is complete: 2024010200")
	assert.Contains(t, body, "Experiment failed: nco_inline_post\ntask run_fcst FAILED with exit 1")
	assert.True(t, strings.HasSuffix(body, "Done: 1 of 2"), body)

	assert.Contains(t, events, expt.EventCompleted)
	assert.Contains(t, events, expt.EventFailed)

	sessions, err := db.RecentPollSessions(5)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, state.SessionCompleted, sessions[0].Status)
	assert.Equal(t, 2, sessions[0].Total)

	runs, err := db.RecentJobRuns(5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "WE", runs[0].Action)
	assert.Equal(t, state.JobFailed, runs[0].Status)
	assert.Equal(t, "comment-1", runs[0].CommentID)
}

func TestRunWE_DefaultRootUnderClone(t *testing.T) {
	h, jc := buildHarness(t, ActionWE, "ok\n",
		WithSettings(Settings{Poll: expt.Options{Interval: time.Millisecond, MaxIterations: 2}}))
	cloneDir := filepath.Join(h.workdir, "pr", "1234", "20240102030405")
	h.fake.On("end_to_end_tests.sh", exectest.Response{Do: func() {
		require.NoError(t, os.MkdirAll(filepath.Join(cloneDir, "expt_dirs"), 0755))
	}})

	res, err := h.runner.Run(context.Background(), jc)
	require.NoError(t, err)
	require.NotNil(t, res.Summary)
	assert.Equal(t, filepath.Join(cloneDir, "expt_dirs"), res.Summary.Root)
	assert.True(t, res.Summary.TimedOut, "no experiments appeared")
	assert.False(t, res.Passed)
}
