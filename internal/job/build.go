package job

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rrfs-ci/autoci/internal/logscan"
)

const (
	buildLogName = "build.out"
	exptLogName  = "expt.out"
)

func (r *Runner) runBuild(ctx context.Context, jc *Context, out *Result) error {
	co, err := r.cloneApp(ctx, jc)
	out.RepoLocation = co.Location
	if err != nil {
		return err
	}

	// build.sh locates the app through SR_WX_APP_TOP_DIR.
	testDir := filepath.Join(co.Location, "test")
	build := fmt.Sprintf(`export SR_WX_APP_TOP_DIR="%s" && ./build.sh %s > %s 2>&1`,
		co.Location, jc.Machine, buildLogName)
	r.logger.Info("running test build script", "dir", testDir)
	cmdErr := r.shell(ctx, testDir, build)
	if cmdErr != nil && ctx.Err() != nil {
		return cmdErr
	}

	res, err := logscan.ScanBuildLog(filepath.Join(testDir, buildLogName))
	if err != nil {
		if cmdErr != nil {
			return cmdErr
		}
		return err
	}
	for _, line := range res.FailureLines {
		r.reporter.Append(line)
	}
	if !res.Passed || cmdErr != nil {
		r.reporter.Append("Build Failed")
		return nil
	}
	r.reporter.Append("Build was Successful")

	if jc.Action != ActionWE {
		out.Passed = true
		return nil
	}
	return r.runEndToEnd(ctx, jc, co, out)
}

// runEndToEnd launches the workflow end-to-end tests and polls the
// experiments they create until each one finishes.
func (r *Runner) runEndToEnd(ctx context.Context, jc *Context, co checkout, out *Result) error {
	we2eDir := filepath.Join(co.Location, "regional_workflow", "tests", "WE2E")
	launch := fmt.Sprintf("./end_to_end_tests.sh %s %s > %s 2>&1", jc.Machine, r.settings.Account, exptLogName)
	if err := r.shell(ctx, we2eDir, launch); err != nil {
		return err
	}
	r.reporter.Append("Rocoto jobs started")

	root := r.settings.ExptRoot
	if root == "" {
		root = filepath.Join(co.Dir, "expt_dirs")
	}

	sum, _, err := Poll(ctx, PollRequest{
		Root:        root,
		Options:     r.settings.Poll,
		WaitForRoot: r.settings.WaitForRoot,
		Reporter:    r.reporter,
		History:     r.history,
		Logger:      r.logger,
		Observers:   r.observers,
	})
	if err != nil {
		return err
	}

	out.Summary = sum
	out.Passed = sum.Failed == 0 && !sum.TimedOut
	return nil
}
