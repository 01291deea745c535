package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rrfs-ci/autoci/internal/logscan"
)

// ErrBaselineExists is returned when the baseline directory for the
// current BL_DATE is already populated.
var ErrBaselineExists = errors.New("baseline directory already exists")

// BaselineDir is where baselines for date and compiler are stored.
func BaselineDir(workdir, date, compiler string) string {
	return filepath.Join(workdir, "RT", "NEMSfv3gfs", "gsl-develop-"+date, strings.ToUpper(compiler))
}

// RegressionScratchDir is where rt.sh -c writes new baselines.
func RegressionScratchDir(workdir, user, compiler string) string {
	return filepath.Join(workdir, "stmp4", user, "FV3_RT", "REGRESSION_TEST_"+strings.ToUpper(compiler))
}

func (r *Runner) runBL(ctx context.Context, jc *Context, out *Result) error {
	user := jc.User
	if user == "" {
		user = os.Getenv("USER")
	}
	scratch := RegressionScratchDir(jc.Workdir, user, jc.Compiler)

	co, err := r.clonePR(ctx, jc)
	out.RepoLocation = co.Location
	if err != nil {
		return err
	}

	date, err := logscan.FindBaselineDate(filepath.Join(co.Location, "tests", "rt.sh"))
	if err != nil {
		if errors.Is(err, logscan.ErrBaselineDateNotFound) {
			r.reporter.Append("BL_DATE not found in rt.sh. Please manually edit rt.sh with BL_DATE=YYYYMMDD")
		}
		return err
	}

	bldir := BaselineDir(jc.Workdir, date, jc.Compiler)
	r.logger.Info("baseline directories", "bldir", bldir, "scratch", scratch)
	if err := r.checkBaselineDir(bldir); err != nil {
		return err
	}

	res, err := r.runRegression(ctx, jc, co.Location, true)
	if err != nil {
		return err
	}
	if !res.Passed {
		r.reporter.Append("Baseline creation FAILED")
		return nil
	}

	if err := r.checkBaselineDir(bldir); err != nil {
		return err
	}
	if err := os.MkdirAll(bldir, 0755); err != nil {
		return fmt.Errorf("create baseline directory: %w", err)
	}
	if err := r.shell(ctx, co.Location, fmt.Sprintf("mv %s/* %s/", scratch, bldir)); err != nil {
		r.reporter.Append("Baseline creation FAILED")
		return err
	}

	out.Passed = true
	r.reporter.Append("Baseline creation and move successful")
	return nil
}

func (r *Runner) checkBaselineDir(bldir string) error {
	if _, err := os.Stat(bldir); err == nil {
		r.reporter.Append(bldir + "\n Exists already. It should not yet. Please delete.")
		return fmt.Errorf("%w: %s", ErrBaselineExists, bldir)
	}
	return nil
}
