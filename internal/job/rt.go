package job

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rrfs-ci/autoci/internal/logscan"
)

// regressionCommand builds the rt.sh invocation. Output goes to
// <compiler>_out in the tests directory.
func regressionCommand(compiler string, createBaselines bool) string {
	flags := "-r"
	if createBaselines {
		flags += " -c"
	}
	flags += " -k"
	if compiler == "gnu" {
		flags += " -l rt_gnu.conf"
	}
	return fmt.Sprintf(`export RT_COMPILER="%s" && cd tests && /bin/bash --login ./rt.sh %s > %s_out 2>&1`,
		compiler, flags, compiler)
}

// runRegression runs rt.sh and scans the log it leaves behind. rt.sh
// exits non-zero when tests fail, so its exit status only matters when
// no log was written.
func (r *Runner) runRegression(ctx context.Context, jc *Context, loc string, createBaselines bool) (*logscan.RegressionResult, error) {
	cmdErr := r.shell(ctx, loc, regressionCommand(jc.Compiler, createBaselines))
	if cmdErr != nil {
		if ctx.Err() != nil {
			return nil, cmdErr
		}
		r.logger.Warn("rt.sh exited with error", "err", cmdErr)
	}

	logPath := filepath.Join(loc, logscan.RegressionLogName(jc.Machine, jc.Compiler))
	res, err := logscan.ScanRegressionLog(logPath)
	if err != nil {
		if errors.Is(err, logscan.ErrLogNotFound) {
			r.logger.Error("no regression log", "machine", jc.Machine, "compiler", jc.Compiler, "path", logPath)
			if cmdErr != nil {
				return nil, cmdErr
			}
		}
		return nil, err
	}

	for _, line := range res.FailedTests {
		r.reporter.Append(line)
	}
	if res.RunDir != "" {
		r.reporter.Append("Please manually delete: " + res.RunDir)
	}
	if !res.Passed {
		r.logger.Error("regression log is not complete", "path", logPath, "failed_tests", len(res.FailedTests))
	}
	return res, nil
}

func (r *Runner) runRT(ctx context.Context, jc *Context, out *Result) error {
	co, err := r.clonePR(ctx, jc)
	out.RepoLocation = co.Location
	if err != nil {
		return err
	}

	res, err := r.runRegression(ctx, jc, co.Location, false)
	if err != nil {
		return err
	}

	out.Passed = res.Passed
	if res.Passed {
		r.reporter.Append("Regression test successful")
	} else {
		r.reporter.Append("Regression test FAILED")
	}
	return nil
}
