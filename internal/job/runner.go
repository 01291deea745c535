package job

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/rrfs-ci/autoci/internal/exec"
	"github.com/rrfs-ci/autoci/internal/expt"
	"github.com/rrfs-ci/autoci/internal/git"
	"github.com/rrfs-ci/autoci/internal/logging"
	"github.com/rrfs-ci/autoci/internal/report"
	"github.com/rrfs-ci/autoci/internal/state"
)

// Result is the outcome of one job.
type Result struct {
	Action Action
	// Passed is false when tests, the build, or an experiment failed.
	Passed bool
	// RepoLocation is the clone the job worked in.
	RepoLocation string
	// CommentID is the tracker id of the posted comment.
	CommentID string
	// Summary is set for WE jobs that reached the poller.
	Summary *expt.Summary
}

// Runner executes jobs and reports their outcome on the pull request.
type Runner struct {
	cmd       exec.CommandRunner
	git       git.Runner
	reporter  *report.Reporter
	machines  *Machines
	history   History
	logger    *log.Logger
	settings  Settings
	observers []func(expt.Event)
}

// NewRunner creates a job runner.
func NewRunner(req RequiredConfig, opts ...Option) *Runner {
	o := &runnerOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.git == nil {
		o.git = git.NewRunner(req.Exec).WithToken(o.settings.Token)
	}
	if o.machines == nil {
		o.machines = NewMachines(nil)
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	return &Runner{
		cmd:       req.Exec,
		git:       o.git,
		reporter:  req.Reporter,
		machines:  o.machines,
		history:   o.history,
		logger:    o.logger.WithPrefix("job"),
		settings:  o.settings,
		observers: o.observers,
	}
}

// Run validates jc, dispatches on its action, and always flushes the
// comment. A job whose tests fail returns a Result with Passed false and
// a nil error; errors are reserved for jobs that could not run to the end.
func (r *Runner) Run(ctx context.Context, jc Context) (*Result, error) {
	if err := jc.Validate(); err != nil {
		return nil, err
	}
	if jc.Workdir == "" {
		dir, err := r.machines.WorkdirFor(jc.Machine)
		if err != nil {
			r.reporter.Appendf("Machine %s is not supported for this job", jc.Machine)
			r.flush(ctx)
			return nil, err
		}
		jc.Workdir = dir
	}

	logger := r.logger.With("action", jc.Action, "machine", jc.Machine, "pr", jc.PR.Number)
	logger.Info("starting job", "workdir", jc.Workdir, "compiler", jc.Compiler)

	run := r.startJobRun(jc)
	res := &Result{Action: jc.Action}

	var err error
	switch jc.Action {
	case ActionRT:
		err = r.runRT(ctx, &jc, res)
	case ActionBL:
		err = r.runBL(ctx, &jc, res)
	case ActionBuild, ActionWE:
		err = r.runBuild(ctx, &jc, res)
	}
	if err != nil {
		res.Passed = false
		r.reporter.Appendf("%s job failed: %v", jc.Action, err)
		logger.Error("job failed", "err", err)
	} else {
		logger.Info("job finished", "passed", res.Passed)
	}

	id, flushErr := r.flush(ctx)
	res.CommentID = id
	r.finishJobRun(run, res, err)

	if err == nil && flushErr != nil {
		err = flushErr
	}
	return res, err
}

// flush posts the comment even after ctx is canceled.
func (r *Runner) flush(ctx context.Context) (string, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
	defer cancel()
	id, err := r.reporter.Flush(fctx)
	if err != nil {
		r.logger.Error("post comment", "err", err)
	}
	return id, err
}

func (r *Runner) startJobRun(jc Context) *state.JobRun {
	if r.history == nil {
		return nil
	}
	run := &state.JobRun{
		ID:        uuid.New().String(),
		Action:    string(jc.Action),
		Machine:   jc.Machine,
		Compiler:  jc.Compiler,
		PRNumber:  jc.PR.Number,
		StartedAt: time.Now(),
	}
	if err := r.history.CreateJobRun(run); err != nil {
		r.logger.Warn("record job run", "err", err)
		return nil
	}
	return run
}

func (r *Runner) finishJobRun(run *state.JobRun, res *Result, runErr error) {
	if run == nil {
		return
	}
	run.Status = state.JobPassed
	if runErr != nil || !res.Passed {
		run.Status = state.JobFailed
	}
	run.CommentID = res.CommentID
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := r.history.FinishJobRun(run); err != nil {
		r.logger.Warn("record job result", "err", err)
	}
}

// shell runs command lines in dir, stopping at the first failure.
func (r *Runner) shell(ctx context.Context, dir string, lines ...string) error {
	cmds := make([]exec.Command, len(lines))
	for i, l := range lines {
		cmds[i] = exec.Command{Line: l, Dir: dir}
	}
	return exec.RunSequence(ctx, r.cmd, cmds, r.logger)
}
