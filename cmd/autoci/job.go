package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rrfs-ci/autoci/internal/config"
	"github.com/rrfs-ci/autoci/internal/exec"
	"github.com/rrfs-ci/autoci/internal/expt"
	"github.com/rrfs-ci/autoci/internal/job"
	"github.com/rrfs-ci/autoci/internal/report"
)

var (
	jobAction      string
	jobMachine     string
	jobCompiler    string
	jobPRID        int64
	jobPRNumber    int
	jobHeadRepo    string
	jobHeadRef     string
	jobHeadSHA     string
	jobApp         string
	jobAppBranch   string
	jobUser        string
	jobWorkdir     string
	jobNoHistory   bool
	jobProgressLog bool
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Run a CI job for a pull request",
	Long: `Run one CI action for a pull request on this machine.

Actions:
  RT     clone the PR and run the regression tests
  BL     clone the PR, create new baselines, and move them into place
  BUILD  clone the app, point Externals.cfg at the PR, and build it
  WE     BUILD, then launch the end-to-end tests and poll the experiments

The outcome is posted as one comment on the pull request. Exit status is
non-zero when the job could not run or its tests failed.`,
	Example: `  autoci job --action RT --machine hera --compiler intel \
    --pr-id 123456789 --pr-number 42 --head-repo someone/ufs-weather-model \
    --head-ref feature/fix --app ufs-community/ufs-weather-model`,
	RunE: runJob,
}

func init() {
	f := jobCmd.Flags()
	f.StringVar(&jobAction, "action", "", "CI action: RT, BL, BUILD, or WE")
	f.StringVar(&jobMachine, "machine", "", "HPC machine name")
	f.StringVar(&jobCompiler, "compiler", "intel", "Compiler for RT and BL: gnu or intel")
	f.Int64Var(&jobPRID, "pr-id", 0, "Pull request id")
	f.IntVar(&jobPRNumber, "pr-number", 0, "Pull request number")
	f.StringVar(&jobHeadRepo, "head-repo", "", "PR head repository (owner/name)")
	f.StringVar(&jobHeadRef, "head-ref", "", "PR head branch")
	f.StringVar(&jobHeadSHA, "head-sha", "", "PR head commit")
	f.StringVar(&jobApp, "app", "", "Application repository (owner/name)")
	f.StringVar(&jobAppBranch, "app-branch", "develop", "Application branch for BUILD and WE")
	f.StringVar(&jobUser, "user", "", "Owner of the regression scratch area (default $USER)")
	f.StringVar(&jobWorkdir, "workdir", "", "Work directory (default from machine table)")
	f.BoolVar(&jobNoHistory, "no-history", false, "Do not record the job in the history database")
	f.BoolVar(&jobProgressLog, "progress", false, "Log experiment progress while polling")

	_ = jobCmd.MarkFlagRequired("action")
	_ = jobCmd.MarkFlagRequired("machine")
	_ = jobCmd.MarkFlagRequired("pr-id")
	_ = jobCmd.MarkFlagRequired("app")
}

// jobContext builds the request from flags.
func jobContext() (job.Context, error) {
	action, err := job.ParseAction(jobAction)
	if err != nil {
		return job.Context{}, err
	}

	headName := jobHeadRepo
	if i := strings.LastIndex(headName, "/"); i >= 0 {
		headName = headName[i+1:]
	}

	workdir := jobWorkdir
	if workdir == "" {
		workdir, _ = cfg.MachineWorkdir(jobMachine)
	}

	return job.Context{
		Machine:  strings.ToLower(jobMachine),
		Compiler: strings.ToLower(jobCompiler),
		Workdir:  workdir,
		Action:   action,
		PR: job.PullRequest{
			ID:               jobPRID,
			Number:           jobPRNumber,
			HeadRepoFullName: jobHeadRepo,
			HeadRepoName:     headName,
			HeadRef:          jobHeadRef,
			HeadSHA:          jobHeadSHA,
		},
		Repo: job.Repo{AppAddress: jobApp, AppBranch: jobAppBranch},
		User: jobUser,
	}, nil
}

func runJob(cmd *cobra.Command, args []string) error {
	jc, err := jobContext()
	if err != nil {
		return err
	}

	token, err := config.GetToken(cfg)
	if errors.Is(err, config.ErrNoToken) {
		logger.Warn("no GitHub token set, cloning anonymously")
	}
	logger.Debug("token", "source", config.GetTokenSource(cfg), "value", config.MaskToken(token))

	// Comments go to the pull request unless the config names an issue.
	trackerOpts := report.TrackerOptions{
		Kind:  cfg.Report.Tracker,
		Repo:  cfg.Report.Repo,
		Issue: cfg.Report.Issue,
		File:  cfg.Report.File,
	}
	if trackerOpts.Repo == "" {
		trackerOpts.Repo = jc.Repo.AppAddress
	}
	if trackerOpts.Issue == 0 {
		trackerOpts.Issue = jc.PR.Number
	}

	runner := exec.NewRunner()
	tracker, err := report.NewTracker(trackerOpts, runner, os.Stdout)
	if err != nil {
		return fmt.Errorf("create tracker: %w", err)
	}
	reporter := report.New(tracker, logger)

	overrides := make(map[string]string, len(cfg.Machines))
	for name, m := range cfg.Machines {
		if m.Workdir != "" {
			overrides[name] = m.Workdir
		}
	}

	opts := []job.Option{
		job.WithSettings(job.Settings{
			Token:    token,
			GitUser:  cfg.CI.GitUser,
			GitEmail: cfg.CI.GitEmail,
			Account:  cfg.CI.Account,
			ExptRoot: cfg.CI.ExptRoot,
			Poll: expt.Options{
				Interval:      cfg.Poll.Interval,
				MaxIterations: cfg.Poll.MaxIterations,
				LogFilename:   cfg.Poll.LogFilename,
			},
			WaitForRoot: cfg.Poll.WaitForRoot,
		}),
		job.WithMachines(job.NewMachines(overrides)),
		job.WithLogger(logger),
	}
	if jobProgressLog {
		opts = append(opts, job.WithPollObserver(logProgress))
	}
	if !jobNoHistory {
		db, err := openStore()
		if err != nil {
			logger.Warn("job will not be recorded", "err", err)
		} else {
			defer db.Close()
			opts = append(opts, job.WithHistory(db))
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := job.NewRunner(job.RequiredConfig{Exec: runner, Reporter: reporter}, opts...).Run(ctx, jc)
	if err != nil {
		printStatus("✗", fmt.Sprintf("%s job failed: %v", jc.Action, err), color.FgRed)
		return fmt.Errorf("%s job: %w", jc.Action, err)
	}

	if res.RepoLocation != "" {
		fmt.Printf("Repo location: %s\n", res.RepoLocation)
	}
	if res.CommentID != "" {
		fmt.Printf("Comment: %s\n", res.CommentID)
	}
	if !res.Passed {
		printStatus("✗", fmt.Sprintf("%s job did not pass", jc.Action), color.FgRed)
		return fmt.Errorf("%s job did not pass", jc.Action)
	}
	printStatus("✓", fmt.Sprintf("%s job passed", jc.Action), color.FgGreen)
	return nil
}

func logProgress(ev expt.Event) {
	switch ev.Kind {
	case expt.EventIteration:
		logger.Debug("poll iteration", "n", ev.Iteration)
	case expt.EventDiscovered:
		logger.Info("experiment discovered", "name", ev.Name)
	case expt.EventCompleted:
		logger.Info("experiment completed", "name", ev.Name)
	case expt.EventFailed:
		logger.Warn("experiment failed", "name", ev.Name, "line", ev.Line)
	case expt.EventReadError:
		logger.Warn("experiment log unreadable", "name", ev.Name, "err", ev.Err)
	}
}
