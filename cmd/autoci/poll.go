package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rrfs-ci/autoci/internal/exec"
	"github.com/rrfs-ci/autoci/internal/expt"
	"github.com/rrfs-ci/autoci/internal/job"
	"github.com/rrfs-ci/autoci/internal/logging"
	"github.com/rrfs-ci/autoci/internal/report"
	"github.com/rrfs-ci/autoci/internal/tui"
	"github.com/rrfs-ci/autoci/internal/watch"
)

var (
	pollInterval      time.Duration
	pollMaxIterations int
	pollLogFilename   string
	pollWaitForRoot   time.Duration
	pollSummaryOut    string
	pollTUI           bool
	pollNoReport      bool
	pollNoHistory     bool
	pollStopFile      string
)

var pollCmd = &cobra.Command{
	Use:   "poll <output-root>",
	Short: "Poll workflow experiments until they finish",
	Long: `Poll every experiment directory under <output-root> until its workflow
log reports completion or failure, or the iteration budget runs out.

Each iteration sleeps for the poll interval, lists the output root, and
scans the log of every experiment that has not finished. Progress lines
are collected into one comment and posted to the configured tracker when
polling ends.

Exit status is non-zero when an experiment failed or the budget ran out.`,
	Args: cobra.ExactArgs(1),
	RunE: runPoll,
}

func init() {
	pollCmd.Flags().DurationVar(&pollInterval, "interval", 0, "Sleep between iterations (default from config)")
	pollCmd.Flags().IntVar(&pollMaxIterations, "max-iterations", 0, "Iteration budget (default from config)")
	pollCmd.Flags().StringVar(&pollLogFilename, "log-filename", "", "Workflow log name under <experiment>/log/")
	pollCmd.Flags().DurationVar(&pollWaitForRoot, "wait-for-root", 0, "Wait this long for the output root to appear")
	pollCmd.Flags().StringVar(&pollSummaryOut, "summary-out", "", "Write the session summary as YAML to this file")
	pollCmd.Flags().BoolVar(&pollTUI, "tui", false, "Show a live progress view")
	pollCmd.Flags().BoolVar(&pollNoReport, "no-report", false, "Do not post a comment")
	pollCmd.Flags().BoolVar(&pollNoHistory, "no-history", false, "Do not record the session in the history database")
	pollCmd.Flags().StringVar(&pollStopFile, "stop-file", "", "Stop polling when this file appears (default next to the database)")
}

// pollOptions merges config with any flags set on the command line.
func pollOptions(cmd *cobra.Command) (expt.Options, time.Duration) {
	opts := expt.Options{
		Interval:      cfg.Poll.Interval,
		MaxIterations: cfg.Poll.MaxIterations,
		LogFilename:   cfg.Poll.LogFilename,
	}
	wait := cfg.Poll.WaitForRoot

	if cmd.Flags().Changed("interval") {
		opts.Interval = pollInterval
	}
	if cmd.Flags().Changed("max-iterations") {
		opts.MaxIterations = pollMaxIterations
	}
	if cmd.Flags().Changed("log-filename") {
		opts.LogFilename = pollLogFilename
	}
	if cmd.Flags().Changed("wait-for-root") {
		wait = pollWaitForRoot
	}
	return opts, wait
}

// defaultStopFile is shared by poll and stop.
func defaultStopFile() string {
	return filepath.Join(filepath.Dir(cfg.State.DBPath), "poll.stop")
}

func runPoll(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolve output root: %w", err)
	}
	opts, wait := pollOptions(cmd)

	ctx, cancel := signalContext()
	defer cancel()

	stopFile := pollStopFile
	if stopFile == "" {
		stopFile = defaultStopFile()
	}
	if err := watch.ClearStop(stopFile); err != nil {
		logger.Warn("clear stop file", "path", stopFile, "err", err)
	}
	ctx, stop := watch.StopFile(ctx, stopFile)
	defer stop()

	var reporter *report.Reporter
	req := job.PollRequest{
		Root:        root,
		Options:     opts,
		WaitForRoot: wait,
		Logger:      logger,
	}

	if !pollNoReport {
		tracker, err := report.NewTracker(report.TrackerOptions{
			Kind:  cfg.Report.Tracker,
			Repo:  cfg.Report.Repo,
			Issue: cfg.Report.Issue,
			File:  cfg.Report.File,
		}, exec.NewRunner(), os.Stdout)
		if err != nil {
			return fmt.Errorf("create tracker: %w", err)
		}
		reporter = report.New(tracker, logger)
		req.Reporter = reporter
	}

	if !pollNoHistory {
		db, err := openStore()
		if err != nil {
			logger.Warn("poll session will not be recorded", "err", err)
		} else {
			defer db.Close()
			req.History = db
		}
	}

	if pollTUI {
		program, _ := tui.NewPollProgram(root, opts, cancel)
		req.Observers = append(req.Observers, tui.Observer(program))
		// Log lines would tear the view unless they go to a file.
		if cfg.Log.File == "" {
			req.Logger = logging.Discard()
		}
		programDone := make(chan struct{})
		go func() {
			defer close(programDone)
			if _, err := program.Run(); err != nil {
				logger.Error("progress view", "err", err)
			}
		}()
		sum, sessionID, err := job.Poll(ctx, req)
		program.Send(tui.DoneMsg{Summary: sum, Err: err})
		<-programDone
		return finishPoll(ctx, reporter, sum, sessionID, err)
	}

	sum, sessionID, err := job.Poll(ctx, req)
	return finishPoll(ctx, reporter, sum, sessionID, err)
}

// finishPoll posts the comment, writes the summary file, and turns an
// unfinished session into a non-zero exit.
func finishPoll(ctx context.Context, reporter *report.Reporter, sum *expt.Summary, sessionID string, pollErr error) error {
	if reporter != nil {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
		id, err := reporter.Flush(fctx)
		cancel()
		if err != nil {
			logger.Error("post comment", "err", err)
		} else if id != "" {
			logger.Info("posted comment", "id", id)
		}
	}

	if pollErr != nil {
		return fmt.Errorf("poll experiments: %w", pollErr)
	}

	if pollSummaryOut != "" {
		if err := expt.WriteSummaryFile(pollSummaryOut, sum); err != nil {
			return err
		}
	}

	printSummary(sum, sessionID)

	if sum.Failed > 0 || sum.TimedOut {
		return fmt.Errorf("%d of %d experiments did not complete", sum.Total-sum.Completed, sum.Total)
	}
	return nil
}

func printSummary(sum *expt.Summary, sessionID string) {
	fmt.Println()
	fmt.Printf("Output root: %s\n", sum.Root)
	if sessionID != "" {
		fmt.Printf("Session:     %s\n", sessionID)
	}
	fmt.Printf("Iterations:  %d\n", sum.Iterations)

	for _, e := range sum.Experiments {
		switch e.State {
		case expt.StateCompleted:
			printStatus("✓", e.Name, color.FgGreen)
		case expt.StateFailed:
			printStatus("✗", fmt.Sprintf("%s: %s", e.Name, e.LastLine), color.FgRed)
		default:
			printStatus("…", fmt.Sprintf("%s (%s)", e.Name, e.State), color.FgYellow)
		}
	}

	result := fmt.Sprintf("Done: %d of %d", sum.Completed, sum.Total)
	switch {
	case sum.TimedOut:
		fmt.Printf("\n%s (timed out, %d pending)\n", color.YellowString(result), sum.Pending())
	case sum.Failed > 0:
		fmt.Printf("\n%s (%d failed)\n", color.RedString(result), sum.Failed)
	default:
		fmt.Printf("\n%s\n", color.GreenString(result))
	}
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("  %s %s\n", c.Sprint(symbol), message)
}
