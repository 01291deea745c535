package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rrfs-ci/autoci/internal/state"
)

var (
	statusLimit   int
	statusSession string
	statusPurge   time.Duration
	statusReap    bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent poll sessions and job runs",
	Long: `Display the history recorded by poll and job.

Shows:
  - Recent poll sessions with their experiment counts
  - Recent job runs and their outcome
  - With --session, the experiments of one poll session`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "Number of sessions and jobs to show")
	statusCmd.Flags().StringVar(&statusSession, "session", "", "Show the experiments of this poll session")
	statusCmd.Flags().DurationVar(&statusPurge, "purge", 0, "Delete history older than this duration")
	statusCmd.Flags().BoolVar(&statusReap, "reap", false, "Mark sessions left running by a killed process as interrupted")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfg.State.DBPath); os.IsNotExist(err) {
		fmt.Println("No history yet. Run 'autoci poll <output-root>' or 'autoci job' to start.")
		return nil
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if statusReap {
		ids, err := db.MarkInterrupted()
		if err != nil {
			return err
		}
		fmt.Printf("Marked %d session(s) interrupted\n", len(ids))
	}

	if statusPurge > 0 {
		n, err := db.PurgeOlderThan(statusPurge)
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d record(s) older than %s\n", n, formatDuration(statusPurge))
	}

	if statusSession != "" {
		return displaySession(db, statusSession)
	}

	if err := displayRecentSessions(db); err != nil {
		return err
	}
	fmt.Println()
	return displayRecentJobs(db)
}

func displaySession(db *state.DB, id string) error {
	s, err := db.GetPollSession(id)
	if err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("no poll session %s", id)
	}

	fmt.Printf("Poll Session: %s\n", s.ID)
	fmt.Printf("  Root: %s\n", s.OutputRoot)
	fmt.Printf("  Status: %s\n", colorStatus(string(s.Status)))
	fmt.Printf("  Started: %s ago\n", formatDuration(time.Since(s.StartedAt)))
	fmt.Printf("  Iterations: %d/%d every %s\n", s.Iterations, s.MaxIterations, s.Interval)
	fmt.Printf("  Experiments: %d done, %d failed, %d total\n", s.Completed, s.Failed, s.Total)
	if s.Error != "" {
		fmt.Printf("  Error: %s\n", color.RedString(s.Error))
	}

	exps, err := db.ListExperiments(id)
	if err != nil {
		return err
	}
	if len(exps) == 0 {
		return nil
	}
	fmt.Println()
	fmt.Println("Experiments:")
	for _, e := range exps {
		line := ""
		if e.LastLine != "" {
			line = "  " + e.LastLine
		}
		fmt.Printf("  %-10s %s%s\n", colorStatus(e.State), e.Name, line)
	}
	return nil
}

func displayRecentSessions(db *state.DB) error {
	sessions, err := db.RecentPollSessions(statusLimit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("Poll Sessions: none")
		return nil
	}

	fmt.Println("Poll Sessions:")
	for _, s := range sessions {
		fmt.Printf("  %s: %s %d/%d done, %d failed (%s ago) %s\n",
			shortID(s.ID),
			colorStatus(string(s.Status)),
			s.Completed, s.Total, s.Failed,
			formatDuration(time.Since(s.StartedAt)),
			s.OutputRoot)
	}
	return nil
}

func displayRecentJobs(db *state.DB) error {
	runs, err := db.RecentJobRuns(statusLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("Job Runs: none")
		return nil
	}

	fmt.Println("Job Runs:")
	for _, j := range runs {
		compiler := ""
		if j.Compiler != "" {
			compiler = "/" + j.Compiler
		}
		fmt.Printf("  %s: %s %s on %s%s PR #%d (%s ago)\n",
			shortID(j.ID),
			colorStatus(string(j.Status)),
			j.Action, j.Machine, compiler, j.PRNumber,
			formatDuration(time.Since(j.StartedAt)))
		if j.Error != "" {
			fmt.Printf("      %s\n", color.RedString(j.Error))
		}
	}
	return nil
}

func colorStatus(s string) string {
	switch s {
	case "completed", "passed":
		return color.GreenString(s)
	case "failed":
		return color.RedString(s)
	case "running", "pending":
		return color.CyanString(s)
	default:
		return color.YellowString(s)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}
