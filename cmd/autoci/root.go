package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/rrfs-ci/autoci/internal/config"
	"github.com/rrfs-ci/autoci/internal/logging"
	"github.com/rrfs-ci/autoci/internal/state"
)

var (
	configPath string
	logLevel   string
	verbose    bool

	// Set by the root PersistentPreRunE for every subcommand.
	cfg      *config.Config
	logger   *log.Logger
	closeLog = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "autoci",
	Short: "CI harness for the UFS weather model and SRW app",
	Long: `autoci clones pull requests onto HPC machines, runs the weather model
regression tests, baseline creation, and app builds, and reports the outcome
as a single pull request comment.

For end-to-end workflow tests it polls the experiment output root until
every experiment log reports completion or failure.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLog()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user and project config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Shorthand for --log-level debug")

	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads configuration and builds the process logger.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	if verbose {
		level = "debug"
	}

	logger, closeLog, err = logging.New(logging.Options{
		Level:      level,
		File:       cfg.Log.File,
		Timestamps: true,
	})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	return nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nReceived interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// openStore opens and migrates the history database.
func openStore() (*state.DB, error) {
	db, err := state.OpenDriver(cfg.State.Driver, cfg.State.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}
