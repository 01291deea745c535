package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rrfs-ci/autoci/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify autoci configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/autoci/config.yaml
Project-specific overrides can be placed in .autoci.yaml
The GitHub token is read from $ghapitoken and is never saved.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch len(args) {
		case 0:
			displayAllConfig(cfg)
			return nil
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		default:
			if err := setConfigValue(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Printf("Set %s = %s\n", args[0], args[1])
			return nil
		}
	},
}

var configKeys = []string{
	"poll.interval",
	"poll.max_iterations",
	"poll.log_filename",
	"poll.wait_for_root",
	"ci.workdir",
	"ci.account",
	"ci.git_user",
	"ci.git_email",
	"ci.token",
	"ci.expt_root",
	"report.tracker",
	"report.repo",
	"report.issue",
	"report.file",
	"state.db_path",
	"state.driver",
	"log.level",
	"log.file",
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	for _, key := range configKeys {
		value, _ := getConfigValue(cfg, key)
		fmt.Printf("%s: %s\n", key, value)
	}

	names := make([]string, 0, len(cfg.Machines))
	for name := range cfg.Machines {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("machines.%s.workdir: %s\n", name, cfg.Machines[name].Workdir)
	}
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	key = strings.ToLower(key)
	if machine, ok := machineKey(key); ok {
		return cfg.Machines[machine].Workdir, nil
	}

	switch key {
	case "poll.interval":
		return cfg.Poll.Interval.String(), nil
	case "poll.max_iterations":
		return strconv.Itoa(cfg.Poll.MaxIterations), nil
	case "poll.log_filename":
		return cfg.Poll.LogFilename, nil
	case "poll.wait_for_root":
		return cfg.Poll.WaitForRoot.String(), nil
	case "ci.workdir":
		return cfg.CI.Workdir, nil
	case "ci.account":
		return cfg.CI.Account, nil
	case "ci.git_user":
		return cfg.CI.GitUser, nil
	case "ci.git_email":
		return cfg.CI.GitEmail, nil
	case "ci.token":
		tok, _ := config.GetToken(cfg)
		return fmt.Sprintf("%s (%s)", config.MaskToken(tok), config.GetTokenSource(cfg)), nil
	case "ci.expt_root":
		return cfg.CI.ExptRoot, nil
	case "report.tracker":
		return cfg.Report.Tracker, nil
	case "report.repo":
		return cfg.Report.Repo, nil
	case "report.issue":
		return strconv.Itoa(cfg.Report.Issue), nil
	case "report.file":
		return cfg.Report.File, nil
	case "state.db_path":
		return cfg.State.DBPath, nil
	case "state.driver":
		return cfg.State.Driver, nil
	case "log.level":
		return cfg.Log.Level, nil
	case "log.file":
		return cfg.Log.File, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	key = strings.ToLower(key)
	if machine, ok := machineKey(key); ok {
		if cfg.Machines == nil {
			cfg.Machines = make(map[string]config.MachineConfig)
		}
		cfg.Machines[machine] = config.MachineConfig{Workdir: value}
		return nil
	}

	switch key {
	case "poll.interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for poll.interval: %w", err)
		}
		cfg.Poll.Interval = d
	case "poll.max_iterations":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for poll.max_iterations: %w", err)
		}
		cfg.Poll.MaxIterations = n
	case "poll.log_filename":
		cfg.Poll.LogFilename = value
	case "poll.wait_for_root":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for poll.wait_for_root: %w", err)
		}
		cfg.Poll.WaitForRoot = d
	case "ci.workdir":
		cfg.CI.Workdir = value
	case "ci.account":
		cfg.CI.Account = value
	case "ci.git_user":
		cfg.CI.GitUser = value
	case "ci.git_email":
		cfg.CI.GitEmail = value
	case "ci.token":
		return fmt.Errorf("ci.token is not saved; export ghapitoken instead")
	case "ci.expt_root":
		cfg.CI.ExptRoot = value
	case "report.tracker":
		cfg.Report.Tracker = value
	case "report.repo":
		cfg.Report.Repo = value
	case "report.issue":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for report.issue: %w", err)
		}
		cfg.Report.Issue = n
	case "report.file":
		cfg.Report.File = value
	case "state.db_path":
		cfg.State.DBPath = value
	case "state.driver":
		cfg.State.Driver = value
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

// machineKey matches machines.<name>.workdir.
func machineKey(key string) (string, bool) {
	parts := strings.Split(key, ".")
	if len(parts) == 3 && parts[0] == "machines" && parts[2] == "workdir" && parts[1] != "" {
		return parts[1], true
	}
	return "", false
}
