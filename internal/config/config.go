// Package config handles configuration loading and management for autoci.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for autoci.
type Config struct {
	Poll     PollConfig               `mapstructure:"poll"`
	CI       CIConfig                 `mapstructure:"ci"`
	Machines map[string]MachineConfig `mapstructure:"machines"`
	Report   ReportConfig             `mapstructure:"report"`
	State    StateConfig              `mapstructure:"state"`
	Log      LogConfig                `mapstructure:"log"`
}

// PollConfig holds experiment poller settings.
type PollConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	MaxIterations int           `mapstructure:"max_iterations"`
	LogFilename   string        `mapstructure:"log_filename"`
	// WaitForRoot bounds how long to wait for the output root to appear
	// before polling starts. Zero disables waiting.
	WaitForRoot time.Duration `mapstructure:"wait_for_root"`
}

// CIConfig holds settings for the clone/build/test jobs.
type CIConfig struct {
	// Workdir overrides the per-machine work directory.
	Workdir string `mapstructure:"workdir"`
	// Account is the HPC allocation passed to end_to_end_tests.sh.
	Account  string `mapstructure:"account"`
	GitUser  string `mapstructure:"git_user"`
	GitEmail string `mapstructure:"git_email"`
	// Token authenticates clones. ${VAR} references are expanded.
	Token string `mapstructure:"token"`
	// ExptRoot overrides where end-to-end experiments write their output.
	ExptRoot string `mapstructure:"expt_root"`
}

// MachineConfig holds per-machine overrides.
type MachineConfig struct {
	Workdir string `mapstructure:"workdir"`
}

// ReportConfig selects where CI comments are posted.
type ReportConfig struct {
	// Tracker is github, file, or console.
	Tracker string `mapstructure:"tracker"`
	Repo    string `mapstructure:"repo"`
	Issue   int    `mapstructure:"issue"`
	File    string `mapstructure:"file"`
}

// StateConfig locates the session history database.
type StateConfig struct {
	DBPath string `mapstructure:"db_path"`
	// Driver is sqlite (pure Go) or sqlite3 (cgo).
	Driver string `mapstructure:"driver"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (AUTOCI_POLL_INTERVAL, ..., ghapitoken for ci.token)
// 2. Project config (.autoci.yaml in current directory or parent)
// 3. User config (~/.config/autoci/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file, still honoring
// defaults and environment overrides.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AUTOCI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The clone token keeps the variable name the build scripts use.
	v.BindEnv("ci.token", "AUTOCI_CI_TOKEN", "ghapitoken")
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.CI.Token = expandEnv(cfg.CI.Token)
	cfg.CI.Workdir = expandEnv(cfg.CI.Workdir)
	cfg.CI.ExptRoot = expandEnv(cfg.CI.ExptRoot)
	cfg.State.DBPath = expandEnv(cfg.State.DBPath)
	cfg.Report.File = expandEnv(cfg.Report.File)
	cfg.Log.File = expandEnv(cfg.Log.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a job.
func (c *Config) Validate() error {
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive, got %s", c.Poll.Interval)
	}
	if c.Poll.MaxIterations < 0 {
		return fmt.Errorf("poll.max_iterations must not be negative, got %d", c.Poll.MaxIterations)
	}
	switch c.State.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("state.driver must be sqlite or sqlite3, got %q", c.State.Driver)
	}
	switch strings.ToLower(c.Report.Tracker) {
	case "github", "gh", "file", "console":
	default:
		return fmt.Errorf("report.tracker must be github, file, or console, got %q", c.Report.Tracker)
	}
	return nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return SaveTo(cfg, filepath.Join(userConfigDir, "config.yaml"))
}

// SaveTo writes the configuration to path. The clone token is never
// written; it belongs in the environment.
func SaveTo(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)

	v.Set("poll.interval", cfg.Poll.Interval.String())
	v.Set("poll.max_iterations", cfg.Poll.MaxIterations)
	v.Set("poll.log_filename", cfg.Poll.LogFilename)
	v.Set("poll.wait_for_root", cfg.Poll.WaitForRoot.String())
	v.Set("ci.workdir", cfg.CI.Workdir)
	v.Set("ci.account", cfg.CI.Account)
	v.Set("ci.git_user", cfg.CI.GitUser)
	v.Set("ci.git_email", cfg.CI.GitEmail)
	v.Set("ci.expt_root", cfg.CI.ExptRoot)
	for name, m := range cfg.Machines {
		v.Set("machines."+name+".workdir", m.Workdir)
	}
	v.Set("report.tracker", cfg.Report.Tracker)
	v.Set("report.repo", cfg.Report.Repo)
	v.Set("report.issue", cfg.Report.Issue)
	v.Set("report.file", cfg.Report.File)
	v.Set("state.db_path", cfg.State.DBPath)
	v.Set("state.driver", cfg.State.Driver)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.file", cfg.Log.File)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("poll.interval", d.Poll.Interval.String())
	v.SetDefault("poll.max_iterations", d.Poll.MaxIterations)
	v.SetDefault("poll.log_filename", d.Poll.LogFilename)
	v.SetDefault("poll.wait_for_root", d.Poll.WaitForRoot.String())

	v.SetDefault("ci.workdir", "")
	v.SetDefault("ci.account", d.CI.Account)
	v.SetDefault("ci.git_user", d.CI.GitUser)
	v.SetDefault("ci.git_email", d.CI.GitEmail)
	v.SetDefault("ci.token", "")
	v.SetDefault("ci.expt_root", "")

	v.SetDefault("report.tracker", d.Report.Tracker)
	v.SetDefault("report.repo", "")
	v.SetDefault("report.issue", 0)
	v.SetDefault("report.file", "")

	v.SetDefault("state.db_path", d.State.DBPath)
	v.SetDefault("state.driver", d.State.Driver)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", "")
}

// getUserConfigDir returns the XDG config directory for autoci.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "autoci")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "autoci")
	}
	return filepath.Join(home, ".config", "autoci")
}

// defaultDBPath returns the XDG data location for the history database.
func defaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "autoci", "autoci.db")
}

// findProjectConfig searches for .autoci.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".autoci.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Poll: PollConfig{
			Interval:      60 * time.Second,
			MaxIterations: 180,
			LogFilename:   "log.launch_FV3LAM_wflow",
			WaitForRoot:   30 * time.Minute,
		},
		CI: CIConfig{
			Account:  "zrtrr",
			GitUser:  "autoci-bot",
			GitEmail: "autoci-bot@users.noreply.github.com",
		},
		Report: ReportConfig{
			Tracker: "console",
		},
		State: StateConfig{
			DBPath: defaultDBPath(),
			Driver: "sqlite",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// MachineWorkdir returns the configured work directory for machine, with
// ci.workdir taking precedence over the per-machine entry.
func (c *Config) MachineWorkdir(machine string) (string, bool) {
	if c.CI.Workdir != "" {
		return c.CI.Workdir, true
	}
	if m, ok := c.Machines[strings.ToLower(machine)]; ok && m.Workdir != "" {
		return expandEnv(m.Workdir), true
	}
	return "", false
}
