package job

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/rrfs-ci/autoci/internal/exec"
	"github.com/rrfs-ci/autoci/internal/expt"
	"github.com/rrfs-ci/autoci/internal/git"
	"github.com/rrfs-ci/autoci/internal/report"
	"github.com/rrfs-ci/autoci/internal/state"
)

// RequiredConfig contains the minimal required configuration for a Runner.
type RequiredConfig struct {
	// Exec runs every shell command a job issues.
	Exec exec.CommandRunner
	// Reporter collects the pull request comment.
	Reporter *report.Reporter
}

// Settings are the site-specific values read from configuration.
type Settings struct {
	// Token authenticates git against github.com through a credential
	// helper; empty clones anonymously.
	Token    string
	GitUser  string
	GitEmail string
	// Account is the HPC allocation passed to end_to_end_tests.sh.
	Account string
	// ExptRoot is where end-to-end experiments write their output.
	// <clone dir>/expt_dirs when empty.
	ExptRoot string
	// Poll configures the WE experiment poller.
	Poll expt.Options
	// WaitForRoot bounds the wait for ExptRoot to appear. Zero skips the wait.
	WaitForRoot time.Duration
}

// History is the subset of the state store a Runner writes to.
type History interface {
	state.JobStore
	state.SessionStore
	state.ExperimentStore
}

// Option configures a Runner. Use With* functions to create Options.
type Option func(*runnerOptions)

type runnerOptions struct {
	settings  Settings
	git       git.Runner
	machines  *Machines
	history   History
	logger    *log.Logger
	observers []func(expt.Event)
}

// WithSettings sets the site settings.
func WithSettings(s Settings) Option {
	return func(o *runnerOptions) { o.settings = s }
}

// WithGitRunner sets the git runner. Defaults to git over the exec runner,
// authenticated with Settings.Token.
func WithGitRunner(g git.Runner) Option {
	return func(o *runnerOptions) { o.git = g }
}

// WithMachines sets the work directory resolver.
func WithMachines(m *Machines) Option {
	return func(o *runnerOptions) { o.machines = m }
}

// WithHistory records job runs and poll sessions in h.
func WithHistory(h History) Option {
	return func(o *runnerOptions) { o.history = h }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *runnerOptions) { o.logger = l }
}

// WithPollObserver receives events from the WE experiment poller.
func WithPollObserver(fn func(expt.Event)) Option {
	return func(o *runnerOptions) { o.observers = append(o.observers, fn) }
}
