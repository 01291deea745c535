package expt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/rrfs-ci/autoci/internal/logscan"
)

// Defaults for a poll session. Experiments typically take several hours,
// so the defaults allow three hours at one-minute granularity.
const (
	DefaultInterval      = 60 * time.Second
	DefaultMaxIterations = 180
	DefaultLogFilename   = "log.launch_FV3LAM_wflow"
)

// Options configures a poll session.
type Options struct {
	// Interval is the sleep at the top of every iteration.
	Interval time.Duration
	// MaxIterations bounds the number of sleep-then-scan cycles.
	MaxIterations int
	// LogFilename is the workflow log name inside <root>/<name>/log/.
	LogFilename string
}

// withDefaults fills zero fields. MaxIterations is left alone when
// negative so callers can ask for an empty budget explicitly.
func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.MaxIterations == 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.LogFilename == "" {
		o.LogFilename = DefaultLogFilename
	}
	return o
}

// Summary is the outcome of a poll session.
type Summary struct {
	Root        string       `yaml:"root"`
	Completed   int          `yaml:"completed"`
	Failed      int          `yaml:"failed"`
	Total       int          `yaml:"total"`
	Iterations  int          `yaml:"iterations"`
	TimedOut    bool         `yaml:"timed_out"`
	Experiments []Experiment `yaml:"experiments"`
}

// Pending returns the number of seen experiments that never finished.
func (s *Summary) Pending() int {
	return s.Total - s.Completed - s.Failed
}

// Reporter receives human-readable lines for the CI comment.
type Reporter interface {
	Append(line string)
}

// ErrDirectoryList matches any *DirectoryListError.
var ErrDirectoryList = errors.New("list output root failed")

// DirectoryListError is returned when the output root cannot be listed.
// It ends the poll session.
type DirectoryListError struct {
	Root string
	Err  error
}

func (e *DirectoryListError) Error() string {
	return fmt.Sprintf("list output root %s: %v", e.Root, e.Err)
}

func (e *DirectoryListError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDirectoryList) match.
func (e *DirectoryListError) Is(target error) bool { return target == ErrDirectoryList }

type sleepFunc func(ctx context.Context, d time.Duration) error

// Poller watches an experiment output root until all experiments finish
// or the iteration budget runs out.
type Poller struct {
	opts      Options
	reporter  Reporter
	logger    *log.Logger
	observers []func(Event)
	sleep     sleepFunc
}

// NewPoller creates a poller. A nil reporter discards report lines and a
// nil logger discards log output.
func NewPoller(opts Options, reporter Reporter, logger *log.Logger) *Poller {
	if reporter == nil {
		reporter = discardReporter{}
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Poller{
		opts:     opts.withDefaults(),
		reporter: reporter,
		logger:   logger.WithPrefix("expt"),
		sleep:    sleepContext,
	}
}

// OnEvent registers fn to receive events. Observers run synchronously on
// the polling goroutine in registration order and must not block.
func (p *Poller) OnEvent(fn func(Event)) {
	p.observers = append(p.observers, fn)
}

// Options returns the effective options.
func (p *Poller) Options() Options {
	return p.opts
}

// Run polls root until every discovered experiment is terminal or the
// iteration budget is exhausted. Exhausting the budget is not an error:
// the summary comes back with TimedOut set. A root that cannot be listed
// or a cancelled context ends the session with an error and no summary.
func (p *Poller) Run(ctx context.Context, root string) (*Summary, error) {
	reg := NewRegistry()
	iteration := 0

	p.logger.Info("polling experiments",
		"root", root,
		"interval", p.opts.Interval,
		"max_iterations", p.opts.MaxIterations)

	for iteration < p.opts.MaxIterations && !(reg.HasSeenAny() && reg.AllTerminal()) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("poll %s: %w", root, err)
		}
		if err := p.sleep(ctx, p.opts.Interval); err != nil {
			return nil, fmt.Errorf("poll %s: %w", root, err)
		}
		iteration++
		p.emit(Event{Kind: EventIteration, Iteration: iteration})

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("poll %s: %w", root, err)
		}
		names, err := listExperiments(root)
		if err != nil {
			return nil, err
		}
		for _, name := range reg.Observe(names) {
			p.logger.Debug("discovered experiment", "name", name, "iteration", iteration)
			p.emit(Event{Kind: EventDiscovered, Iteration: iteration, Name: name})
		}

		p.scanPending(reg, root, iteration)
	}

	completed, failed, total := reg.Summary()
	summary := &Summary{
		Root:        root,
		Completed:   completed,
		Failed:      failed,
		Total:       total,
		Iterations:  iteration,
		TimedOut:    !(reg.HasSeenAny() && reg.AllTerminal()),
		Experiments: reg.Experiments(),
	}

	p.reporter.Append(fmt.Sprintf("Done: %d of %d", completed, total))
	if summary.TimedOut {
		p.logger.Warn("iteration budget exhausted",
			"iterations", iteration,
			"pending", summary.Pending(),
			"seen", total)
	} else {
		p.logger.Info("all experiments finished",
			"iterations", iteration,
			"completed", completed,
			"failed", failed)
	}

	return summary, nil
}

// scanPending classifies every non-terminal experiment once.
func (p *Poller) scanPending(reg *Registry, root string, iteration int) {
	for _, name := range reg.Pending() {
		path := LogPath(root, name, p.opts.LogFilename)
		c, err := logscan.Classify(path)
		if err != nil {
			// Retried next iteration.
			p.logger.Warn("cannot read experiment log", "name", name, "err", err)
			p.emit(Event{Kind: EventReadError, Iteration: iteration, Name: name, Err: err})
			continue
		}
		if !reg.MarkTerminal(name, c) {
			continue
		}

		switch c.Kind {
		case logscan.Complete:
			p.reporter.Append("Experiment done: " + name)
			p.logger.Info("experiment done", "name", name)
			p.emit(Event{Kind: EventCompleted, Iteration: iteration, Name: name, Line: c.Line})
		case logscan.Failed:
			p.reporter.Append("Experiment failed: " + name)
			p.logger.Info("experiment failed", "name", name)
			p.emit(Event{Kind: EventFailed, Iteration: iteration, Name: name, Line: c.Line})
		}
		p.reporter.Append(c.Line)
	}
}

func (p *Poller) emit(ev Event) {
	for _, fn := range p.observers {
		fn(ev)
	}
}

// LogPath returns the workflow log location for an experiment.
func LogPath(root, name, logFilename string) string {
	return filepath.Join(root, name, "log", logFilename)
}

// listExperiments returns the names of the subdirectories of root,
// including symlinks that resolve to directories.
func listExperiments(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, &DirectoryListError{Root: root, Err: err}
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
			continue
		}
		if entry.Type()&fs.ModeSymlink != 0 {
			// Dangling links are skipped until they resolve.
			info, err := os.Stat(filepath.Join(root, entry.Name()))
			if err == nil && info.IsDir() {
				names = append(names, entry.Name())
			}
		}
	}
	return names, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type discardReporter struct{}

func (discardReporter) Append(string) {}
