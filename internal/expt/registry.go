// Package expt tracks workflow experiments under an output root and polls
// their logs until every experiment reaches a terminal state.
package expt

import (
	"fmt"
	"sort"

	"github.com/rrfs-ci/autoci/internal/logscan"
)

// State is the lifecycle state of an experiment.
type State int

const (
	StatePending State = iota
	StateCompleted
	StateFailed
	StateUnknown
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further reclassification can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Experiment is one workflow run, identified by its directory name.
type Experiment struct {
	Name     string `yaml:"name"`
	State    State  `yaml:"state"`
	LastLine string `yaml:"last_line,omitempty"`
}

// Registry records which experiments have been seen and which have
// reached a terminal state. It is owned by a single polling goroutine.
type Registry struct {
	seen      map[string]*Experiment
	completed map[string]struct{}
	failed    map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		seen:      make(map[string]*Experiment),
		completed: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
	}
}

// Observe adds names to the seen set and returns the ones not seen before,
// in the order given. Names are never removed.
func (r *Registry) Observe(names []string) []string {
	var added []string
	for _, name := range names {
		if _, ok := r.seen[name]; ok {
			continue
		}
		r.seen[name] = &Experiment{Name: name, State: StatePending}
		added = append(added, name)
	}
	return added
}

// AllSeen returns every experiment name seen so far, sorted.
func (r *Registry) AllSeen() []string {
	names := make([]string, 0, len(r.seen))
	for name := range r.seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasSeenAny reports whether at least one experiment has been observed.
func (r *Registry) HasSeenAny() bool {
	return len(r.seen) > 0
}

// MarkTerminal records the classification of a terminal experiment and
// returns true if it changed the registry. The first terminal
// classification is authoritative; later calls for the same name are
// no-ops. A Pending classification only refreshes the last observed line.
func (r *Registry) MarkTerminal(name string, c logscan.Classification) bool {
	if r.IsTerminal(name) {
		return false
	}

	exp, ok := r.seen[name]
	if !c.Kind.Terminal() {
		if ok && c.Line != "" {
			exp.LastLine = c.Line
		}
		return false
	}
	if !ok {
		exp = &Experiment{Name: name, State: StatePending}
		r.seen[name] = exp
	}
	if c.Line != "" {
		exp.LastLine = c.Line
	}

	switch c.Kind {
	case logscan.Complete:
		exp.State = StateCompleted
		r.completed[name] = struct{}{}
	case logscan.Failed:
		exp.State = StateFailed
		r.failed[name] = struct{}{}
	}
	return true
}

// IsTerminal reports whether name has completed or failed.
func (r *Registry) IsTerminal(name string) bool {
	if _, ok := r.completed[name]; ok {
		return true
	}
	_, ok := r.failed[name]
	return ok
}

// AllTerminal reports whether every seen experiment is terminal. It is
// false when nothing has been seen.
func (r *Registry) AllTerminal() bool {
	if !r.HasSeenAny() {
		return false
	}
	return len(r.completed)+len(r.failed) == len(r.seen)
}

// Pending returns the sorted names of seen experiments that are not
// terminal.
func (r *Registry) Pending() []string {
	var names []string
	for name := range r.seen {
		if !r.IsTerminal(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Get returns a copy of the named experiment. Names never seen are
// reported with StateUnknown.
func (r *Registry) Get(name string) (Experiment, bool) {
	exp, ok := r.seen[name]
	if !ok {
		return Experiment{Name: name, State: StateUnknown}, false
	}
	return *exp, true
}

// Experiments returns copies of all seen experiments, sorted by name.
func (r *Registry) Experiments() []Experiment {
	out := make([]Experiment, 0, len(r.seen))
	for _, name := range r.AllSeen() {
		out = append(out, *r.seen[name])
	}
	return out
}

// Summary returns the completed, failed, and total seen counts.
func (r *Registry) Summary() (completed, failed, total int) {
	return len(r.completed), len(r.failed), len(r.seen)
}
