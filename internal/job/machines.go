package job

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnsupportedMachine is returned for a machine with no work directory.
	ErrUnsupportedMachine = errors.New("unsupported machine")
	// ErrUnsupportedCompiler is returned for compilers other than gnu and intel.
	ErrUnsupportedCompiler = errors.New("unsupported compiler")
)

// defaultWorkdirs are the CI scratch areas on the supported HPC systems.
// Pull requests are cloned under <workdir>/pr.
var defaultWorkdirs = map[string]string{
	"hera":     "/scratch2/BMC/zrtrr/rrfs_ci/autoci",
	"jet":      "/lfs4/HFIP/h-nems/emc.nemspara/autort",
	"gaea":     "/lustre/f2/pdata/ncep/emc.nemspara/autort",
	"orion":    "/work/noaa/nems/emc.nemspara/autort",
	"cheyenne": "/glade/scratch/dtcufsrt/autort/tests/auto",
}

// Machines resolves work directories, with overrides taking precedence
// over the built-in table.
type Machines struct {
	overrides map[string]string
}

// NewMachines creates a resolver. Keys of overrides are machine names.
func NewMachines(overrides map[string]string) *Machines {
	m := &Machines{overrides: make(map[string]string, len(overrides))}
	for name, dir := range overrides {
		if dir != "" {
			m.overrides[strings.ToLower(name)] = dir
		}
	}
	return m
}

// WorkdirFor returns the work directory for machine.
func (m *Machines) WorkdirFor(machine string) (string, error) {
	name := strings.ToLower(machine)
	if m != nil {
		if dir, ok := m.overrides[name]; ok {
			return dir, nil
		}
	}
	if dir, ok := defaultWorkdirs[name]; ok {
		return dir, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedMachine, machine)
}

// Names lists every machine with a known work directory.
func (m *Machines) Names() []string {
	seen := make(map[string]bool, len(defaultWorkdirs))
	for name := range defaultWorkdirs {
		seen[name] = true
	}
	if m != nil {
		for name := range m.overrides {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckCompiler validates a compiler name.
func CheckCompiler(compiler string) error {
	switch compiler {
	case "gnu", "intel":
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedCompiler, compiler)
	}
}
