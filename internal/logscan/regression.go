package logscan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrLogNotFound is returned by the job log scanners when the log a job
// should have produced does not exist.
var ErrLogNotFound = errors.New("log not found")

// RegressionResult summarizes a regression test log.
type RegressionResult struct {
	// Passed is true once a SUCCESSFUL line was seen.
	Passed bool
	// FailedTests holds lines mentioning both "Test" and "failed".
	FailedTests []string
	// RunDir is the regression run directory announced on the first
	// "working dir" line. Callers ask a human to delete it.
	RunDir string
}

// RegressionLogName returns the log path, relative to the repository root,
// that rt.sh writes for a machine and compiler.
func RegressionLogName(machine, compiler string) string {
	return filepath.Join("tests", fmt.Sprintf("RegressionTests_%s.%s.log", machine, compiler))
}

// ScanRegressionLog reads a regression test log. Scanning stops at the
// first SUCCESSFUL line. A log that ends without one is not an error; the
// result simply has Passed set to false.
func ScanRegressionLog(path string) (*RegressionResult, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrLogNotFound, path)
		}
		return nil, &LogReadError{Path: path, Err: err}
	}
	defer f.Close()

	result := &RegressionResult{}
	scanner := newLineScanner(f)
	for scanner.Scan() {
		line := trimLine(scanner.Text())
		switch {
		case strings.Contains(line, "Test") && strings.Contains(line, "failed"):
			result.FailedTests = append(result.FailedTests, line)
		case strings.Contains(line, "working dir") && result.RunDir == "":
			result.RunDir = runDirFromLine(line)
		case strings.Contains(line, "SUCCESSFUL"):
			result.Passed = true
			return result, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &LogReadError{Path: path, Err: err}
	}

	return result, nil
}

// runDirFromLine returns the parent of the last whitespace-separated field.
func runDirFromLine(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return filepath.Dir(fields[len(fields)-1])
}
