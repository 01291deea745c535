// Package logscan classifies CI and workflow log files by scanning them
// line by line for fixed marker substrings.
package logscan

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// Marker substrings written by the workflow engine into an experiment log.
const (
	MarkerComplete = "This cycle is complete"
	MarkerFailed   = "FAILED"
)

// Kind is the outcome of classifying an experiment log.
type Kind int

const (
	Pending Kind = iota
	Complete
	Failed
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case Pending:
		return "pending"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Terminal reports whether the kind ends an experiment.
func (k Kind) Terminal() bool {
	return k == Complete || k == Failed
}

// Classification is the result of scanning one experiment log.
// Line holds the triggering log line for Complete and Failed, and the last
// non-empty line read for Pending.
type Classification struct {
	Kind Kind
	Line string
}

// ErrLogRead matches any *LogReadError.
var ErrLogRead = errors.New("log read failed")

// LogReadError is returned when a log file exists but cannot be read.
type LogReadError struct {
	Path string
	Err  error
}

func (e *LogReadError) Error() string {
	return fmt.Sprintf("read log %s: %v", e.Path, e.Err)
}

func (e *LogReadError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrLogRead) match.
func (e *LogReadError) Is(target error) bool { return target == ErrLogRead }

// Classify scans the log at path and returns the classification of the
// first marker line. A missing file is Pending, not an error: the workflow
// engine may not have created it yet.
func Classify(path string) (Classification, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Classification{Kind: Pending}, nil
		}
		return Classification{}, &LogReadError{Path: path, Err: err}
	}
	defer f.Close()

	var last string
	scanner := newLineScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, MarkerComplete) {
			return Classification{Kind: Complete, Line: trimLine(line)}, nil
		}
		if strings.Contains(line, MarkerFailed) {
			return Classification{Kind: Failed, Line: trimLine(line)}, nil
		}
		if strings.TrimSpace(line) != "" {
			last = line
		}
	}
	if err := scanner.Err(); err != nil {
		return Classification{}, &LogReadError{Path: path, Err: err}
	}

	return Classification{Kind: Pending, Line: trimLine(last)}, nil
}

// maxLineSize bounds a single log line. Workflow logs occasionally carry
// very long environment dumps.
const maxLineSize = 4 * 1024 * 1024

func newLineScanner(f *os.File) *bufio.Scanner {
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return s
}

func trimLine(line string) string {
	return strings.TrimRight(line, "\r\n")
}
