package logscan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
	"unicode"
)

const buildFailMarker = "FAIL"

// BuildResult summarizes a build log.
type BuildResult struct {
	Passed       bool
	FailureLines []string
}

// ScanBuildLog collects every line containing FAIL with trailing
// whitespace removed. The build passed iff there are none.
func ScanBuildLog(path string) (*BuildResult, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrLogNotFound, path)
		}
		return nil, &LogReadError{Path: path, Err: err}
	}
	defer f.Close()

	result := &BuildResult{}
	scanner := newLineScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, buildFailMarker) {
			result.FailureLines = append(result.FailureLines, strings.TrimRightFunc(line, unicode.IsSpace))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &LogReadError{Path: path, Err: err}
	}

	result.Passed = len(result.FailureLines) == 0
	return result, nil
}

var (
	ErrBaselineDateNotFound = errors.New("BL_DATE not found")
	ErrBadBaselineDate      = errors.New("BL_DATE is not formatted YYYYMMDD")
)

const baselineDatePrefix = "BL_DATE="

// FindBaselineDate returns the BL_DATE value assigned in an rt.sh script.
// When the script assigns it more than once the last assignment wins.
func FindBaselineDate(rtScript string) (string, error) {
	f, err := os.Open(rtScript)
	if err != nil {
		return "", &LogReadError{Path: rtScript, Err: err}
	}
	defer f.Close()

	var date string
	found := false
	scanner := newLineScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, baselineDatePrefix) {
			continue
		}
		value := strings.TrimRight(line, "\r\n")
		value = strings.ReplaceAll(value, baselineDatePrefix, "")
		value = strings.Trim(value, " ")
		if _, err := time.Parse("20060102", value); err != nil {
			return "", fmt.Errorf("%w: %q", ErrBadBaselineDate, value)
		}
		date = value
		found = true
	}
	if err := scanner.Err(); err != nil {
		return "", &LogReadError{Path: rtScript, Err: err}
	}
	if !found {
		return "", fmt.Errorf("%w in %s", ErrBaselineDateNotFound, rtScript)
	}

	return date, nil
}
