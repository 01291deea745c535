package expt

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"
)

// WriteYAML encodes the summary as YAML.
func (s *Summary) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return enc.Close()
}

// WriteSummaryFile writes the summary to path, creating parent
// directories as needed.
func WriteSummaryFile(path string, s *Summary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create summary directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create summary file: %w", err)
	}
	if err := s.WriteYAML(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadSummaryFile loads a summary written by WriteSummaryFile.
func ReadSummaryFile(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read summary file: %w", err)
	}

	var s Summary
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &s, nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pending":
		*s = StatePending
	case "completed":
		*s = StateCompleted
	case "failed":
		*s = StateFailed
	case "unknown":
		*s = StateUnknown
	default:
		return fmt.Errorf("unknown experiment state %q", text)
	}
	return nil
}
