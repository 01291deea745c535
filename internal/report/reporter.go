// Package report accumulates CI status text for a pull request and posts
// it to an issue tracker as a single comment.
package report

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// Tracker posts a comment and returns its identifier.
type Tracker interface {
	PostComment(ctx context.Context, body string) (string, error)
}

// Reporter batches lines until Flush. It is safe for concurrent use.
type Reporter struct {
	tracker Tracker
	logger  *log.Logger

	mu    sync.Mutex
	lines []string
}

// New creates a reporter that flushes to tracker.
func New(tracker Tracker, logger *log.Logger) *Reporter {
	return &Reporter{tracker: tracker, logger: logger}
}

// Append adds a line to the pending comment. Trailing newlines are
// stripped so log lines can be passed as read.
func (r *Reporter) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, strings.TrimRight(line, "\r\n"))
}

// Appendf formats and appends a line.
func (r *Reporter) Appendf(format string, args ...any) {
	r.Append(fmt.Sprintf(format, args...))
}

// Text returns the pending comment body.
func (r *Reporter) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.lines, "\n")
}

// Len returns the number of pending lines.
func (r *Reporter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines)
}

// Flush posts the pending text as one comment and clears it. An empty
// comment is not posted. On failure the text is kept for a retry.
func (r *Reporter) Flush(ctx context.Context) (string, error) {
	r.mu.Lock()
	if len(r.lines) == 0 {
		r.mu.Unlock()
		return "", nil
	}
	body := strings.Join(r.lines, "\n")
	n := len(r.lines)
	r.mu.Unlock()

	id, err := r.tracker.PostComment(ctx, body)
	if err != nil {
		return "", fmt.Errorf("post comment: %w", err)
	}

	r.mu.Lock()
	// Lines appended while posting stay pending.
	r.lines = append([]string(nil), r.lines[n:]...)
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.Debug("posted comment", "id", id, "lines", n)
	}
	return id, nil
}
