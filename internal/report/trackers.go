package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/rrfs-ci/autoci/internal/exec"
)

// GitHubTracker posts issue comments with the gh CLI.
type GitHubTracker struct {
	// Repo is owner/name.
	Repo string
	// Issue is the issue or pull request number.
	Issue int

	cmd exec.CommandRunner
}

// NewGitHubTracker creates a tracker for repo#issue.
func NewGitHubTracker(cmd exec.CommandRunner, repo string, issue int) *GitHubTracker {
	return &GitHubTracker{Repo: repo, Issue: issue, cmd: cmd}
}

// PostComment creates the comment and returns its numeric id.
func (g *GitHubTracker) PostComment(ctx context.Context, body string) (string, error) {
	if g.Repo == "" || g.Issue <= 0 {
		return "", fmt.Errorf("github tracker needs repo and issue, have %q #%d", g.Repo, g.Issue)
	}

	f, err := os.CreateTemp("", "autoci-comment-*.md")
	if err != nil {
		return "", fmt.Errorf("create comment body file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(body); err != nil {
		f.Close()
		return "", fmt.Errorf("write comment body: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("write comment body: %w", err)
	}

	endpoint := fmt.Sprintf("repos/%s/issues/%d/comments", g.Repo, g.Issue)
	out, err := g.cmd.Run(ctx, "", "gh", "api", "--method", "POST", endpoint,
		"-F", "body=@"+f.Name(), "--jq", ".id")
	if err != nil {
		return "", fmt.Errorf("gh api %s: %w: %s", endpoint, err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// FileTracker appends comments to a local file. It stands in for the
// issue tracker on machines without gh credentials.
type FileTracker struct {
	Path string
	now  func() time.Time
}

// NewFileTracker creates a tracker writing to path.
func NewFileTracker(path string) *FileTracker {
	return &FileTracker{Path: path, now: time.Now}
}

// PostComment appends a delimited comment block and returns a fresh id.
func (f *FileTracker) PostComment(_ context.Context, body string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0755); err != nil {
		return "", fmt.Errorf("create comment directory: %w", err)
	}
	file, err := os.OpenFile(f.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("open comment file: %w", err)
	}
	defer file.Close()

	id := uuid.New().String()
	block := fmt.Sprintf("--- comment %s at %s ---\n%s\n", id, f.now().UTC().Format(time.RFC3339), body)
	if _, err := file.WriteString(block); err != nil {
		return "", fmt.Errorf("write comment file: %w", err)
	}
	return id, nil
}

// ConsoleTracker prints comments to a writer, highlighting success and
// failure lines.
type ConsoleTracker struct {
	w io.Writer
}

// NewConsoleTracker creates a tracker printing to w.
func NewConsoleTracker(w io.Writer) *ConsoleTracker {
	return &ConsoleTracker{w: w}
}

var (
	failColor = color.New(color.FgRed, color.Bold)
	okColor   = color.New(color.FgGreen)
	headColor = color.New(color.FgCyan, color.Bold)
)

// PostComment prints body and returns a fresh id.
func (c *ConsoleTracker) PostComment(_ context.Context, body string) (string, error) {
	id := uuid.New().String()
	if _, err := headColor.Fprintf(c.w, "=== comment %s ===\n", id); err != nil {
		return "", err
	}
	for _, line := range strings.Split(body, "\n") {
		var err error
		switch {
		case strings.Contains(line, "FAIL") || strings.Contains(line, "failed"):
			_, err = failColor.Fprintln(c.w, line)
		case strings.Contains(line, "successful") || strings.Contains(line, "Successful") ||
			strings.HasPrefix(line, "Experiment done"):
			_, err = okColor.Fprintln(c.w, line)
		default:
			_, err = fmt.Fprintln(c.w, line)
		}
		if err != nil {
			return "", err
		}
	}
	return id, nil
}

var (
	_ Tracker = (*GitHubTracker)(nil)
	_ Tracker = (*FileTracker)(nil)
	_ Tracker = (*ConsoleTracker)(nil)
)

// TrackerOptions selects and configures a tracker.
type TrackerOptions struct {
	// Kind is github, file, or console.
	Kind  string
	Repo  string
	Issue int
	File  string
}

// NewTracker builds the tracker named by opts.Kind.
func NewTracker(opts TrackerOptions, cmd exec.CommandRunner, console io.Writer) (Tracker, error) {
	switch strings.ToLower(opts.Kind) {
	case "github", "gh":
		return NewGitHubTracker(cmd, opts.Repo, opts.Issue), nil
	case "file":
		if opts.File == "" {
			return nil, fmt.Errorf("file tracker needs a path")
		}
		return NewFileTracker(opts.File), nil
	case "", "console":
		return NewConsoleTracker(console), nil
	default:
		return nil, fmt.Errorf("unknown tracker %q", opts.Kind)
	}
}
