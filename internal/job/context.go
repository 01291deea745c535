// Package job runs the CI actions requested on a pull request: regression
// tests, baseline creation, builds, and end-to-end workflow experiments.
package job

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Action is the CI action named in a pull request label or comment.
type Action string

const (
	// ActionRT runs the regression tests against existing baselines.
	ActionRT Action = "RT"
	// ActionBL runs the regression tests in create-baseline mode.
	ActionBL Action = "BL"
	// ActionBuild builds the application with the PR's component.
	ActionBuild Action = "BUILD"
	// ActionWE builds, then launches and polls end-to-end experiments.
	ActionWE Action = "WE"
)

// ErrUnknownAction is returned by ParseAction.
var ErrUnknownAction = errors.New("unknown action")

// ParseAction accepts an action name in any case.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(s))); a {
	case ActionRT, ActionBL, ActionBuild, ActionWE:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}

// PullRequest identifies the pull request under test.
type PullRequest struct {
	// ID is the repository-independent pull request id. Clone paths use it.
	ID     int64
	Number int
	// HeadRepoFullName is owner/name of the PR's source repository.
	HeadRepoFullName string
	// HeadRepoName is the bare repository name. It names the
	// Externals.cfg section a BUILD or WE job rewrites.
	HeadRepoName string
	HeadRef      string
	HeadSHA      string
}

// Repo describes the application repository the CI is configured for.
type Repo struct {
	// AppAddress is owner/name, e.g. ufs-community/ufs-srweather-app.
	AppAddress string
	AppBranch  string
}

// AppName returns the name part of AppAddress.
func (r Repo) AppName() string {
	if i := strings.LastIndex(r.AppAddress, "/"); i >= 0 {
		return r.AppAddress[i+1:]
	}
	return r.AppAddress
}

// Context is everything a job needs to know about the request. Jobs treat
// it as read-only.
type Context struct {
	Machine  string
	Compiler string
	// Workdir is resolved from Machine when empty.
	Workdir string
	Action  Action
	PR      PullRequest
	Repo    Repo
	// User owns the regression scratch area; $USER when empty.
	User string
	// Now stamps clone directories; time.Now when nil.
	Now func() time.Time
}

// Validate checks the fields every action needs, plus the action's own.
func (c *Context) Validate() error {
	var missing []string
	if c.Machine == "" {
		missing = append(missing, "machine")
	}
	if c.PR.ID == 0 {
		missing = append(missing, "pr id")
	}
	if c.Repo.AppAddress == "" || !strings.Contains(c.Repo.AppAddress, "/") {
		missing = append(missing, "app address (owner/name)")
	}

	switch c.Action {
	case ActionRT, ActionBL:
		if c.PR.HeadRepoFullName == "" {
			missing = append(missing, "head repo")
		}
		if c.PR.HeadRef == "" {
			missing = append(missing, "head ref")
		}
	case ActionBuild, ActionWE:
		if c.Repo.AppBranch == "" {
			missing = append(missing, "app branch")
		}
	case "":
		missing = append(missing, "action")
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, c.Action)
	}

	if len(missing) > 0 {
		return fmt.Errorf("job context missing %s", strings.Join(missing, ", "))
	}

	if c.Action == ActionRT || c.Action == ActionBL {
		if err := CheckCompiler(c.Compiler); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
