package job

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rrfs-ci/autoci/internal/git"
)

// checkout is where a job cloned its repository.
type checkout struct {
	// Dir is <workdir>/pr/<pr id>/<timestamp>.
	Dir string
	// Location is Dir/<app name>.
	Location string
}

func newCheckout(jc *Context) checkout {
	dir := filepath.Join(jc.Workdir, "pr",
		fmt.Sprintf("%d", jc.PR.ID),
		jc.now().Format("20060102150405"))
	return checkout{Dir: dir, Location: filepath.Join(dir, jc.Repo.AppName())}
}

func (r *Runner) prepareCheckout(jc *Context) (checkout, error) {
	co := newCheckout(jc)
	if err := os.MkdirAll(co.Dir, 0755); err != nil {
		return co, fmt.Errorf("create clone directory: %w", err)
	}
	r.reporter.Append("Repo location: " + co.Location)
	r.logger.Info("cloning", "dir", co.Location)
	return co, nil
}

// clonePR clones the pull request's head branch with submodules and sets
// the committer identity used by rt.sh when it commits logs.
func (r *Runner) clonePR(ctx context.Context, jc *Context) (checkout, error) {
	co, err := r.prepareCheckout(jc)
	if err != nil {
		return co, err
	}

	url := git.GitHubURL(jc.PR.HeadRepoFullName)
	if err := r.git.Clone(ctx, co.Dir, url, jc.PR.HeadRef, jc.Repo.AppName()); err != nil {
		return co, err
	}
	if err := r.git.SubmoduleUpdate(ctx, co.Location); err != nil {
		return co, err
	}
	if r.settings.GitEmail != "" {
		if err := r.git.SetConfig(ctx, co.Location, "user.email", r.settings.GitEmail); err != nil {
			return co, err
		}
	}
	if r.settings.GitUser != "" {
		if err := r.git.SetConfig(ctx, co.Location, "user.name", r.settings.GitUser); err != nil {
			return co, err
		}
	}
	return co, nil
}

// cloneApp clones the configured application branch, pins the external
// that the pull request changes to the PR head, and checks out the rest
// of the externals.
func (r *Runner) cloneApp(ctx context.Context, jc *Context) (checkout, error) {
	co, err := r.prepareCheckout(jc)
	if err != nil {
		return co, err
	}

	url := git.GitHubURL(jc.Repo.AppAddress)
	if err := r.git.Clone(ctx, co.Dir, url, jc.Repo.AppBranch, jc.Repo.AppName()); err != nil {
		return co, err
	}

	pin := ExternalPin{
		Section: jc.PR.HeadRepoName,
		Hash:    jc.PR.HeadSHA,
		RepoURL: git.GitHubURL(jc.PR.HeadRepoFullName),
	}
	if pin.Section != "" && pin.Hash != "" {
		updated, err := PinExternal(filepath.Join(co.Location, ExternalsFile), pin)
		if err != nil {
			return co, err
		}
		if updated {
			r.logger.Info("pinned external", "section", pin.Section, "hash", pin.Hash)
		} else {
			r.logger.Info("external not pinned, no such file or section", "section", pin.Section)
		}
	}

	if err := r.shell(ctx, co.Location, "./manage_externals/checkout_externals"); err != nil {
		return co, err
	}
	return co, nil
}
