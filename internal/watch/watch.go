// Package watch waits on filesystem changes around experiment output
// directories.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultRecheck is how often WaitForDir stats the target even without
// an event. Network filesystems on HPC login nodes often drop inotify
// events for changes made from compute nodes.
const DefaultRecheck = 15 * time.Second

// ErrNotDir is returned when the target exists but is not a directory.
var ErrNotDir = errors.New("not a directory")

// WaitForDir blocks until path exists as a directory or ctx is done.
// It watches the nearest existing ancestor and re-stats the target after
// every event and every recheck tick.
func WaitForDir(ctx context.Context, path string, recheck time.Duration) error {
	if recheck <= 0 {
		recheck = DefaultRecheck
	}
	path = filepath.Clean(path)

	if ok, err := isDir(path); ok || err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Continue without watcher - polling only
		return pollForDir(ctx, path, recheck)
	}
	defer watcher.Close()

	watched := ""
	rewatch := func() {
		anc := nearestAncestor(path)
		if anc == watched {
			return
		}
		if watched != "" {
			_ = watcher.Remove(watched)
		}
		if err := watcher.Add(anc); err == nil {
			watched = anc
		} else {
			watched = ""
		}
	}
	rewatch()

	ticker := time.NewTicker(recheck)
	defer ticker.Stop()

	for {
		// The directory may have appeared between the first stat and Add.
		if ok, err := isDir(path); ok || err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-watcher.Events:
			if !ok {
				return pollForDir(ctx, path, recheck)
			}
			rewatch()
		case _, ok := <-watcher.Errors:
			if !ok {
				return pollForDir(ctx, path, recheck)
			}
			// Ignore errors, keep watching
		case <-ticker.C:
			rewatch()
		}
	}
}

func pollForDir(ctx context.Context, path string, recheck time.Duration) error {
	ticker := time.NewTicker(recheck)
	defer ticker.Stop()
	for {
		if ok, err := isDir(path); ok || err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// isDir reports whether path is a directory. A missing path is not an
// error; a path that exists as something else is.
func isDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, nil
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%s: %w", path, ErrNotDir)
	}
	return true, nil
}

// nearestAncestor returns the deepest existing directory above path.
func nearestAncestor(path string) string {
	dir := filepath.Dir(path)
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
