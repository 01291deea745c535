package watch

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StopFile derives a context that is canceled once path exists. Operators
// create the file (autoci stop) to end a poll session from another shell.
// The returned cancel func releases the watcher.
func StopFile(parent context.Context, path string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	if path == "" {
		return ctx, cancel
	}
	if exists(path) {
		cancel()
		return ctx, cancel
	}

	go func() {
		watcher, err := fsnotify.NewWatcher()
		if err == nil {
			if err := watcher.Add(filepath.Dir(path)); err != nil {
				watcher.Close()
				watcher = nil
			} else {
				defer watcher.Close()
			}
		} else {
			watcher = nil
		}

		// Check file directly in case the watcher missed it
		ticker := time.NewTicker(DefaultRecheck)
		defer ticker.Stop()

		var events chan fsnotify.Event
		var errs chan error
		if watcher != nil {
			events = watcher.Events
			errs = watcher.Errors
		}

		for {
			if exists(path) {
				cancel()
				return
			}
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				if filepath.Clean(ev.Name) == filepath.Clean(path) &&
					(ev.Op&fsnotify.Create != 0 || ev.Op&fsnotify.Write != 0) {
					cancel()
					return
				}
			case _, ok := <-errs:
				if !ok {
					errs = nil
				}
			case <-ticker.C:
			}
		}
	}()

	return ctx, cancel
}

// RaiseStop creates the stop file at path.
func RaiseStop(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0644)
}

// ClearStop removes a stale stop file. A missing file is not an error.
func ClearStop(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
