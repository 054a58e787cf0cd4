// Package watch reruns a task when files under a set of directories change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/l3aro/canary/internal/log"
)

// DefaultDebounce groups the events of one editor save or build step.
const DefaultDebounce = 200 * time.Millisecond

// Options configures Run.
type Options struct {
	// Debounce is the quiet period after the last event before the task runs.
	Debounce time.Duration
	// Match selects the files whose changes trigger the task. Nil matches all.
	Match func(path string) bool
	// Skip excludes directories from watching. Roots are always watched.
	Skip func(dir string) bool
	Logger log.Logger
}

// Run watches roots recursively and calls task after every burst of
// matching changes, until ctx is cancelled. Task errors are logged and do not
// stop the watch. Directories created later are watched as they appear.
func Run(ctx context.Context, roots []string, opts Options, task func(context.Context) error) error {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	for _, root := range roots {
		if err := addTree(w, root, root, opts.Skip); err != nil {
			return err
		}
	}
	opts.Logger.Info("Watching for changes", "dirs", len(w.WatchList()))

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(w, ev.Name, "", opts.Skip); err != nil {
						opts.Logger.Warn("Cannot watch new directory", "dir", ev.Name, "error", err)
					}
					continue
				}
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			if opts.Match != nil && !opts.Match(ev.Name) {
				continue
			}
			opts.Logger.Debug("Change detected", "path", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(opts.Debounce)
			} else {
				timer.Reset(opts.Debounce)
			}
			fire = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			opts.Logger.Warn("Watcher error", "error", err)

		case <-fire:
			fire = nil
			if err := task(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				opts.Logger.Error("Rerun failed", "error", err)
			}
		}
	}
}

// addTree watches dir and every directory below it that skip does not
// exclude. root is never skipped.
func addTree(w *fsnotify.Watcher, dir, root string, skip func(string) bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("watching %s: %w", dir, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skip != nil && skip(path) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}
