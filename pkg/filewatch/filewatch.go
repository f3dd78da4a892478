package filewatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Files calls onEvent with the path each time one of paths is written or
// re-created. It runs until ctx is cancelled. Every path must exist when
// Files is called.
//
// The parent directories are watched rather than the files, so a save by
// rename keeps being observed after the original inode is gone.
func Files(ctx context.Context, paths []string, onEvent func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("filewatch: %w", err)
	}
	defer watcher.Close()

	watched := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("filewatch: %w", err)
		}
		name := filepath.Clean(p)
		watched[name] = true
		dir := filepath.Dir(name)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("filewatch: %s: %w", dir, err)
		}
		dirs[dir] = true
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// A save by rename shows up as Create on the target name.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Clean(event.Name)
			if !watched[name] {
				continue
			}

			onEvent(name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("filewatch: watcher error", "err", err)
		}
	}
}

// Watch reloads path with load each time it changes and hands the result to
// onChange. A failed load is logged and skipped, so the caller keeps its
// previous value. It runs until ctx is cancelled.
func Watch[T any](ctx context.Context, path string, load func(string) (T, error), onChange func(T)) error {
	slog.Info("filewatch: watching for changes", "path", path)
	return Files(ctx, []string{path}, func(p string) {
		v, err := load(p)
		if err != nil {
			slog.Error("filewatch: reload failed, keeping previous value", "path", p, "err", err)
			return
		}
		slog.Info("filewatch: reloaded", "path", p)
		onChange(v)
	})
}
