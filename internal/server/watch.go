package server

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events an editor save produces.
const reloadDebounce = 250 * time.Millisecond

// watch reloads the jobs whenever the script file changes. The directory
// is watched rather than the file so atomic renames are seen.
func (a *App) watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	path, err := filepath.Abs(a.cfg.Script)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", a.cfg.Script, err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}
	a.logger.Info("watching script for changes", "path", path)

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !scriptChanged(ev, path) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			pending = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("watcher error", "error", err)
		case <-pending:
			pending = nil
			if err := a.Reload(ctx); err != nil {
				a.logger.Error("reload failed, keeping current jobs", "path", path, "error", err)
				continue
			}
			a.logger.Info("script reloaded", "path", path)
		}
	}
}

func scriptChanged(ev fsnotify.Event, path string) bool {
	name, err := filepath.Abs(ev.Name)
	if err != nil || name != path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}
