package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the riverlevels config at path whenever it is written or
// replaced, and hands each successfully parsed Config to onChange. It blocks
// until ctx is cancelled.
//
// The parent directory is watched, not the file, so editors that save by
// writing a new file and renaming it over the old one are still seen.
// Events for other files in the directory are ignored. A config that fails
// to load or validate is logged and skipped; the caller keeps using its
// current monitors. Each reload logs the new monitor count.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	path = filepath.Clean(ExpandHome(path))
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	slog.Info("config: watching for changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !touchesConfig(event, path) {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				slog.Error("config: reload failed, monitors unchanged", "path", path, "err", err)
				continue
			}
			slog.Info("config: reloaded", "path", path, "monitors", len(cfg.Monitors))
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

// touchesConfig reports whether event wrote or created the config file.
func touchesConfig(event fsnotify.Event, path string) bool {
	if filepath.Clean(event.Name) != path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create)
}
