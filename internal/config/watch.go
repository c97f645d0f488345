package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the bursts of events editors produce on save.
var reloadDelay = 250 * time.Millisecond

// Watch reloads the configuration at path whenever it or a file in its
// checks_dir changes, and hands every configuration that loads cleanly to
// onChange. A broken edit is logged and the previous configuration stays
// in effect. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config), overrides ...Override) error {
	if logger == nil {
		logger = slog.Default()
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	// Watch directories, not files: editors replace files on save.
	watched := map[string]bool{}
	watch := func(dir string) {
		if dir == "" || watched[dir] {
			return
		}
		if err := w.Add(dir); err != nil {
			logger.Warn("watching directory", "dir", dir, "error", err)
			return
		}
		watched[dir] = true
	}
	watch(filepath.Dir(path))
	checksDir := ""
	if cfg, err := Load(path, overrides...); err == nil {
		checksDir = cfg.Options.ChecksDir
		watch(checksDir)
	}

	relevant := func(name string) bool {
		name = filepath.Clean(name)
		if name == path {
			return true
		}
		ext := filepath.Ext(name)
		return checksDir != "" && filepath.Dir(name) == filepath.Clean(checksDir) && (ext == ".yaml" || ext == ".yml")
	}

	fire := make(chan struct{}, 1)
	timer := time.AfterFunc(time.Hour, func() {
		select {
		case fire <- struct{}{}:
		default:
		}
	})
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod || !relevant(ev.Name) {
				continue
			}
			timer.Reset(reloadDelay)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher", "error", err)
		case <-fire:
			cfg, err := Load(path, overrides...)
			if err != nil {
				logger.Error("reloading config, keeping the previous one", "path", path, "error", err)
				continue
			}
			checksDir = cfg.Options.ChecksDir
			watch(checksDir)
			logger.Info("config reloaded", "path", path, "checks", len(cfg.Checks()))
			onChange(cfg)
		}
	}
}
