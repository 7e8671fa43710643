package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce is the quiet period after the last file event before a
// reload. Editors often emit several events per save.
const watchDebounce = 150 * time.Millisecond

// Watch watches path, a configuration file or directory, and calls fn with
// the reloaded configuration once changes to YAML files settle. Load
// errors are passed to fn as well. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, fn func(*Config, error)) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	defer w.Close()
	dir := path
	if !info.IsDir() {
		dir = filepath.Dir(path)
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}
	timer := time.NewTimer(watchDebounce)
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
			if !watched(ev, path, info.IsDir()) {
				continue
			}
			timer.Reset(watchDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fn(nil, fmt.Errorf("config: watch: %w", err))
		case <-timer.C:
			fn(Load(path))
		}
	}
}

func watched(ev fsnotify.Event, path string, dir bool) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	if dir {
		return isYAML(ev.Name)
	}
	return filepath.Clean(ev.Name) == filepath.Clean(path)
}
