package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cubicler/cubicler/pkg/logging"
)

// Invalidator is anything whose cached snapshot can be dropped.
type Invalidator interface {
	Invalidate()
}

// Watcher monitors a local configuration file and invalidates repositories
// when it changes, so the next read reloads immediately instead of waiting
// out the TTL.
type Watcher struct {
	path     string
	targets  []Invalidator
	logger   *slog.Logger
	debounce time.Duration
}

// NewWatcher creates a watcher for a local config source. Returns nil for
// remote (http/https) sources, which only refresh via TTL.
func NewWatcher(source string, targets ...Invalidator) *Watcher {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return nil
	}
	return &Watcher{
		path:     source,
		targets:  targets,
		logger:   logging.NewDiscardLogger(),
		debounce: 300 * time.Millisecond,
	}
}

// SetLogger sets the logger for watcher events.
func (w *Watcher) SetLogger(logger *slog.Logger) {
	if logger != nil {
		w.logger = logger
	}
}

// Watch blocks until the context is cancelled, invalidating targets after
// each (debounced) change to the file.
//
// We watch the parent directory rather than the file directly because most
// editors use atomic saves (write to temp file, then rename). When a file is
// renamed over the watched file, fsnotify loses track of it. Watching the
// directory catches all events including renames.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	filename := filepath.Base(w.path)

	if err := watcher.Add(dir); err != nil {
		return err
	}

	w.logger.Info("watching for config changes", "path", w.path)

	var debounceTimer *time.Timer
	var debounceChan <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stopping config watcher")
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Base(event.Name) != filename {
				continue
			}

			// Create handles atomic saves where a temp file is renamed over
			// the target. Write handles direct writes.
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.logger.Debug("config file changed", "event", event.Op.String())

				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.NewTimer(w.debounce)
				debounceChan = debounceTimer.C
			}

		case <-debounceChan:
			w.logger.Info("config change detected, invalidating cache")
			for _, t := range w.targets {
				t.Invalidate()
			}
			debounceChan = nil

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}
