package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file into a Holder when it changes on disk.
// The containing directory is watched, not the file itself — editors and
// config management tools replace files via rename, which would silently
// detach a file-level watch.
type Watcher struct {
	holder  *Holder
	logger  *slog.Logger
	watcher *fsnotify.Watcher
}

// NewWatcher starts watching the holder's config file. Call Run to
// process events and Close to stop.
func NewWatcher(holder *Holder, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fw.Add(filepath.Dir(holder.Path())); err != nil {
		fw.Close()
		return nil, err
	}

	return &Watcher{holder: holder, logger: logger, watcher: fw}, nil
}

// Run processes filesystem events until the context is cancelled or the
// watcher is closed. A failed reload keeps the previous config: a half-
// saved file must not take down a running client.
func (w *Watcher) Run(ctx context.Context) {
	target := filepath.Clean(w.holder.Path())

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != target {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

			w.logger.Warn("config watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.holder.Path())
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous config", "error", err)
		return
	}

	w.holder.Update(cfg)
	w.logger.Info("config reloaded", "path", w.holder.Path())
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
