package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/lodeworks/lode/pkg/engine"
	"github.com/lodeworks/lode/pkg/observability"
)

// Watcher hot-reloads the definition file into a running engine. Editors and
// config-management tools replace files rather than writing in place, so the
// watch is on the parent directory and filtered by name.
type Watcher struct {
	path    string
	builder *Builder
	engine  *engine.Engine
	logger  *observability.Logger

	fw *fsnotify.Watcher
}

// NewWatcher creates a watcher for path that rebuilds apis into e on change.
func NewWatcher(path string, builder *Builder, e *engine.Engine, logger *observability.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating definitions watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %q: %w", filepath.Dir(path), err)
	}
	return &Watcher{path: path, builder: builder, engine: e, logger: logger, fw: fw}, nil
}

// Run processes change events until ctx is done. A failed reload keeps the
// last good apis in place.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fw.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Error("definitions watcher error")
		}
	}
}

// Reload forces an immediate reload, for SIGHUP handling.
func (w *Watcher) Reload() { w.reload() }

func (w *Watcher) reload() {
	// A panic out of a user-supplied definition must not kill the watch loop.
	defer observability.RecoverPanic(w.logger, "definitions reload")

	defs, err := LoadDefinitions(w.path)
	if err != nil {
		w.logger.WithError(err).Error("definitions reload failed, keeping previous apis")
		return
	}
	apis, err := w.builder.Build(defs)
	if err != nil {
		w.logger.WithError(err).Error("definitions rebuild failed, keeping previous apis")
		return
	}
	w.engine.ReplaceApis(apis)
	w.logger.WithField("apis", len(apis)).Info("definitions reloaded")
}
