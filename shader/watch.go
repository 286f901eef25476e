package shader

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/gogpu/shaderbox/internal/logging"
)

// Watcher recompiles library programs when their source files change.
//
// Directories are watched rather than files, so editors that save by
// writing a new file and renaming it over the old one are seen too.
type Watcher struct {
	lib *Library
	log *slog.Logger
	fs  *fsnotify.Watcher

	mu    sync.Mutex
	paths map[string][]string // cleaned path -> program names
	dirs  map[string]bool

	// Reloaded, if set, is called after every reload attempt.
	Reloaded func(name string, err error)
}

// NewWatcher creates a watcher for lib.
func NewWatcher(lib *Library, log *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("shader: create watcher: %w", err)
	}
	return &Watcher{
		lib:   lib,
		log:   logging.OrDiscard(log),
		fs:    fw,
		paths: make(map[string][]string),
		dirs:  make(map[string]bool),
	}, nil
}

// Watch starts watching the source of the program registered as name.
func (w *Watcher) Watch(name string) error {
	path, ok := w.lib.Path(name)
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownProgram, name)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("shader: watch %s: %w", path, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	dir := filepath.Dir(abs)
	if !w.dirs[dir] {
		if err := w.fs.Add(dir); err != nil {
			return fmt.Errorf("shader: watch %s: %w", dir, err)
		}
		w.dirs[dir] = true
	}
	w.paths[abs] = append(w.paths[abs], name)
	w.log.Debug("shader: watching", "name", name, "path", abs)
	return nil
}

// Run handles file events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.mu.Lock()
			names := append([]string(nil), w.paths[filepath.Clean(ev.Name)]...)
			w.mu.Unlock()
			for _, name := range names {
				err := w.lib.Reload(name)
				if err == nil {
					w.log.Info("shader: source changed, reload staged", "name", name)
				}
				if w.Reloaded != nil {
					w.Reloaded(name, err)
				}
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("shader: watcher error", "err", err)
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fs.Close()
}
