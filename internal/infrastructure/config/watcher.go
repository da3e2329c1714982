package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/antigravity-gateway/gateway/pkg/safego"
)

// Watcher watches a single file on disk and invokes onChange whenever it is
// rewritten, so an operator editing it by hand (e.g. the token store file,
// or via the admin CLI) doesn't need to restart the process to pick up the
// change.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	logger  *zap.Logger
}

// NewWatcher starts watching the directory containing path (fsnotify
// watches directories, not files, to survive editors that replace the file
// via rename-on-save).
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{watcher: fw, path: filepath.Clean(path), logger: logger.With(zap.String("component", "config-watcher"))}, nil
}

// Run starts a panic-safe background goroutine that invokes onChange each
// time path is written or renamed into place, until Close is called.
func (w *Watcher) Run(onChange func()) {
	safego.Go(w.logger, "config-watcher", func() {
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != w.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				w.logger.Info("config file changed", zap.String("path", w.path))
				onChange()
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("config watcher error", zap.Error(err))
			}
		}
	})
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
