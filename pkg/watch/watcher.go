// Package watch notices edits to the local data file made by other processes.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// FileWatcher calls a function once a burst of changes to a single file has
// settled. The parent directory is watched so atomic replace-by-rename is seen.
type FileWatcher struct {
	path     string
	debounce time.Duration
	onChange func()
	log      log.FieldLogger

	watcher *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer
}

// New creates a watcher for path. onChange runs on its own goroutine after
// debounce has passed without further events.
func New(path string, debounce time.Duration, onChange func(), logger log.FieldLogger) (*FileWatcher, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	return &FileWatcher{
		path:     abs,
		debounce: debounce,
		onChange: onChange,
		log:      logger.WithField("component", "watch"),
		watcher:  w,
	}, nil
}

// Run processes events until ctx is cancelled, then releases the watcher.
func (fw *FileWatcher) Run(ctx context.Context) error {
	defer fw.stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return nil
			}
			if fw.relevant(event) {
				fw.schedule()
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return nil
			}
			fw.log.WithError(err).Warn("File watcher error")
		}
	}
}

func (fw *FileWatcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != fw.path {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename)
}

func (fw *FileWatcher) schedule() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.timer = time.AfterFunc(fw.debounce, func() {
		fw.log.WithField("path", fw.path).Debug("Data file changed")
		fw.onChange()
	})
}

func (fw *FileWatcher) stop() {
	fw.mu.Lock()
	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.mu.Unlock()
	fw.watcher.Close()
}
