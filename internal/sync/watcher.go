package sync

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/wippyhq/registry-governor/internal/logger"
)

// Watcher observes the source tree and reports when its contents drift from
// the last synchronized state. The coordinator uses it to maintain the
// filesystem_changes_pending hint.
type Watcher struct {
	dir     string
	watcher *fsnotify.Watcher
	notify  func()
}

// NewWatcher starts watching dir recursively; notify fires once for every
// observed event other than one on the lock file
func NewWatcher(dir string, notify func()) (*Watcher, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{dir: dir, watcher: fsw, notify: notify}
	if err := w.addRecursive(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

// Run pumps watcher events until the context is cancelled
func (w *Watcher) Run(ctx context.Context) {
	defer func() {
		_ = w.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if strings.HasSuffix(event.Name, lockFileName) {
				continue
			}
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						logger.Warnw("Failed to watch new directory", "path", event.Name, "error", err)
					}
				}
			}
			w.notify()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnw("Filesystem watcher error", "dir", w.dir, "error", err)
		}
	}
}
