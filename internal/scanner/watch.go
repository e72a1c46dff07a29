package scanner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/llehouerou/shelf/internal/tags"
)

// DefaultDebounce is how long the watcher waits for a burst of file events
// to settle before scanning.
const DefaultDebounce = 2 * time.Second

// Watch keeps the library in sync with roots: every burst of filesystem
// events triggers one incremental scan. It returns when ctx is done.
func (s *Service) Watch(ctx context.Context, roots []string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	roots = normalizeRoots(roots)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, r := range roots {
		addTree(w, r)
	}
	log.WithField("roots", roots).Info("watching for changes")

	var (
		timer   = time.NewTimer(debounce)
		pending <-chan Result
		dirty   bool
	)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if pending != nil {
				<-pending
			}
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					addTree(w, ev.Name)
				}
			}
			log.WithField("path", ev.Name).WithField("op", ev.Op.String()).Debug("library changed")
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("file watcher error")

		case <-timer.C:
			if pending != nil {
				dirty = true
				continue
			}
			pending = s.Start(ctx, roots, RunOptions{})

		case res := <-pending:
			pending = nil
			switch {
			case errors.Is(res.Err, ErrScanInProgress):
				dirty = true
			case res.Err != nil && ctx.Err() == nil:
				log.WithError(res.Err).Warn("scan after change failed")
			}
			if dirty {
				dirty = false
				timer.Reset(debounce)
			}
		}
	}
}

// relevant filters out events that cannot change the library, like chmod or
// a text file being written.
func relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	if tags.IsMusicFile(ev.Name) {
		return true
	}
	// Directories have no extension worth checking; a removed or renamed
	// one can no longer be stat'ed, so anything extensionless counts.
	return filepath.Ext(ev.Name) == "" || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

// addTree watches dir and every directory below it. fsnotify is not
// recursive.
func addTree(w *fsnotify.Watcher, dir string) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.WithField("path", path).WithError(err).Debug("cannot watch")
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.Add(path); err != nil {
			log.WithField("path", path).WithError(err).Warn("cannot watch directory")
		}
		return nil
	})
	if err != nil {
		log.WithField("path", dir).WithError(err).Warn("cannot watch tree")
	}
}
