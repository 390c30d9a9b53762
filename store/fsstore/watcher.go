package fsstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watcher drops cached fragments when their files change.
type watcher struct {
	fs    *fsnotify.Watcher
	store *Store
	done    chan struct{}
	once    sync.Once
	started atomic.Bool
}

func newWatcher(s *Store) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &watcher{fs: fsw, store: s, done: make(chan struct{})}, nil
}

func (w *watcher) start(ctx context.Context) error {
	if err := w.watchDirRecursive(w.store.root); err != nil {
		return err
	}
	w.store.log.Info("watching fragments", zap.String("dir", w.store.root))
	w.started.Store(true)
	go w.eventLoop(ctx)
	return nil
}

func (w *watcher) close() error {
	var err error
	w.once.Do(func() {
		err = w.fs.Close()
		if w.started.Load() {
			<-w.done
		}
	})
	return err
}

// watchDirRecursive adds a directory and its subdirectories to the watch list
func (w *watcher) watchDirRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if strings.HasPrefix(info.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return w.fs.Add(path)
		}
		return nil
	})
}

func (w *watcher) eventLoop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.store.log.Warn("fragment watcher error", zap.Error(err))
		}
	}
}

func (w *watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watchDirRecursive(event.Name); err != nil {
				w.store.log.Warn("failed to watch new dir", zap.String("dir", event.Name), zap.Error(err))
			}
			return
		}
	}
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		// A removed directory takes every fragment under it.
		if id, ok := w.store.idFor(event.Name); ok {
			w.store.cache.Invalidate(id)
		} else if rel, err := filepath.Rel(w.store.root, event.Name); err == nil && !strings.HasPrefix(rel, "..") {
			w.store.cache.InvalidatePrefix(filepath.ToSlash(rel) + "/")
		}
		return
	}
	if id, ok := w.store.idFor(event.Name); ok {
		w.store.cache.Invalidate(id)
		w.store.log.Debug("fragment changed", zap.String("id", id))
	}
}
