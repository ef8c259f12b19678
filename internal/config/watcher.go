package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"keel/internal/logger"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives each successfully reloaded config.
type ReloadFunc func(*Config)

// Watcher re-runs Load whenever the root config file or any included
// fragment changes. Editors often replace files by rename, so it watches
// the parent directories and filters by name.
type Watcher struct {
	path    string
	onLoad  ReloadFunc
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	files   map[string]bool
	pending *time.Timer
}

const reloadDebounce = 300 * time.Millisecond

// Watch starts watching path and its includes until ctx is done. The initial
// load is the caller's job; only subsequent changes trigger onLoad.
func Watch(ctx context.Context, path string, onLoad ReloadFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		path:    path,
		onLoad:  onLoad,
		watcher: fw,
		files:   make(map[string]bool),
	}
	if err := w.rearm(); err != nil {
		fw.Close()
		return nil, err
	}
	go w.loop(ctx)
	return w, nil
}

func (w *Watcher) rearm() error {
	files, err := resolveConfigIncludes(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.files = make(map[string]bool, len(files))
	dirs := make(map[string]bool)
	for _, f := range files {
		w.files[filepath.Clean(f)] = true
		dirs[filepath.Dir(f)] = true
	}
	for dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(evt) {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) relevant(evt fsnotify.Event) bool {
	if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files[filepath.Clean(evt.Name)]
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		logger.Errorf("config reload rejected: %v", err)
		return
	}
	if err := w.rearm(); err != nil {
		logger.Warnf("config watcher rearm failed: %v", err)
	}
	logger.Infof("config reloaded from %s", filepath.Base(w.path))
	if w.onLoad != nil {
		w.onLoad(cfg)
	}
}
