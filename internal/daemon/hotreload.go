package daemon

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes a single file (the store file or config.toml) and invokes onChanged
// after a debounce window, trimmed to the one path this store needs to react to: its
// own storage directory.
type Watcher struct {
	watcher   *fsnotify.Watcher
	path      string
	debounce  time.Duration
	onChanged func()

	mu      sync.Mutex
	timer   *time.Timer
	done    chan struct{}
	closeMu sync.Once
}

// NewWatcher watches path's parent directory (so creates/renames are caught) and calls
// onChanged, debounced by debounce, whenever path itself is written, created, or
// removed. Falls back to returning a nil *Watcher with a non-nil error when fsnotify
// is unavailable; callers should treat that as "hot reload disabled", not fatal.
func NewWatcher(path string, debounce time.Duration, onChanged func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, err
	}
	w := &Watcher{
		watcher:   fw,
		path:      path,
		debounce:  debounce,
		onChanged: onChanged,
		done:      make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.onChanged)
}

// Close stops the watcher goroutine and releases the fsnotify handle.
func (w *Watcher) Close() error {
	w.closeMu.Do(func() { close(w.done) })
	return w.watcher.Close()
}

// StatSnapshot is a cheap existence/mtime probe used by status reporting when a
// filesystem-event watcher could not be established (fsnotify unsupported).
func StatSnapshot(path string) (exists bool, modTime time.Time) {
	info, err := os.Stat(path)
	if err != nil {
		return false, time.Time{}
	}
	return true, info.ModTime()
}
