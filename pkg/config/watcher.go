package config

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"hivecore/pkg/logging"
)

const defaultDebounce = 100 * time.Millisecond

// FileWatcher runs callbacks when watched files change. Events are debounced
// so an editor's write-rename-chmod burst triggers one callback per file.
// Directories are watched instead of files so replaced files keep firing.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	callbacks map[string][]func()
	dirs      map[string]bool
	mu        sync.RWMutex
	debounce  time.Duration
	logger    logging.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
}

func NewFileWatcher(logger logging.Logger) *FileWatcher {
	return &FileWatcher{
		callbacks: make(map[string][]func()),
		dirs:      make(map[string]bool),
		debounce:  defaultDebounce,
		logger:    logging.OrNoOp(logger),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (w *FileWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()
	go w.watchLoop()
	return nil
}

func (w *FileWatcher) Watch(path string, cb func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return errors.New("file watcher not started")
	}
	dir := filepath.Dir(abs)
	if !w.dirs[dir] {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
		w.dirs[dir] = true
	}
	w.callbacks[abs] = append(w.callbacks[abs], cb)
	return nil
}

func (w *FileWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.RLock()
		watcher := w.watcher
		w.mu.RUnlock()
		if watcher != nil {
			_ = watcher.Close()
			<-w.done
		}
	})
}

func (w *FileWatcher) watchLoop() {
	defer close(w.done)
	var (
		pendingMu sync.Mutex
		pending   = make(map[string]bool)
		timer     *time.Timer
	)
	fire := func() {
		pendingMu.Lock()
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		pending = make(map[string]bool)
		timer = nil
		pendingMu.Unlock()

		for _, p := range paths {
			w.mu.RLock()
			cbs := append([]func(){}, w.callbacks[p]...)
			w.mu.RUnlock()
			for _, cb := range cbs {
				cb()
			}
		}
	}

	for {
		select {
		case <-w.stopCh:
			pendingMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			pendingMu.Unlock()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Clean(event.Name)
			w.mu.RLock()
			_, watched := w.callbacks[name]
			w.mu.RUnlock()
			if !watched {
				continue
			}
			pendingMu.Lock()
			pending[name] = true
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			}
			pendingMu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}
