package server

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lexcodex/acelens/framework/apimap"
)

const defaultDebounce = 200 * time.Millisecond

// SourceWatcher calls onChange after the declarations or loaders file is
// written, created, removed, or renamed. Bursts within the debounce window
// collapse into one call. Directories are watched rather than files so that
// editors replacing a file by rename are still seen.
type SourceWatcher struct {
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration
	targets   map[string]bool
	onChange  func()
	logger    *log.Logger

	timerMu sync.Mutex
	timer   *time.Timer
	done    chan struct{}
	once    sync.Once
}

// NewSourceWatcher starts watching the directories holding src.
func NewSourceWatcher(src apimap.Sources, debounce time.Duration, onChange func(), logger *log.Logger) (*SourceWatcher, error) {
	if logger == nil {
		logger = log.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &SourceWatcher{
		fsWatcher: fsw,
		debounce:  debounce,
		targets:   make(map[string]bool),
		onChange:  onChange,
		logger:    logger,
		done:      make(chan struct{}),
	}
	dirs := make(map[string]bool)
	for _, p := range []string{src.Declarations, src.Loaders} {
		if p == "" {
			continue
		}
		clean := filepath.Clean(p)
		w.targets[clean] = true
		dirs[filepath.Dir(clean)] = true
	}
	watched := 0
	for dir := range dirs {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, err
		}
		watched++
	}
	if watched == 0 {
		_ = fsw.Close()
		return nil, errors.New("no api source directory exists")
	}
	go w.run()
	return w, nil
}

func (w *SourceWatcher) run() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.targets[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.schedule()
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("source watcher error: %v", err)
		case <-w.done:
			return
		}
	}
}

func (w *SourceWatcher) schedule() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.onChange)
}

// Close stops the watcher.
func (w *SourceWatcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.timerMu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.timerMu.Unlock()
		err = w.fsWatcher.Close()
	})
	return err
}
