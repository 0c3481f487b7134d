package userconfig

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher reloads the config file when it changes and hands the new config,
// with environment overrides applied, to a callback.
type Watcher struct {
	mu       sync.Mutex
	path     string
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	done     chan struct{}
	onChange func(*Config)

	debounce time.Duration
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, onChange func(*Config)) *Watcher {
	return &Watcher{
		path:     path,
		onChange: onChange,
		debounce: defaultDebounce,
	}
}

// Start begins watching. The directory is watched rather than the file so
// that atomic saves (write to temp, then rename) are seen.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopLocked()

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	w.watcher = watcher
	w.stopChan = make(chan struct{})
	w.done = make(chan struct{})

	go w.watchLoop(watcher, w.stopChan, w.done)

	slog.Debug("Started watching config file", "path", w.path)
	return nil
}

// Stop stops watching and waits for the watch loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	done := w.done
	w.stopLocked()
	w.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (w *Watcher) stopLocked() {
	if w.stopChan != nil {
		close(w.stopChan)
		w.stopChan = nil
	}
	if w.watcher != nil {
		w.watcher.Close()
		w.watcher = nil
	}
	w.done = nil
}

func (w *Watcher) watchLoop(watcher *fsnotify.Watcher, stopChan <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	// Debounce rapid successive events (editor save sequences)
	var debounceTimer *time.Timer
	reload := make(chan struct{}, 1)
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	target := filepath.Clean(w.path)
	for {
		select {
		case <-stopChan:
			return

		case <-reload:
			w.reload()

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != target {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Config file watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	if _, err := os.Stat(w.path); err != nil {
		return
	}

	cfg, err := readConfig(w.path)
	if err != nil {
		slog.Warn("Ignoring invalid config file change", "path", w.path, "error", err)
		return
	}
	cfg.ApplyEnv()

	slog.Debug("Config file changed, reloading", "path", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
