package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ha1tch/nusql/pkg/log"
)

// Watcher monitors the configuration file and reloads profiles when it
// changes, so edits take effect without restarting the plugin.
type Watcher struct {
	mu sync.RWMutex

	path   string
	logger *log.CategoryLogger

	fsWatcher *fsnotify.Watcher

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// Debouncing: editors fire several events per save; only the last
	// one triggers a reload.
	debounceDelay time.Duration
	eventTimer    *time.Timer

	onReload func(cfg *Config)
	onError  func(err error)
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets the debounce delay for batching file events.
// Default is 250ms.
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDelay = d
	}
}

// WithOnReload sets the callback invoked with the freshly loaded
// configuration after each change.
func WithOnReload(fn func(cfg *Config)) WatcherOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// WithOnError sets a callback for watch and reload errors.
func WithOnError(fn func(err error)) WatcherOption {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// NewWatcher creates a watcher for the configuration file at path.
func NewWatcher(path string, logger *log.Logger, opts ...WatcherOption) (*Watcher, error) {
	if logger == nil {
		logger = log.Discard()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:          path,
		logger:        logger.System(),
		fsWatcher:     fsw,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		debounceDelay: 250 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Start begins watching for changes.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// Watch the directory, not the file: editors replace files on save,
	// which would orphan a file-level watch.
	if err := w.fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.logger.Info("config watcher started", "path", w.path)

	go w.processEvents()

	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.logger.Info("config watcher stopped")

	return w.fsWatcher.Close()
}

func (w *Watcher) processEvents() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			w.mu.Lock()
			if w.eventTimer != nil {
				w.eventTimer.Stop()
			}
			w.mu.Unlock()
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", err)
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

// handleEvent debounces events for the watched file.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.eventTimer != nil {
		w.eventTimer.Stop()
	}
	w.eventTimer = time.AfterFunc(w.debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed", err, "path", w.path)
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	w.logger.Info("config reloaded", "path", w.path, "profiles", len(cfg.Profiles))
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
