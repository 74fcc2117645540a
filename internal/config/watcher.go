package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the config file for changes and invokes a reload
// callback on write/create events. This is a second trigger for the
// same reload path SIGHUP drives in the daemon, not a replacement for
// it (spec.md §4.6 discusses the SIGHUP path).
type Watcher struct {
	path    string
	fsw     *fsnotify.Watcher
	onEach  func(*Config, error)
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
}

// NewWatcher creates a Watcher for path. onReload is invoked with the
// freshly validated config, or a non-nil error if the new file failed
// validation (the previous in-memory config is left untouched by the
// caller in that case).
func NewWatcher(path string, onReload func(*Config, error)) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{path: path, onEach: onReload, ctx: ctx, cancel: cancel}
}

// Start begins watching the config file's directory (watching the
// directory rather than the file survives editors that replace the
// file via rename-over).
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watching config directory: %w", err)
	}

	w.fsw = fsw
	w.started = true
	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	var debounce *time.Timer
	const debounceDelay = 200 * time.Millisecond

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, w.reload)

		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Validate(w.path)
	w.onEach(cfg, err)
}

// Stop halts the watcher and releases its filesystem handles.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancel()
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}
