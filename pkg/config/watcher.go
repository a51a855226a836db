package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"clearpath-hq/gatekeeper/pkg/authz"
	"clearpath-hq/gatekeeper/pkg/rule"
)

// Watcher holds the currently active configuration and republishes it when
// the file changes on disk. Readers get immutable snapshots; a reload swaps
// the whole snapshot atomically. A reload that fails validation is logged
// and discarded, keeping the last good configuration active.
type Watcher struct {
	path    string
	current atomic.Pointer[Config]
	logger  *slog.Logger

	watcher *fsnotify.Watcher

	mu       sync.Mutex
	debounce *time.Timer
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// debounceInterval coalesces editor write bursts into one reload.
const debounceInterval = 250 * time.Millisecond

// NewWatcher loads the file once and prepares (but does not start) the
// file watcher.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default().With("component", "config.watcher")
	}

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:   path,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	w.current.Store(cfg)
	return w, nil
}

// Config returns the current configuration snapshot.
func (w *Watcher) Config() *Config {
	return w.current.Load()
}

// EngineSnapshot returns the immutable engine configuration handed to the
// controller per call.
func (w *Watcher) EngineSnapshot() authz.Config {
	cfg := w.current.Load()
	return authz.Config{
		Mode:                  rule.ClientMode(cfg.Engine.Mode),
		WaiterTimeout:         cfg.Engine.WaiterTimeout,
		AllowPlatformBinaries: cfg.Engine.AllowPlatformBinaries,
		CELPrecedence:         rule.CELPrecedence(cfg.Engine.CELPrecedence),
	}
}

// Start begins watching the configuration file. The watch runs until the
// context is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("config watcher already running")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	// Watch the directory: editors and config management tools replace
	// the file rather than writing it in place.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch %q: %w", w.path, err)
	}

	w.watcher = fw
	w.running = true

	go w.run(ctx)

	w.logger.Info("config watcher started", "path", w.path)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watch error", "error", err)
		}
	}
}

// scheduleReload debounces bursts of file events into one reload.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(debounceInterval, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := LoadConfigWithEnvOverrides(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous configuration",
			"path", w.path,
			"error", err,
		)
		return
	}

	old := w.current.Swap(cfg)
	w.logger.Info("configuration reloaded",
		"mode", cfg.Engine.Mode,
		"previous_mode", old.Engine.Mode,
	)
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.mu.Unlock()

	<-w.doneCh
}
