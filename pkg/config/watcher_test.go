package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"clearpath-hq/gatekeeper/pkg/rule"
)

func newTestWatcher(t *testing.T, path string) *Watcher {
	t.Helper()
	w, err := NewWatcher(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return w
}

func waitForMode(t *testing.T, w *Watcher, want string) bool {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if w.Config().Engine.Mode == want {
			return true
		}
		time.Sleep(25 * time.Millisecond)
	}
	return false
}

func TestWatcherEngineSnapshot(t *testing.T) {
	path := writeConfig(t, `
engine:
  mode: lockdown
  waiter_timeout: 2s
  allow_platform_binaries: false
  cel_precedence: after_certificate
`)
	w := newTestWatcher(t, path)

	snap := w.EngineSnapshot()
	if snap.Mode != rule.ModeLockdown {
		t.Errorf("mode = %v", snap.Mode)
	}
	if snap.WaiterTimeout != 2*time.Second {
		t.Errorf("waiter timeout = %v", snap.WaiterTimeout)
	}
	if snap.AllowPlatformBinaries {
		t.Error("allow_platform_binaries should be false")
	}
	if snap.CELPrecedence != rule.CELAfterCertificate {
		t.Errorf("cel precedence = %v", snap.CELPrecedence)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := writeConfig(t, "engine:\n  mode: monitor\n")
	w := newTestWatcher(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("engine:\n  mode: lockdown\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if !waitForMode(t, w, "lockdown") {
		t.Fatal("watcher did not pick up the changed file")
	}
}

func TestWatcherKeepsLastGoodConfig(t *testing.T) {
	path := writeConfig(t, "engine:\n  mode: monitor\n")
	w := newTestWatcher(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("engine:\n  mode: broken-mode\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	// Give the debounce and reload a chance to run.
	time.Sleep(600 * time.Millisecond)
	if got := w.Config().Engine.Mode; got != "monitor" {
		t.Errorf("mode = %q, want the last good value", got)
	}
}

func TestWatcherDoubleStartFails(t *testing.T) {
	path := writeConfig(t, "engine:\n  mode: monitor\n")
	w := newTestWatcher(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := w.Start(ctx); err == nil {
		t.Fatal("second Start should fail")
	}
}
