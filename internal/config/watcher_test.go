package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roledraft/roledraft/internal/config"
)

const watcherBaseYAML = `
server:
  log_level: info
extraction:
  base_url: "http://localhost:3001"
  push_url: "ws://localhost:3001/ws"
`

const watcherDebugYAML = `
server:
  log_level: debug
extraction:
  base_url: "http://localhost:3001"
  push_url: "ws://localhost:3001/ws"
`

const watcherBrokenYAML = `
server:
  log_level: bananas
`

// writeConfig writes content and bumps the mtime forward so the watcher's
// mtime gate always sees a change, regardless of filesystem timestamp
// granularity.
func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

// newWatcher creates a watcher whose poll interval is long enough that tests
// drive reloads explicitly via Reload.
func newWatcher(t *testing.T, path string, onChange func(old, new *config.Config)) *config.Watcher {
	t.Helper()
	w, err := config.NewWatcher(path, onChange, config.WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, watcherBaseYAML)

	w := newWatcher(t, path, nil)
	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file")
	}
}

func TestWatcher_ReloadPicksUpChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, watcherBaseYAML)

	var gotOld, gotNew *config.Config
	w := newWatcher(t, path, func(old, new *config.Config) {
		gotOld, gotNew = old, new
	})

	writeConfig(t, path, watcherDebugYAML)
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if gotOld == nil || gotNew == nil {
		t.Fatal("change callback did not run")
	}
	if gotOld.Server.LogLevel != config.LogInfo {
		t.Errorf("old log_level = %q, want info", gotOld.Server.LogLevel)
	}
	if gotNew.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level = %q, want debug", gotNew.Server.LogLevel)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level = %q, want debug", w.Current().Server.LogLevel)
	}
}

func TestWatcher_InvalidEditKeepsPrevious(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, watcherBaseYAML)

	calls := 0
	w := newWatcher(t, path, func(old, new *config.Config) { calls++ })

	writeConfig(t, path, watcherBrokenYAML)
	if err := w.Reload(); err == nil {
		t.Fatal("Reload accepted an invalid config")
	}

	if calls != 0 {
		t.Errorf("callback ran %d times for an invalid config", calls)
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("Current() log_level = %q, want the previous info", w.Current().Server.LogLevel)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, watcherBaseYAML)

	calls := 0
	w := newWatcher(t, path, func(old, new *config.Config) { calls++ })

	// Same content, newer mtime.
	writeConfig(t, path, watcherBaseYAML)
	if err := w.Reload(); err == nil {
		t.Fatal("Reload should report unchanged content")
	}
	if calls != 0 {
		t.Errorf("callback ran %d times for a touch-only change", calls)
	}
}

func TestWatcher_BackgroundPoll(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, watcherBaseYAML)

	changed := make(chan struct{}, 1)
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		select {
		case changed <- struct{}{}:
		default:
		}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, watcherDebugYAML)
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("background poll never picked up the change")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, watcherBaseYAML)

	w := newWatcher(t, path, nil)
	w.Stop()
	w.Stop()
}

// Reload on an untouched file reports the unchanged sentinel rather than a
// real failure.
func TestWatcher_ReloadUnchangedFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, watcherBaseYAML)

	w := newWatcher(t, path, nil)
	err := w.Reload()
	if err == nil {
		t.Fatal("expected unchanged sentinel")
	}
	if errors.Is(err, os.ErrNotExist) {
		t.Fatalf("unexpected error kind: %v", err)
	}
}
