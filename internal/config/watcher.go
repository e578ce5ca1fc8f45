package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// defaultWatchInterval is how often the watcher polls the file.
const defaultWatchInterval = 5 * time.Second

// errUnchanged signals that the file's content hash matches the last load.
var errUnchanged = errors.New("config unchanged")

// fileState fingerprints a loaded config file for change detection.
type fileState struct {
	mtime time.Time
	hash  [sha256.Size]byte
}

// Watcher polls a config file and invokes a callback whenever the file's
// content changes and still validates. Invalid edits are logged and the
// previous config is kept, so a bad save never takes the service down.
// Polling is used instead of inotify so the watcher behaves the same across
// platforms and bind-mounted container configs.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	state   fileState

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides the poll interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once, then polls it in a background goroutine until
// [Watcher.Stop]. The initial load must succeed.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultWatchInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, state, err := w.readFile()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.state = state

	go w.loop()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends the polling goroutine. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if err := w.Reload(); err != nil && !errors.Is(err, errUnchanged) {
				slog.Warn("config reload failed, keeping previous config",
					"path", w.path, "err", err)
			}
		}
	}
}

// Reload re-reads the file immediately. It returns errUnchanged when neither
// mtime nor content moved, any load/validation error otherwise, and nil when
// a new config was accepted (after the change callback ran).
func (w *Watcher) Reload() error {
	// mtime gate: skip hashing when the file was not written at all.
	info, err := os.Stat(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.state.mtime)
	w.mu.Unlock()
	if unchanged {
		return errUnchanged
	}

	cfg, state, err := w.readFile()
	if err != nil {
		return err
	}

	w.mu.Lock()
	if state.hash == w.state.hash {
		// Touched but identical content.
		w.state.mtime = state.mtime
		w.mu.Unlock()
		return errUnchanged
	}
	old := w.current
	w.current = cfg
	w.state = state
	w.mu.Unlock()

	slog.Info("config reloaded", "path", w.path)
	// Callback runs outside the lock so it may call Current.
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return nil
}

// readFile loads and validates the file, returning the parsed config and its
// fingerprint. The file is read once; parsing happens from the in-memory
// copy used for hashing.
func (w *Watcher) readFile() (*Config, fileState, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{mtime: info.ModTime(), hash: sha256.Sum256(data)}, nil
}
