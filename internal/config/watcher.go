package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often [Watcher.Run] looks at the config file.
const DefaultWatchInterval = 5 * time.Second

// Reload describes one accepted change of the config file.
type Reload struct {
	Old, New *Config
	Diff     ConfigDiff
}

// Watcher keeps the config file and the running config in step. Edits that
// fail to parse or validate are logged and skipped; the last valid config
// stays current.
//
// A Watcher does nothing on its own: drive it with [Watcher.Run], or call
// [Watcher.Reload] directly (for example on SIGHUP).
type Watcher struct {
	path     string
	interval time.Duration
	onReload func(Reload)

	mu      sync.Mutex // serialises Reload and guards the fields below
	current *Config
	seen    fileStamp
	raw     []byte
}

// fileStamp is the cheap identity of the file used to skip unchanged reads.
type fileStamp struct {
	mtime time.Time
	size  int64
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval of [Watcher.Run].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once and returns a Watcher holding it. onReload,
// which may be nil, is called for every later change that validates.
func NewWatcher(path string, onReload func(Reload), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onReload: onReload,
	}
	for _, opt := range opts {
		opt(w)
	}

	stamp, err := w.stat()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := LoadBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.seen, w.raw = cfg, stamp, raw
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file until ctx is done and returns ctx's error.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Reload(); err != nil {
				slog.Warn("config watcher: reload skipped", "path", w.path, "err", err)
			}
		}
	}
}

// Reload re-reads the file now. It reports whether a new config was
// accepted; a file whose stamp or content is unchanged is not an error. On
// error the current config is kept.
func (w *Watcher) Reload() (bool, error) {
	w.mu.Lock()
	stamp, err := w.stat()
	if err != nil {
		w.mu.Unlock()
		return false, err
	}
	if stamp == w.seen {
		w.mu.Unlock()
		return false, nil
	}
	raw, err := os.ReadFile(w.path)
	if err != nil {
		w.mu.Unlock()
		return false, err
	}
	w.seen = stamp
	if bytes.Equal(raw, w.raw) {
		w.mu.Unlock()
		return false, nil
	}
	cfg, err := LoadBytes(raw)
	if err != nil {
		// Remember the bad content so it is reported once, not every tick.
		w.raw = raw
		w.mu.Unlock()
		return false, err
	}
	r := Reload{Old: w.current, New: cfg, Diff: Diff(w.current, cfg)}
	w.current, w.raw = cfg, raw
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path, "changes", r.Diff.Summary())
	if r.Diff.RestartRequired {
		slog.Warn("config watcher: some changes need a restart", "path", w.path)
	}
	if w.onReload != nil {
		w.onReload(r)
	}
	return true, nil
}

func (w *Watcher) stat() (fileStamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return fileStamp{}, err
	}
	return fileStamp{mtime: info.ModTime(), size: info.Size()}, nil
}
