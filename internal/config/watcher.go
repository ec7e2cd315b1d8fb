package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often [Watcher.Run] polls the file.
const DefaultWatchInterval = 5 * time.Second

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

// fileStamp identifies the last version of the file the watcher looked at.
type fileStamp struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

func (s fileStamp) sameFile(info os.FileInfo) bool {
	return info.ModTime().Equal(s.mtime) && info.Size() == s.size
}

// Watcher keeps the bot's configuration in step with its YAML file. Each
// content change that still validates is handed to apply as (old, updated);
// the app turns that pair into a [ConfigDiff]. A file that stops validating
// is reported once per edit and the last valid config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	apply    func(old, updated *Config)

	reloadMu sync.Mutex
	stamp    fileStamp

	mu      sync.Mutex
	current *Config
}

// NewWatcher loads path and returns a watcher primed with it. Nothing is
// polled until [Watcher.Run] is called.
func NewWatcher(path string, apply func(old, updated *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval, apply: apply}
	for _, opt := range opts {
		opt(w)
	}

	data, info, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current = cfg
	w.stamp = fileStamp{mtime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}
	return w, nil
}

// Current returns the most recently applied config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file every interval until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Reload(); err != nil {
				slog.Warn("config: reload rejected, keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// Reload checks the file once. It reports whether a new config was
// applied; an error means the file changed but cannot be used.
func (w *Watcher) Reload() (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}
	if w.stamp.sameFile(info) {
		return false, nil
	}

	data, info, err := w.read()
	if err != nil {
		return false, err
	}
	next := fileStamp{mtime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}
	contentChanged := next.sum != w.stamp.sum
	w.stamp = next
	if !contentChanged {
		return false, nil
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config: configuration reloaded", "path", w.path)
	if w.apply != nil {
		w.apply(old, cfg)
	}
	return true, nil
}

func (w *Watcher) read() ([]byte, os.FileInfo, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, nil, err
	}
	return buf.Bytes(), info, nil
}
