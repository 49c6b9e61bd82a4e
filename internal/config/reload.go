package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/luckyPipewrench/spyglass/internal/diag"
)

// reloadDebounce coalesces the burst of filesystem events an editor
// produces for a single save.
const reloadDebounce = 100 * time.Millisecond

// Reloader re-reads the config file when it changes on disk or when the
// process receives SIGHUP. Every successfully validated config is
// delivered on Changes; a file that fails to load or validate is
// reported through the diagnostics logger and the previous config
// stays active.
type Reloader struct {
	path    string
	logger  *diag.Logger
	changes chan *Config

	done      chan struct{}
	closeOnce sync.Once
}

// NewReloader creates a reloader for the config at path. A nil logger
// silences reload diagnostics.
func NewReloader(path string, logger *diag.Logger) *Reloader {
	if logger == nil {
		logger = diag.NewNop()
	}
	return &Reloader{
		path:    path,
		logger:  logger,
		changes: make(chan *Config, 1),
		done:    make(chan struct{}),
	}
}

// Changes returns the channel on which reloaded configs are delivered.
// The channel always holds the freshest validated config: an
// undelivered one is superseded, never queued behind.
func (r *Reloader) Changes() <-chan *Config {
	return r.changes
}

// Run watches the config file and listens for SIGHUP until ctx is
// cancelled or Close is called, then closes the Changes channel.
func (r *Reloader) Run(ctx context.Context) error {
	defer close(r.changes)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Editors replace files by rename, so the directory is watched and
	// events are filtered down to the config's base name.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("watching config directory: %w", err)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.done:
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if r.touchesConfig(ev) {
				pending = time.After(reloadDebounce)
			}
		case <-pending:
			pending = nil
			r.reload()
		case <-hup:
			r.reload()
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// Watcher errors are transient; keep watching.
		}
	}
}

func (r *Reloader) touchesConfig(ev fsnotify.Event) bool {
	if filepath.Base(ev.Name) != filepath.Base(r.path) {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

// reload loads and validates the file. A valid config supersedes any
// undelivered one; an invalid file leaves the previous config active.
func (r *Reloader) reload() {
	cfg, err := Load(r.path)
	if err != nil {
		r.logger.LogConfigReload("rejected", err.Error())
		return
	}

	for {
		select {
		case r.changes <- cfg:
			r.logger.LogConfigReload("applied",
				fmt.Sprintf("exporter=%s queue_size=%d", cfg.Exporter.Type, cfg.Collector.QueueSize))
			return
		default:
		}
		// Drain the stale config and try again.
		select {
		case <-r.changes:
		default:
		}
	}
}

// Close stops the reloader. Safe to call multiple times.
func (r *Reloader) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}
