package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/luckyPipewrench/spyglass/internal/diag"
)

const validConfig = `
exporter:
  type: console
collector:
  queue_size: 512
`

func writeReloaderConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spyglass.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestReloader_FileChange(t *testing.T) {
	path := writeReloaderConfig(t, validConfig)

	r := NewReloader(path, nil)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	running := make(chan error, 1)
	go func() { running <- r.Run(ctx) }()

	// Give the watcher a moment to attach before touching the file.
	time.Sleep(200 * time.Millisecond)

	if err := os.WriteFile(path, []byte(validConfig+"  batch_max: 32\n"), 0o600); err != nil {
		t.Fatalf("updating config: %v", err)
	}

	select {
	case cfg := <-r.Changes():
		if cfg.Collector.BatchMax != 32 {
			t.Errorf("reloaded BatchMax = %d, want 32", cfg.Collector.BatchMax)
		}
		if cfg.Collector.QueueSize != 512 {
			t.Errorf("reloaded QueueSize = %d, want 512", cfg.Collector.QueueSize)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed after config file change")
	}

	cancel()
	select {
	case err := <-running:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestReloader_RejectedReloadIsLoggedAndDropped(t *testing.T) {
	path := writeReloaderConfig(t, "exporter:\n  type: kafka\n")
	logPath := filepath.Join(t.TempDir(), "diag.log")

	logger, err := diag.New("json", diag.OutputFile, logPath)
	if err != nil {
		t.Fatalf("creating logger: %v", err)
	}

	r := NewReloader(path, logger)
	r.reload()
	logger.Close()

	select {
	case cfg := <-r.Changes():
		t.Errorf("received config %+v from invalid file, want nothing", cfg)
	default:
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"event":"config_reload"`) {
		t.Errorf("log output missing config_reload event:\n%s", out)
	}
	if !strings.Contains(out, `"status":"rejected"`) {
		t.Errorf("log output missing rejected status:\n%s", out)
	}
}

func TestReloader_AppliedReloadIsLogged(t *testing.T) {
	path := writeReloaderConfig(t, validConfig)
	logPath := filepath.Join(t.TempDir(), "diag.log")

	logger, err := diag.New("json", diag.OutputFile, logPath)
	if err != nil {
		t.Fatalf("creating logger: %v", err)
	}

	r := NewReloader(path, logger)
	r.reload()
	logger.Close()

	select {
	case cfg := <-r.Changes():
		if cfg.Collector.QueueSize != 512 {
			t.Errorf("reloaded QueueSize = %d, want 512", cfg.Collector.QueueSize)
		}
	default:
		t.Fatal("no config delivered for a valid file")
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), `"status":"applied"`) {
		t.Errorf("log output missing applied status:\n%s", data)
	}
}

func TestReloader_FreshConfigSupersedesUndelivered(t *testing.T) {
	path := writeReloaderConfig(t, validConfig)
	r := NewReloader(path, nil)

	r.reload() // queue_size 512, never consumed

	if err := os.WriteFile(path, []byte("collector:\n  queue_size: 2048\n"), 0o600); err != nil {
		t.Fatalf("updating config: %v", err)
	}
	r.reload()

	select {
	case cfg := <-r.Changes():
		if cfg.Collector.QueueSize != 2048 {
			t.Errorf("delivered QueueSize = %d, want the freshest 2048", cfg.Collector.QueueSize)
		}
	default:
		t.Fatal("no config delivered")
	}

	select {
	case cfg := <-r.Changes():
		t.Errorf("stale config %+v still queued, want it superseded", cfg)
	default:
	}
}

func TestReloader_CloseStopsRun(t *testing.T) {
	path := writeReloaderConfig(t, validConfig)

	r := NewReloader(path, nil)
	running := make(chan error, 1)
	go func() { running <- r.Run(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	r.Close()
	r.Close() // idempotent

	select {
	case err := <-running:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}
