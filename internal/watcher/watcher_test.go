package watcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"promptplay/internal/config"
	"promptplay/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger("test", logging.ERROR, io.Discard)
}

func writeConfig(t *testing.T, path, level string) {
	t.Helper()
	content := `{"logging": {"level": "` + level + `"}, "workflow": {"reset_delay_seconds": 5}}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

func startWatcher(t *testing.T, path string) <-chan *config.Config {
	t.Helper()

	applied := make(chan *config.Config, 4)
	w, err := NewWatcher(path, func(cfg *config.Config) {
		applied <- cfg
	}, testLogger())
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(cancel)
	return applied
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeConfig(t, path, "info")

	applied := startWatcher(t, path)

	writeConfig(t, path, "debug")

	select {
	case cfg := <-applied:
		if cfg.Logging.Level != "debug" {
			t.Errorf("applied level = %q", cfg.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("config change never applied")
	}
}

func TestWatcherToleratesFileReplacement(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeConfig(t, path, "info")

	applied := startWatcher(t, path)

	// Editor-style save: write a temp file, then rename over the original.
	tmp := filepath.Join(dir, "config.json.tmp")
	writeConfig(t, tmp, "warn")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename failed: %v", err)
	}

	select {
	case cfg := <-applied:
		if cfg.Logging.Level != "warn" {
			t.Errorf("applied level = %q", cfg.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("replaced config never applied")
	}
}

func TestWatcherIgnoresInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeConfig(t, path, "info")

	var mu sync.Mutex
	var count int
	w, err := NewWatcher(path, func(cfg *config.Config) {
		mu.Lock()
		count++
		mu.Unlock()
	}, testLogger())
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{not json`), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("invalid config was applied %d times", count)
	}
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeConfig(t, path, "info")

	applied := startWatcher(t, path)

	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case <-applied:
		t.Error("unrelated file triggered a reload")
	case <-time.After(200 * time.Millisecond):
	}
}
