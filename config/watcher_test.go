package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeTestConfig(t *testing.T, path, level string) {
	t.Helper()
	content := "log:\n  level: " + level + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestNewWatcherRequiresPath(t *testing.T) {
	if _, err := NewWatcher("", NewLoader()); err == nil {
		t.Fatalf("NewWatcher accepted empty path")
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeTestConfig(t, path, "info")

	w, err := NewWatcher(path, NewLoader(), WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })

	var mu sync.Mutex
	var got []string
	w.OnChange(func(cfg *Config) {
		mu.Lock()
		got = append(got, cfg.Log.Level)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	// Give the watcher time to attach before writing.
	deadline := time.Now().Add(2 * time.Second)
	for !w.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatalf("watcher never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	writeTestConfig(t, path, "debug")

	deadline = time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("callback never fired after config change")
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	last := got[len(got)-1]
	mu.Unlock()
	if last != "debug" {
		t.Fatalf("reloaded log level = %q, want debug", last)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Watch did not exit after cancel")
	}
}

func TestWatcherStop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeTestConfig(t, path, "info")

	w, err := NewWatcher(path, NewLoader())
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if w.ConfigPath() != path {
		t.Errorf("ConfigPath() = %q", w.ConfigPath())
	}

	done := make(chan error, 1)
	go func() { done <- w.Watch(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for !w.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatalf("watcher never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Watch did not exit after Stop")
	}
	if w.IsRunning() {
		t.Errorf("IsRunning() = true after stop")
	}
}

func TestHotReloadableChanged(t *testing.T) {
	a := HotReloadableConfig{LogLevel: "info", MetricsPort: 9091}
	b := a
	if a.Changed(b) {
		t.Errorf("Changed() = true for identical configs")
	}
	b.LogLevel = "debug"
	if !a.Changed(b) {
		t.Errorf("Changed() = false for differing log level")
	}
}
