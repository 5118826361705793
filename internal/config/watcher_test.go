package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := DefaultPolicy().Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	var mu sync.Mutex
	var got *Policy
	w, err := NewWatcher(path, func(p *Policy) {
		mu.Lock()
		got = p
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.debounce = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	updated := DefaultPolicy()
	updated.Execution.MaxParallel = 3
	if err := updated.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		mu.Lock()
		done := got != nil && got.Execution.MaxParallel == 3
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("reload callback never fired")
		case <-time.After(20 * time.Millisecond):
		}
	}

	reloads, _ := w.Stats()
	if reloads == 0 {
		t.Error("Stats reports zero reloads")
	}
}

func TestWatcherKeepsPreviousOnParseFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	DefaultPolicy().Save(path)

	calls := 0
	var mu sync.Mutex
	w, err := NewWatcher(path, func(*Policy) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.debounce = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	os.WriteFile(path, []byte("security:\n  tool_tiers:\n    x: nonsense\n"), 0o644)

	deadline := time.After(3 * time.Second)
	for {
		_, errs := w.Stats()
		if errs > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("parse failure never counted")
		case <-time.After(20 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("callback fired %d times for a bad policy", calls)
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	DefaultPolicy().Save(path)

	calls := 0
	var mu sync.Mutex
	w, _ := NewWatcher(path, func(*Policy) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	w.debounce = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o644)
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("callback fired %d times for an unrelated file", calls)
	}
}
