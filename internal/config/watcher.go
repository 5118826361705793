package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"toolgate/internal/logging"
)

// Watcher reloads the policy file when it changes on disk and hands the
// new policy to a callback. Editors save with rapid write bursts, so
// reloads are debounced.
type Watcher struct {
	mu         sync.Mutex
	watcher    *fsnotify.Watcher
	policyPath string
	onReload   func(*Policy)
	debounce   time.Duration
	lastReload time.Time
	running    bool
	stopCh     chan struct{}
	doneCh     chan struct{}

	// Reload counters, readable through Stats.
	reloads int
	errors  int
}

// NewWatcher creates a watcher for the given policy file. onReload is
// called with each successfully parsed policy; parse failures keep the
// previous policy in effect.
func NewWatcher(policyPath string, onReload func(*Policy)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:    fw,
		policyPath: policyPath,
		onReload:   onReload,
		debounce:   500 * time.Millisecond,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the watch loop runs in its own
// goroutine until Stop or ctx cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// Watch the directory, not the file: editors replace files by
	// rename, which drops a file-level watch.
	dir := filepath.Dir(w.policyPath)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	logging.Config("watching policy file %s", w.policyPath)

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.policyPath) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.mu.Lock()
			w.errors++
			w.mu.Unlock()
			logging.Config("policy watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	w.mu.Lock()
	if time.Since(w.lastReload) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.lastReload = time.Now()
	w.mu.Unlock()

	policy, err := Load(w.policyPath)
	if err != nil {
		w.mu.Lock()
		w.errors++
		w.mu.Unlock()
		logging.Config("policy reload failed, keeping previous: %v", err)
		return
	}

	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
	logging.Config("policy reloaded from %s", w.policyPath)

	if w.onReload != nil {
		w.onReload(policy)
	}
}

// Stats reports watcher activity.
func (w *Watcher) Stats() (reloads, errors int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads, w.errors
}
