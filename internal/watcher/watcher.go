// Package watcher feeds file-change events from a project tree into the
// engine. It debounces rapid saves so one editor write burst produces one
// indexing pass per file.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pairpilot/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Sink receives debounced file contents; the engine's OnFileChanged
// satisfies it.
type Sink func(ctx context.Context, projectID, filePath string, content []byte) error

// ProjectWatcher watches a project root recursively and forwards changed
// file contents to the sink.
type ProjectWatcher struct {
	projectID string
	root      string
	sink      Sink

	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	debounce    map[string]time.Time
	debounceDur time.Duration
	running     bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// skipDirs are directory names never worth indexing.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	".idea": true, ".vscode": true, "__pycache__": true,
}

// New creates a watcher for the project rooted at root.
func New(projectID, root string, sink Sink) (*ProjectWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &ProjectWatcher{
		projectID:   projectID,
		root:        root,
		sink:        sink,
		watcher:     w,
		debounce:    map[string]time.Time{},
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in a goroutine.
func (w *ProjectWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	log := logging.Get(logging.CategoryWatcher)

	err := filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, skip
		}
		if d.IsDir() {
			if skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") && path != w.root {
				return filepath.SkipDir
			}
			if werr := w.watcher.Add(path); werr != nil {
				log.Warnf("failed to watch %s: %v", path, werr)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Infof("watching project %s at %s", w.projectID, w.root)
	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *ProjectWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryWatcher).Errorf("error closing watcher: %v", err)
	}
}

func (w *ProjectWatcher) run(ctx context.Context) {
	defer close(w.doneCh)
	log := logging.Get(logging.CategoryWatcher)

	flush := time.NewTicker(250 * time.Millisecond)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("watch error: %v", err)

		case <-flush.C:
			w.flushReady(ctx)
		}
	}
}

func (w *ProjectWatcher) handleEvent(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if ev.Op&fsnotify.Create != 0 && !skipDirs[filepath.Base(ev.Name)] {
			_ = w.watcher.Add(ev.Name)
		}
		return
	}

	logging.Get(logging.CategoryWatcher).Debugf("file event: %s %s", ev.Op, ev.Name)
	w.mu.Lock()
	w.debounce[ev.Name] = time.Now()
	w.mu.Unlock()
}

// flushReady forwards files whose last event settled past the debounce
// window.
func (w *ProjectWatcher) flushReady(ctx context.Context) {
	now := time.Now()

	w.mu.Lock()
	var ready []string
	for path, last := range w.debounce {
		if now.Sub(last) >= w.debounceDur {
			ready = append(ready, path)
			delete(w.debounce, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		content, err := os.ReadFile(path)
		if err != nil {
			continue // deleted between event and flush
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			rel = path
		}
		if err := w.sink(ctx, w.projectID, rel, content); err != nil {
			logging.Get(logging.CategoryWatcher).Warnf("failed to index %s: %v", rel, err)
		}
	}
}
