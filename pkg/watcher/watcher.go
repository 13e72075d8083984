// Package watcher notifies the store about external edits to the
// canonical document file.
//
// The host (or the user, with a text editor) may rewrite the document
// while waypost is running. The watcher monitors the file's directory via
// fsnotify, debounces bursts of change events into a single callback, and
// suppresses events caused by the store's own atomic writes by comparing
// the file's content digest against the digest the store last wrote.
//
// The callback runs on the watcher goroutine; the owning store marshals
// the actual reconcile work onto its serialized task queue.
package watcher

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/xzahalko/waypost/pkg/document"
)

// DefaultDebounce is the minimum interval between change callbacks.
const DefaultDebounce = 150 * time.Millisecond

// sweepInterval controls how often pending events are checked against
// the debounce window.
const sweepInterval = 25 * time.Millisecond

// Watcher watches one canonical document file for external changes.
type Watcher struct {
	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	path     string
	debounce time.Duration

	// selfDigest returns the digest of the content the store last wrote;
	// events whose file content matches are our own writes.
	selfDigest func() []byte

	// onChange fires once per settled burst of external edits.
	onChange func()

	logger  *zap.Logger
	pending time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool

	stats Stats
}

// Stats tracks watcher activity.
type Stats struct {
	Events        int
	SelfWrites    int
	Fired         int
	LastEventTime time.Time
}

// New creates a watcher for the given canonical file path. debounce <= 0
// uses DefaultDebounce. A nil logger is replaced with zap.NewNop().
func New(path string, debounce time.Duration, selfDigest func() []byte, onChange func(), logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsw:        fsw,
		path:       filepath.Clean(path),
		debounce:   debounce,
		selfDigest: selfDigest,
		onChange:   onChange,
		logger:     logger,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start begins watching the file's directory. Non-blocking; the event
// loop runs in its own goroutine until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// Watch the directory, not the file: atomic rename-over recreates
	// the file, which would silently drop a direct file watch.
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.logger.Warn("watch dir could not be created", zap.String("dir", dir), zap.Error(err))
	}
	if err := w.fsw.Add(dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	w.logger.Debug("watching canonical document", zap.String("path", w.path))

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to drain.
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

	if err := w.fsw.Close(); err != nil {
		w.logger.Error("error closing fs watcher", zap.Error(err))
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("fs watcher error", zap.Error(err))

		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return // chmod etc.
	}

	w.mu.Lock()
	w.stats.Events++
	w.stats.LastEventTime = time.Now()
	w.pending = time.Now()
	w.mu.Unlock()
}

// sweep fires the callback once a pending burst has settled past the
// debounce window.
func (w *Watcher) sweep() {
	w.mu.Lock()
	if w.pending.IsZero() || time.Since(w.pending) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.pending = time.Time{}
	w.mu.Unlock()

	if w.isSelfWrite() {
		w.mu.Lock()
		w.stats.SelfWrites++
		w.mu.Unlock()
		w.logger.Debug("ignoring own write", zap.String("path", w.path))
		return
	}

	w.mu.Lock()
	w.stats.Fired++
	w.mu.Unlock()
	w.onChange()
}

// isSelfWrite compares the file's current digest with the digest the
// store last wrote.
func (w *Watcher) isSelfWrite() bool {
	if w.selfDigest == nil {
		return false
	}
	last := w.selfDigest()
	if last == nil {
		return false
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return false // deleted or unreadable counts as an external change
	}
	return bytes.Equal(document.DigestBytes(data), last)
}

// Stats returns a snapshot of watcher activity.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}
