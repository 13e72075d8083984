package waypost

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xzahalko/waypost/pkg/document"
	"github.com/xzahalko/waypost/pkg/journal"
	"github.com/xzahalko/waypost/pkg/watcher"
)

// StartWatcher begins monitoring the canonical document for external
// edits. Change bursts are debounced (config Debounce) and the reconcile
// pass runs on the store's serialized task queue, so a watcher callback
// can never race a mutation. The store's own atomic writes are
// recognized by content digest and ignored.
func (s *Store) StartWatcher(ctx context.Context) error {
	if s.watch != nil {
		return s.watch.Start(ctx)
	}
	w, err := watcher.New(
		s.cfg.DocumentPath(),
		s.cfg.Debounce.Std(),
		s.docs.Digest,
		func() { s.enqueue(s.reconcile) },
		s.logger,
	)
	if err != nil {
		return err
	}
	s.watch = w
	return w.Start(ctx)
}

// WatcherStats returns watcher activity, or zeroes when no watcher runs.
func (s *Store) WatcherStats() watcher.Stats {
	if s.watch == nil {
		return watcher.Stats{}
	}
	return s.watch.Stats()
}

// reconcile re-reads the canonical document after an external edit and
// adopts its content. Runs on the task loop.
func (s *Store) reconcile() error {
	doc, err := s.docs.Load()
	switch {
	case err == nil:
	case errors.Is(err, document.ErrNotFound):
		// File deleted externally. Keep the in-memory state; the next
		// mutation writes it back.
		s.logger.Warn("canonical document deleted externally, keeping in-memory state")
		return nil
	default:
		s.logger.Error("reconcile: reload failed", zap.Error(err))
		return err
	}

	s.doc = doc
	for _, c := range doc.Cities {
		if err := s.reg.UpsertFull(c); err != nil {
			s.logger.Warn("reconcile: skipping unusable record", zap.Error(err))
		}
	}
	s.resolver.Invalidate()
	s.journalAppend(journal.OpRestore, "")
	s.logger.Info("external document change adopted", zap.Int("cities", len(doc.Cities)))
	return nil
}
