// Package waypost provides the main API for embedded waypost usage.
//
// A Store owns the whole pipeline for one install directory: the
// crash-safe document store, the in-memory city registry, the visited
// reconciliation resolver and the mutation journal. It replaces the
// process-wide caches the original host used with one explicit handle.
//
// All mutations execute on a single serialized task queue, so the
// registry and document never see concurrent writers. The canonical
// document is written back (atomic write + post-write verification)
// after every mutation.
//
// Example Usage:
//
//	cfg := config.Default()
//	store, err := waypost.Open("./data", cfg, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	store.SetEvidenceProvider(hostHarvester)
//
//	if err := store.MarkVisited(ctx, "Cierzo"); err != nil { ... }
//	ok, err := store.IsVisited(ctx, "Cierzo")
package waypost

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xzahalko/waypost/pkg/config"
	"github.com/xzahalko/waypost/pkg/document"
	"github.com/xzahalko/waypost/pkg/journal"
	"github.com/xzahalko/waypost/pkg/registry"
	"github.com/xzahalko/waypost/pkg/visited"
	"github.com/xzahalko/waypost/pkg/watcher"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("waypost: store closed")

// taskQueueSize bounds pending work; watcher reconciles are dropped
// rather than blocking the event loop when the queue is full.
const taskQueueSize = 64

type task struct {
	fn    func() error
	reply chan error // nil for fire-and-forget tasks
}

// Store is the top-level handle for one install directory.
type Store struct {
	cfg    *config.Config
	logger *zap.Logger

	docs     *document.Store
	reg      *registry.Registry
	resolver *visited.Resolver
	jnl      *journal.Journal // nil when disabled or unavailable
	watch    *watcher.Watcher // nil until StartWatcher

	// doc is the live canonical document; its unknown top-level fields
	// ride along across every rewrite.
	doc *document.Document

	provider visited.EvidenceProvider

	tasks     chan task
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// Open loads (or initializes) the store for the given data directory.
// dataDir overrides cfg.DataDir when non-empty; a nil cfg uses defaults
// and a nil logger is replaced with zap.NewNop().
//
// A missing document seeds the compiled-in defaults. A corrupt primary
// falls back to the backup. When both are corrupt, Open still succeeds
// with defaults, but every write fails with document.ErrNoBaseline until
// ResetBaseline() — refusing to overwrite unknown data is the point.
func Open(dataDir string, cfg *config.Config, logger *zap.Logger) (*Store, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		cfg:    cfg,
		logger: logger,
		docs:   document.NewStore(cfg.DocumentPath(), logger),
		reg:    registry.New(),
		tasks:  make(chan task, taskQueueSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	doc, err := s.docs.Load()
	switch {
	case err == nil:
		s.doc = doc
		for _, c := range doc.Cities {
			if uerr := s.reg.UpsertFull(c); uerr != nil {
				logger.Warn("skipping unusable document record", zap.Error(uerr))
			}
		}
		if s.docs.LoadedFromBackup() {
			logger.Warn("registry loaded from backup document")
		}
	case errors.Is(err, document.ErrNotFound):
		s.doc = document.New(nil)
		logger.Info("no document yet, seeding defaults", zap.String("path", cfg.DocumentPath()))
	case errors.Is(err, document.ErrNoBaseline):
		s.doc = document.New(nil)
		logger.Error("document and backup both unreadable, store is write-refusing", zap.Error(err))
	default:
		return nil, fmt.Errorf("waypost: open: %w", err)
	}

	// Backfill destinations added since the document was written. Seed
	// never touches existing records, so loaded state always wins.
	if err := s.reg.Seed(s.defaults()); err != nil {
		return nil, fmt.Errorf("waypost: seed defaults: %w", err)
	}

	s.resolver = visited.NewResolver(s.reg.VisitedNames, visited.EvidenceFunc(s.harvest), logger)

	if cfg.Journal.Enabled {
		jnl, jerr := journal.Open(journal.Options{
			Dir:        cfg.JournalDir(),
			SyncWrites: cfg.Journal.SyncWrites,
		}, logger)
		if jerr != nil {
			logger.Warn("journal unavailable, continuing without", zap.Error(jerr))
		} else {
			s.jnl = jnl
		}
	}

	go s.loop()
	return s, nil
}

// defaults returns the compiled-in cities at the configured fare.
func (s *Store) defaults() []*registry.City {
	cities := registry.Defaults()
	if s.cfg.DefaultPrice != registry.DefaultPrice {
		for _, c := range cities {
			c.Price = s.cfg.DefaultPrice
		}
	}
	return cities
}

// harvest delegates to the currently installed evidence provider. The
// indirection lets SetEvidenceProvider swap providers after Open.
func (s *Store) harvest(ctx context.Context) ([]string, error) {
	if s.provider == nil {
		return nil, nil
	}
	return s.provider.Harvest(ctx)
}

// loop is the single execution context for all registry and document
// mutations.
func (s *Store) loop() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			return
		case t := <-s.tasks:
			err := t.fn()
			if t.reply != nil {
				t.reply <- err
			}
		}
	}
}

// do runs fn on the task queue and waits for the result.
func (s *Store) do(ctx context.Context, fn func() error) error {
	t := task{fn: fn, reply: make(chan error, 1)}
	select {
	case s.tasks <- t:
	case <-s.stopCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-t.reply:
		return err
	case <-s.stopCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue submits fire-and-forget work; it never blocks and drops the
// task when the queue is saturated.
func (s *Store) enqueue(fn func() error) {
	select {
	case s.tasks <- task{fn: fn}:
	default:
		s.logger.Warn("task queue full, dropping background task")
	}
}

// writeBack regenerates the canonical document from the registry and
// runs the atomic write + verification protocol. prevNames are the
// record names present before the mutation.
func (s *Store) writeBack(op journal.Op, subject string, prevNames []string) error {
	s.doc.Cities = s.reg.List()
	if err := s.docs.AtomicWrite(s.doc); err != nil {
		return err
	}
	if err := s.docs.VerifyAfterWrite(prevNames); err != nil {
		return err
	}
	s.journalAppend(op, subject)
	return nil
}

// journalAppend records a mutation; journal trouble never fails the
// mutation itself.
func (s *Store) journalAppend(op journal.Op, subject string) {
	if s.jnl == nil {
		return
	}
	if err := s.jnl.Append(op, subject, s.docs.Digest()); err != nil {
		s.logger.Warn("journal append failed", zap.Error(err))
	}
}

// SetEvidenceProvider installs (or replaces) the host's save-state
// harvester and invalidates cached verdicts.
func (s *Store) SetEvidenceProvider(p visited.EvidenceProvider) {
	_ = s.do(context.Background(), func() error {
		s.provider = p
		s.resolver.Invalidate()
		return nil
	})
}

// UpsertFull replaces (or appends) a whole city record and writes the
// document back.
func (s *Store) UpsertFull(ctx context.Context, city *registry.City) error {
	return s.do(ctx, func() error {
		prev := s.reg.Names()
		if err := s.reg.UpsertFull(city); err != nil {
			return err
		}
		s.resolver.Invalidate() // an upsert may carry a visited flag
		return s.writeBack(journal.OpUpsert, city.Name, prev)
	})
}

// MergeFields patches only the supplied fields of an existing record and
// writes the document back.
func (s *Store) MergeFields(ctx context.Context, name string, patch registry.Patch) error {
	return s.do(ctx, func() error {
		prev := s.reg.Names()
		city, err := s.reg.MergeFields(name, patch)
		if err != nil {
			return err
		}
		if patch.Visited != nil {
			s.resolver.Invalidate()
		}
		return s.writeBack(journal.OpMerge, city.Name, prev)
	})
}

// MarkVisited flags a destination as visited. The legacy migration never
// clears visited flags; unsetting one takes an explicit MergeFields patch.
func (s *Store) MarkVisited(ctx context.Context, name string) error {
	visitedFlag := true
	return s.MergeFields(ctx, name, registry.Patch{Visited: &visitedFlag})
}

// MigrateLegacy imports the flat legacy visited-flag format and, when
// anything changed, writes the document back. See registry.MigrateLegacy
// for the idempotence rules.
func (s *Store) MigrateLegacy(ctx context.Context, raw string) (*registry.MigrationReport, error) {
	var report *registry.MigrationReport
	err := s.do(ctx, func() error {
		prev := s.reg.Names()
		report = s.reg.MigrateLegacy(raw)
		if !report.Changed() {
			return nil
		}
		s.resolver.Invalidate()
		return s.writeBack(journal.OpMigrate, "", prev)
	})
	return report, err
}

// IsVisited resolves the visited state of one destination by name.
func (s *Store) IsVisited(ctx context.Context, name string) (bool, error) {
	var verdict bool
	err := s.do(ctx, func() error {
		city, ok := s.reg.FindByName(name)
		if !ok {
			return fmt.Errorf("waypost: %q: %w", name, registry.ErrUnknownCity)
		}
		v, rerr := s.resolver.IsVisited(ctx, city)
		verdict = v
		return rerr
	})
	return verdict, err
}

// Find returns a copy of one record.
func (s *Store) Find(ctx context.Context, name string) (*registry.City, error) {
	var city *registry.City
	err := s.do(ctx, func() error {
		c, ok := s.reg.FindByName(name)
		if !ok {
			return fmt.Errorf("waypost: %q: %w", name, registry.ErrUnknownCity)
		}
		city = c
		return nil
	})
	return city, err
}

// List returns copies of all records in document order.
func (s *Store) List(ctx context.Context) ([]*registry.City, error) {
	var cities []*registry.City
	err := s.do(ctx, func() error {
		cities = s.reg.List()
		return nil
	})
	return cities, err
}

// Flush writes the current registry state to disk without any mutation.
// Used by `waypost init` to materialize a fresh install's defaults.
func (s *Store) Flush(ctx context.Context) error {
	return s.do(ctx, func() error {
		return s.writeBack(journal.OpWrite, "", s.reg.Names())
	})
}

// Invalidate discards cached visited verdicts. Hosts call this on
// save-load events, when the evidence source has silently changed.
func (s *Store) Invalidate() {
	s.resolver.Invalidate()
}

// ResetBaseline clears the write refusal after both primary and backup
// were found corrupt. The next write establishes a new baseline.
func (s *Store) ResetBaseline() {
	s.docs.Reset()
}

// Journal exposes the mutation journal for inspection; nil when the
// journal is disabled or failed to open.
func (s *Store) Journal() *journal.Journal {
	return s.jnl
}

// Stats reports a snapshot across the store's components.
type Stats struct {
	Cities   int
	Visited  int
	Resolver visited.Stats
	Journal  uint64 // last journal sequence, 0 when disabled
}

// Stats returns a point-in-time snapshot.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.do(ctx, func() error {
		st.Cities = s.reg.Len()
		st.Visited = len(s.reg.VisitedNames())
		st.Resolver = s.resolver.Stats()
		if s.jnl != nil {
			st.Journal = s.jnl.Sequence()
		}
		return nil
	})
	return st, err
}

// Close stops the watcher and the task loop and closes the journal.
// Safe to call more than once.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.watch != nil {
			s.watch.Stop()
		}
		close(s.stopCh)
		<-s.doneCh

		if s.jnl != nil {
			err = s.jnl.Close()
		}
	})
	return err
}
