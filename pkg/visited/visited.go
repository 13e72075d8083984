// Package visited implements the visited-state reconciliation engine.
//
// Whether a destination counts as visited is resolved from two evidence
// sources with strict precedence:
//
//  1. Authoritative: the registry's own persisted visited flags. When any
//     record carries visited=true, this set is used exclusively.
//  2. Fallback: identifier strings harvested from the host's save state by
//     an opaque EvidenceProvider, consulted only when no authoritative
//     flag exists anywhere.
//
// The two sources are schema-incompatible; mixing them would let a stale
// harvested token contradict a flag the user explicitly persisted.
//
// Matching is fuzzy: keys are normalized (lowercase, alphanumerics only)
// and a candidate matches on exact equality, substring containment in
// either direction, or separator-insensitive containment.
//
// Results are cached per record name. Callers must Invalidate() whenever
// a visited flag changes or the evidence source changes (save reload).
//
// Usage:
//
//	resolver := visited.NewResolver(reg.VisitedNames, provider, logger)
//	ok, err := resolver.IsVisited(ctx, city)
package visited

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xzahalko/waypost/pkg/registry"
)

// minTokenLen is the shortest normalized evidence token worth keeping;
// anything shorter matches half the alphabet by substring.
const minTokenLen = 3

// EvidenceProvider supplies raw candidate identifier strings from the
// host's save state. The core never inspects host internals; this is the
// entire contract.
type EvidenceProvider interface {
	Harvest(ctx context.Context) ([]string, error)
}

// EvidenceFunc adapts a plain function to EvidenceProvider.
type EvidenceFunc func(ctx context.Context) ([]string, error)

// Harvest implements EvidenceProvider.
func (f EvidenceFunc) Harvest(ctx context.Context) ([]string, error) {
	return f(ctx)
}

// keySet is a normalized lookup set that keeps both the normalized and
// loose forms of each source string for the containment match rungs.
type keySet struct {
	norm  map[string]struct{}
	keys  []string // normalized forms, iteration order stable
	loose []string // parallel loose forms of the same sources
}

func newKeySet() *keySet {
	return &keySet{norm: make(map[string]struct{})}
}

func (ks *keySet) add(raw string) {
	n := NormalizeKey(raw)
	if n == "" {
		return
	}
	if _, dup := ks.norm[n]; dup {
		return
	}
	ks.norm[n] = struct{}{}
	ks.keys = append(ks.keys, n)
	ks.loose = append(ks.loose, looseKey(raw))
}

func (ks *keySet) empty() bool {
	return len(ks.keys) == 0
}

// matches runs the three-rung ladder for one candidate string.
func (ks *keySet) matches(candidate string) bool {
	n := NormalizeKey(candidate)
	if n == "" {
		return false
	}
	if _, ok := ks.norm[n]; ok {
		return true
	}
	for _, k := range ks.keys {
		if containsEither(n, k) {
			return true
		}
	}
	l := looseKey(candidate)
	for _, k := range ks.loose {
		if containsEither(l, k) {
			return true
		}
	}
	return false
}

func containsEither(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// Resolver reconciles visited state for city records. Safe for concurrent
// use; the derived sets and the per-record verdict cache rebuild lazily
// after Invalidate.
type Resolver struct {
	mu sync.Mutex

	// authSource yields the names of all records with visited=true.
	authSource func() []string
	provider   EvidenceProvider
	logger     *zap.Logger

	auth     *keySet
	fallback *keySet
	built    bool

	cache map[string]bool

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Stats reports resolver activity and the evidence mode in effect.
type Stats struct {
	CacheHits     uint64
	CacheMisses   uint64
	Authoritative bool
	AuthSize      int
	FallbackSize  int
}

// NewResolver creates a resolver. authSource must return the current
// visited=true record names; provider may be nil when the host has no
// save-state harvester. A nil logger is replaced with zap.NewNop().
func NewResolver(authSource func() []string, provider EvidenceProvider, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		authSource: authSource,
		provider:   provider,
		logger:     logger,
		cache:      make(map[string]bool),
	}
}

// IsVisited resolves the visited state of one record. Candidates are
// tried in order: name, scene name, target object name. The verdict is
// cached per record name until Invalidate.
func (r *Resolver) IsVisited(ctx context.Context, city *registry.City) (bool, error) {
	if city == nil {
		return false, nil
	}
	key := NormalizeKey(city.Name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if verdict, ok := r.cache[key]; ok {
		r.hits.Add(1)
		return verdict, nil
	}
	r.misses.Add(1)

	if err := r.buildLocked(ctx); err != nil {
		return false, err
	}

	set := r.auth
	if set.empty() {
		set = r.fallback
	}

	verdict := false
	for _, candidate := range []string{city.Name, city.SceneName, city.TargetGameObjectName} {
		if candidate == "" {
			continue
		}
		if set.matches(candidate) {
			verdict = true
			break
		}
	}

	r.cache[key] = verdict
	return verdict, nil
}

// buildLocked materializes the authoritative set and, only when it is
// empty, the fallback set from harvested evidence.
func (r *Resolver) buildLocked(ctx context.Context) error {
	if r.built {
		return nil
	}

	r.auth = newKeySet()
	for _, name := range r.authSource() {
		r.auth.add(name)
	}
	r.fallback = newKeySet()

	// Authoritative flags exist: fallback evidence is never consulted,
	// even as a tiebreaker.
	if !r.auth.empty() || r.provider == nil {
		r.built = true
		return nil
	}

	evidence, err := r.provider.Harvest(ctx)
	if err != nil {
		return err
	}
	kept := 0
	for _, raw := range evidence {
		if pathLike(raw) {
			continue
		}
		n := NormalizeKey(raw)
		if len(n) < minTokenLen {
			continue
		}
		if _, generic := genericTokens[n]; generic {
			continue
		}
		r.fallback.add(raw)
		kept++
	}
	r.logger.Debug("fallback evidence set built",
		zap.Int("harvested", len(evidence)), zap.Int("kept", kept))

	r.built = true
	return nil
}

// Invalidate discards the cached verdicts and derived sets. Callers must
// invoke it on any visited-flag change and on evidence-source changes
// such as a save reload.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]bool)
	r.auth = nil
	r.fallback = nil
	r.built = false
}

// Stats returns a snapshot of resolver activity.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Stats{
		CacheHits:   r.hits.Load(),
		CacheMisses: r.misses.Load(),
	}
	if r.built {
		s.Authoritative = !r.auth.empty()
		s.AuthSize = len(r.auth.keys)
		s.FallbackSize = len(r.fallback.keys)
	}
	return s
}
