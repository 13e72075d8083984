package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// BackupSuffix is appended to the primary path to form the single backup
// slot. At most one backup is retained at any time.
const BackupSuffix = ".bak"

// Store owns the canonical document file and its backup slot. It is a
// plain value handle — no process-wide state — created once per install
// directory and shared through the owning waypost.Store.
type Store struct {
	mu     sync.Mutex
	path   string
	backup string
	logger *zap.Logger

	// baseline is true when the last load produced a trustworthy view of
	// the on-disk state (including the verified-empty fresh-install case).
	baseline bool

	// fromBackup records that the last successful load fell back to the
	// backup file because the primary was unreadable.
	fromBackup bool

	// digest of the last content this store wrote or loaded. Used by the
	// watcher to ignore events caused by our own writes.
	digest [blake2b.Size256]byte

	// rename is swappable in tests to inject failures between the temp
	// write and the atomic replace.
	rename func(oldpath, newpath string) error
}

// NewStore creates a store for the given primary path. The backup lives
// at path+BackupSuffix. A nil logger is replaced with zap.NewNop().
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:   path,
		backup: path + BackupSuffix,
		logger: logger,
		rename: os.Rename,
	}
}

// Path returns the primary file path.
func (s *Store) Path() string { return s.path }

// BackupPath returns the backup file path.
func (s *Store) BackupPath() string { return s.backup }

// LoadedFromBackup reports whether the last successful Load had to fall
// back to the backup file.
func (s *Store) LoadedFromBackup() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fromBackup
}

// Digest returns the BLAKE2b-256 digest of the last content this store
// wrote or loaded, or nil when nothing has been seen yet.
func (s *Store) Digest() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero [blake2b.Size256]byte
	if s.digest == zero {
		return nil
	}
	out := make([]byte, len(s.digest))
	copy(out, s.digest[:])
	return out
}

// DigestBytes returns the BLAKE2b-256 digest of b.
func DigestBytes(b []byte) []byte {
	sum := blake2b.Sum256(b)
	return sum[:]
}

// Load reads the canonical document.
//
// A missing primary (with no usable backup) returns ErrNotFound; this is
// not a failure — the caller seeds compiled-in defaults and the emptiness
// becomes the verified baseline. A corrupt primary falls back to the
// backup file. When both are unparseable, Load returns ErrNoBaseline and
// the store refuses all writes until Reset().
func (s *Store) Load() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fromBackup = false

	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		doc, perr := parse(data)
		if perr == nil {
			s.baseline = true
			s.digest = blake2b.Sum256(data)
			return doc, nil
		}
		s.logger.Warn("primary document unparseable, trying backup",
			zap.String("path", s.path), zap.Error(perr))
		return s.loadBackupLocked(perr)

	case os.IsNotExist(err):
		// No document yet. A leftover backup from a deleted install is
		// still a better baseline than nothing.
		if doc, berr := s.loadBackupLocked(nil); berr == nil {
			s.logger.Warn("primary document missing, recovered from backup",
				zap.String("backup", s.backup))
			return doc, nil
		}
		s.baseline = true // verified-empty fresh install
		return nil, ErrNotFound

	default:
		return nil, fmt.Errorf("document: read %s: %w", s.path, err)
	}
}

// loadBackupLocked attempts the backup file. primaryErr, when non-nil, is
// the parse error that forced the fallback; it is folded into the
// ErrNoBaseline result when the backup fails too.
func (s *Store) loadBackupLocked(primaryErr error) (*Document, error) {
	data, err := os.ReadFile(s.backup)
	if err != nil {
		if primaryErr != nil {
			s.baseline = false
			return nil, fmt.Errorf("%w: primary: %v, backup: %v", ErrNoBaseline, primaryErr, err)
		}
		return nil, err
	}
	doc, perr := parse(data)
	if perr != nil {
		if primaryErr != nil {
			s.baseline = false
			return nil, fmt.Errorf("%w: primary: %v, backup: %v", ErrNoBaseline, primaryErr, perr)
		}
		return nil, perr
	}
	s.baseline = true
	s.fromBackup = true
	s.digest = blake2b.Sum256(data)
	return doc, nil
}

func parse(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrParse)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		if errors.Is(err, ErrParse) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return &doc, nil
}

// AtomicWrite serializes the document to a temporary file in the same
// directory, rotates the current primary into the single backup slot, and
// atomically renames the temp file over the primary. Readers never
// observe a partially written file.
//
// The write is refused with ErrNoBaseline when the preceding Load found
// both primary and backup unparseable.
func (s *Store) AtomicWrite(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.baseline {
		return ErrNoBaseline
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("document: serialize: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("document: write: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".waypost-*.tmp")
	if err != nil {
		return fmt.Errorf("document: write: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("document: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("document: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("document: write: %w", err)
	}

	// Rotate the previous primary into the backup slot, overwriting any
	// prior backup. A fresh install has no primary yet; that is fine.
	// When the last load recovered from the backup the primary is
	// known-corrupt junk: keep the good backup where it is and let the
	// rename below replace the primary directly.
	if _, err := os.Stat(s.path); err == nil && !s.fromBackup {
		_ = os.Remove(s.backup)
		if err := s.rename(s.path, s.backup); err != nil {
			cleanup()
			return fmt.Errorf("document: backup rotation: %w", err)
		}
	}

	if err := s.rename(tmpPath, s.path); err != nil {
		cleanup()
		return fmt.Errorf("document: atomic replace: %w", err)
	}

	s.digest = blake2b.Sum256(data)
	s.logger.Debug("document written",
		zap.String("path", s.path), zap.Int("bytes", len(data)), zap.Int("cities", len(doc.Cities)))
	return nil
}

// VerifyAfterWrite re-reads the just-written primary and asserts that
// every name in precedingNames is still present. On any failure the
// primary is restored from the backup slot and ErrVerification returned.
func (s *Store) VerifyAfterWrite(precedingNames []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return s.restoreLocked(fmt.Errorf("%w: reread: %v", ErrVerification, err))
	}
	doc, perr := parse(data)
	if perr != nil {
		return s.restoreLocked(fmt.Errorf("%w: %v", ErrVerification, perr))
	}

	present := make(map[string]struct{}, len(doc.Cities))
	for _, c := range doc.Cities {
		present[strings.ToLower(c.Name)] = struct{}{}
	}
	for _, name := range precedingNames {
		if _, ok := present[strings.ToLower(name)]; !ok {
			return s.restoreLocked(fmt.Errorf("%w: record %q lost", ErrVerification, name))
		}
	}

	// The primary re-read and parsed: this is the new verified baseline,
	// so the next write may rotate it into the backup slot.
	s.fromBackup = false
	return nil
}

// restoreLocked copies the backup over the primary. The backup itself is
// left in place; it stays the only known-good copy until the next
// successful write rotates it. A backup that does not parse is never
// restored — overwriting the primary with junk cannot heal anything.
func (s *Store) restoreLocked(cause error) error {
	data, err := os.ReadFile(s.backup)
	if err != nil {
		s.logger.Error("verification failed and backup unreadable",
			zap.String("backup", s.backup), zap.Error(err))
		return fmt.Errorf("%w (backup restore failed: %w)", cause, err)
	}
	if _, perr := parse(data); perr != nil {
		s.logger.Error("verification failed and backup unparseable",
			zap.String("backup", s.backup), zap.Error(perr))
		return fmt.Errorf("%w (backup restore failed: %w)", cause, perr)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		s.logger.Error("backup restore failed", zap.String("path", s.path), zap.Error(err))
		return fmt.Errorf("%w (backup restore failed: %w)", cause, err)
	}
	s.digest = blake2b.Sum256(data)
	s.logger.Warn("primary restored from backup", zap.String("path", s.path), zap.Error(cause))
	return cause
}

// Reset clears the no-baseline refusal, accepting whatever the caller
// writes next as the new baseline. This is the explicit escape hatch for
// the both-files-corrupt state; nothing calls it automatically.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseline = true
	s.fromBackup = false
}
