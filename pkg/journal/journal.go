// Package journal records registry mutations in an append-only BadgerDB log.
//
// Every mutation that reaches the canonical document (upsert, field merge,
// legacy migration, document write) is journaled with a sequence number,
// timestamp and the resulting document digest. The journal is purely
// diagnostic: it answers "what changed, when" after the fact, and is never
// consulted as a second source of truth for the registry.
//
// Entries are checksummed; corrupt entries are skipped on read rather than
// failing the whole scan. Journal failures never fail the mutation that
// triggered them — callers log and move on.
//
// Usage:
//
//	j, err := journal.Open(journal.Options{Dir: "/data/journal"}, logger)
//	defer j.Close()
//
//	j.Append(journal.OpMerge, "Cierzo", digest)
//	entries, err := j.Entries(20) // newest first
package journal

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Op identifies what kind of mutation an entry records.
type Op string

const (
	OpUpsert  Op = "upsert"
	OpMerge   Op = "merge"
	OpMigrate Op = "migrate"
	OpWrite   Op = "write"
	OpRestore Op = "restore"
)

// Key prefix for journal entries. Keys are prefix + 8-byte big-endian
// sequence so badger iterates in append order.
const prefixEntry = byte(0x01)

// Common journal errors
var (
	ErrClosed    = errors.New("journal: closed")
	ErrCorrupted = errors.New("journal: corrupted entry")
)

// Entry is one journaled mutation.
type Entry struct {
	Sequence  uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Op        Op        `json:"op"`
	Subject   string    `json:"subject"`
	Digest    string    `json:"digest,omitempty"` // hex document digest after the op
	Checksum  uint32    `json:"checksum"`
}

func (e *Entry) computeChecksum() uint32 {
	payload := fmt.Sprintf("%d|%s|%s|%s", e.Sequence, e.Op, e.Subject, e.Digest)
	return crc32.ChecksumIEEE([]byte(payload))
}

// Options configures the journal store.
type Options struct {
	// Dir is the directory for the badger log. Required unless InMemory.
	Dir string

	// InMemory runs badger without persistence. For tests.
	InMemory bool

	// SyncWrites forces fsync per append. The journal is diagnostic, so
	// the default is off.
	SyncWrites bool
}

// Journal is an append-only mutation log backed by BadgerDB.
// Safe for concurrent use.
type Journal struct {
	db     *badger.DB
	logger *zap.Logger
	seq    atomic.Uint64
	closed atomic.Bool
}

// Open opens (or creates) the journal. A nil logger is replaced with
// zap.NewNop().
func Open(opts Options, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	badgerOpts := badger.DefaultOptions(opts.Dir).
		WithInMemory(opts.InMemory).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}

	j := &Journal{db: db, logger: logger}
	if err := j.loadLastSequence(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// loadLastSequence restores the sequence counter from the newest key.
func (j *Journal) loadLastSequence() error {
	return j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Reverse: true})
		defer it.Close()

		// Seek past every possible entry key, then step back to the last.
		seekKey := append([]byte{prefixEntry}, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		it.Seek(seekKey)
		if it.ValidForPrefix([]byte{prefixEntry}) {
			key := it.Item().Key()
			if len(key) == 9 {
				j.seq.Store(binary.BigEndian.Uint64(key[1:]))
			}
		}
		return nil
	})
}

func entryKey(seq uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefixEntry
	binary.BigEndian.PutUint64(key[1:], seq)
	return key
}

// Append journals one mutation. digest may be nil for operations that do
// not produce a document write.
func (j *Journal) Append(op Op, subject string, digest []byte) error {
	if j.closed.Load() {
		return ErrClosed
	}

	entry := Entry{
		Sequence:  j.seq.Add(1),
		Timestamp: time.Now().UTC(),
		Op:        op,
		Subject:   subject,
		Digest:    hex.EncodeToString(digest),
	}
	entry.Checksum = entry.computeChecksum()

	value, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("journal: encode: %w", err)
	}

	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(entry.Sequence), value)
	})
	if err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	return nil
}

// Entries returns up to limit entries, newest first. limit <= 0 returns
// everything. Entries whose checksum does not verify are skipped and
// logged; one bad record never hides the rest of the history.
func (j *Journal) Entries(limit int) ([]Entry, error) {
	if j.closed.Load() {
		return nil, ErrClosed
	}

	var entries []Entry
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			Reverse:        true,
			PrefetchValues: true,
			PrefetchSize:   100,
		})
		defer it.Close()

		seekKey := append([]byte{prefixEntry}, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		for it.Seek(seekKey); it.ValidForPrefix([]byte{prefixEntry}); it.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var e Entry
				if uerr := json.Unmarshal(val, &e); uerr != nil {
					j.logger.Warn("skipping undecodable journal entry", zap.Error(uerr))
					return nil
				}
				if e.Checksum != e.computeChecksum() {
					j.logger.Warn("skipping corrupted journal entry",
						zap.Uint64("seq", e.Sequence), zap.Error(ErrCorrupted))
					return nil
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal: read: %w", err)
	}
	return entries, nil
}

// Sequence returns the last assigned sequence number.
func (j *Journal) Sequence() uint64 {
	return j.seq.Load()
}

// Close flushes and closes the underlying store.
func (j *Journal) Close() error {
	if j.closed.Swap(true) {
		return nil
	}
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("journal: close: %w", err)
	}
	return nil
}
