// Package document provides the crash-safe canonical document store for waypost.
//
// One install owns exactly one canonical JSON document holding the ordered
// city array, plus a single reusable backup file at a fixed companion path.
// Durability rests on a write/verify/rollback protocol:
//   - AtomicWrite: serialize to a temp file, rotate the old primary into the
//     backup slot, atomically rename the temp over the primary. External
//     readers see whole-old or whole-new content, never a torn file.
//   - VerifyAfterWrite: re-read the just-written file and assert every record
//     name present before the write is still present; on failure the primary
//     is restored from the backup.
//
// A write is only attempted when at least one of {primary, backup} parsed
// successfully during the preceding load. When both are corrupt the store
// refuses destructive writes until Reset() — guessing and overwriting
// unknown-but-possibly-valid data is worse than staying read-only.
//
// Usage:
//
//	store := document.NewStore("/data/cities.json", logger)
//	doc, err := store.Load()
//	if errors.Is(err, document.ErrNotFound) {
//		doc = document.New(registry.Defaults())
//	}
//
//	if err := store.AtomicWrite(doc); err != nil { ... }
//	if err := store.VerifyAfterWrite(previousNames); err != nil { ... }
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/xzahalko/waypost/pkg/registry"
)

// Common document store errors
var (
	ErrNotFound     = errors.New("document: not found")
	ErrParse        = errors.New("document: parse error")
	ErrNoBaseline   = errors.New("document: no parseable baseline, writes refused")
	ErrVerification = errors.New("document: post-write verification failed")
)

// Document is the canonical on-disk object: an ordered array of city
// records plus any unknown top-level fields, which are preserved verbatim
// across load/merge/write cycles so a newer tool's data is never silently
// dropped by an older writer.
type Document struct {
	Cities []*registry.City

	// extra holds unknown top-level fields keyed by JSON name.
	extra map[string]json.RawMessage
}

// New creates a document over the given cities.
func New(cities []*registry.City) *Document {
	return &Document{Cities: cities}
}

// Names returns the record names in document order.
func (d *Document) Names() []string {
	names := make([]string, len(d.Cities))
	for i, c := range d.Cities {
		names[i] = c.Name
	}
	return names
}

// ExtraKeys returns the preserved unknown top-level field names, sorted.
func (d *Document) ExtraKeys() []string {
	keys := make([]string, 0, len(d.extra))
	for k := range d.extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON emits the cities array first, then any preserved unknown
// fields in sorted key order for deterministic output.
func (d *Document) MarshalJSON() ([]byte, error) {
	cities := d.Cities
	if cities == nil {
		cities = []*registry.City{}
	}
	cityJSON, err := json.Marshal(cities)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"cities":`)
	buf.Write(cityJSON)
	for _, k := range d.ExtraKeys() {
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(keyJSON)
		buf.WriteByte(':')
		buf.Write(d.extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes the cities array and stashes every other
// top-level field for later re-emission.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}

	d.Cities = nil
	d.extra = nil
	for k, v := range raw {
		if k == "cities" {
			if err := json.Unmarshal(v, &d.Cities); err != nil {
				return fmt.Errorf("%w: cities: %v", ErrParse, err)
			}
			continue
		}
		if d.extra == nil {
			d.extra = make(map[string]json.RawMessage)
		}
		d.extra[k] = v
	}
	return nil
}
