package registry

import (
	"fmt"
	"strings"
)

// Registry is the ordered, case-insensitively keyed collection of City
// records. It preserves insertion order for existing entries and appends
// new ones at the end. Records are never removed.
//
// Registry is not safe for concurrent use; callers serialize access
// (waypost.Store runs all mutations on a single task queue).
type Registry struct {
	cities []*City
	index  map[string]int // lower(name) -> position in cities
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		index: make(map[string]int),
	}
}

// Len returns the number of records.
func (r *Registry) Len() int {
	return len(r.cities)
}

// List returns the records in insertion order. The returned cities are
// deep copies; mutating them does not touch the registry.
func (r *Registry) List() []*City {
	out := make([]*City, len(r.cities))
	for i, c := range r.cities {
		out[i] = c.Clone()
	}
	return out
}

// FindByName looks up a record case-insensitively. Returns a deep copy.
func (r *Registry) FindByName(name string) (*City, bool) {
	i, ok := r.index[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, false
	}
	return r.cities[i].Clone(), true
}

// UpsertFull replaces the entire record matching city.Name, or appends it
// when absent. The record's position is preserved on replace. The stored
// record is a copy; the caller keeps ownership of the argument.
func (r *Registry) UpsertFull(city *City) error {
	if city == nil || strings.TrimSpace(city.Name) == "" {
		return ErrEmptyName
	}
	cp := city.Clone()
	cp.materialize()
	if cp.Price == 0 {
		cp.Price = DefaultPrice
	}

	key := strings.ToLower(strings.TrimSpace(cp.Name))
	if i, ok := r.index[key]; ok {
		// Name is immutable: keep the original spelling on replace.
		cp.Name = r.cities[i].Name
		r.cities[i] = cp
		return nil
	}
	r.index[key] = len(r.cities)
	r.cities = append(r.cities, cp)
	return nil
}

// MergeFields patches only the supplied fields of an existing record,
// leaving every unspecified field untouched. Returns a copy of the
// updated record.
//
// This is the path used for visited/price/enabled changes and for
// regenerating the document from compiled-in defaults without losing
// externally observed state.
func (r *Registry) MergeFields(name string, patch Patch) (*City, error) {
	i, ok := r.index[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("registry: merge %q: %w", name, ErrUnknownCity)
	}
	patch.apply(r.cities[i])
	return r.cities[i].Clone(), nil
}

// Seed upserts each city in order. Existing records are merged field-wise
// rather than replaced, so seeding defaults over a loaded document never
// discards visited flags or price overrides.
func (r *Registry) Seed(cities []*City) error {
	for _, c := range cities {
		if _, ok := r.index[strings.ToLower(strings.TrimSpace(c.Name))]; ok {
			continue // already present, loaded state wins
		}
		if err := r.UpsertFull(c); err != nil {
			return err
		}
	}
	return nil
}

// VisitedNames returns the names of all records with visited=true, in
// insertion order.
func (r *Registry) VisitedNames() []string {
	var names []string
	for _, c := range r.cities {
		if c.Visited {
			names = append(names, c.Name)
		}
	}
	return names
}

// Names returns every record name in insertion order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.cities))
	for i, c := range r.cities {
		names[i] = c.Name
	}
	return names
}

// AnyVisited reports whether at least one record has visited=true.
func (r *Registry) AnyVisited() bool {
	for _, c := range r.cities {
		if c.Visited {
			return true
		}
	}
	return false
}
