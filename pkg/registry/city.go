// Package registry provides the in-memory city registry for waypost.
//
// The registry is an ordered collection of City records keyed by name
// (case-insensitive). Records are never deleted — once a city is known it
// persists for the life of the install and only its fields mutate.
//
// Mutations go through two paths:
//   - UpsertFull: replace a whole record (or append a new one)
//   - MergeFields: patch only the supplied fields, preserving the rest
//
// MergeFields is the canonical merge path. Regenerating records from
// compiled-in defaults must go through it so externally observed state
// (visited flags, price overrides) survives the regeneration.
//
// Usage:
//
//	reg := registry.New()
//	reg.Seed(registry.Defaults())
//
//	visited := true
//	city, err := reg.MergeFields("Cierzo", registry.Patch{Visited: &visited})
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// DefaultPrice is the fare applied to records created without an explicit price.
const DefaultPrice = 200

// Common registry errors
var (
	ErrEmptyName   = errors.New("registry: city name must not be empty")
	ErrUnknownCity = errors.New("registry: unknown city")
)

// Vec3 is a 3-component world coordinate. Values are rounded to three
// decimal places when serialized; sub-millimeter precision is noise from
// the host's float transforms and only churns the on-disk document.
type Vec3 struct {
	X float64
	Y float64
	Z float64
}

// Round returns the vector with each axis rounded to three decimal places.
func (v Vec3) Round() Vec3 {
	return Vec3{
		X: round3(v.X),
		Y: round3(v.Y),
		Z: round3(v.Z),
	}
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

// MarshalJSON encodes the vector as a rounded [x,y,z] array.
func (v Vec3) MarshalJSON() ([]byte, error) {
	r := v.Round()
	return json.Marshal([3]float64{r.X, r.Y, r.Z})
}

// UnmarshalJSON decodes an [x,y,z] array.
func (v *Vec3) UnmarshalJSON(data []byte) error {
	var arr [3]float64
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("registry: invalid coords: %w", err)
	}
	v.X, v.Y, v.Z = arr[0], arr[1], arr[2]
	return nil
}

// City is the persisted representation of one travel destination.
//
// Name is the registry key and is immutable after creation. Coords is nil
// when the position is unknown. Variants and LastKnownVariant are always
// materialized on the wire — [] and "" respectively, never null — to keep
// the document schema stable across writes.
type City struct {
	Name                 string   `json:"name"`
	SceneName            string   `json:"sceneName"`
	Coords               *Vec3    `json:"coords"`
	Price                int      `json:"price"`
	TargetGameObjectName string   `json:"targetGameObjectName"`
	Desc                 string   `json:"desc"`
	Enabled              bool     `json:"enabled"`
	Visited              bool     `json:"visited"`
	Variants             []string `json:"variants"`
	LastKnownVariant     string   `json:"lastKnownVariant"`
}

// Clone returns a deep copy of the city.
func (c *City) Clone() *City {
	cp := *c
	if c.Coords != nil {
		coords := *c.Coords
		cp.Coords = &coords
	}
	cp.Variants = make([]string, len(c.Variants))
	copy(cp.Variants, c.Variants)
	return &cp
}

// materialize enforces the no-null-channel invariant on Variants.
func (c *City) materialize() {
	if c.Variants == nil {
		c.Variants = []string{}
	}
}

// MarshalJSON emits every field, with Variants forced to [] when empty.
func (c City) MarshalJSON() ([]byte, error) {
	type alias City
	if c.Variants == nil {
		c.Variants = []string{}
	}
	return json.Marshal(alias(c))
}

// UnmarshalJSON decodes a city and re-materializes the Variants slice so
// documents written by older tools (which omitted or nulled it) still load.
func (c *City) UnmarshalJSON(data []byte) error {
	type alias City
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = City(a)
	c.materialize()
	return nil
}

// Patch describes a partial update for MergeFields. Nil fields are left
// untouched on the target record. There is no way to reset Coords back to
// unknown through a patch; the model has no such transition.
type Patch struct {
	SceneName            *string
	Coords               *Vec3
	Price                *int
	TargetGameObjectName *string
	Desc                 *string
	Enabled              *bool
	Visited              *bool
	Variants             []string
	LastKnownVariant     *string
}

// apply copies the non-nil patch fields onto the city.
func (p Patch) apply(c *City) {
	if p.SceneName != nil {
		c.SceneName = *p.SceneName
	}
	if p.Coords != nil {
		coords := p.Coords.Round()
		c.Coords = &coords
	}
	if p.Price != nil {
		// Zero means "unset" everywhere a price enters the registry; map
		// it to the default so the document never carries a value a
		// reload would rewrite.
		c.Price = *p.Price
		if c.Price == 0 {
			c.Price = DefaultPrice
		}
	}
	if p.TargetGameObjectName != nil {
		c.TargetGameObjectName = *p.TargetGameObjectName
	}
	if p.Desc != nil {
		c.Desc = *p.Desc
	}
	if p.Enabled != nil {
		c.Enabled = *p.Enabled
	}
	if p.Visited != nil {
		c.Visited = *p.Visited
	}
	if p.Variants != nil {
		c.Variants = append([]string(nil), p.Variants...)
	}
	if p.LastKnownVariant != nil {
		c.LastKnownVariant = *p.LastKnownVariant
	}
}
