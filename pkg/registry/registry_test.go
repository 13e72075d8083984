package registry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertFull(t *testing.T) {
	t.Run("appends_new_records_in_order", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.UpsertFull(&City{Name: "Cierzo"}))
		require.NoError(t, reg.UpsertFull(&City{Name: "Berg"}))
		require.NoError(t, reg.UpsertFull(&City{Name: "Levant"}))

		assert.Equal(t, []string{"Cierzo", "Berg", "Levant"}, reg.Names())
	})

	t.Run("replaces_in_place_case_insensitively", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.UpsertFull(&City{Name: "Cierzo", Desc: "old"}))
		require.NoError(t, reg.UpsertFull(&City{Name: "Berg"}))
		require.NoError(t, reg.UpsertFull(&City{Name: "CIERZO", Desc: "new"}))

		assert.Equal(t, 2, reg.Len())
		assert.Equal(t, []string{"Cierzo", "Berg"}, reg.Names(), "position and spelling preserved")

		city, ok := reg.FindByName("cierzo")
		require.True(t, ok)
		assert.Equal(t, "new", city.Desc)
		assert.Equal(t, "Cierzo", city.Name)
	})

	t.Run("rejects_empty_name", func(t *testing.T) {
		reg := New()
		assert.ErrorIs(t, reg.UpsertFull(&City{Name: "  "}), ErrEmptyName)
		assert.ErrorIs(t, reg.UpsertFull(nil), ErrEmptyName)
	})

	t.Run("applies_default_price_when_unset", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.UpsertFull(&City{Name: "Berg"}))
		city, _ := reg.FindByName("Berg")
		assert.Equal(t, DefaultPrice, city.Price)
	})

	t.Run("stores_a_copy_not_the_argument", func(t *testing.T) {
		reg := New()
		in := &City{Name: "Berg", Variants: []string{"winter"}}
		require.NoError(t, reg.UpsertFull(in))
		in.Variants[0] = "mutated"

		city, _ := reg.FindByName("Berg")
		assert.Equal(t, []string{"winter"}, city.Variants)
	})
}

func TestMergeFields(t *testing.T) {
	t.Run("patches_only_supplied_fields", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.UpsertFull(&City{
			Name:      "Cierzo",
			SceneName: "CierzoNewTerrain",
			Price:     300,
			Desc:      "coastal village",
		}))

		visited := true
		city, err := reg.MergeFields("cierzo", Patch{Visited: &visited})
		require.NoError(t, err)

		assert.True(t, city.Visited)
		assert.Equal(t, "CierzoNewTerrain", city.SceneName)
		assert.Equal(t, 300, city.Price)
		assert.Equal(t, "coastal village", city.Desc)
	})

	t.Run("unknown_city_errors", func(t *testing.T) {
		reg := New()
		_, err := reg.MergeFields("Atlantis", Patch{})
		assert.ErrorIs(t, err, ErrUnknownCity)
	})

	t.Run("coords_patch_is_rounded", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.UpsertFull(&City{Name: "Berg"}))

		city, err := reg.MergeFields("Berg", Patch{Coords: &Vec3{X: 1.23456, Y: 2, Z: 9.9996}})
		require.NoError(t, err)
		assert.Equal(t, Vec3{X: 1.235, Y: 2, Z: 10}, *city.Coords)
	})

	t.Run("zero_price_patch_maps_to_default", func(t *testing.T) {
		// Zero means "unset" on every path a price enters the registry.
		// Persisting a literal 0 would be rewritten to the default on the
		// next load, silently breaking the round trip.
		reg := New()
		require.NoError(t, reg.UpsertFull(&City{Name: "Berg", Price: 350}))

		zero := 0
		city, err := reg.MergeFields("Berg", Patch{Price: &zero})
		require.NoError(t, err)
		assert.Equal(t, DefaultPrice, city.Price)
	})
}

func TestSeed(t *testing.T) {
	t.Run("does_not_clobber_loaded_records", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.UpsertFull(&City{Name: "Cierzo", Visited: true, Price: 500}))
		require.NoError(t, reg.Seed(Defaults()))

		assert.Equal(t, 6, reg.Len())
		city, _ := reg.FindByName("Cierzo")
		assert.True(t, city.Visited)
		assert.Equal(t, 500, city.Price)
	})

	t.Run("defaults_ship_six_unvisited_cities_at_standard_fare", func(t *testing.T) {
		defaults := Defaults()
		require.Len(t, defaults, 6)
		for _, c := range defaults {
			assert.Equal(t, DefaultPrice, c.Price, c.Name)
			assert.False(t, c.Visited, c.Name)
			assert.NotNil(t, c.Variants, c.Name)
		}
	})
}

func TestCityJSON(t *testing.T) {
	t.Run("variants_never_null_on_the_wire", func(t *testing.T) {
		data, err := json.Marshal(&City{Name: "Berg"})
		require.NoError(t, err)
		assert.Contains(t, string(data), `"variants":[]`)
		assert.Contains(t, string(data), `"lastKnownVariant":""`)
	})

	t.Run("nil_coords_marshal_as_null", func(t *testing.T) {
		data, err := json.Marshal(&City{Name: "Berg"})
		require.NoError(t, err)
		assert.Contains(t, string(data), `"coords":null`)
	})

	t.Run("coords_rounded_to_three_decimals", func(t *testing.T) {
		data, err := json.Marshal(&City{Name: "Berg", Coords: &Vec3{X: 1.23456, Y: 2, Z: 3.0004}})
		require.NoError(t, err)
		assert.Contains(t, string(data), `"coords":[1.235,2,3]`)
	})

	t.Run("null_variants_rematerialized_on_load", func(t *testing.T) {
		var c City
		require.NoError(t, json.Unmarshal([]byte(`{"name":"Berg","variants":null}`), &c))
		assert.NotNil(t, c.Variants)
		assert.Empty(t, c.Variants)
	})
}

func TestMigrateLegacy(t *testing.T) {
	legacy := `
# travel flags
Cierzo.Visited = true
Berg.Visited = false
"Levant.Visited" = true
Atlantis.Visited = true
UnrelatedKey = 42
Harmattan.Visited = maybe
`

	t.Run("applies_true_entries_only", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.Seed(Defaults()))

		report := reg.MigrateLegacy(legacy)
		require.False(t, report.Skipped)
		assert.Equal(t, []string{"Cierzo", "Levant"}, report.Applied)
		assert.Equal(t, []string{"Berg"}, report.IgnoredFalse)
		assert.Equal(t, []string{"Atlantis"}, report.Unmatched)
		require.Len(t, report.Errors, 1)
		assert.Contains(t, report.Errors[0].Error(), "non-boolean")

		berg, _ := reg.FindByName("Berg")
		assert.False(t, berg.Visited, "false entries are never applied")
	})

	t.Run("skipped_entirely_when_any_record_already_visited", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.Seed(Defaults()))
		visited := true
		_, err := reg.MergeFields("Monsoon", Patch{Visited: &visited})
		require.NoError(t, err)

		report := reg.MigrateLegacy(legacy)
		assert.True(t, report.Skipped)
		assert.False(t, report.Changed())

		cierzo, _ := reg.FindByName("Cierzo")
		assert.False(t, cierzo.Visited)
	})

	t.Run("running_twice_never_double_applies", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.Seed(Defaults()))

		first := reg.MigrateLegacy(legacy)
		require.True(t, first.Changed())

		second := reg.MigrateLegacy(legacy)
		assert.True(t, second.Skipped)
		assert.False(t, second.Changed())
	})
}
