package document

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xzahalko/waypost/pkg/registry"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "cities.json"), nil)
}

func TestLoad(t *testing.T) {
	t.Run("missing_file_returns_not_found", func(t *testing.T) {
		store := testStore(t)
		doc, err := store.Load()
		assert.Nil(t, doc)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("not_found_is_a_verified_baseline_for_writes", func(t *testing.T) {
		store := testStore(t)
		_, err := store.Load()
		require.ErrorIs(t, err, ErrNotFound)

		err = store.AtomicWrite(New(registry.Defaults()))
		assert.NoError(t, err, "fresh-install emptiness is a writable baseline")
	})

	t.Run("corrupt_primary_falls_back_to_backup", func(t *testing.T) {
		store := testStore(t)
		_, _ = store.Load()
		require.NoError(t, store.AtomicWrite(New(registry.Defaults())))
		require.NoError(t, store.AtomicWrite(New(registry.Defaults()))) // populates backup

		require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o644))

		fresh := NewStore(store.Path(), nil)
		doc, err := fresh.Load()
		require.NoError(t, err)
		assert.True(t, fresh.LoadedFromBackup())
		assert.Len(t, doc.Cities, 6)
	})

	t.Run("both_corrupt_refuses_writes_until_reset", func(t *testing.T) {
		store := testStore(t)
		require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o644))
		require.NoError(t, os.WriteFile(store.BackupPath(), []byte("also not json"), 0o644))

		_, err := store.Load()
		assert.ErrorIs(t, err, ErrNoBaseline)

		err = store.AtomicWrite(New(nil))
		assert.ErrorIs(t, err, ErrNoBaseline, "destructive write must be refused")

		store.Reset()
		assert.NoError(t, store.AtomicWrite(New(registry.Defaults())))
	})
}

func TestAtomicWrite(t *testing.T) {
	t.Run("round_trip_preserves_all_fields", func(t *testing.T) {
		store := testStore(t)
		_, _ = store.Load()

		in := New([]*registry.City{
			{
				Name:                 "Cierzo",
				SceneName:            "CierzoNewTerrain",
				Coords:               &registry.Vec3{X: 1203.535, Y: 5.977, Z: 1375.855},
				Price:                200,
				TargetGameObjectName: "CierzoTravelStand",
				Desc:                 "coastal village",
				Enabled:              true,
				Visited:              true,
				Variants:             []string{"destroyed", "rebuilt"},
				LastKnownVariant:     "rebuilt",
			},
			{Name: "Berg", Variants: []string{}},
		})
		require.NoError(t, store.AtomicWrite(in))

		out, err := store.Load()
		require.NoError(t, err)
		if diff := cmp.Diff(in.Cities, out.Cities); diff != "" {
			t.Fatalf("round trip mismatch (-wrote +loaded):\n%s", diff)
		}
	})

	t.Run("repeated_writes_keep_exactly_one_backup", func(t *testing.T) {
		store := testStore(t)
		_, _ = store.Load()
		doc := New(registry.Defaults())

		for i := 0; i < 4; i++ {
			require.NoError(t, store.AtomicWrite(doc))
		}

		entries, err := os.ReadDir(filepath.Dir(store.Path()))
		require.NoError(t, err)
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		assert.ElementsMatch(t, []string{"cities.json", "cities.json.bak"}, names,
			"no temp files and no backup chain growth")
	})

	t.Run("identical_content_writes_identical_bytes", func(t *testing.T) {
		store := testStore(t)
		_, _ = store.Load()
		doc := New(registry.Defaults())

		require.NoError(t, store.AtomicWrite(doc))
		first, err := os.ReadFile(store.Path())
		require.NoError(t, err)

		require.NoError(t, store.AtomicWrite(doc))
		second, err := os.ReadFile(store.Path())
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})

	t.Run("failure_before_replace_leaves_primary_untouched", func(t *testing.T) {
		store := testStore(t)
		_, _ = store.Load()
		require.NoError(t, store.AtomicWrite(New(registry.Defaults())))
		before, err := os.ReadFile(store.Path())
		require.NoError(t, err)

		boom := errors.New("disk full")
		store.rename = func(oldpath, newpath string) error { return boom }

		err = store.AtomicWrite(New(nil))
		assert.ErrorIs(t, err, boom)

		after, rerr := os.ReadFile(store.Path())
		require.NoError(t, rerr)
		assert.Equal(t, before, after, "failed write must not change the canonical file")
	})

	t.Run("write_after_backup_recovery_keeps_the_good_backup", func(t *testing.T) {
		store := testStore(t)
		_, _ = store.Load()
		full := New(registry.Defaults())
		require.NoError(t, store.AtomicWrite(full))
		require.NoError(t, store.AtomicWrite(full)) // populates backup

		// The primary rots; the next load recovers from the backup.
		require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o644))
		fresh := NewStore(store.Path(), nil)
		_, err := fresh.Load()
		require.NoError(t, err)
		require.True(t, fresh.LoadedFromBackup())

		// A write that loses a record must not have rotated the corrupt
		// primary into the backup slot: the rollback still has the good
		// copy, and a reload sees every record.
		require.NoError(t, fresh.AtomicWrite(New(registry.Defaults()[1:])))
		err = fresh.VerifyAfterWrite(full.Names())
		assert.ErrorIs(t, err, ErrVerification)

		doc, lerr := fresh.Load()
		require.NoError(t, lerr)
		assert.Equal(t, full.Names(), doc.Names())
	})

	t.Run("verified_write_reenables_backup_rotation", func(t *testing.T) {
		store := testStore(t)
		_, _ = store.Load()
		full := New(registry.Defaults())
		require.NoError(t, store.AtomicWrite(full))
		require.NoError(t, store.AtomicWrite(full))

		require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o644))
		fresh := NewStore(store.Path(), nil)
		_, err := fresh.Load()
		require.NoError(t, err)
		require.True(t, fresh.LoadedFromBackup())

		// A write that verifies becomes the new baseline; the write after
		// it rotates that baseline into the backup slot as usual.
		require.NoError(t, fresh.AtomicWrite(full))
		require.NoError(t, fresh.VerifyAfterWrite(full.Names()))
		require.NoError(t, fresh.AtomicWrite(New(registry.Defaults()[1:])))

		backup, rerr := os.ReadFile(fresh.BackupPath())
		require.NoError(t, rerr)
		rotated, perr := parse(backup)
		require.NoError(t, perr)
		assert.Equal(t, full.Names(), rotated.Names())
	})

	t.Run("unknown_top_level_fields_survive_a_rewrite", func(t *testing.T) {
		store := testStore(t)
		raw := `{"cities":[{"name":"Berg","sceneName":"","coords":null,"price":200,
			"targetGameObjectName":"","desc":"","enabled":true,"visited":false,
			"variants":[],"lastKnownVariant":""}],
			"schemaVersion":3,"customNote":"do not drop"}`
		require.NoError(t, os.WriteFile(store.Path(), []byte(raw), 0o644))

		doc, err := store.Load()
		require.NoError(t, err)
		assert.Equal(t, []string{"customNote", "schemaVersion"}, doc.ExtraKeys())

		require.NoError(t, store.AtomicWrite(doc))
		data, err := os.ReadFile(store.Path())
		require.NoError(t, err)
		assert.Contains(t, string(data), `"schemaVersion"`)
		assert.Contains(t, string(data), `"do not drop"`)
	})
}

func TestVerifyAfterWrite(t *testing.T) {
	t.Run("passes_when_all_names_survive", func(t *testing.T) {
		store := testStore(t)
		_, _ = store.Load()
		require.NoError(t, store.AtomicWrite(New(registry.Defaults())))
		assert.NoError(t, store.VerifyAfterWrite([]string{"Cierzo", "berg", "New Sirocco"}))
	})

	t.Run("lost_record_triggers_rollback_from_backup", func(t *testing.T) {
		store := testStore(t)
		_, _ = store.Load()
		full := New(registry.Defaults())
		require.NoError(t, store.AtomicWrite(full))

		// Second write drops Cierzo; the first write is now the backup.
		truncated := New(registry.Defaults()[1:])
		require.NoError(t, store.AtomicWrite(truncated))

		err := store.VerifyAfterWrite(full.Names())
		assert.ErrorIs(t, err, ErrVerification)

		doc, lerr := store.Load()
		require.NoError(t, lerr)
		assert.Equal(t, full.Names(), doc.Names(), "primary restored from backup")
	})

	t.Run("unparseable_backup_is_never_restored", func(t *testing.T) {
		store := testStore(t)

		// A junk backup left behind by a deleted install. Load treats the
		// missing primary as a fresh install; the rollback path must not
		// trust the junk either.
		require.NoError(t, os.WriteFile(store.BackupPath(), []byte("junk"), 0o644))
		_, err := store.Load()
		require.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, store.AtomicWrite(New(registry.Defaults()[1:])))
		err = store.VerifyAfterWrite([]string{"Cierzo"})
		assert.ErrorIs(t, err, ErrVerification)

		// The parseable just-written content stays; no junk on the primary.
		data, rerr := os.ReadFile(store.Path())
		require.NoError(t, rerr)
		doc, perr := parse(data)
		require.NoError(t, perr, "restore must not overwrite the primary with junk")
		assert.Len(t, doc.Cities, 5)
	})

	t.Run("unparseable_rewrite_triggers_rollback", func(t *testing.T) {
		store := testStore(t)
		_, _ = store.Load()
		require.NoError(t, store.AtomicWrite(New(registry.Defaults())))
		require.NoError(t, store.AtomicWrite(New(registry.Defaults())))
		require.NoError(t, os.WriteFile(store.Path(), []byte("garbage"), 0o644))

		err := store.VerifyAfterWrite([]string{"Cierzo"})
		assert.ErrorIs(t, err, ErrVerification)

		doc, lerr := store.Load()
		require.NoError(t, lerr)
		assert.Len(t, doc.Cities, 6)
	})
}

func TestDigest(t *testing.T) {
	t.Run("tracks_last_written_content", func(t *testing.T) {
		store := testStore(t)
		_, _ = store.Load()
		assert.Nil(t, store.Digest())

		require.NoError(t, store.AtomicWrite(New(registry.Defaults())))
		digest := store.Digest()
		require.NotNil(t, digest)

		data, err := os.ReadFile(store.Path())
		require.NoError(t, err)
		assert.Equal(t, DigestBytes(data), digest)
	})
}

func ExampleStore_Load() {
	dir, _ := os.MkdirTemp("", "waypost-example")
	defer os.RemoveAll(dir)

	store := NewStore(filepath.Join(dir, "cities.json"), nil)
	_, err := store.Load()
	if errors.Is(err, ErrNotFound) {
		fmt.Println("fresh install")
	}
	// Output: fresh install
}
