package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(Options{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestAppendAndEntries(t *testing.T) {
	t.Run("entries_come_back_newest_first", func(t *testing.T) {
		j := openTestJournal(t)

		require.NoError(t, j.Append(OpUpsert, "Cierzo", nil))
		require.NoError(t, j.Append(OpMerge, "Berg", []byte{0xde, 0xad}))
		require.NoError(t, j.Append(OpWrite, "", []byte{0xbe, 0xef}))

		entries, err := j.Entries(0)
		require.NoError(t, err)
		require.Len(t, entries, 3)

		assert.Equal(t, OpWrite, entries[0].Op)
		assert.Equal(t, uint64(3), entries[0].Sequence)
		assert.Equal(t, "beef", entries[0].Digest)
		assert.Equal(t, OpMerge, entries[1].Op)
		assert.Equal(t, "Berg", entries[1].Subject)
		assert.Equal(t, OpUpsert, entries[2].Op)
	})

	t.Run("limit_caps_the_scan", func(t *testing.T) {
		j := openTestJournal(t)
		for i := 0; i < 10; i++ {
			require.NoError(t, j.Append(OpMerge, "Cierzo", nil))
		}

		entries, err := j.Entries(4)
		require.NoError(t, err)
		require.Len(t, entries, 4)
		assert.Equal(t, uint64(10), entries[0].Sequence)
		assert.Equal(t, uint64(7), entries[3].Sequence)
	})

	t.Run("checksum_covers_the_payload", func(t *testing.T) {
		e := Entry{Sequence: 7, Op: OpMerge, Subject: "Cierzo", Digest: "beef"}
		sum := e.computeChecksum()

		tampered := e
		tampered.Subject = "Berg"
		assert.NotEqual(t, sum, tampered.computeChecksum())
	})
}

func TestSequencePersistence(t *testing.T) {
	t.Run("sequence_restored_after_reopen", func(t *testing.T) {
		dir := t.TempDir()

		j, err := Open(Options{Dir: dir}, nil)
		require.NoError(t, err)
		require.NoError(t, j.Append(OpUpsert, "Cierzo", nil))
		require.NoError(t, j.Append(OpMerge, "Cierzo", nil))
		require.NoError(t, j.Close())

		reopened, err := Open(Options{Dir: dir}, nil)
		require.NoError(t, err)
		defer reopened.Close()

		assert.Equal(t, uint64(2), reopened.Sequence())
		require.NoError(t, reopened.Append(OpWrite, "", nil))
		assert.Equal(t, uint64(3), reopened.Sequence())
	})
}

func TestClosed(t *testing.T) {
	j, err := Open(Options{InMemory: true}, nil)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	assert.ErrorIs(t, j.Append(OpMerge, "Cierzo", nil), ErrClosed)
	_, err = j.Entries(0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, j.Close(), "double close is a no-op")
}
