package entries

import (
	"os"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shared "wcedit/shared/types"
)

func setupTestDB(t *testing.T) (*badger.DB, func()) {
	dir, err := os.MkdirTemp("", "entries-test")
	require.NoError(t, err)

	opts := badger.DefaultOptions(dir).WithInMemory(true)
	opts.Logger = nil
	opts.Dir = ""
	opts.ValueDir = ""

	db, err := badger.Open(opts)
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
		os.RemoveAll(dir)
	}

	return db, cleanup
}

func TestStoreModifyAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store, err := NewStore(db, 8)
	require.NoError(t, err)

	t.Run("modify creates a new entry", func(t *testing.T) {
		err := store.Modify("foo", "bar.txt", &shared.Entry{
			Kind:     shared.KindFile,
			Revision: 5,
		}, FieldMask{Kind: true, Revision: true})
		require.NoError(t, err)

		got, err := store.Get("foo", "bar.txt")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, shared.KindFile, got.Kind)
		assert.Equal(t, int64(5), got.Revision)
	})

	t.Run("modify only touches masked fields", func(t *testing.T) {
		err := store.Modify("foo", "bar.txt", &shared.Entry{
			Schedule: shared.ScheduleAdd,
		}, FieldMask{Schedule: true})
		require.NoError(t, err)

		got, err := store.Get("foo", "bar.txt")
		require.NoError(t, err)
		assert.Equal(t, shared.ScheduleAdd, got.Schedule)
		assert.Equal(t, shared.KindFile, got.Kind)
		assert.Equal(t, int64(5), got.Revision)
	})

	t.Run("get missing name returns nil, no error", func(t *testing.T) {
		got, err := store.Get("foo", "missing.txt")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestStoreRemove(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store, err := NewStore(db, 8)
	require.NoError(t, err)

	require.NoError(t, store.Modify("dir", "a.txt", &shared.Entry{Kind: shared.KindFile}, FieldMask{Kind: true}))

	require.NoError(t, store.Remove("dir", "a.txt"))
	got, err := store.Get("dir", "a.txt")
	require.NoError(t, err)
	assert.Nil(t, got)

	// removing again is not an error
	require.NoError(t, store.Remove("dir", "a.txt"))
}

func TestStoreWriteDirReplacesWholeMap(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store, err := NewStore(db, 8)
	require.NoError(t, err)

	require.NoError(t, store.Modify("dir", "a.txt", &shared.Entry{Kind: shared.KindFile}, FieldMask{Kind: true}))
	require.NoError(t, store.Modify("dir", "b.txt", &shared.Entry{Kind: shared.KindFile}, FieldMask{Kind: true}))

	m, err := store.ReadDir("dir")
	require.NoError(t, err)
	require.Len(t, m, 2)

	delete(m, "b.txt")
	require.NoError(t, store.WriteDir("dir", m))

	got, err := store.ReadDir("dir")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	_, ok := got["a.txt"]
	assert.True(t, ok)
}
