package localdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"locstore/pkg/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLocalDBRoundtrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	entries := []model.Entry{
		{Hash: "hash-1", Size: 100, Locations: []model.MachineLocation{"node-a:9380"}, LastAccess: time.Now().UTC().Truncate(time.Millisecond)},
		{Hash: "hash-2", Size: 200, Locations: []model.MachineLocation{"node-a:9380", "node-b:9380"}},
	}
	require.NoError(t, db.Put(ctx, entries))

	found, missing, err := db.Get(ctx, []model.ContentHash{"hash-1", "hash-3", "hash-2"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, []model.ContentHash{"hash-3"}, missing)

	assert.Equal(t, entries[0], found[0])
	assert.Equal(t, entries[1], found[1])
}

func TestLocalDBSkipsMisses(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// A global-store miss must not be cached; a later registration on
	// another machine would otherwise stay shadowed.
	require.NoError(t, db.Put(ctx, []model.Entry{{Hash: "hash-1", Size: 100}}))

	_, missing, err := db.Get(ctx, []model.ContentHash{"hash-1"})
	require.NoError(t, err)
	assert.Equal(t, []model.ContentHash{"hash-1"}, missing)
}

func TestLocalDBDelete(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, []model.Entry{
		{Hash: "hash-1", Size: 100, Locations: []model.MachineLocation{"node-a:9380"}},
	}))
	require.NoError(t, db.Delete(ctx, []model.ContentHash{"hash-1", "hash-unknown"}))

	_, missing, err := db.Get(ctx, []model.ContentHash{"hash-1"})
	require.NoError(t, err)
	assert.Equal(t, []model.ContentHash{"hash-1"}, missing)
}

func TestLocalDBSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := Open(dir, 0)
	require.NoError(t, err)
	require.NoError(t, db.Put(ctx, []model.Entry{
		{Hash: "hash-1", Size: 100, Locations: []model.MachineLocation{"node-a:9380"}},
	}))
	require.NoError(t, db.Close())

	db, err = Open(dir, 0)
	require.NoError(t, err)
	defer db.Close()

	found, _, err := db.Get(ctx, []model.ContentHash{"hash-1"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, int64(100), found[0].Size)
}
