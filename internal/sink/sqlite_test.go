package sink

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "sink.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_SetAndGet(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	err := st.CommitBatch(ctx, []Op{
		{Path: "subjects/1", Fields: Doc{"name": "Alice", "total": 100.0}},
	})
	require.NoError(t, err)

	doc, err := st.Get(ctx, "subjects/1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", doc["name"])
	assert.Equal(t, 100.0, doc["total"])
}

func TestSQLite_GetMissing(t *testing.T) {
	st := newTestSQLite(t)
	_, err := st.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

// Merge writes only touch the supplied fields; replace writes drop the rest.
func TestSQLite_MergeVsReplace(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, st.CommitBatch(ctx, []Op{
		{Path: "d", Fields: Doc{"a": 1.0, "b": 2.0}},
	}))

	require.NoError(t, st.CommitBatch(ctx, []Op{
		{Path: "d", Fields: Doc{"b": 9.0, "c": 3.0}, Merge: true},
	}))
	doc, err := st.Get(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, Doc{"a": 1.0, "b": 9.0, "c": 3.0}, doc)

	require.NoError(t, st.CommitBatch(ctx, []Op{
		{Path: "d", Fields: Doc{"z": 1.0}},
	}))
	doc, err = st.Get(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, Doc{"z": 1.0}, doc)
}

// Re-running the same merge batch leaves the document unchanged.
func TestSQLite_MergeIdempotent(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	batch := []Op{
		{Path: "subjects/1", Fields: Doc{"name": "Alice", "total": 100.0}, Merge: true},
		{Path: "subjects/2", Fields: Doc{"name": "Bob", "total": 50.0}, Merge: true},
	}
	require.NoError(t, st.CommitBatch(ctx, batch))
	first, err := st.Get(ctx, "subjects/1")
	require.NoError(t, err)

	require.NoError(t, st.CommitBatch(ctx, batch))
	second, err := st.Get(ctx, "subjects/1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSQLite_UpdateOnlyMissingFails(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	err := st.CommitBatch(ctx, []Op{
		{Path: "ghost", Fields: Doc{"a": 1.0}, Merge: true, UpdateOnly: true},
	})
	assert.ErrorIs(t, err, ErrNotFound)

	// The failed batch rolled back entirely.
	_, err = st.Get(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_UpdateOnlyExisting(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, st.CommitBatch(ctx, []Op{{Path: "d", Fields: Doc{"a": 1.0}}}))
	require.NoError(t, st.CommitBatch(ctx, []Op{
		{Path: "d", Fields: Doc{"b": 2.0}, Merge: true, UpdateOnly: true},
	}))

	doc, err := st.Get(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, Doc{"a": 1.0, "b": 2.0}, doc)
}

func TestSQLite_BatchAtomic(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	err := st.CommitBatch(ctx, []Op{
		{Path: "ok", Fields: Doc{"a": 1.0}},
		{Path: "ghost", Fields: Doc{"b": 2.0}, Merge: true, UpdateOnly: true},
	})
	require.Error(t, err)

	_, err = st.Get(ctx, "ok")
	assert.True(t, errors.Is(err, ErrNotFound), "failed batch must not leave partial writes")
}

func TestSQLite_EmptyBatch(t *testing.T) {
	st := newTestSQLite(t)
	assert.NoError(t, st.CommitBatch(context.Background(), nil))
}
