package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSchema_Idempotent(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.EnsureSchema(ctx))
}

func TestCheckVersionAndMaybeReset(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	// Fresh store: no version recorded yet
	reset, err := store.CheckVersionAndMaybeReset(ctx, "1.0.0")
	require.NoError(t, err)
	assert.True(t, reset)

	_, err = store.PutMany(ctx, []*NoteChunk{testChunk("doc1", 0, "a")})
	require.NoError(t, err)

	t.Run("same version keeps data", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			reset, err := store.CheckVersionAndMaybeReset(ctx, "1.0.0")
			require.NoError(t, err)
			assert.False(t, reset)
		}
		counts, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, counts.Rows)
	})

	t.Run("new version drops data", func(t *testing.T) {
		require.NoError(t, store.SetConfig(ctx, ConfigLastSyncTime, "2024-01-01T00:00:00Z"))

		reset, err := store.CheckVersionAndMaybeReset(ctx, "1.1.0")
		require.NoError(t, err)
		assert.True(t, reset)

		counts, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, counts.Rows)

		_, found, err := store.GetConfig(ctx, ConfigLastSyncTime)
		require.NoError(t, err)
		assert.False(t, found)

		version, _, err := store.GetConfig(ctx, ConfigSchemaVersion)
		require.NoError(t, err)
		assert.Equal(t, "1.1.0", version)
	})
}

func TestCheckVersionAndMaybeReset_ClearsDimension(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	_, err := store.CheckVersionAndMaybeReset(ctx, "1.0.0")
	require.NoError(t, err)
	_, err = store.PutMany(ctx, []*NoteChunk{testChunk("a", 0, "two dims", 1, 0)})
	require.NoError(t, err)

	reset, err := store.CheckVersionAndMaybeReset(ctx, "2.0.0")
	require.NoError(t, err)
	require.True(t, reset)

	// The emptied store accepts a new vector length
	res, err := store.PutMany(ctx, []*NoteChunk{testChunk("a", 0, "three dims", 1, 0, 0)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)

	status, err := store.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, status.EmbeddingDimension)
}

func TestCheckVersionAndMaybeReset_UnparsableStoredVersion(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.SetConfig(ctx, ConfigSchemaVersion, "not-a-version"))

	reset, err := store.CheckVersionAndMaybeReset(ctx, "1.0.0")
	require.NoError(t, err)
	assert.True(t, reset)
}

func TestCheckVersionAndMaybeReset_InvalidWantedVersion(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.CheckVersionAndMaybeReset(context.Background(), "latest")
	assert.Error(t, err)
}

func TestReset_KeepsSchemaVersion(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	_, err := store.CheckVersionAndMaybeReset(ctx, CurrentSchemaVersion)
	require.NoError(t, err)
	require.NoError(t, store.SetConfig(ctx, ConfigLastEmbeddingModel, "old"))
	_, err = store.PutMany(ctx, []*NoteChunk{testChunk("doc1", 0, "a")})
	require.NoError(t, err)

	require.NoError(t, store.Reset(ctx))

	counts, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Rows)

	_, found, err := store.GetConfig(ctx, ConfigLastEmbeddingModel)
	require.NoError(t, err)
	assert.False(t, found)

	version, found, err := store.GetConfig(ctx, ConfigSchemaVersion)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, CurrentSchemaVersion, version)

	// A new dimension is accepted after a reset
	_, err = store.PutMany(ctx, []*NoteChunk{testChunk("doc1", 0, "a", 1, 0)})
	require.NoError(t, err)
}
