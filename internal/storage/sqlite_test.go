package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noteindex/noteindex/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	// Use in-memory database for testing
	store, err := NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	require.NotNil(t, store)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testChunk(docID string, ordinal int, content string, vector ...float32) *NoteChunk {
	if len(vector) == 0 {
		vector = []float32{1, 0, 0}
	}
	return &NoteChunk{
		ID:                fmt.Sprintf("%s#%d", docID, ordinal),
		DocumentID:        docID,
		Ordinal:           ordinal,
		ContentPart:       content,
		NormalizedContent: content,
		Embedding:         vector,
		DocumentTitle:     "Title " + docID,
		DocumentTags:      []string{"work"},
		SourceUpdated:     "2024-01-01T00:00:00Z",
	}
}

func TestNewSQLiteStore(t *testing.T) {
	store := setupTestDB(t)
	assert.NotNil(t, store.db)
}

func TestConfig_GetSet(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	_, found, err := store.GetConfig(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.SetConfig(ctx, "k", "v1"))
	require.NoError(t, store.SetConfig(ctx, "k", "v2"))

	value, found, err := store.GetConfig(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v2", value)
}

func TestPutMany(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	res, err := store.PutMany(ctx, []*NoteChunk{
		testChunk("doc1", 0, "alpha"),
		testChunk("doc1", 1, "beta"),
		testChunk("doc2", 0, "gamma"),
	})
	require.NoError(t, err)
	assert.Equal(t, &PutResult{Attempted: 3, Written: 3}, res)

	counts, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Rows)

	dim, found, err := store.GetConfig(ctx, ConfigEmbeddingDimension)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "3", dim)
}

func TestPutMany_Empty(t *testing.T) {
	store := setupTestDB(t)

	res, err := store.PutMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Attempted)
}

func TestPutMany_AllInvalidRollsBack(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	bad := []*NoteChunk{
		{ID: "x#0", DocumentID: "x", ContentPart: "no vector"},
		{ID: "", DocumentID: "y", ContentPart: "no id", Embedding: []float32{1}},
		nil,
	}

	res, err := store.PutMany(ctx, bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrTotalBatchFailure))
	assert.True(t, errors.Is(err, types.ErrValidation))
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, 0, res.Written)

	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, 0, verr.Index)
	assert.Equal(t, "Embedding", verr.Field)

	counts, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Rows)

	// No dimension is recorded by a rolled back batch
	_, found, err := store.GetConfig(ctx, ConfigEmbeddingDimension)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPutMany_PartialFailurePersistsValidSubset(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	chunks := []*NoteChunk{
		testChunk("doc1", 0, "one"),
		{ID: "doc1#1", DocumentID: "doc1", Ordinal: 1, Embedding: []float32{1, 0, 0}}, // no content
		testChunk("doc1", 2, "three"),
	}

	res, err := store.PutMany(ctx, chunks)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Written)
	assert.Equal(t, 1, res.Failed)

	counts, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Rows)
}

func TestPutMany_DimensionMismatch(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	_, err := store.PutMany(ctx, []*NoteChunk{testChunk("doc1", 0, "a", 1, 0, 0)})
	require.NoError(t, err)

	_, err = store.PutMany(ctx, []*NoteChunk{testChunk("doc2", 0, "b", 1, 0)})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTotalBatchFailure)
	assert.Contains(t, err.Error(), "dimension 2")
}

func TestPutMany_TrimsStaleOrdinals(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	_, err := store.PutMany(ctx, []*NoteChunk{
		testChunk("doc1", 0, "a"),
		testChunk("doc1", 1, "b"),
		testChunk("doc1", 2, "c"),
	})
	require.NoError(t, err)

	// The document shrank to one chunk
	_, err = store.PutMany(ctx, []*NoteChunk{testChunk("doc1", 0, "a2")})
	require.NoError(t, err)

	counts, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Rows)
}

func TestDeleteByIDs(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	_, err := store.PutMany(ctx, []*NoteChunk{
		testChunk("doc1", 0, "a"),
		testChunk("doc1", 1, "b"),
		testChunk("doc2", 0, "c"),
	})
	require.NoError(t, err)

	n, err := store.DeleteByIDs(ctx, []string{"doc1#1", "doc2#0", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.DeleteByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDeleteNotInIDs(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	_, err := store.PutMany(ctx, []*NoteChunk{
		testChunk("keep", 0, "a"),
		testChunk("keep", 1, "b"),
		testChunk("orphan", 0, "c"),
	})
	require.NoError(t, err)

	t.Run("empty list is a no-op", func(t *testing.T) {
		n, err := store.DeleteNotInIDs(ctx, []string{})
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		counts, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, counts.Rows)
	})

	t.Run("removes chunks of unlisted documents", func(t *testing.T) {
		n, err := store.DeleteNotInIDs(ctx, []string{"keep"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		counts, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, counts.Rows)
	})
}

func TestDocumentStamps(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	stamped := func(docID string, ordinal int, stamp string, tagOnly bool) *NoteChunk {
		c := testChunk(docID, ordinal, "part")
		c.SourceUpdated = stamp
		c.TagOnly = tagOnly
		return c
	}
	_, err := store.PutMany(ctx, []*NoteChunk{
		// complete
		stamped("doc1", 0, "stamp-1", false),
		stamped("doc1", 1, "stamp-1", true),
		// tag-only chunk never written
		stamped("doc2", 0, "stamp-2", false),
		// middle ordinal missing
		stamped("doc3", 0, "stamp-3", false),
		stamped("doc3", 2, "stamp-3", true),
		// chunks from two different runs
		stamped("doc4", 0, "stamp-old", false),
		stamped("doc4", 1, "stamp-new", true),
	})
	require.NoError(t, err)

	stamps, err := store.DocumentStamps(ctx, []string{"doc1", "doc2", "doc3", "doc4", "doc5"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"doc1": "stamp-1"}, stamps)
}

func TestCount_ApproximateDocuments(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	tag1 := testChunk("doc1", 1, "Title doc1 tags: work")
	tag1.TagOnly = true
	tag2 := testChunk("doc2", 1, "Title doc2 tags: work")
	tag2.TagOnly = true

	_, err := store.PutMany(ctx, []*NoteChunk{testChunk("doc1", 0, "a"), tag1, testChunk("doc2", 0, "b"), tag2})
	require.NoError(t, err)

	counts, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, counts.Rows)
	assert.Equal(t, 2, counts.Documents)
}

func TestStatus(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	_, err := store.CheckVersionAndMaybeReset(ctx, "1.2.3")
	require.NoError(t, err)
	require.NoError(t, store.SetConfig(ctx, ConfigLastEmbeddingModel, "local/hash@384"))
	_, err = store.PutMany(ctx, []*NoteChunk{testChunk("doc1", 0, "a")})
	require.NoError(t, err)

	status, err := store.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", status.SchemaVersion)
	assert.Equal(t, "local/hash@384", status.LastEmbeddingModel)
	assert.Equal(t, 3, status.EmbeddingDimension)
	assert.Equal(t, 1, status.Counts.Rows)
	assert.Equal(t, BuildMode, status.BuildMode)
}
