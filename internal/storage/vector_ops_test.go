package storage

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeDeserializeVector(t *testing.T) {
	vector := []float32{0, 1.5, -2.25, float32(math.Pi)}
	blob := SerializeVector(vector)
	assert.Len(t, blob, len(vector)*4)
	assert.Equal(t, vector, DeserializeVector(blob))
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestSearchVector(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	archived := testChunk("doc3", 0, "archived", 1, 0, 0)
	archived.Flags.Archived = true
	archived.DocumentTags = []string{"old"}

	_, err := store.PutMany(ctx, []*NoteChunk{
		testChunk("doc1", 0, "x axis", 1, 0, 0),
		testChunk("doc2", 0, "y axis", 0, 1, 0),
		testChunk("doc4", 0, "diagonal", 1, 1, 0),
		archived,
	})
	require.NoError(t, err)

	t.Run("ranks by similarity", func(t *testing.T) {
		results, err := store.SearchVector(ctx, []float32{1, 0, 0}, 10, nil)
		require.NoError(t, err)
		require.Len(t, results, 4)
		// Two exact matches tie and are ordered by id
		assert.Equal(t, "doc1#0", results[0].Chunk.ID)
		assert.Equal(t, "doc3#0", results[1].Chunk.ID)
		assert.Equal(t, "doc4#0", results[2].Chunk.ID)
		assert.Equal(t, "doc2#0", results[3].Chunk.ID)
		assert.InDelta(t, 1.0, results[0].Similarity, 1e-9)
		assert.Equal(t, []string{"work"}, results[0].Chunk.DocumentTags)
	})

	t.Run("limit", func(t *testing.T) {
		results, err := store.SearchVector(ctx, []float32{1, 0, 0}, 2, nil)
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("boolean filter", func(t *testing.T) {
		no := false
		results, err := store.SearchVector(ctx, []float32{1, 0, 0}, 10, &ChunkFilters{Archived: &no})
		require.NoError(t, err)
		assert.Len(t, results, 3)
		for _, r := range results {
			assert.False(t, r.Chunk.Flags.Archived)
		}
	})

	t.Run("tag filter", func(t *testing.T) {
		results, err := store.SearchVector(ctx, []float32{1, 0, 0}, 10, &ChunkFilters{Tags: []string{"old"}})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "doc3#0", results[0].Chunk.ID)
	})

	t.Run("document filter", func(t *testing.T) {
		results, err := store.SearchVector(ctx, []float32{1, 0, 0}, 10, &ChunkFilters{DocumentIDs: []string{"doc2", "doc4"}})
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("empty query", func(t *testing.T) {
		_, err := store.SearchVector(ctx, nil, 10, nil)
		assert.Error(t, err)
	})
}

func BenchmarkCosineSimilarity(b *testing.B) {
	for _, dim := range []int{384, 768, 1024, 1536} {
		b.Run(fmt.Sprintf("dim_%d", dim), func(b *testing.B) {
			vec1 := make([]float32, dim)
			vec2 := make([]float32, dim)
			for i := range vec1 {
				vec1[i] = float32(i) / float32(dim)
				vec2[i] = float32(dim-i) / float32(dim)
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = CosineSimilarity(vec1, vec2)
			}
		})
	}
}

func BenchmarkDeserializeVector(b *testing.B) {
	for _, dim := range []int{384, 768, 1024, 1536} {
		b.Run(fmt.Sprintf("dim_%d", dim), func(b *testing.B) {
			vec := make([]float32, dim)
			for i := range vec {
				vec[i] = float32(i) / float32(dim)
			}
			blob := SerializeVector(vec)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = DeserializeVector(blob)
			}
		})
	}
}
