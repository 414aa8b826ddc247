package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

const chunkColumns = `
	id, document_id, ordinal, content_part, normalized_content, embedding,
	heading_path, document_title, document_tags, tag_only, source_updated,
	archived, published, shared_by_me, shared_with_me, task_list
`

// SearchVector scans the filtered chunks, scores each against vector with
// cosine similarity and returns the top limit candidates, best first.
// Rows whose embedding dimension differs from the query are skipped.
func (s *SQLiteStore) SearchVector(ctx context.Context, vector []float32, limit int, filters *ChunkFilters) ([]ScoredChunk, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}

	query := "SELECT " + chunkColumns + " FROM note_chunks WHERE 1 = 1"
	query, args := applyChunkFilters(query, nil, filters)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates, err := computeSimilarityScores(rows, vector)
	if err != nil {
		return nil, err
	}

	sortCandidates(candidates)
	return buildVectorResults(candidates, limit), nil
}

// Helper functions

// applyChunkFilters adds WHERE clause filters for the vector stage
func applyChunkFilters(query string, args []interface{}, filters *ChunkFilters) (string, []interface{}) {
	if filters == nil {
		return query, args
	}

	flagColumns := []struct {
		column string
		value  *bool
	}{
		{"archived", filters.Archived},
		{"published", filters.Published},
		{"shared_by_me", filters.SharedByMe},
		{"shared_with_me", filters.SharedWithMe},
		{"task_list", filters.TaskList},
	}
	for _, f := range flagColumns {
		if f.value == nil {
			continue
		}
		query += " AND " + f.column + " = ?"
		args = append(args, *f.value)
	}

	if len(filters.Tags) > 0 {
		query += " AND EXISTS (SELECT 1 FROM json_each(note_chunks.document_tags) WHERE json_each.value IN (" +
			placeholders(len(filters.Tags)) + "))"
		for _, tag := range filters.Tags {
			args = append(args, tag)
		}
	}

	if len(filters.DocumentIDs) > 0 {
		query += " AND document_id IN (" + placeholders(len(filters.DocumentIDs)) + ")"
		for _, id := range filters.DocumentIDs {
			args = append(args, id)
		}
	}

	if filters.ExcludeTags {
		query += " AND tag_only = 0"
	}

	return query, args
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// rowScanner is satisfied by *sql.Rows and *sql.Row
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanChunk reads one row selected with chunkColumns
func scanChunk(row rowScanner) (*NoteChunk, error) {
	var (
		c          NoteChunk
		vectorBlob []byte
		tags       string
	)
	err := row.Scan(
		&c.ID, &c.DocumentID, &c.Ordinal, &c.ContentPart, &c.NormalizedContent, &vectorBlob,
		&c.HeadingPath, &c.DocumentTitle, &tags, &c.TagOnly, &c.SourceUpdated,
		&c.Flags.Archived, &c.Flags.Published, &c.Flags.SharedByMe, &c.Flags.SharedWithMe, &c.Flags.TaskList,
	)
	if err != nil {
		return nil, err
	}
	c.Embedding = deserializeVector(vectorBlob)
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &c.DocumentTags); err != nil {
			return nil, fmt.Errorf("failed to decode tags of %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

// computeSimilarityScores processes rows and computes cosine similarity
func computeSimilarityScores(rows *sql.Rows, queryVector []float32) ([]candidate, error) {
	candidates := make([]candidate, 0, 256)

	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		if len(chunk.Embedding) != len(queryVector) {
			continue // Dimension mismatch, skip
		}
		candidates = append(candidates, candidate{
			chunk: chunk,
			score: cosineSimilarity(queryVector, chunk.Embedding),
		})
	}

	return candidates, rows.Err()
}

// buildVectorResults creates ScoredChunk slice from candidates
func buildVectorResults(candidates []candidate, limit int) []ScoredChunk {
	// Handle negative or zero limit - return all candidates
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}

	results := make([]ScoredChunk, limit)
	for i := 0; i < limit; i++ {
		results[i] = ScoredChunk{
			Chunk:      candidates[i].chunk,
			Similarity: candidates[i].score,
		}
	}
	return results
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// candidate represents a chunk with its similarity score
type candidate struct {
	chunk *NoteChunk
	score float64
}

// sortCandidates sorts candidates by score in descending order, breaking
// ties by chunk id so equal scores come back in a stable order
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].chunk.ID < candidates[j].chunk.ID
	})
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
