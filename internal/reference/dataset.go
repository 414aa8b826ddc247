package reference

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/noteindex/noteindex/internal/metrics"
	"github.com/noteindex/noteindex/internal/storage"
)

// ErrDimensionMismatch is returned when the query embedding and the dataset
// come from different embedding spaces
var ErrDimensionMismatch = errors.New("embedding dimension does not match reference dataset")

// Result is one reference document ranked by similarity
type Result struct {
	ID         string
	Title      string
	URL        string
	Content    string
	Similarity float64
	Rank       int
}

// Dataset is an opened, read-only reference corpus
type Dataset struct {
	db       *sql.DB
	path     string
	provider string
	version  string
	metrics  *metrics.Metrics
}

// Path returns the dataset file location
func (d *Dataset) Path() string {
	return d.path
}

// Version returns the dataset version the file was fetched for
func (d *Dataset) Version() string {
	return d.version
}

// Provider returns the embedding provider the dataset was built with
func (d *Dataset) Provider() string {
	return d.provider
}

// Count returns the number of reference documents
func (d *Dataset) Count(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reference_docs").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count reference documents: %w", err)
	}
	return n, nil
}

// Search returns the limit documents most similar to embedding. There is no
// lexical stage: reference documents are ranked by cosine similarity alone.
func (d *Dataset) Search(ctx context.Context, embedding []float32, limit int) ([]Result, error) {
	start := time.Now()
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding cannot be empty")
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := d.db.QueryContext(ctx, "SELECT id, title, url, content, embedding FROM reference_docs")
	if err != nil {
		return nil, fmt.Errorf("failed to query reference documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []Result
	for rows.Next() {
		var r Result
		var blob []byte
		if err := rows.Scan(&r.ID, &r.Title, &r.URL, &r.Content, &blob); err != nil {
			return nil, err
		}
		vec := storage.DeserializeVector(blob)
		if len(vec) != len(embedding) {
			return nil, fmt.Errorf("%w: dataset %d, query %d", ErrDimensionMismatch, len(vec), len(embedding))
		}
		r.Similarity = storage.CosineSimilarity(embedding, vec)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	for i := range results {
		results[i].Rank = i + 1
	}

	d.metrics.ObserveSearch("reference", false, time.Since(start))
	return results, nil
}

// Close closes the dataset
func (d *Dataset) Close() error {
	return d.db.Close()
}
