package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noteindex/noteindex/pkg/types"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db        *sql.DB
	path      string
	logger    *zap.Logger
	validate  *validator.Validate
	dimension int // cached embedding dimension, 0 until known
}

var _ Store = (*SQLiteStore)(nil)

// openDatabase opens a SQLite database with appropriate settings.
// spillDir, when set, becomes the directory for temporary spill files.
func openDatabase(dbPath, spillDir string, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Set connection pool settings: one live handle, one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable WAL mode; in-memory databases report "memory" instead
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if spillDir != "" {
		setSpillDirectory(db, spillDir, logger)
	}

	return db, nil
}

// setSpillDirectory points SQLite's temporary files at dir. PRAGMA values
// cannot be bound, so the path is quoted as a string literal. Failures are
// logged; the engine then falls back to its default temp location.
func setSpillDirectory(db *sql.DB, dir string, logger *zap.Logger) {
	if _, err := db.Exec("PRAGMA temp_store = FILE"); err != nil {
		logger.Warn("failed to set temp_store", zap.Error(err))
		return
	}
	literal := "'" + strings.ReplaceAll(dir, "'", "''") + "'"
	if _, err := db.Exec("PRAGMA temp_store_directory = " + literal); err != nil {
		logger.Warn("failed to set temp spill directory", zap.String("dir", dir), zap.Error(err))
	}
}

// NewSQLiteStore opens the database at dbPath and ensures the schema exists
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	return openStore(context.Background(), dbPath, "", logger)
}

func openStore(ctx context.Context, dbPath, spillDir string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := openDatabase(dbPath, spillDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{
		db:       db,
		path:     dbPath,
		logger:   logger.With(zap.String("component", "store")),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// JournalMode reports the active journal mode ("wal", "memory", ...)
func (s *SQLiteStore) JournalMode(ctx context.Context) (string, error) {
	var mode string
	if err := s.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return "", fmt.Errorf("failed to read journal mode: %w", err)
	}
	return strings.ToLower(mode), nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Config operations

// GetConfig returns the value stored under key and whether it exists
func (s *SQLiteStore) GetConfig(ctx context.Context, key string) (string, bool, error) {
	return getConfigWithQuerier(ctx, s.db, key)
}

// SetConfig upserts a config entry
func (s *SQLiteStore) SetConfig(ctx context.Context, key, value string) error {
	return setConfigWithQuerier(ctx, s.db, key, value)
}

func getConfigWithQuerier(ctx context.Context, q querier, key string) (string, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read config %s: %w", key, err)
	}
	return value, true, nil
}

func setConfigWithQuerier(ctx context.Context, q querier, key, value string) error {
	query := `
		INSERT INTO config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := q.ExecContext(ctx, query, key, value, time.Now()); err != nil {
		return fmt.Errorf("failed to write config %s: %w", key, err)
	}
	return nil
}

// Chunk operations

const upsertChunkSQL = `
	INSERT INTO note_chunks (
		id, document_id, ordinal, content_part, normalized_content, embedding,
		heading_path, document_title, document_tags, tag_only, source_updated,
		archived, published, shared_by_me, shared_with_me, task_list, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		document_id = excluded.document_id,
		ordinal = excluded.ordinal,
		content_part = excluded.content_part,
		normalized_content = excluded.normalized_content,
		embedding = excluded.embedding,
		heading_path = excluded.heading_path,
		document_title = excluded.document_title,
		document_tags = excluded.document_tags,
		tag_only = excluded.tag_only,
		source_updated = excluded.source_updated,
		archived = excluded.archived,
		published = excluded.published,
		shared_by_me = excluded.shared_by_me,
		shared_with_me = excluded.shared_with_me,
		task_list = excluded.task_list,
		updated_at = excluded.updated_at
`

// PutMany writes chunks in one transaction through one prepared statement.
// Invalid items are skipped and counted. When every item fails the
// transaction is rolled back and the first failure is returned wrapped in
// types.ErrTotalBatchFailure. Rows of a touched document with an ordinal
// above the highest one written are removed in the same transaction.
func (s *SQLiteStore) PutMany(ctx context.Context, chunks []*NoteChunk) (*PutResult, error) {
	result := &PutResult{Attempted: len(chunks)}
	if len(chunks) == 0 {
		return result, nil
	}

	dim, err := s.embeddingDimension(ctx)
	if err != nil {
		return result, err
	}
	knownDim := dim != 0

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertChunkSQL)
	if err != nil {
		return result, fmt.Errorf("failed to prepare chunk upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	var firstErr error
	maxOrdinal := make(map[string]int)
	now := time.Now()

	for i, c := range chunks {
		if verr := s.validateChunk(i, c, dim); verr != nil {
			result.Failed++
			if firstErr == nil {
				firstErr = verr
			}
			s.logger.Debug("chunk rejected", zap.Error(verr))
			continue
		}

		tags, err := json.Marshal(nonNilTags(c.DocumentTags))
		if err != nil {
			result.Failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to encode tags for %s: %w", c.ID, err)
			}
			continue
		}

		_, err = stmt.ExecContext(ctx,
			c.ID, c.DocumentID, c.Ordinal, c.ContentPart, c.NormalizedContent,
			serializeVector(c.Embedding), c.HeadingPath, c.DocumentTitle, string(tags),
			c.TagOnly, c.SourceUpdated,
			c.Flags.Archived, c.Flags.Published, c.Flags.SharedByMe, c.Flags.SharedWithMe, c.Flags.TaskList,
			now)
		if err != nil {
			result.Failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to write chunk %s: %w", c.ID, err)
			}
			continue
		}

		if dim == 0 {
			dim = len(c.Embedding)
		}
		result.Written++
		if prev, ok := maxOrdinal[c.DocumentID]; !ok || c.Ordinal > prev {
			maxOrdinal[c.DocumentID] = c.Ordinal
		}
	}

	if result.Written == 0 {
		s.logger.Warn("batch write failed for every item", zap.Int("attempted", result.Attempted), zap.Error(firstErr))
		return result, fmt.Errorf("%w: %w", types.ErrTotalBatchFailure, firstErr)
	}

	for docID, ordinal := range maxOrdinal {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM note_chunks WHERE document_id = ? AND ordinal > ?", docID, ordinal); err != nil {
			return result, fmt.Errorf("failed to trim stale chunks of %s: %w", docID, err)
		}
	}

	if !knownDim {
		if err := setConfigWithQuerier(ctx, tx, ConfigEmbeddingDimension, strconv.Itoa(dim)); err != nil {
			return result, err
		}
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.dimension = dim

	if result.Failed > 0 {
		s.logger.Warn("batch partially written",
			zap.Int("written", result.Written), zap.Int("failed", result.Failed), zap.Error(firstErr))
	}
	return result, nil
}

// validateChunk checks one item of a batch against the struct rules and
// the store's fixed embedding dimension
func (s *SQLiteStore) validateChunk(index int, c *NoteChunk, dim int) error {
	if c == nil {
		return &types.ValidationError{Index: index, Field: "chunk", Reason: "is nil"}
	}
	if err := s.validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &types.ValidationError{Index: index, ID: c.ID, Field: fe.Field(), Reason: "failed rule " + fe.Tag()}
		}
		return &types.ValidationError{Index: index, ID: c.ID, Field: "chunk", Reason: err.Error()}
	}
	if dim != 0 && len(c.Embedding) != dim {
		return &types.ValidationError{
			Index:  index,
			ID:     c.ID,
			Field:  "Embedding",
			Reason: fmt.Sprintf("has dimension %d, store uses %d", len(c.Embedding), dim),
		}
	}
	return nil
}

// embeddingDimension returns the stored embedding dimension or 0 if none
// has been written yet
func (s *SQLiteStore) embeddingDimension(ctx context.Context) (int, error) {
	if s.dimension != 0 {
		return s.dimension, nil
	}
	value, found, err := s.GetConfig(ctx, ConfigEmbeddingDimension)
	if err != nil || !found {
		return 0, err
	}
	dim, err := strconv.Atoi(value)
	if err != nil {
		s.logger.Warn("ignoring unparsable embedding dimension", zap.String("value", value))
		return 0, nil
	}
	s.dimension = dim
	return dim, nil
}

// DeleteByIDs removes chunks by chunk id
func (s *SQLiteStore) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.execDelete(ctx, "DELETE FROM note_chunks WHERE id IN (SELECT value FROM json_each(?))", ids)
}

// DeleteByDocumentIDs removes every chunk of the given documents
func (s *SQLiteStore) DeleteByDocumentIDs(ctx context.Context, documentIDs []string) (int, error) {
	if len(documentIDs) == 0 {
		return 0, nil
	}
	return s.execDelete(ctx, "DELETE FROM note_chunks WHERE document_id IN (SELECT value FROM json_each(?))", documentIDs)
}

// DeleteNotInIDs keeps only the chunks of the given documents. An empty
// list is refused without touching the table.
func (s *SQLiteStore) DeleteNotInIDs(ctx context.Context, documentIDs []string) (int, error) {
	if len(documentIDs) == 0 {
		s.logger.Warn("refusing to delete with an empty keep-list")
		return 0, nil
	}
	return s.execDelete(ctx, "DELETE FROM note_chunks WHERE document_id NOT IN (SELECT value FROM json_each(?))", documentIDs)
}

func (s *SQLiteStore) execDelete(ctx context.Context, query string, ids []string) (int, error) {
	list, err := json.Marshal(ids)
	if err != nil {
		return 0, fmt.Errorf("failed to encode id list: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, string(list))
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// DocumentStamps returns the source update stamp of each given document
// whose chunk set is complete: every ordinal up to its tag-only chunk is
// present and all of them carry the same stamp. Documents with a partial
// or mixed chunk set are left out.
func (s *SQLiteStore) DocumentStamps(ctx context.Context, documentIDs []string) (map[string]string, error) {
	stamps := make(map[string]string)
	if len(documentIDs) == 0 {
		return stamps, nil
	}
	list, err := json.Marshal(documentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode id list: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, MIN(source_updated)
		FROM note_chunks
		WHERE document_id IN (SELECT value FROM json_each(?))
		GROUP BY document_id
		HAVING MIN(source_updated) = MAX(source_updated)
			AND SUM(tag_only) = 1
			AND COUNT(*) = MAX(CASE WHEN tag_only THEN ordinal END) + 1
	`, string(list))
	if err != nil {
		return nil, fmt.Errorf("failed to query document stamps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id, stamp string
		if err := rows.Scan(&id, &stamp); err != nil {
			return nil, err
		}
		stamps[id] = stamp
	}
	return stamps, rows.Err()
}

// Status operations

// Count returns the approximate document count and the exact row count
func (s *SQLiteStore) Count(ctx context.Context) (*Counts, error) {
	var counts Counts
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(tag_only), 0) FROM note_chunks").Scan(&counts.Rows, &counts.Documents)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	return &counts, nil
}

// Status gathers counts, sync cursors and database size
func (s *SQLiteStore) Status(ctx context.Context) (*StoreStatus, error) {
	counts, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	status := &StoreStatus{Counts: *counts, BuildMode: BuildMode}

	if v, ok, err := s.GetConfig(ctx, ConfigSchemaVersion); err == nil && ok {
		status.SchemaVersion = v
	}
	if v, ok, err := s.GetConfig(ctx, ConfigLastSyncTime); err == nil && ok {
		if t, perr := time.Parse(time.RFC3339Nano, v); perr == nil {
			status.LastSyncTime = t
		}
	}
	if v, ok, err := s.GetConfig(ctx, ConfigLastEmbeddingModel); err == nil && ok {
		status.LastEmbeddingModel = v
	}
	if v, ok, err := s.GetConfig(ctx, ConfigLastPluginIdentity); err == nil && ok {
		status.LastPluginIdentity = v
	}
	if dim, err := s.embeddingDimension(ctx); err == nil {
		status.EmbeddingDimension = dim
	}

	// Get database size
	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err == nil {
			status.SizeMB = float64(pageCount*pageSize) / (1024 * 1024)
		}
	}

	return status, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
