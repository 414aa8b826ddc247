package storage

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
)

const (
	// CurrentSchemaVersion tracks the note index schema version. Bumping it
	// drops every persisted chunk on the next sync.
	CurrentSchemaVersion = "2.0.0"
)

const schemaUp = `
CREATE TABLE IF NOT EXISTS note_chunks (
    id TEXT PRIMARY KEY,
    document_id TEXT NOT NULL,
    ordinal INTEGER NOT NULL,
    content_part TEXT NOT NULL,
    normalized_content TEXT NOT NULL DEFAULT '',
    embedding BLOB NOT NULL,
    heading_path TEXT NOT NULL DEFAULT '',
    document_title TEXT NOT NULL DEFAULT '',
    document_tags TEXT NOT NULL DEFAULT '[]',
    tag_only BOOLEAN NOT NULL DEFAULT 0,
    source_updated TEXT NOT NULL DEFAULT '',
    archived BOOLEAN NOT NULL DEFAULT 0,
    published BOOLEAN NOT NULL DEFAULT 0,
    shared_by_me BOOLEAN NOT NULL DEFAULT 0,
    shared_with_me BOOLEAN NOT NULL DEFAULT 0,
    task_list BOOLEAN NOT NULL DEFAULT 0,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_note_chunks_document ON note_chunks(document_id, ordinal);
CREATE INDEX IF NOT EXISTS idx_note_chunks_tag_only ON note_chunks(tag_only);

CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const chunksDown = `
DROP INDEX IF EXISTS idx_note_chunks_tag_only;
DROP INDEX IF EXISTS idx_note_chunks_document;
DROP TABLE IF EXISTS note_chunks;
`

const schemaDown = chunksDown + `
DROP TABLE IF EXISTS config;
`

// EnsureSchema creates the chunk and config tables if they are missing
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaUp); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// CheckVersionAndMaybeReset compares the stored schema version with version.
// When the stored version is absent, unparsable, or different, both tables
// are dropped and recreated and the new version is recorded. It reports
// whether a reset happened.
func (s *SQLiteStore) CheckVersionAndMaybeReset(ctx context.Context, version string) (bool, error) {
	want, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("invalid schema version %q: %w", version, err)
	}

	stored, found, err := s.GetConfig(ctx, ConfigSchemaVersion)
	if err != nil {
		return false, err
	}
	if found {
		current, perr := semver.NewVersion(stored)
		if perr == nil && current.Equal(want) {
			return false, nil
		}
		s.logger.Info("schema version changed, resetting store",
			zap.String("stored", stored), zap.String("wanted", want.String()))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin schema reset: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaDown); err != nil {
		return false, fmt.Errorf("failed to drop schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaUp); err != nil {
		return false, fmt.Errorf("failed to recreate schema: %w", err)
	}
	if err := setConfigWithQuerier(ctx, tx, ConfigSchemaVersion, want.Original()); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit schema reset: %w", err)
	}
	s.dimension = 0

	if err := s.Checkpoint(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// Reset clears every chunk and every config entry except the schema
// version. It is used when the embedding model or plugin identity changes.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reset: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, chunksDown); err != nil {
		return fmt.Errorf("failed to drop chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaUp); err != nil {
		return fmt.Errorf("failed to recreate schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM config WHERE key <> ?", ConfigSchemaVersion); err != nil {
		return fmt.Errorf("failed to clear config: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reset: %w", err)
	}
	s.dimension = 0
	return nil
}

// Checkpoint flushes the write-ahead log into the main database file
func (s *SQLiteStore) Checkpoint(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return fmt.Errorf("failed to checkpoint: %w", err)
	}
	return rows.Close()
}
