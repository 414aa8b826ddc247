// Package storage provides SQLite-based persistence for indexed note chunks.
//
// The storage layer manages:
//   - Note chunks with their embeddings, heading trail, tags and flags
//   - A key/value config table holding the schema version and sync cursors
//   - The single live database handle of the process (Gateway)
//
// # Database Schema
//
// Tables:
//   - note_chunks: one row per chunk, embedding stored as a little-endian
//     float32 BLOB, tags as a JSON array
//   - config: key/value pairs (schema_version, last_sync_time, ...)
//
// The schema version is the only invalidation path: when the version
// recorded in config differs from the one the engine runs with, both tables
// are dropped and recreated.
//
// # Basic Usage
//
//	gw := storage.NewGateway(storage.GatewayConfig{Root: dataDir}, logger)
//	gw.Lock()
//	defer gw.Unlock()
//
//	store, err := gw.Acquire(ctx, "notes", true)
//	if err != nil {
//	    return err
//	}
//	if _, err := store.CheckVersionAndMaybeReset(ctx, storage.CurrentSchemaVersion); err != nil {
//	    return err
//	}
//
//	res, err := store.PutMany(ctx, chunks)
//
// # Bulk Writes
//
// PutMany validates each item and keeps going past bad ones. If every item
// fails the transaction is rolled back and the error wraps
// types.ErrTotalBatchFailure; otherwise the valid subset is committed and
// PutResult carries the counts.
//
// # Vector Search
//
// SearchVector loads the rows that pass the boolean, tag and document
// filters and ranks them by cosine similarity in Go.
//
// # Build Modes
//
// The SQL driver is selected by build tags: modernc.org/sqlite by default
// (pure Go) or github.com/mattn/go-sqlite3 with -tags sqlite_vec.
package storage
