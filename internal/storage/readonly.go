package storage

import (
	"database/sql"
	"fmt"
	"os"
)

// OpenReadOnly opens an existing database file that must never be written.
// The single pooled connection runs with query_only, so any write fails
// inside the engine.
func OpenReadOnly(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA query_only = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable query_only: %w", err)
	}
	return db, nil
}
