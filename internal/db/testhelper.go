package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

// OpenTestSQLite opens a migrated audit database in t.TempDir() and
// registers cleanup.
func OpenTestSQLite(t *testing.T) *sql.DB {
	t.Helper()

	db, err := OpenSQLite(filepath.Join(t.TempDir(), "state", "audit.sqlite"))
	if err != nil {
		t.Fatalf("open test sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return db
}
