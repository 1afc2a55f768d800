package db

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// TestDB represents a test database instance that implements Database interface
type TestDB struct {
	db *DB
}

// NewTest creates a new test database with migrations applied.
func NewTest(tb testing.TB) *TestDB {
	tb.Helper()

	dbPath := filepath.Join(tb.TempDir(), "test.db")

	database, err := New(dbPath)
	if err != nil {
		tb.Fatalf("open test database: %v", err)
	}
	tb.Cleanup(func() { database.Close() })

	if err := RunMigrations(database.conn); err != nil {
		tb.Fatalf("migrate test database: %v", err)
	}

	return &TestDB{db: database}
}

// Conn returns the SQL connection (implements Database interface)
func (tdb *TestDB) Conn() *sql.DB {
	return tdb.db.conn
}

// Close closes the test database (implements Database interface)
func (tdb *TestDB) Close() error {
	return tdb.db.Close()
}

// Migrate runs migrations (implements Database interface)
func (tdb *TestDB) Migrate() error {
	return RunMigrations(tdb.db.conn)
}
