package sqlite_test

import (
	"context"
	"database/sql"
	"testing"

	sqlitestore "github.com/BrandonDHaskell/beacon/internal/beacon/store/sqlite"
	"github.com/BrandonDHaskell/beacon/internal/db"
)

// openTestDB returns a private in-memory SQLite connection with the
// production PRAGMAs and schema. It is closed when the test finishes.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	d, err := db.Open(context.Background(), db.Config{Driver: db.DriverSQLite, Path: db.MemoryPath})
	if err != nil {
		t.Fatalf("openTestDB: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d.SQL
}

// newTestStore wires a Store over a fresh in-memory database.
func newTestStore(t *testing.T) (*sqlitestore.Store, *sql.DB) {
	t.Helper()

	conn := openTestDB(t)
	w := db.NewWorker(conn)
	t.Cleanup(func() { w.Close() })
	return sqlitestore.New(conn, w), conn
}
