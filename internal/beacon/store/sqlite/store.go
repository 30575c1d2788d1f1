package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/beacon/internal/beacon/store"
	dbpkg "github.com/BrandonDHaskell/beacon/internal/db"
)

// Store persists devices, commands, alerts and locations in SQLite. Reads go
// straight to the pool; every write is funnelled through the single-writer
// worker.
type Store struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func New(db *sql.DB, writer *dbpkg.Worker) *Store {
	return &Store{db: db, writer: writer}
}

// Open opens the database file at path, applies migrations and starts the
// writer.
func Open(ctx context.Context, path string) (*Store, error) {
	d, err := dbpkg.Open(ctx, dbpkg.Config{Driver: dbpkg.DriverSQLite, Path: path})
	if err != nil {
		return nil, err
	}
	return New(d.SQL, dbpkg.NewWorker(d.SQL)), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close drains the writer and closes the database.
func (s *Store) Close() error {
	s.writer.Close()
	return s.db.Close()
}

func toMs(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMs(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMs(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return toMs(*t)
}

func nullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeDoc(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode doc: %w", err)
	}
	return string(b), nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ store.Store = (*Store)(nil)
