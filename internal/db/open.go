package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"
)

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// MemoryPath opens a private in-memory SQLite database.
const MemoryPath = ":memory:"

const (
	defaultSQLitePath     = "./data/beacon.db"
	defaultConnectTimeout = 3 * time.Second
)

var ErrUnknownDriver = errors.New("unknown database driver")

type Config struct {
	Driver         string        // DriverSQLite (default) or DriverPostgres
	Path           string        // sqlite file, e.g. "./data/beacon.db"
	URL            string        // postgres connection string
	ConnectTimeout time.Duration // bounds the first ping; 0 means 3s
}

// DB is an open, migrated database. SQL is set for SQLite, Pool for
// Postgres.
type DB struct {
	Driver string
	SQL    *sql.DB
	Pool   *pgxpool.Pool
}

func (d *DB) Ping(ctx context.Context) error {
	if d.Pool != nil {
		return d.Pool.Ping(ctx)
	}
	return d.SQL.PingContext(ctx)
}

func (d *DB) Close() error {
	if d.Pool != nil {
		d.Pool.Close()
		return nil
	}
	return d.SQL.Close()
}

// Open connects to the database cfg.Driver names, verifies it answers and
// applies that driver's migrations.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", DriverSQLite:
		conn, err := openSQLite(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &DB{Driver: DriverSQLite, SQL: conn}, nil
	case DriverPostgres:
		pool, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &DB{Driver: DriverPostgres, Pool: pool}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDriver, cfg.Driver)
	}
}

func sqliteDSN(path string) string {
	const pragmas = "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	if path == MemoryPath {
		return "file::memory:?" + pragmas
	}
	return "file:" + path + "?" + pragmas
}

func openSQLite(ctx context.Context, cfg Config) (*sql.DB, error) {
	path := cfg.Path
	if path == "" {
		path = defaultSQLitePath
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// One connection: writes go through Worker, and an in-memory database
	// lives only as long as its connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if err := Migrate(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func openPostgres(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("database url is required")
	}

	p, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := p.Ping(pingCtx); err != nil {
		p.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if err := MigratePostgres(ctx, p); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}
