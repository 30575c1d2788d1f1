package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BrandonDHaskell/beacon/internal/beacon/store"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
	dbpkg "github.com/BrandonDHaskell/beacon/internal/db"
)

// Store keeps device documents in JSONB columns, with the fields used for
// filtering and ordering lifted into plain columns.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to databaseURL and applies migrations.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	d, err := dbpkg.Open(ctx, dbpkg.Config{Driver: dbpkg.DriverPostgres, URL: databaseURL})
	if err != nil {
		return nil, err
	}
	return New(d.Pool), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ── Devices ──────────────────────────────────────────────────────────────────

func (s *Store) ListDevices(ctx context.Context, f store.DeviceFilter) ([]types.DeviceRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("device_type = $%d", len(args)))
	}
	if f.Online != nil {
		args = append(args, *f.Online)
		where = append(where, fmt.Sprintf("online = $%d", len(args)))
	}

	q := "SELECT doc FROM devices"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY last_seen_at DESC NULLS LAST, device_id ASC"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ListDevices query: %w", err)
	}
	defer rows.Close()

	var out []types.DeviceRecord
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("ListDevices scan: %w", err)
		}
		var rec types.DeviceRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, fmt.Errorf("ListDevices decode: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) GetDevice(ctx context.Context, deviceID string) (types.DeviceRecord, error) {
	return loadDevice(ctx, s.pool, deviceID, false)
}

type rowQueryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func loadDevice(ctx context.Context, q rowQueryer, deviceID string, forUpdate bool) (types.DeviceRecord, error) {
	sql := "SELECT doc FROM devices WHERE device_id = $1"
	if forUpdate {
		sql += " FOR UPDATE"
	}
	var doc []byte
	err := q.QueryRow(ctx, sql, deviceID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.DeviceRecord{}, store.ErrNotFound
	}
	if err != nil {
		return types.DeviceRecord{}, fmt.Errorf("GetDevice query: %w", err)
	}
	var rec types.DeviceRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return types.DeviceRecord{}, fmt.Errorf("GetDevice decode: %w", err)
	}
	return rec, nil
}

func (s *Store) UpsertDevice(ctx context.Context, rec types.DeviceRecord) error {
	if strings.TrimSpace(rec.DeviceID) == "" {
		return errors.New("UpsertDevice: empty device id")
	}
	now := time.Now().UTC()

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var created time.Time
		err := tx.QueryRow(ctx, "SELECT created_at FROM devices WHERE device_id = $1 FOR UPDATE", rec.DeviceID).Scan(&created)
		switch {
		case err == nil:
			rec.CreatedAt = created.UTC()
		case errors.Is(err, pgx.ErrNoRows):
			if rec.CreatedAt.IsZero() {
				rec.CreatedAt = now
			}
		default:
			return fmt.Errorf("UpsertDevice lookup: %w", err)
		}
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = now
		}
		return writeDevice(ctx, tx, rec)
	})
}

func writeDevice(ctx context.Context, tx pgx.Tx, rec types.DeviceRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode device: %w", err)
	}
	var lastSeen *time.Time
	if !rec.Status.LastSeen.IsZero() {
		ls := rec.Status.LastSeen.UTC()
		lastSeen = &ls
	}
	_, err = tx.Exec(ctx, `
INSERT INTO devices(device_id, device_type, doc, online, last_seen_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (device_id) DO UPDATE SET
  device_type  = EXCLUDED.device_type,
  doc          = EXCLUDED.doc,
  online       = EXCLUDED.online,
  last_seen_at = EXCLUDED.last_seen_at,
  updated_at   = EXCLUDED.updated_at`,
		rec.DeviceID, string(rec.Type), doc, rec.Status.Online, lastSeen, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("write device %s: %w", rec.DeviceID, err)
	}
	return nil
}

func (s *Store) MarkSeen(ctx context.Context, deviceID string, online bool, t time.Time) error {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return s.modify(ctx, deviceID, func(rec *types.DeviceRecord) {
		rec.Status.Online = online
		if online || rec.Status.LastSeen.IsZero() {
			rec.Status.LastSeen = t.UTC()
		}
		rec.UpdatedAt = t.UTC()
	})
}

func (s *Store) UpdateSettings(ctx context.Context, deviceID string, settings types.DeviceSettings) error {
	return s.modify(ctx, deviceID, func(rec *types.DeviceRecord) {
		rec.Settings = settings
		rec.UpdatedAt = time.Now().UTC()
	})
}

func (s *Store) modify(ctx context.Context, deviceID string, fn func(*types.DeviceRecord)) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rec, err := loadDevice(ctx, tx, deviceID, true)
		if err != nil {
			return err
		}
		fn(&rec)
		return writeDevice(ctx, tx, rec)
	})
}

// ensureDevice inserts an offline placeholder so foreign keys hold.
func ensureDevice(ctx context.Context, tx pgx.Tx, deviceID string, at time.Time) error {
	rec := types.DeviceRecord{
		DeviceID:  deviceID,
		Type:      types.DeviceDesktop,
		Settings:  types.DefaultSettings(),
		CreatedAt: at.UTC(),
		UpdatedAt: at.UTC(),
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode device: %w", err)
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO devices(device_id, device_type, doc, online, created_at, updated_at)
VALUES ($1, $2, $3, FALSE, $4, $4)
ON CONFLICT (device_id) DO NOTHING`, deviceID, string(rec.Type), doc, at.UTC()); err != nil {
		return fmt.Errorf("ensureDevice %s: %w", deviceID, err)
	}
	return nil
}

var _ store.Store = (*Store)(nil)
