package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/beacon/internal/beacon/store"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

func (s *Store) ListDevices(ctx context.Context, f store.DeviceFilter) ([]types.DeviceRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "device_type = ?")
		args = append(args, string(f.Type))
	}
	if f.Online != nil {
		where = append(where, "online = ?")
		args = append(args, boolInt(*f.Online))
	}

	q := "SELECT doc FROM devices"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY last_seen_at_ms DESC, device_id ASC;"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ListDevices query: %w", err)
	}
	defer rows.Close()

	var out []types.DeviceRecord
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("ListDevices scan: %w", err)
		}
		var rec types.DeviceRecord
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, fmt.Errorf("ListDevices decode: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) GetDevice(ctx context.Context, deviceID string) (types.DeviceRecord, error) {
	return loadDevice(ctx, s.db, deviceID)
}

func loadDevice(ctx context.Context, q queryer, deviceID string) (types.DeviceRecord, error) {
	var doc string
	err := q.QueryRowContext(ctx, "SELECT doc FROM devices WHERE device_id = ?;", deviceID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return types.DeviceRecord{}, store.ErrNotFound
	}
	if err != nil {
		return types.DeviceRecord{}, fmt.Errorf("GetDevice query: %w", err)
	}
	var rec types.DeviceRecord
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return types.DeviceRecord{}, fmt.Errorf("GetDevice decode: %w", err)
	}
	return rec, nil
}

// UpsertDevice writes the whole document. created_at survives replacement.
func (s *Store) UpsertDevice(ctx context.Context, rec types.DeviceRecord) error {
	deviceID := strings.TrimSpace(rec.DeviceID)
	if deviceID == "" {
		return fmt.Errorf("UpsertDevice: empty device id")
	}
	now := time.Now().UTC()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var createdMs int64
		err := tx.QueryRowContext(ctx, "SELECT created_at_ms FROM devices WHERE device_id = ?;", deviceID).Scan(&createdMs)
		switch {
		case err == nil:
			rec.CreatedAt = fromMs(createdMs)
		case errors.Is(err, sql.ErrNoRows):
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

func writeDevice(ctx context.Context, tx *sql.Tx, rec types.DeviceRecord) error {
	doc, err := encodeDoc(rec)
	if err != nil {
		return err
	}
	var lastSeen any
	if !rec.Status.LastSeen.IsZero() {
		lastSeen = toMs(rec.Status.LastSeen)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO devices(
  device_id, device_type, doc, online, last_seen_at_ms, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(device_id) DO UPDATE SET
  device_type     = excluded.device_type,
  doc             = excluded.doc,
  online          = excluded.online,
  last_seen_at_ms = excluded.last_seen_at_ms,
  updated_at_ms   = excluded.updated_at_ms;
`,
		rec.DeviceID, string(rec.Type), doc, boolInt(rec.Status.Online), lastSeen,
		toMs(rec.CreatedAt), toMs(rec.UpdatedAt),
	); err != nil {
		return fmt.Errorf("write device %s: %w", rec.DeviceID, err)
	}
	return nil
}

// MarkSeen flips the online flag. last_seen only moves forward while online.
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

// modify is a read-modify-write of one device document inside the writer.
func (s *Store) modify(ctx context.Context, deviceID string, fn func(*types.DeviceRecord)) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rec, err := loadDevice(ctx, tx, deviceID)
		if err != nil {
			return err
		}
		fn(&rec)
		return writeDevice(ctx, tx, rec)
	})
}
