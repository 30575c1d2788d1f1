package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

func (s *Store) AppendLocation(ctx context.Context, rec types.LocationRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	recordedMs := toMs(rec.RecordedAt)
	doc, err := encodeDoc(rec.Location)
	if err != nil {
		return err
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureDevice(ctx, tx, rec.DeviceID, recordedMs); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO device_locations(device_id, latitude, longitude, doc, recorded_at_ms)
VALUES (?, ?, ?, ?, ?);
`, rec.DeviceID, rec.Location.Latitude, rec.Location.Longitude, doc, recordedMs); err != nil {
			return fmt.Errorf("AppendLocation insert: %w", err)
		}
		return nil
	})
}

func (s *Store) ListLocations(ctx context.Context, deviceID string, limit int) ([]types.LocationRecord, error) {
	q := `
SELECT doc, recorded_at_ms FROM device_locations
WHERE device_id = ?
ORDER BY recorded_at_ms DESC, id DESC`
	args := []any{deviceID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q+";", args...)
	if err != nil {
		return nil, fmt.Errorf("ListLocations query: %w", err)
	}
	return scanLocations(rows, deviceID, "ListLocations")
}

func (s *Store) LocationsBetween(ctx context.Context, deviceID string, from, to time.Time) ([]types.LocationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT doc, recorded_at_ms FROM device_locations
WHERE device_id = ? AND recorded_at_ms BETWEEN ? AND ?
ORDER BY recorded_at_ms ASC, id ASC;
`, deviceID, toMs(from), toMs(to))
	if err != nil {
		return nil, fmt.Errorf("LocationsBetween query: %w", err)
	}
	return scanLocations(rows, deviceID, "LocationsBetween")
}

func scanLocations(rows *sql.Rows, deviceID, op string) ([]types.LocationRecord, error) {
	defer rows.Close()

	var out []types.LocationRecord
	for rows.Next() {
		var (
			doc string
			ms  int64
		)
		if err := rows.Scan(&doc, &ms); err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		rec := types.LocationRecord{DeviceID: deviceID, RecordedAt: fromMs(ms)}
		if err := json.Unmarshal([]byte(doc), &rec.Location); err != nil {
			return nil, fmt.Errorf("%s decode: %w", op, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneOlderThan deletes location rows recorded before cutoff and returns the
// number removed. Served by idx_locations_time.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := toMs(cutoff)

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM device_locations
WHERE recorded_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneOlderThan: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
