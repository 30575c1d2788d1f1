package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/beacon/internal/beacon/store"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

const alertColumns = "alert_id, device_id, kind, message, severity, created_at_ms, acknowledged"

func (s *Store) AppendAlert(ctx context.Context, rec types.AlertRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	createdMs := toMs(rec.CreatedAt)

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureDevice(ctx, tx, rec.DeviceID, createdMs); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO device_alerts(`+alertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?);
`,
			rec.ID, rec.DeviceID, string(rec.Kind), rec.Message, string(rec.Severity),
			createdMs, boolInt(rec.Acknowledged),
		); err != nil {
			return fmt.Errorf("AppendAlert insert: %w", err)
		}
		return nil
	})
}

func (s *Store) ListAlerts(ctx context.Context, deviceID string, acknowledged *bool) ([]types.AlertRecord, error) {
	q := "SELECT " + alertColumns + " FROM device_alerts WHERE device_id = ?"
	args := []any{deviceID}
	if acknowledged != nil {
		q += " AND acknowledged = ?"
		args = append(args, boolInt(*acknowledged))
	}
	return s.queryAlerts(ctx, q+" ORDER BY created_at_ms DESC, rowid DESC;", args...)
}

func (s *Store) AcknowledgeAlert(ctx context.Context, deviceID, alertID string) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE device_alerts SET acknowledged = 1 WHERE alert_id = ? AND device_id = ?;
`, alertID, deviceID)
		if err != nil {
			return fmt.Errorf("AcknowledgeAlert: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]types.AlertRecord, error) {
	q := "SELECT " + alertColumns + " FROM device_alerts WHERE acknowledged = 0 ORDER BY created_at_ms DESC, rowid DESC"
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryAlerts(ctx, q+";", args...)
}

func (s *Store) queryAlerts(ctx context.Context, q string, args ...any) ([]types.AlertRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []types.AlertRecord
	for rows.Next() {
		var (
			a         types.AlertRecord
			createdMs int64
			ack       int
		)
		if err := rows.Scan(&a.ID, &a.DeviceID, &a.Kind, &a.Message, &a.Severity, &createdMs, &ack); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.CreatedAt = fromMs(createdMs)
		a.Acknowledged = ack == 1
		out = append(out, a)
	}
	return out, rows.Err()
}
