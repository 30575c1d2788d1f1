package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/BrandonDHaskell/beacon/internal/beacon/store"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

func rawOrNil(b json.RawMessage) []byte {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

// ── Commands ─────────────────────────────────────────────────────────────────

func (s *Store) AppendCommand(ctx context.Context, rec types.CommandRecord) error {
	if rec.IssuedAt.IsZero() {
		rec.IssuedAt = time.Now().UTC()
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := ensureDevice(ctx, tx, rec.DeviceID, rec.IssuedAt); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO device_commands(request_id, device_id, command, payload, status, issued_at, resolved_at, response)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			rec.RequestID, rec.DeviceID, string(rec.Command), rawOrNil(rec.Payload),
			string(rec.Status), rec.IssuedAt.UTC(), rec.ResolvedAt, rawOrNil(rec.Response),
		); err != nil {
			return fmt.Errorf("AppendCommand insert: %w", err)
		}
		return nil
	})
}

func (s *Store) UpdateCommandStatus(ctx context.Context, requestID string, status types.CommandStatus, t time.Time, response json.RawMessage) error {
	var resolved *time.Time
	if status.Terminal() {
		at := t.UTC()
		resolved = &at
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE device_commands
SET status      = $1,
    resolved_at = COALESCE($2, resolved_at),
    response    = COALESCE($3, response)
WHERE request_id = $4`, string(status), resolved, rawOrNil(response), requestID)
	if err != nil {
		return fmt.Errorf("UpdateCommandStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListCommands(ctx context.Context, deviceID string, limit int) ([]types.CommandRecord, error) {
	q := `
SELECT request_id, device_id, command, payload, status, issued_at, resolved_at, response
FROM device_commands
WHERE device_id = $1
ORDER BY issued_at DESC`
	args := []any{deviceID}
	if limit > 0 {
		q += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ListCommands query: %w", err)
	}
	defer rows.Close()

	var out []types.CommandRecord
	for rows.Next() {
		var (
			rec               types.CommandRecord
			command, status   string
			payload, response []byte
			resolved          *time.Time
		)
		if err := rows.Scan(&rec.RequestID, &rec.DeviceID, &command, &payload,
			&status, &rec.IssuedAt, &resolved, &response); err != nil {
			return nil, fmt.Errorf("ListCommands scan: %w", err)
		}
		rec.Command = types.CommandName(command)
		rec.Status = types.CommandStatus(status)
		rec.IssuedAt = rec.IssuedAt.UTC()
		if resolved != nil {
			at := resolved.UTC()
			rec.ResolvedAt = &at
		}
		if len(payload) > 0 {
			rec.Payload = json.RawMessage(payload)
		}
		if len(response) > 0 {
			rec.Response = json.RawMessage(response)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ── Alerts ───────────────────────────────────────────────────────────────────

const alertColumns = "alert_id, device_id, kind, message, severity, created_at, acknowledged"

func (s *Store) AppendAlert(ctx context.Context, rec types.AlertRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := ensureDevice(ctx, tx, rec.DeviceID, rec.CreatedAt); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO device_alerts(`+alertColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rec.ID, rec.DeviceID, string(rec.Kind), rec.Message, string(rec.Severity),
			rec.CreatedAt.UTC(), rec.Acknowledged,
		); err != nil {
			return fmt.Errorf("AppendAlert insert: %w", err)
		}
		return nil
	})
}

func (s *Store) ListAlerts(ctx context.Context, deviceID string, acknowledged *bool) ([]types.AlertRecord, error) {
	q := "SELECT " + alertColumns + " FROM device_alerts WHERE device_id = $1"
	args := []any{deviceID}
	if acknowledged != nil {
		q += " AND acknowledged = $2"
		args = append(args, *acknowledged)
	}
	return s.queryAlerts(ctx, q+" ORDER BY created_at DESC", args...)
}

func (s *Store) AcknowledgeAlert(ctx context.Context, deviceID, alertID string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE device_alerts SET acknowledged = TRUE WHERE alert_id = $1 AND device_id = $2",
		alertID, deviceID)
	if err != nil {
		return fmt.Errorf("AcknowledgeAlert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]types.AlertRecord, error) {
	q := "SELECT " + alertColumns + " FROM device_alerts WHERE NOT acknowledged ORDER BY created_at DESC"
	var args []any
	if limit > 0 {
		q += " LIMIT $1"
		args = append(args, limit)
	}
	return s.queryAlerts(ctx, q, args...)
}

func (s *Store) queryAlerts(ctx context.Context, q string, args ...any) ([]types.AlertRecord, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []types.AlertRecord
	for rows.Next() {
		var (
			a              types.AlertRecord
			kind, severity string
		)
		if err := rows.Scan(&a.ID, &a.DeviceID, &kind, &a.Message, &severity, &a.CreatedAt, &a.Acknowledged); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Kind = types.AlertKind(kind)
		a.Severity = types.Severity(severity)
		a.CreatedAt = a.CreatedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// ── Locations ────────────────────────────────────────────────────────────────

func (s *Store) AppendLocation(ctx context.Context, rec types.LocationRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	doc, err := json.Marshal(rec.Location)
	if err != nil {
		return fmt.Errorf("encode location: %w", err)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := ensureDevice(ctx, tx, rec.DeviceID, rec.RecordedAt); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO device_locations(device_id, doc, recorded_at) VALUES ($1, $2, $3)",
			rec.DeviceID, doc, rec.RecordedAt.UTC()); err != nil {
			return fmt.Errorf("AppendLocation insert: %w", err)
		}
		return nil
	})
}

func (s *Store) ListLocations(ctx context.Context, deviceID string, limit int) ([]types.LocationRecord, error) {
	q := "SELECT doc, recorded_at FROM device_locations WHERE device_id = $1 ORDER BY recorded_at DESC, id DESC"
	args := []any{deviceID}
	if limit > 0 {
		q += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ListLocations query: %w", err)
	}
	return scanLocations(rows, deviceID, "ListLocations")
}

func (s *Store) LocationsBetween(ctx context.Context, deviceID string, from, to time.Time) ([]types.LocationRecord, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT doc, recorded_at FROM device_locations WHERE device_id = $1 AND recorded_at BETWEEN $2 AND $3 ORDER BY recorded_at ASC, id ASC",
		deviceID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("LocationsBetween query: %w", err)
	}
	return scanLocations(rows, deviceID, "LocationsBetween")
}

func scanLocations(rows pgx.Rows, deviceID, op string) ([]types.LocationRecord, error) {
	defer rows.Close()

	var out []types.LocationRecord
	for rows.Next() {
		var (
			doc []byte
			at  time.Time
		)
		if err := rows.Scan(&doc, &at); err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		rec := types.LocationRecord{DeviceID: deviceID, RecordedAt: at.UTC()}
		if err := json.Unmarshal(doc, &rec.Location); err != nil {
			return nil, fmt.Errorf("%s decode: %w", op, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM device_locations WHERE recorded_at < $1", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("PruneOlderThan: %w", err)
	}
	return tag.RowsAffected(), nil
}
