package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/beacon/internal/beacon/store"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

func (s *Store) AppendCommand(ctx context.Context, rec types.CommandRecord) error {
	if rec.IssuedAt.IsZero() {
		rec.IssuedAt = time.Now().UTC()
	}
	issuedMs := toMs(rec.IssuedAt)

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureDevice(ctx, tx, rec.DeviceID, issuedMs); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO device_commands(
  request_id, device_id, command, payload, status, issued_at_ms, resolved_at_ms, response
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`,
			rec.RequestID, rec.DeviceID, string(rec.Command), nullJSON(rec.Payload),
			string(rec.Status), issuedMs, nullMs(rec.ResolvedAt), nullJSON(rec.Response),
		); err != nil {
			return fmt.Errorf("AppendCommand insert: %w", err)
		}
		return nil
	})
}

func (s *Store) UpdateCommandStatus(ctx context.Context, requestID string, status types.CommandStatus, t time.Time, response json.RawMessage) error {
	var resolved any
	if status.Terminal() {
		resolved = toMs(t)
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE device_commands
SET status         = ?,
    resolved_at_ms = COALESCE(?, resolved_at_ms),
    response       = COALESCE(?, response)
WHERE request_id = ?;
`, string(status), resolved, nullJSON(response), requestID)
		if err != nil {
			return fmt.Errorf("UpdateCommandStatus: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

func (s *Store) ListCommands(ctx context.Context, deviceID string, limit int) ([]types.CommandRecord, error) {
	q := `
SELECT request_id, device_id, command, payload, status, issued_at_ms, resolved_at_ms, response
FROM device_commands
WHERE device_id = ?
ORDER BY issued_at_ms DESC, rowid DESC`
	args := []any{deviceID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q+";", args...)
	if err != nil {
		return nil, fmt.Errorf("ListCommands query: %w", err)
	}
	defer rows.Close()

	var out []types.CommandRecord
	for rows.Next() {
		var (
			rec      types.CommandRecord
			payload  sql.NullString
			response sql.NullString
			issuedMs int64
			resolved sql.NullInt64
		)
		if err := rows.Scan(&rec.RequestID, &rec.DeviceID, &rec.Command, &payload,
			&rec.Status, &issuedMs, &resolved, &response); err != nil {
			return nil, fmt.Errorf("ListCommands scan: %w", err)
		}
		rec.IssuedAt = fromMs(issuedMs)
		if resolved.Valid {
			at := fromMs(resolved.Int64)
			rec.ResolvedAt = &at
		}
		if payload.Valid {
			rec.Payload = json.RawMessage(payload.String)
		}
		if response.Valid {
			rec.Response = json.RawMessage(response.String)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
