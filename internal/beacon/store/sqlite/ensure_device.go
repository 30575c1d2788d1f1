package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

// ensureDevice guarantees a devices row exists for deviceID so the foreign
// keys from commands, alerts and locations hold. Placeholder rows are
// offline desktops with default settings until the device registers.
//
// Must be called inside an existing transaction.
func ensureDevice(ctx context.Context, tx *sql.Tx, deviceID string, nowMs int64) error {
	rec := types.DeviceRecord{
		DeviceID:  deviceID,
		Type:      types.DeviceDesktop,
		Settings:  types.DefaultSettings(),
		CreatedAt: fromMs(nowMs),
		UpdatedAt: fromMs(nowMs),
	}
	doc, err := encodeDoc(rec)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO devices(
  device_id, device_type, doc, online, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, 0, ?, ?);
`, deviceID, rec.Type, doc, nowMs, nowMs); err != nil {
		return fmt.Errorf("ensureDevice %s: %w", deviceID, err)
	}
	return nil
}
