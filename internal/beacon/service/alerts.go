package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/beacon/internal/beacon/store"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

// raiseAlert appends an alert and announces it as device_alert. A crash
// between the two leaves the alert stored but unannounced.
func raiseAlert(ctx context.Context, st store.AlertStore, events EventSink, log zerolog.Logger,
	deviceID string, kind types.AlertKind, severity types.Severity, message string) (types.AlertRecord, error) {
	a := types.AlertRecord{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Kind:      kind,
		Message:   message,
		Severity:  severity,
		CreatedAt: time.Now().UTC(),
	}
	if err := st.AppendAlert(ctx, a); err != nil {
		log.Error().Err(err).Str("device_id", deviceID).Str("kind", string(kind)).Msg("append alert")
		return types.AlertRecord{}, err
	}
	events.Broadcast(types.EventDeviceAlert, types.DeviceAlertEvent{DeviceID: deviceID, Alert: a})
	return a, nil
}
