package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/beacon/internal/beacon/store"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

type HeartbeatService struct {
	devices *DeviceRegistry
	store   store.DeviceStore
	log     zerolog.Logger
}

func NewHeartbeatService(devices *DeviceRegistry, st store.DeviceStore, log zerolog.Logger) *HeartbeatService {
	return &HeartbeatService{
		devices: devices,
		store:   st,
		log:     log.With().Str("component", "heartbeat").Logger(),
	}
}

// Record refreshes the liveness of the device conn is registered as. Known
// is false when conn does not own deviceID; the agent should re-register.
func (s *HeartbeatService) Record(ctx context.Context, conn Conn, req types.HeartbeatRequest) (types.HeartbeatAck, error) {
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		return types.HeartbeatAck{}, ErrInvalidDeviceID
	}

	now := time.Now().UTC()
	known := s.devices.Touch(deviceID, conn)
	if known {
		if err := s.store.MarkSeen(ctx, deviceID, true, now); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.log.Warn().Err(err).Str("device_id", deviceID).Msg("mark seen")
		}
	}

	return types.HeartbeatAck{
		Known:      known,
		ServerTime: now.Format(time.RFC3339Nano),
	}, nil
}
