package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/beacon/internal/beacon/store"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

// CompletionReport is what a polling agent posts after running a command.
type CompletionReport struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type AgentStore interface {
	store.DeviceStore
	store.CommandStore
}

// AgentService serves device agents that poll over HTTP instead of holding
// a socket: they register, fetch queued commands and report completion.
type AgentService struct {
	store AgentStore
	relay *CommandRelay
	log   zerolog.Logger
}

func NewAgentService(st AgentStore, relay *CommandRelay, log zerolog.Logger) *AgentService {
	return &AgentService{
		store: st,
		relay: relay,
		log:   log.With().Str("component", "agents").Logger(),
	}
}

// Register creates or refreshes a polling device. created is false when the
// device already existed; its settings are kept.
func (s *AgentService) Register(ctx context.Context, reg types.DeviceRegistration) (rec types.DeviceRecord, created bool, err error) {
	reg.DeviceID = strings.TrimSpace(reg.DeviceID)
	if reg.DeviceID == "" {
		return types.DeviceRecord{}, false, ErrInvalidDeviceID
	}
	typ, err := types.ParseDeviceType(reg.Type)
	if err != nil {
		return types.DeviceRecord{}, false, err
	}

	now := time.Now().UTC()
	rec, err = s.store.GetDevice(ctx, reg.DeviceID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		created = true
		rec = types.DeviceRecord{
			DeviceID:  reg.DeviceID,
			Settings:  types.DefaultSettings(),
			CreatedAt: now,
		}
	case err != nil:
		return types.DeviceRecord{}, false, err
	}

	rec.Type = typ
	if reg.Name != "" {
		rec.Name = reg.Name
	}
	rec.DeviceInfo = reg.DeviceInfo
	switch {
	case reg.Platform != "":
		rec.Platform = reg.Platform
	case reg.DeviceInfo.Platform != "":
		rec.Platform = reg.DeviceInfo.Platform
	}
	rec.Polling = true
	rec.Status.LastSeen = now
	rec.UpdatedAt = now

	if err := s.store.UpsertDevice(ctx, rec); err != nil {
		return types.DeviceRecord{}, false, err
	}
	s.log.Info().Str("device_id", rec.DeviceID).Bool("created", created).Msg("polling agent registered")
	return rec, created, nil
}

// Fetch hands the device its queued commands, oldest first, and marks them
// delivered. Each one must be completed within the acknowledgment timeout.
func (s *AgentService) Fetch(ctx context.Context, deviceID string) ([]types.CommandRecord, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, ErrInvalidDeviceID
	}
	if _, err := s.store.GetDevice(ctx, deviceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}

	all, err := s.store.ListCommands(ctx, deviceID, 0)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := []types.CommandRecord{}
	for i := len(all) - 1; i >= 0; i-- {
		rec := all[i]
		if rec.Status != types.CommandQueued {
			continue
		}
		if err := s.store.UpdateCommandStatus(ctx, rec.RequestID, types.CommandDelivered, now, nil); err != nil {
			return nil, fmt.Errorf("mark %s delivered: %w", rec.RequestID, err)
		}
		s.relay.Lease(rec.RequestID, deviceID, rec.Command, rec.IssuedAt)
		rec.Status = types.CommandDelivered
		out = append(out, rec)
	}
	if n := len(out); n > 0 {
		s.log.Debug().Str("device_id", deviceID).Int("commands", n).Msg("commands fetched")
	}
	return out, nil
}

// Complete settles a fetched command. A non-empty Error fails it.
func (s *AgentService) Complete(requestID string, rep CompletionReport) (Resolution, error) {
	requestID = strings.TrimSpace(requestID)
	success := rep.Error == ""
	data, err := json.Marshal(struct {
		Success bool            `json:"success"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   string          `json:"error,omitempty"`
	}{success, rep.Result, rep.Error})
	if err != nil {
		return Resolution{}, fmt.Errorf("encode completion: %w", err)
	}

	res, ok := s.relay.Confirm(types.Confirmation{RequestID: requestID, Data: data})
	if !ok {
		return Resolution{}, ErrUnknownRequest
	}
	return res, nil
}
