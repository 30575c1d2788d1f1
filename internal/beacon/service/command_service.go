package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/beacon/internal/beacon/store"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

var (
	ErrDeviceNotFound   = errors.New("device not found")
	ErrDeviceOffline    = errors.New("device is offline")
	ErrCommandsDisabled = errors.New("device does not allow remote commands")
	ErrMessagesDisabled = errors.New("device does not allow messages")
	ErrLockDisabled     = errors.New("device does not allow screen lock")
	ErrDeliveryFailed   = errors.New("failed to send command to device")
)

// CommandStore is what the command service persists into.
type CommandStore interface {
	store.DeviceStore
	store.CommandStore
	store.AlertStore
}

// CommandService issues typed commands, records their history and turns
// relay resolutions into persisted status plus a command_status event.
type CommandService struct {
	store  CommandStore
	relay  *CommandRelay
	events EventSink
	log    zerolog.Logger

	// inflight tracks commands between persist and the delivered update;
	// true once a resolution arrived first.
	mu       sync.Mutex
	inflight map[string]bool
}

func NewCommandService(st CommandStore, relay *CommandRelay, events EventSink, log zerolog.Logger) *CommandService {
	s := &CommandService{
		store:    st,
		relay:    relay,
		events:   events,
		log:      log.With().Str("component", "commands").Logger(),
		inflight: make(map[string]bool),
	}
	relay.OnResolution(s)
	return s
}

// DecodeCommand parses and validates the parameters for opcode name.
func DecodeCommand(name string, raw json.RawMessage) (types.Command, error) {
	cmdName := types.CommandName(strings.TrimSpace(name))
	params, ok := types.ParamsFor(cmdName)
	if !ok {
		return types.Command{}, fmt.Errorf("%w: %q", types.ErrInvalidCommand, name)
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(params); err != nil {
			return types.Command{}, fmt.Errorf("%w: %v", types.ErrInvalidCommand, err)
		}
	}
	cmd := types.Command{Name: cmdName, Params: params}
	if err := checkCommand(cmd); err != nil {
		return types.Command{}, err
	}
	return cmd, nil
}

func checkCommand(cmd types.Command) error {
	want, ok := types.ParamsFor(cmd.Name)
	if !ok {
		return fmt.Errorf("%w: %q", types.ErrInvalidCommand, cmd.Name)
	}
	if cmd.Params == nil {
		cmd.Params = want
	}
	if err := Validator().Struct(cmd.Params); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidCommand, err)
	}
	return nil
}

// Issue sends cmd to a known, connected device that allows remote commands.
func (s *CommandService) Issue(ctx context.Context, deviceID string, cmd types.Command) (types.CommandRecord, error) {
	if err := checkCommand(cmd); err != nil {
		return types.CommandRecord{}, err
	}
	dev, err := s.device(ctx, deviceID)
	if err != nil {
		return types.CommandRecord{}, err
	}
	if !dev.Settings.AllowRemoteCommands {
		return types.CommandRecord{}, ErrCommandsDisabled
	}
	return s.dispatch(ctx, dev, cmd)
}

// SendMessage shows a message on the device and logs an admin alert.
func (s *CommandService) SendMessage(ctx context.Context, deviceID, title, message string) (types.CommandRecord, error) {
	dev, err := s.device(ctx, deviceID)
	if err != nil {
		return types.CommandRecord{}, err
	}
	if !dev.Settings.AllowMessages {
		return types.CommandRecord{}, ErrMessagesDisabled
	}
	cmd := types.Command{
		Name:   types.CommandShowMessage,
		Params: &types.ShowMessageParams{Title: title, Message: message},
	}
	if err := checkCommand(cmd); err != nil {
		return types.CommandRecord{}, err
	}

	rec, err := s.dispatch(ctx, dev, cmd)
	if err != nil {
		return rec, err
	}
	_, _ = raiseAlert(ctx, s.store, s.events, s.log, deviceID, types.AlertAdmin, types.SeverityLow, "Message sent: "+title)
	return rec, nil
}

// Lock asks the device to lock its screen and logs an admin alert.
func (s *CommandService) Lock(ctx context.Context, deviceID string) (types.CommandRecord, error) {
	dev, err := s.device(ctx, deviceID)
	if err != nil {
		return types.CommandRecord{}, err
	}
	if !dev.Settings.AllowScreenLock {
		return types.CommandRecord{}, ErrLockDisabled
	}

	rec, err := s.dispatch(ctx, dev, types.Command{Name: types.CommandLockScreen, Params: &types.NoParams{}})
	if err != nil {
		return rec, err
	}
	_, _ = raiseAlert(ctx, s.store, s.events, s.log, deviceID, types.AlertAdmin, types.SeverityMedium, "Screen lock command sent")
	return rec, nil
}

// Ping checks that the device answers; the pong settles the command.
func (s *CommandService) Ping(ctx context.Context, deviceID string) (types.CommandRecord, error) {
	return s.Issue(ctx, deviceID, types.Command{Name: types.CommandPing, Params: &types.NoParams{}})
}

// Broadcast issues cmd to every connected device of typ and returns how many
// accepted it. Devices that refuse remote commands are skipped.
func (s *CommandService) Broadcast(ctx context.Context, typ types.DeviceType, cmd types.Command) (int, error) {
	if err := checkCommand(cmd); err != nil {
		return 0, err
	}
	sent := 0
	for _, id := range s.relay.devices.IDsOfType(typ) {
		if _, err := s.Issue(ctx, id, cmd); err != nil {
			s.log.Debug().Err(err).Str("device_id", id).Msg("broadcast skipped device")
			continue
		}
		sent++
	}
	return sent, nil
}

// History returns the newest commands for a known device.
func (s *CommandService) History(ctx context.Context, deviceID string, limit int) ([]types.CommandRecord, error) {
	if _, err := s.device(ctx, deviceID); err != nil {
		return nil, err
	}
	return s.store.ListCommands(ctx, deviceID, limit)
}

// Await waits for a command issued by this process to settle.
func (s *CommandService) Await(ctx context.Context, requestID string) (Resolution, error) {
	return s.relay.Await(ctx, requestID)
}

// HandleResolution persists a settled command and announces it.
func (s *CommandService) HandleResolution(res Resolution) {
	s.mu.Lock()
	if _, ok := s.inflight[res.RequestID]; ok {
		s.inflight[res.RequestID] = true
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.UpdateCommandStatus(ctx, res.RequestID, res.Status, res.ResolvedAt, res.Response); err != nil {
		s.log.Error().Err(err).Str("request_id", res.RequestID).Msg("persist command resolution")
	}

	s.events.Broadcast(types.EventCommandStatus, types.CommandStatusEvent{
		RequestID: res.RequestID,
		DeviceID:  res.DeviceID,
		Command:   res.Command,
		Status:    res.Status,
	})
}

func (s *CommandService) device(ctx context.Context, deviceID string) (types.DeviceRecord, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return types.DeviceRecord{}, ErrInvalidDeviceID
	}
	dev, err := s.store.GetDevice(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return types.DeviceRecord{}, ErrDeviceNotFound
	}
	return dev, err
}

// dispatch persists cmd as pending, relays it and advances it to delivered
// or failed. A polling agent without a socket gets the command queued.
func (s *CommandService) dispatch(ctx context.Context, dev types.DeviceRecord, cmd types.Command) (types.CommandRecord, error) {
	deviceID := dev.DeviceID
	connected := s.relay.IsConnected(deviceID)
	if !connected && !dev.Polling {
		return types.CommandRecord{}, ErrDeviceOffline
	}

	payload, err := json.Marshal(cmd.Params)
	if err != nil {
		return types.CommandRecord{}, fmt.Errorf("encode params: %w", err)
	}
	rec := types.CommandRecord{
		RequestID: uuid.NewString(),
		DeviceID:  deviceID,
		Command:   cmd.Name,
		Payload:   payload,
		IssuedAt:  time.Now().UTC(),
		Status:    types.CommandPending,
	}
	if !connected {
		rec.Status = types.CommandQueued
	}
	if err := s.store.AppendCommand(ctx, rec); err != nil {
		return types.CommandRecord{}, err
	}
	if !connected {
		s.log.Info().Str("device_id", deviceID).Str("command", string(cmd.Name)).Str("request_id", rec.RequestID).Msg("command queued for polling agent")
		return rec, nil
	}

	s.mu.Lock()
	s.inflight[rec.RequestID] = false
	s.mu.Unlock()

	ok := s.relay.SendWithID(rec.RequestID, deviceID, cmd.Name, cmd.Params)

	s.mu.Lock()
	defer s.mu.Unlock()
	resolved := s.inflight[rec.RequestID]
	delete(s.inflight, rec.RequestID)

	now := time.Now().UTC()
	switch {
	case !ok:
		rec.Status = types.CommandFailed
		rec.ResolvedAt = &now
		if err := s.store.UpdateCommandStatus(ctx, rec.RequestID, rec.Status, now, nil); err != nil {
			s.log.Error().Err(err).Str("request_id", rec.RequestID).Msg("persist failed command")
		}
		if !s.relay.IsConnected(deviceID) {
			return rec, ErrDeviceOffline
		}
		return rec, ErrDeliveryFailed
	case resolved:
		// The confirmation beat us here; its status is already stored.
		rec.Status = types.CommandDelivered
	default:
		rec.Status = types.CommandDelivered
		if err := s.store.UpdateCommandStatus(ctx, rec.RequestID, rec.Status, now, nil); err != nil {
			s.log.Error().Err(err).Str("request_id", rec.RequestID).Msg("persist delivered command")
		}
	}

	s.log.Info().Str("device_id", deviceID).Str("command", string(cmd.Name)).Str("request_id", rec.RequestID).Msg("command sent")
	return rec, nil
}
