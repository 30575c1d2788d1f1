package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
	"github.com/BrandonDHaskell/beacon/internal/metrics"
)

// DefaultCommandTimeout bounds how long a relayed command waits for its
// confirmation before it is marked failed.
const DefaultCommandTimeout = 10 * time.Second

// confirmationActions maps the action a device reports back to the command
// it answers.
var confirmationActions = map[string]types.CommandName{
	"message_shown":      types.CommandShowMessage,
	"notification_shown": types.CommandSendNotification,
	"screen_locked":      types.CommandLockScreen,
	"pong":               types.CommandPing,
	"status_response":    types.CommandGetStatus,
}

// ResolutionHandler receives every settled command.
type ResolutionHandler interface {
	HandleResolution(res Resolution)
}

// CommandRelay forwards commands to connected devices and correlates the
// confirmations that come back.
type CommandRelay struct {
	devices *DeviceRegistry
	pending *PendingTable
	timeout time.Duration
	log     zerolog.Logger
	metrics *metrics.Metrics

	hmu     sync.RWMutex
	handler ResolutionHandler
}

func NewCommandRelay(devices *DeviceRegistry, timeout time.Duration, log zerolog.Logger, m *metrics.Metrics) *CommandRelay {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &CommandRelay{
		devices: devices,
		pending: NewPendingTable(6 * timeout),
		timeout: timeout,
		log:     log.With().Str("component", "command_relay").Logger(),
		metrics: m,
	}
}

// OnResolution installs the handler for settled commands.
func (r *CommandRelay) OnResolution(h ResolutionHandler) {
	r.hmu.Lock()
	defer r.hmu.Unlock()
	r.handler = h
}

// SendToDevice emits admin_command to deviceID. An unregistered device gets
// ok=false and nothing is emitted anywhere.
func (r *CommandRelay) SendToDevice(deviceID string, name types.CommandName, payload any) (string, bool) {
	requestID := uuid.NewString()
	if !r.SendWithID(requestID, deviceID, name, payload) {
		return "", false
	}
	return requestID, true
}

// SendWithID is SendToDevice with a caller-chosen request id, so the command
// can be persisted before the device has a chance to answer.
func (r *CommandRelay) SendWithID(requestID, deviceID string, name types.CommandName, payload any) bool {
	conn, _, ok := r.devices.Lookup(deviceID)
	if !ok {
		r.metrics.CommandSent(string(name), "offline")
		return false
	}

	now := time.Now().UTC()
	r.pending.Add(PendingCommand{
		RequestID: requestID,
		DeviceID:  deviceID,
		Command:   name,
		IssuedAt:  now,
		Deadline:  now.Add(r.timeout),
	})

	msg := types.Message{
		Event: types.MsgAdminCommand,
		Data:  types.NewAdminCommand(name, payload, requestID),
	}
	if err := conn.Send(msg); err != nil {
		r.pending.Remove(requestID)
		r.metrics.CommandSent(string(name), "failed")
		r.log.Warn().Err(err).Str("device_id", deviceID).Str("command", string(name)).Msg("send admin_command")
		return false
	}

	r.metrics.CommandSent(string(name), "delivered")
	r.log.Debug().Str("device_id", deviceID).Str("command", string(name)).Str("request_id", requestID).Msg("command relayed")
	return true
}

// Lease starts the acknowledgment clock for a command a polling agent has
// just fetched, so its completion can be confirmed like a socket reply.
func (r *CommandRelay) Lease(requestID, deviceID string, name types.CommandName, issuedAt time.Time) {
	now := time.Now().UTC()
	r.pending.Add(PendingCommand{
		RequestID: requestID,
		DeviceID:  deviceID,
		Command:   name,
		IssuedAt:  issuedAt,
		Deadline:  now.Add(r.timeout),
	})
	r.metrics.CommandSent(string(name), "polled")
}

func (r *CommandRelay) Ping(deviceID string) (string, bool) {
	return r.SendToDevice(deviceID, types.CommandPing, nil)
}

// SendToType relays one command to every connected device of typ and
// returns the request id per device that accepted it.
func (r *CommandRelay) SendToType(typ types.DeviceType, name types.CommandName, payload any) map[string]string {
	sent := make(map[string]string)
	for _, id := range r.devices.IDsOfType(typ) {
		if reqID, ok := r.SendToDevice(id, name, payload); ok {
			sent[id] = reqID
		}
	}
	return sent
}

// BroadcastToType returns how many devices of typ the command reached.
func (r *CommandRelay) BroadcastToType(typ types.DeviceType, name types.CommandName, payload any) int {
	return len(r.SendToType(typ, name, payload))
}

func (r *CommandRelay) IsConnected(deviceID string) bool {
	return r.devices.IsConnected(deviceID)
}

// Confirm settles the command a confirmation answers: by request id when the
// device echoes it, otherwise the oldest pending command matching the action.
// data.success == false settles it as failed.
func (r *CommandRelay) Confirm(c types.Confirmation) (Resolution, bool) {
	status := types.CommandExecuted
	if len(c.Data) > 0 {
		var outcome struct {
			Success *bool `json:"success"`
		}
		if err := json.Unmarshal(c.Data, &outcome); err == nil && outcome.Success != nil && !*outcome.Success {
			status = types.CommandFailed
		}
	}

	now := time.Now().UTC()
	var (
		res Resolution
		ok  bool
	)
	if c.RequestID != "" {
		res, ok = r.pending.Resolve(c.DeviceID, c.RequestID, status, c.Data, now)
	} else if cmd, known := confirmationActions[c.Action]; known {
		res, ok = r.pending.ResolveOldest(c.DeviceID, cmd, status, c.Data, now)
	}
	if !ok {
		return Resolution{}, false
	}

	r.dispatch(res)
	return res, true
}

// ExpirePending fails every command past its deadline and returns how many.
func (r *CommandRelay) ExpirePending(now time.Time) int {
	expired := r.pending.Expire(now)
	for _, res := range expired {
		r.log.Warn().Str("device_id", res.DeviceID).Str("request_id", res.RequestID).
			Str("command", string(res.Command)).Msg("command not acknowledged in time")
		r.dispatch(res)
	}
	return len(expired)
}

// Await blocks until requestID settles.
func (r *CommandRelay) Await(ctx context.Context, requestID string) (Resolution, error) {
	return r.pending.Wait(ctx, requestID)
}

func (r *CommandRelay) PendingCount() int {
	return r.pending.Len()
}

func (r *CommandRelay) dispatch(res Resolution) {
	r.metrics.CommandResolved(string(res.Status))

	r.hmu.RLock()
	h := r.handler
	r.hmu.RUnlock()
	if h != nil {
		h.HandleResolution(res)
	}
}
