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

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrBadPayload   = errors.New("malformed event payload")
)

// SessionService turns device frames into registry, relay and store
// operations.
type SessionService struct {
	devices    *DeviceRegistry
	events     EventSink
	relay      *CommandRelay
	heartbeats *HeartbeatService
	store      store.DeviceStore
	log        zerolog.Logger
}

func NewSessionService(devices *DeviceRegistry, events EventSink, relay *CommandRelay, heartbeats *HeartbeatService, st store.DeviceStore, log zerolog.Logger) *SessionService {
	return &SessionService{
		devices:    devices,
		events:     events,
		relay:      relay,
		heartbeats: heartbeats,
		store:      st,
		log:        log.With().Str("component", "sessions").Logger(),
	}
}

// DeviceSession is the server side of one device connection. boundID comes
// from the URL and fills in frames that omit deviceId.
type DeviceSession struct {
	svc     *SessionService
	conn    Conn
	boundID string
}

func (s *SessionService) Open(conn Conn, boundID string) *DeviceSession {
	return &DeviceSession{svc: s, conn: conn, boundID: strings.TrimSpace(boundID)}
}

func (d *DeviceSession) deviceID(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return d.boundID
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}

// Handle processes one inbound frame. A returned error is reported to the
// device; the session stays open.
func (d *DeviceSession) Handle(ctx context.Context, env types.Envelope) error {
	switch env.Event {
	case types.MsgDeviceRegistration:
		var reg types.DeviceRegistration
		if err := decode(env.Data, &reg); err != nil {
			return err
		}
		reg.DeviceID = d.deviceID(reg.DeviceID)
		return d.register(ctx, reg)

	case types.MsgHeartbeat:
		var hb types.HeartbeatRequest
		if err := decode(env.Data, &hb); err != nil {
			return err
		}
		hb.DeviceID = d.deviceID(hb.DeviceID)
		ack, err := d.svc.heartbeats.Record(ctx, d.conn, hb)
		if err != nil {
			return err
		}
		return d.conn.Send(types.Message{Event: types.MsgHeartbeatAck, Data: ack})

	case types.MsgConfirmation:
		var c types.Confirmation
		if err := decode(env.Data, &c); err != nil {
			return err
		}
		c.DeviceID = d.deviceID(c.DeviceID)
		if c.DeviceID == "" {
			return ErrInvalidDeviceID
		}
		if _, ok := d.svc.relay.Confirm(c); !ok {
			d.svc.log.Debug().Str("device_id", c.DeviceID).Str("action", c.Action).Msg("confirmation matched no pending command")
		}
		d.svc.events.Broadcast(types.EventDeviceConfirmation, c)
		return nil

	case types.MsgStatusResponse:
		var sr types.StatusResponse
		if err := decode(env.Data, &sr); err != nil {
			return err
		}
		sr.DeviceID = d.deviceID(sr.DeviceID)
		if sr.DeviceID == "" {
			return ErrInvalidDeviceID
		}
		d.svc.relay.Confirm(types.Confirmation{
			DeviceID:  sr.DeviceID,
			Action:    "status_response",
			RequestID: sr.RequestID,
			Data:      env.Data,
		})
		d.svc.events.Broadcast(types.EventDeviceStatusResponse, sr)
		return nil

	case types.MsgPong:
		var p types.Pong
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		p.DeviceID = d.deviceID(p.DeviceID)
		if p.DeviceID == "" {
			return ErrInvalidDeviceID
		}
		d.svc.relay.Confirm(types.Confirmation{DeviceID: p.DeviceID, Action: "pong", RequestID: p.RequestID})
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func (d *DeviceSession) register(ctx context.Context, reg types.DeviceRegistration) error {
	typ, err := types.ParseDeviceType(reg.Type)
	if err != nil {
		return err
	}
	summary, err := d.svc.devices.Register(reg.DeviceID, typ, d.conn)
	if err != nil {
		return err
	}
	if err := d.svc.persistRegistration(ctx, reg, typ, summary.ConnectedAt); err != nil {
		d.svc.log.Error().Err(err).Str("device_id", reg.DeviceID).Msg("persist registration")
	}

	return d.conn.Send(types.Message{
		Event: types.MsgRegistrationConfirmed,
		Data: types.RegistrationAck{
			DeviceID:   summary.DeviceID,
			ServerTime: time.Now().UTC().Format(time.RFC3339Nano),
		},
	})
}

// Close unregisters the connection and marks its device offline.
func (d *DeviceSession) Close(ctx context.Context) {
	id, ok := d.svc.devices.UnregisterByHandle(d.conn)
	if !ok {
		return
	}
	if err := d.svc.store.MarkSeen(ctx, id, false, time.Now().UTC()); err != nil && !errors.Is(err, store.ErrNotFound) {
		d.svc.log.Warn().Err(err).Str("device_id", id).Msg("mark device offline")
	}
}

func (s *SessionService) persistRegistration(ctx context.Context, reg types.DeviceRegistration, typ types.DeviceType, at time.Time) error {
	rec, err := s.store.GetDevice(ctx, reg.DeviceID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rec = types.DeviceRecord{
			DeviceID:  reg.DeviceID,
			Settings:  types.DefaultSettings(),
			CreatedAt: at,
		}
	case err != nil:
		return err
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
	rec.Polling = false
	rec.Status.Online = true
	rec.Status.LastSeen = at
	rec.UpdatedAt = at
	return s.store.UpsertDevice(ctx, rec)
}
