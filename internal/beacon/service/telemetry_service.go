package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/beacon/internal/beacon/store"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

var ErrInvalidLocation = errors.New("invalid location update")

// Battery thresholds, in percent.
const (
	lowBatteryPercent      = 20
	criticalBatteryPercent = 10
)

type TelemetryStore interface {
	store.DeviceStore
	store.AlertStore
	store.LocationStore
}

// TelemetryService ingests location reports, keeps the device document
// current and raises battery and geofence alerts.
type TelemetryService struct {
	store  TelemetryStore
	events EventSink
	log    zerolog.Logger
}

func NewTelemetryService(st TelemetryStore, events EventSink, log zerolog.Logger) *TelemetryService {
	return &TelemetryService{
		store:  st,
		events: events,
		log:    log.With().Str("component", "telemetry").Logger(),
	}
}

// UpdateLocation upserts the device, appends the location to its history,
// evaluates alert rules and broadcasts device_update.
func (s *TelemetryService) UpdateLocation(ctx context.Context, upd types.LocationUpdate) (types.DeviceRecord, error) {
	upd.DeviceID = strings.TrimSpace(upd.DeviceID)
	if err := Validator().Struct(upd); err != nil {
		return types.DeviceRecord{}, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}

	now := time.Now().UTC()
	rec, err := s.store.GetDevice(ctx, upd.DeviceID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rec = types.DeviceRecord{
			DeviceID:  upd.DeviceID,
			Type:      types.DeviceDesktop,
			Settings:  types.DefaultSettings(),
			CreatedAt: now,
		}
	case err != nil:
		return types.DeviceRecord{}, err
	}

	if upd.Type != "" {
		typ, err := types.ParseDeviceType(upd.Type)
		if err != nil {
			return types.DeviceRecord{}, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
		}
		rec.Type = typ
	}
	if upd.Name != "" {
		rec.Name = upd.Name
	}
	if upd.DeviceInfo != nil {
		rec.DeviceInfo = *upd.DeviceInfo
		if upd.DeviceInfo.Platform != "" {
			rec.Platform = upd.DeviceInfo.Platform
		}
	}
	loc := *upd.Location
	rec.Location = &loc
	if upd.Status != nil {
		rec.Status = *upd.Status
	}
	rec.Status.Online = true
	rec.Status.LastSeen = now
	rec.UpdatedAt = now

	if err := s.store.UpsertDevice(ctx, rec); err != nil {
		return types.DeviceRecord{}, err
	}
	if err := s.store.AppendLocation(ctx, types.LocationRecord{DeviceID: rec.DeviceID, Location: loc, RecordedAt: now}); err != nil {
		return types.DeviceRecord{}, err
	}

	for _, a := range evaluateAlerts(rec) {
		_, _ = raiseAlert(ctx, s.store, s.events, s.log, rec.DeviceID, a.kind, a.severity, a.message)
	}

	s.events.Broadcast(types.EventDeviceUpdate, types.DeviceUpdateEvent{
		DeviceID: rec.DeviceID,
		Location: loc,
		Status:   rec.Status,
		Type:     rec.Type,
	})
	return rec, nil
}

type pendingAlert struct {
	kind     types.AlertKind
	severity types.Severity
	message  string
}

func evaluateAlerts(rec types.DeviceRecord) []pendingAlert {
	var out []pendingAlert

	if b := rec.Status.Battery; b != nil && *b < lowBatteryPercent {
		sev := types.SeverityMedium
		if *b < criticalBatteryPercent {
			sev = types.SeverityHigh
		}
		out = append(out, pendingAlert{
			kind:     types.AlertBattery,
			severity: sev,
			message:  fmt.Sprintf("Low battery: %g%%", *b),
		})
	}

	set := rec.Settings
	if set.GeofenceEnabled && set.GeofenceCenter != nil && rec.Location != nil {
		d := haversine(rec.Location.Latitude, rec.Location.Longitude, set.GeofenceCenter.Latitude, set.GeofenceCenter.Longitude)
		if d > set.GeofenceRadius {
			out = append(out, pendingAlert{
				kind:     types.AlertLocation,
				severity: types.SeverityHigh,
				message:  fmt.Sprintf("Device outside geofence (%dm away)", int(math.Round(d))),
			})
		}
	}
	return out
}
