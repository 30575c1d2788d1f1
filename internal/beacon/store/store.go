package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

var ErrNotFound = errors.New("not found")

// DeviceFilter narrows ListDevices. Zero values match everything.
type DeviceFilter struct {
	Type   types.DeviceType
	Online *bool
}

func (f DeviceFilter) Match(rec types.DeviceRecord) bool {
	if f.Type != "" && rec.Type != f.Type {
		return false
	}
	if f.Online != nil && rec.Status.Online != *f.Online {
		return false
	}
	return true
}

type DeviceStore interface {
	// ListDevices returns matching devices, most recently seen first.
	ListDevices(ctx context.Context, f DeviceFilter) ([]types.DeviceRecord, error)
	GetDevice(ctx context.Context, deviceID string) (types.DeviceRecord, error)
	UpsertDevice(ctx context.Context, rec types.DeviceRecord) error
	MarkSeen(ctx context.Context, deviceID string, online bool, t time.Time) error
	UpdateSettings(ctx context.Context, deviceID string, s types.DeviceSettings) error
}

type CommandStore interface {
	AppendCommand(ctx context.Context, rec types.CommandRecord) error
	UpdateCommandStatus(ctx context.Context, requestID string, status types.CommandStatus, t time.Time, response json.RawMessage) error
	// ListCommands returns the newest commands first. limit <= 0 means all.
	ListCommands(ctx context.Context, deviceID string, limit int) ([]types.CommandRecord, error)
}

type AlertStore interface {
	AppendAlert(ctx context.Context, rec types.AlertRecord) error
	// ListAlerts returns the newest alerts first; acknowledged nil means any.
	ListAlerts(ctx context.Context, deviceID string, acknowledged *bool) ([]types.AlertRecord, error)
	AcknowledgeAlert(ctx context.Context, deviceID, alertID string) error
	// RecentAlerts returns the newest unacknowledged alerts across devices.
	RecentAlerts(ctx context.Context, limit int) ([]types.AlertRecord, error)
}

type LocationStore interface {
	AppendLocation(ctx context.Context, rec types.LocationRecord) error
	ListLocations(ctx context.Context, deviceID string, limit int) ([]types.LocationRecord, error)
	// LocationsBetween returns the points recorded in [from, to], oldest first.
	LocationsBetween(ctx context.Context, deviceID string, from, to time.Time) ([]types.LocationRecord, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store is the single persistence contract every backing implements.
type Store interface {
	DeviceStore
	CommandStore
	AlertStore
	LocationStore
	Close() error
}
