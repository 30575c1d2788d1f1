package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BrandonDHaskell/beacon/internal/beacon/store"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
	recentAlertLimit = 10
)

var ErrInvalidSettings = errors.New("invalid device settings")

type DeviceQueryStore interface {
	store.DeviceStore
	store.AlertStore
	store.LocationStore
}

// DeviceQuery selects one page of devices.
type DeviceQuery struct {
	Type   types.DeviceType
	Online *bool
	Page   int
	Limit  int
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type DevicePage struct {
	Devices    []types.DeviceRecord `json:"devices"`
	Pagination Pagination           `json:"pagination"`
}

type DeviceStats struct {
	TotalDevices   int                      `json:"totalDevices"`
	OnlineDevices  int                      `json:"onlineDevices"`
	DevicesByType  map[types.DeviceType]int `json:"devicesByType"`
	AverageBattery float64                  `json:"avgBattery"`
}

type StatsReport struct {
	Stats        DeviceStats         `json:"stats"`
	RecentAlerts []types.AlertRecord `json:"recentAlerts"`
}

// DeviceService answers the read side of the control API and applies
// settings changes.
type DeviceService struct {
	store DeviceQueryStore
}

func NewDeviceService(st DeviceQueryStore) *DeviceService {
	return &DeviceService{store: st}
}

// List returns one page of devices, most recently seen first.
func (s *DeviceService) List(ctx context.Context, q DeviceQuery) (DevicePage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = defaultPageLimit
	}
	if q.Limit > maxPageLimit {
		q.Limit = maxPageLimit
	}

	all, err := s.store.ListDevices(ctx, store.DeviceFilter{Type: q.Type, Online: q.Online})
	if err != nil {
		return DevicePage{}, err
	}

	total := len(all)
	start := total
	if q.Page-1 <= total/q.Limit {
		start = (q.Page - 1) * q.Limit
	}
	if start > total {
		start = total
	}
	end := start + q.Limit
	if end > total {
		end = total
	}

	return DevicePage{
		Devices: append([]types.DeviceRecord{}, all[start:end]...),
		Pagination: Pagination{
			Page:  q.Page,
			Limit: q.Limit,
			Total: total,
			Pages: (total + q.Limit - 1) / q.Limit,
		},
	}, nil
}

func (s *DeviceService) Get(ctx context.Context, deviceID string) (types.DeviceRecord, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return types.DeviceRecord{}, ErrInvalidDeviceID
	}
	rec, err := s.store.GetDevice(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return types.DeviceRecord{}, ErrDeviceNotFound
	}
	return rec, err
}

// Stats aggregates fleet totals and the newest unacknowledged alerts.
func (s *DeviceService) Stats(ctx context.Context) (StatsReport, error) {
	all, err := s.store.ListDevices(ctx, store.DeviceFilter{})
	if err != nil {
		return StatsReport{}, err
	}

	stats := DeviceStats{
		TotalDevices:  len(all),
		DevicesByType: make(map[types.DeviceType]int, len(types.DeviceTypes)),
	}
	for _, t := range types.DeviceTypes {
		stats.DevicesByType[t] = 0
	}

	var batterySum float64
	var batteryN int
	for _, d := range all {
		if d.Status.Online {
			stats.OnlineDevices++
		}
		stats.DevicesByType[d.Type]++
		if d.Status.Battery != nil {
			batterySum += *d.Status.Battery
			batteryN++
		}
	}
	if batteryN > 0 {
		stats.AverageBattery = batterySum / float64(batteryN)
	}

	recent, err := s.store.RecentAlerts(ctx, recentAlertLimit)
	if err != nil {
		return StatsReport{}, err
	}
	if recent == nil {
		recent = []types.AlertRecord{}
	}
	return StatsReport{Stats: stats, RecentAlerts: recent}, nil
}

// Alerts lists a device's alerts, newest first.
func (s *DeviceService) Alerts(ctx context.Context, deviceID string, acknowledged *bool) ([]types.AlertRecord, error) {
	if _, err := s.Get(ctx, deviceID); err != nil {
		return nil, err
	}
	return s.store.ListAlerts(ctx, deviceID, acknowledged)
}

func (s *DeviceService) AcknowledgeAlert(ctx context.Context, deviceID, alertID string) error {
	if _, err := s.Get(ctx, deviceID); err != nil {
		return err
	}
	return s.store.AcknowledgeAlert(ctx, deviceID, alertID)
}

// UpdateSettings replaces the device settings after validation.
func (s *DeviceService) UpdateSettings(ctx context.Context, deviceID string, settings types.DeviceSettings) (types.DeviceRecord, error) {
	if err := Validator().Struct(settings); err != nil {
		return types.DeviceRecord{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if settings.GeofenceEnabled && settings.GeofenceCenter == nil {
		return types.DeviceRecord{}, fmt.Errorf("%w: geofenceCenter is required when geofencing is enabled", ErrInvalidSettings)
	}
	if _, err := s.Get(ctx, deviceID); err != nil {
		return types.DeviceRecord{}, err
	}
	if err := s.store.UpdateSettings(ctx, deviceID, settings); err != nil {
		return types.DeviceRecord{}, err
	}
	return s.Get(ctx, deviceID)
}

func (s *DeviceService) Locations(ctx context.Context, deviceID string, limit int) ([]types.LocationRecord, error) {
	if _, err := s.Get(ctx, deviceID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListLocations(ctx, deviceID, limit)
}
