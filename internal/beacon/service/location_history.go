package service

import (
	"context"
	"errors"
	"time"

	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

const (
	defaultRouteWindow = 24 * time.Hour
	defaultStatsWindow = 7 * 24 * time.Hour
)

var (
	ErrInvalidRange = errors.New("from must not be after to")
	ErrNoLocation   = errors.New("device has not reported a location")
)

// TimeRange bounds a history query. A zero To means now; a zero From means
// one default window before To.
type TimeRange struct {
	From time.Time
	To   time.Time
}

func (r TimeRange) resolve(window time.Duration) (TimeRange, error) {
	if r.To.IsZero() {
		r.To = time.Now().UTC()
	}
	if r.From.IsZero() {
		r.From = r.To.Add(-window)
	}
	if r.From.After(r.To) {
		return TimeRange{}, ErrInvalidRange
	}
	return r, nil
}

// LocationStats summarises the points a device reported in a window.
type LocationStats struct {
	DeviceID       string                `json:"deviceId"`
	From           time.Time             `json:"from"`
	To             time.Time             `json:"to"`
	TotalPoints    int                   `json:"totalPoints"`
	AverageSpeed   *float64              `json:"averageSpeed,omitempty"`
	MaxSpeed       *float64              `json:"maxSpeed,omitempty"`
	DistanceMeters float64               `json:"distanceMeters"`
	First          *types.LocationRecord `json:"firstLocation,omitempty"`
	Last           *types.LocationRecord `json:"lastLocation,omitempty"`
}

// Route returns the points recorded in r, oldest first.
func (s *DeviceService) Route(ctx context.Context, deviceID string, r TimeRange) ([]types.LocationRecord, error) {
	if _, err := s.Get(ctx, deviceID); err != nil {
		return nil, err
	}
	r, err := r.resolve(defaultRouteWindow)
	if err != nil {
		return nil, err
	}
	return s.store.LocationsBetween(ctx, deviceID, r.From, r.To)
}

// CurrentLocation is the newest recorded point.
func (s *DeviceService) CurrentLocation(ctx context.Context, deviceID string) (types.LocationRecord, error) {
	if _, err := s.Get(ctx, deviceID); err != nil {
		return types.LocationRecord{}, err
	}
	locs, err := s.store.ListLocations(ctx, deviceID, 1)
	if err != nil {
		return types.LocationRecord{}, err
	}
	if len(locs) == 0 {
		return types.LocationRecord{}, ErrNoLocation
	}
	return locs[0], nil
}

// LocationStats aggregates speed and travelled distance over r. Distance is
// the haversine sum between consecutive points.
func (s *DeviceService) LocationStats(ctx context.Context, deviceID string, r TimeRange) (LocationStats, error) {
	if _, err := s.Get(ctx, deviceID); err != nil {
		return LocationStats{}, err
	}
	r, err := r.resolve(defaultStatsWindow)
	if err != nil {
		return LocationStats{}, err
	}
	locs, err := s.store.LocationsBetween(ctx, deviceID, r.From, r.To)
	if err != nil {
		return LocationStats{}, err
	}
	return summarizeRoute(deviceID, r, locs), nil
}

func summarizeRoute(deviceID string, r TimeRange, locs []types.LocationRecord) LocationStats {
	st := LocationStats{DeviceID: deviceID, From: r.From, To: r.To, TotalPoints: len(locs)}
	if len(locs) == 0 {
		return st
	}
	first, last := locs[0], locs[len(locs)-1]
	st.First, st.Last = &first, &last

	var (
		speedSum float64
		speedN   int
		maxSpeed float64
	)
	for i, l := range locs {
		if sp := l.Location.Speed; sp != nil {
			speedSum += *sp
			speedN++
			if *sp > maxSpeed {
				maxSpeed = *sp
			}
		}
		if i > 0 {
			prev := locs[i-1].Location
			st.DistanceMeters += haversine(prev.Latitude, prev.Longitude, l.Location.Latitude, l.Location.Longitude)
		}
	}
	if speedN > 0 {
		avg := speedSum / float64(speedN)
		st.AverageSpeed = &avg
		st.MaxSpeed = &maxSpeed
	}
	return st
}
