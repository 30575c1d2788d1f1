package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BrandonDHaskell/beacon/internal/beacon/service"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

var routeStart = time.Date(2020, 3, 1, 12, 0, 0, 0, time.UTC)

// seedTrack stores a tracker with points one minute apart, moving north
// along the prime meridian.
func seedTrack(t *testing.T, h *harness, lats []float64, speeds []*float64) {
	t.Helper()
	ctx := context.Background()
	if err := h.store.UpsertDevice(ctx, types.DeviceRecord{
		DeviceID:  "t1",
		Type:      types.DeviceGPSTracker,
		Settings:  types.DefaultSettings(),
		CreatedAt: routeStart,
		UpdatedAt: routeStart,
	}); err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}
	for i, lat := range lats {
		loc := types.Location{Latitude: lat}
		if i < len(speeds) {
			loc.Speed = speeds[i]
		}
		if err := h.store.AppendLocation(ctx, types.LocationRecord{
			DeviceID:   "t1",
			Location:   loc,
			RecordedAt: routeStart.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("AppendLocation: %v", err)
		}
	}
}

// ── Route ─────────────────────────────────────────────────────────────────

func TestDeviceService_Route_WindowOldestFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedTrack(t, h, []float64{0, 0.01, 0.02, 0.03}, nil)

	locs, err := h.query.Route(ctx, "t1", service.TimeRange{
		From: routeStart.Add(time.Minute),
		To:   routeStart.Add(2 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if len(locs) != 2 || locs[0].Location.Latitude != 0.01 || locs[1].Location.Latitude != 0.02 {
		t.Fatalf("expected the two inner points oldest first, got %+v", locs)
	}

	// Only To set: the default window reaches back a day.
	locs, err = h.query.Route(ctx, "t1", service.TimeRange{To: routeStart.Add(time.Hour)})
	if err != nil || len(locs) != 4 {
		t.Fatalf("expected all points in the default window, got %d %v", len(locs), err)
	}

	// Default range ends now, long after the seeded track.
	locs, err = h.query.Route(ctx, "t1", service.TimeRange{})
	if err != nil || len(locs) != 0 {
		t.Fatalf("expected no recent points, got %d %v", len(locs), err)
	}
}

func TestDeviceService_Route_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedTrack(t, h, []float64{0}, nil)

	_, err := h.query.Route(ctx, "t1", service.TimeRange{From: routeStart, To: routeStart.Add(-time.Second)})
	if !errors.Is(err, service.ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
	if _, err := h.query.Route(ctx, "ghost", service.TimeRange{}); !errors.Is(err, service.ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

// ── Current location ──────────────────────────────────────────────────────

func TestDeviceService_CurrentLocation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedTrack(t, h, nil, nil)

	if _, err := h.query.CurrentLocation(ctx, "t1"); !errors.Is(err, service.ErrNoLocation) {
		t.Fatalf("expected ErrNoLocation, got %v", err)
	}

	if err := h.store.AppendLocation(ctx, types.LocationRecord{
		DeviceID:   "t1",
		Location:   types.Location{Latitude: 51.5, Longitude: -0.12},
		RecordedAt: routeStart,
	}); err != nil {
		t.Fatalf("AppendLocation: %v", err)
	}
	loc, err := h.query.CurrentLocation(ctx, "t1")
	if err != nil {
		t.Fatalf("CurrentLocation: %v", err)
	}
	if loc.Location.Latitude != 51.5 || !loc.RecordedAt.Equal(routeStart) {
		t.Errorf("unexpected current location %+v", loc)
	}

	if _, err := h.query.CurrentLocation(ctx, "ghost"); !errors.Is(err, service.ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

// ── Stats ─────────────────────────────────────────────────────────────────

func TestDeviceService_LocationStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedTrack(t, h, []float64{0, 0.01, 0.02}, []*float64{ptr(2.0), nil, ptr(10.0)})

	st, err := h.query.LocationStats(ctx, "t1", service.TimeRange{To: routeStart.Add(time.Hour)})
	if err != nil {
		t.Fatalf("LocationStats: %v", err)
	}
	if st.TotalPoints != 3 {
		t.Fatalf("expected 3 points, got %d", st.TotalPoints)
	}
	if st.AverageSpeed == nil || *st.AverageSpeed != 6 {
		t.Errorf("average should skip points without speed, got %v", st.AverageSpeed)
	}
	if st.MaxSpeed == nil || *st.MaxSpeed != 10 {
		t.Errorf("unexpected max speed %v", st.MaxSpeed)
	}
	// 0.02 degrees of latitude is about 2224 m.
	if st.DistanceMeters < 2200 || st.DistanceMeters > 2250 {
		t.Errorf("unexpected distance %.1f", st.DistanceMeters)
	}
	if st.First == nil || st.Last == nil || st.First.Location.Latitude != 0 || st.Last.Location.Latitude != 0.02 {
		t.Errorf("unexpected endpoints %+v %+v", st.First, st.Last)
	}
}

func TestDeviceService_LocationStats_Empty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedTrack(t, h, []float64{0}, []*float64{ptr(3.0)})

	st, err := h.query.LocationStats(ctx, "t1", service.TimeRange{})
	if err != nil {
		t.Fatalf("LocationStats: %v", err)
	}
	if st.TotalPoints != 0 || st.AverageSpeed != nil || st.First != nil || st.DistanceMeters != 0 {
		t.Errorf("expected empty stats, got %+v", st)
	}
	if got := st.To.Sub(st.From); got != 7*24*time.Hour {
		t.Errorf("default stats window should be a week, got %v", got)
	}
}
