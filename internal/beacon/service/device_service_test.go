package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/BrandonDHaskell/beacon/internal/beacon/service"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

func seedDevices(t *testing.T, h *harness, n int) {
	t.Helper()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		typ := types.DeviceDesktop
		if i%2 == 1 {
			typ = types.DeviceGPSTracker
		}
		rec := types.DeviceRecord{
			DeviceID:  fmt.Sprintf("dev-%02d", i),
			Type:      typ,
			Settings:  types.DefaultSettings(),
			Status:    types.DeviceStatus{Online: i%3 == 0, LastSeen: base.Add(time.Duration(i) * time.Minute), Battery: ptr(float64(10 * i))},
			CreatedAt: base,
			UpdatedAt: base,
		}
		if err := h.store.UpsertDevice(context.Background(), rec); err != nil {
			t.Fatalf("seed %s: %v", rec.DeviceID, err)
		}
	}
}

func TestDeviceService_List_Pagination(t *testing.T) {
	h := newHarness(t)
	seedDevices(t, h, 7)
	ctx := context.Background()

	page, err := h.query.List(ctx, service.DeviceQuery{Page: 2, Limit: 3})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Pagination != (service.Pagination{Page: 2, Limit: 3, Total: 7, Pages: 3}) {
		t.Errorf("unexpected pagination %+v", page.Pagination)
	}
	if len(page.Devices) != 3 || page.Devices[0].DeviceID != "dev-03" {
		t.Errorf("expected most recently seen first, got %+v", page.Devices)
	}

	page, _ = h.query.List(ctx, service.DeviceQuery{Page: 9, Limit: 3})
	if len(page.Devices) != 0 {
		t.Errorf("page past the end should be empty, got %d", len(page.Devices))
	}

	page, _ = h.query.List(ctx, service.DeviceQuery{Limit: 10000})
	if page.Pagination.Limit != 500 || page.Pagination.Page != 1 {
		t.Errorf("limit should clamp to 500 and page default to 1, got %+v", page.Pagination)
	}
}

func TestDeviceService_List_HugePageIsEmpty(t *testing.T) {
	h := newHarness(t)
	seedDevices(t, h, 1)

	page, err := h.query.List(context.Background(), service.DeviceQuery{Page: 1 << 62, Limit: 500})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Devices) != 0 {
		t.Errorf("expected empty page, got %d devices", len(page.Devices))
	}
	if page.Pagination.Total != 1 || page.Pagination.Page != 1<<62 {
		t.Errorf("unexpected pagination %+v", page.Pagination)
	}
}

func TestDeviceService_List_Filters(t *testing.T) {
	h := newHarness(t)
	seedDevices(t, h, 7)
	ctx := context.Background()

	page, _ := h.query.List(ctx, service.DeviceQuery{Type: types.DeviceGPSTracker})
	if page.Pagination.Total != 3 {
		t.Errorf("expected 3 trackers, got %d", page.Pagination.Total)
	}

	page, _ = h.query.List(ctx, service.DeviceQuery{Online: ptr(true)})
	if page.Pagination.Total != 3 {
		t.Errorf("expected 3 online (0,3,6), got %d", page.Pagination.Total)
	}
}

func TestDeviceService_Stats(t *testing.T) {
	h := newHarness(t)
	seedDevices(t, h, 4)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		_ = h.store.AppendAlert(ctx, types.AlertRecord{
			ID:        fmt.Sprintf("a-%02d", i),
			DeviceID:  "dev-00",
			Kind:      types.AlertAdmin,
			Severity:  types.SeverityLow,
			Message:   "m",
			CreatedAt: time.Date(2026, 1, 1, 0, i, 0, 0, time.UTC),
		})
	}

	rep, err := h.query.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	s := rep.Stats
	if s.TotalDevices != 4 || s.OnlineDevices != 2 {
		t.Errorf("unexpected totals %+v", s)
	}
	if s.DevicesByType[types.DeviceDesktop] != 2 || s.DevicesByType[types.DeviceGPSTracker] != 2 || s.DevicesByType[types.DeviceMobile] != 0 {
		t.Errorf("unexpected by-type %+v", s.DevicesByType)
	}
	if s.AverageBattery != 15 {
		t.Errorf("expected average battery 15, got %v", s.AverageBattery)
	}
	if len(rep.RecentAlerts) != 10 || rep.RecentAlerts[0].ID != "a-11" {
		t.Errorf("expected the 10 newest alerts, got %d starting %+v", len(rep.RecentAlerts), rep.RecentAlerts)
	}
}

func TestDeviceService_Stats_Empty(t *testing.T) {
	h := newHarness(t)
	rep, err := h.query.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if rep.Stats.TotalDevices != 0 || rep.Stats.AverageBattery != 0 || rep.RecentAlerts == nil {
		t.Errorf("unexpected empty stats %+v", rep)
	}
}

func TestDeviceService_Get(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.query.Get(ctx, "missing"); !errors.Is(err, service.ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
	if _, err := h.query.Get(ctx, ""); !errors.Is(err, service.ErrInvalidDeviceID) {
		t.Errorf("expected ErrInvalidDeviceID, got %v", err)
	}
}

func TestDeviceService_UpdateSettings_Validation(t *testing.T) {
	h := newHarness(t)
	seedDevices(t, h, 1)
	ctx := context.Background()

	bad := types.DefaultSettings()
	bad.LocationUpdateInterval = 1
	if _, err := h.query.UpdateSettings(ctx, "dev-00", bad); !errors.Is(err, service.ErrInvalidSettings) {
		t.Errorf("interval below 5s should be rejected, got %v", err)
	}

	fence := types.DefaultSettings()
	fence.GeofenceEnabled = true
	if _, err := h.query.UpdateSettings(ctx, "dev-00", fence); !errors.Is(err, service.ErrInvalidSettings) {
		t.Errorf("geofence without center should be rejected, got %v", err)
	}

	if _, err := h.query.UpdateSettings(ctx, "ghost", types.DefaultSettings()); !errors.Is(err, service.ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestDeviceService_Alerts(t *testing.T) {
	h := newHarness(t)
	seedDevices(t, h, 1)
	ctx := context.Background()

	_ = h.store.AppendAlert(ctx, types.AlertRecord{ID: "a1", DeviceID: "dev-00", Kind: types.AlertBattery, Severity: types.SeverityMedium, CreatedAt: time.Now()})

	if err := h.query.AcknowledgeAlert(ctx, "dev-00", "a1"); err != nil {
		t.Fatalf("AcknowledgeAlert: %v", err)
	}
	open, _ := h.query.Alerts(ctx, "dev-00", ptr(false))
	acked, _ := h.query.Alerts(ctx, "dev-00", ptr(true))
	if len(open) != 0 || len(acked) != 1 {
		t.Errorf("expected the alert acknowledged, got open=%d acked=%d", len(open), len(acked))
	}

	if _, err := h.query.Alerts(ctx, "ghost", nil); !errors.Is(err, service.ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}
