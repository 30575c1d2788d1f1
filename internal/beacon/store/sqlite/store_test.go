package sqlite_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BrandonDHaskell/beacon/internal/beacon/store"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

func ptr[T any](v T) *T { return &v }

// ═══════════════════════════════════════════════════════════════════════════
// Devices
// ═══════════════════════════════════════════════════════════════════════════

func TestStore_UpsertDevice_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	seen := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := types.DeviceRecord{
		DeviceID: "gps_001",
		Type:     types.DeviceGPSTracker,
		Name:     "Van 1",
		Location: &types.Location{Latitude: 40.7128, Longitude: -74.006, Accuracy: ptr(5.0)},
		Status:   types.DeviceStatus{Battery: ptr(85.0), Online: true, LastSeen: seen},
		Settings: types.DefaultSettings(),
	}
	if err := s.UpsertDevice(ctx, rec); err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}

	got, err := s.GetDevice(ctx, "gps_001")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if got.Type != types.DeviceGPSTracker || got.Name != "Van 1" {
		t.Errorf("unexpected device: %+v", got)
	}
	if got.Location == nil || got.Location.Latitude != 40.7128 {
		t.Errorf("expected location to round-trip, got %+v", got.Location)
	}
	if got.Status.Battery == nil || *got.Status.Battery != 85 {
		t.Errorf("expected battery 85, got %v", got.Status.Battery)
	}
	if !got.Status.LastSeen.Equal(seen) {
		t.Errorf("expected lastSeen %v, got %v", seen, got.Status.LastSeen)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected createdAt to be set")
	}
}

func TestStore_UpsertDevice_PreservesCreatedAt(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.UpsertDevice(ctx, types.DeviceRecord{DeviceID: "d1", Type: types.DeviceDesktop, CreatedAt: created}); err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}
	if err := s.UpsertDevice(ctx, types.DeviceRecord{DeviceID: "d1", Type: types.DeviceMobile, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("UpsertDevice (replace): %v", err)
	}

	got, err := s.GetDevice(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("expected createdAt %v, got %v", created, got.CreatedAt)
	}
	if got.Type != types.DeviceMobile {
		t.Errorf("expected type mobile after replace, got %s", got.Type)
	}
}

func TestStore_GetDevice_NotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.GetDevice(context.Background(), "ghost")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ListDevices_FilterAndOrder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	seed := []types.DeviceRecord{
		{DeviceID: "a", Type: types.DeviceDesktop, Status: types.DeviceStatus{Online: true, LastSeen: base}},
		{DeviceID: "b", Type: types.DeviceGPSTracker, Status: types.DeviceStatus{Online: true, LastSeen: base.Add(2 * time.Minute)}},
		{DeviceID: "c", Type: types.DeviceGPSTracker, Status: types.DeviceStatus{Online: false, LastSeen: base.Add(time.Minute)}},
	}
	for _, rec := range seed {
		if err := s.UpsertDevice(ctx, rec); err != nil {
			t.Fatalf("UpsertDevice(%s): %v", rec.DeviceID, err)
		}
	}

	all, err := s.ListDevices(ctx, store.DeviceFilter{})
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(all) != 3 || all[0].DeviceID != "b" || all[1].DeviceID != "c" || all[2].DeviceID != "a" {
		t.Fatalf("expected order b,c,a got %+v", ids(all))
	}

	trackers, err := s.ListDevices(ctx, store.DeviceFilter{Type: types.DeviceGPSTracker, Online: ptr(true)})
	if err != nil {
		t.Fatalf("ListDevices filtered: %v", err)
	}
	if len(trackers) != 1 || trackers[0].DeviceID != "b" {
		t.Fatalf("expected only b, got %v", ids(trackers))
	}
}

func TestStore_MarkSeen(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := s.UpsertDevice(ctx, types.DeviceRecord{DeviceID: "d1", Type: types.DeviceDesktop}); err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}
	if err := s.MarkSeen(ctx, "d1", true, first); err != nil {
		t.Fatalf("MarkSeen online: %v", err)
	}
	if err := s.MarkSeen(ctx, "d1", false, first.Add(time.Hour)); err != nil {
		t.Fatalf("MarkSeen offline: %v", err)
	}

	got, err := s.GetDevice(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if got.Status.Online {
		t.Error("expected device to be offline")
	}
	if !got.Status.LastSeen.Equal(first) {
		t.Errorf("going offline must not move lastSeen; got %v", got.Status.LastSeen)
	}

	offline, err := s.ListDevices(ctx, store.DeviceFilter{Online: ptr(false)})
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(offline) != 1 {
		t.Errorf("expected online column to follow the document, got %d offline", len(offline))
	}

	if err := s.MarkSeen(ctx, "ghost", true, first); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown device, got %v", err)
	}
}

func TestStore_UpdateSettings(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertDevice(ctx, types.DeviceRecord{DeviceID: "d1", Type: types.DeviceMobile, Settings: types.DefaultSettings()}); err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}
	settings := types.DefaultSettings()
	settings.AllowScreenLock = true
	settings.GeofenceEnabled = true
	settings.GeofenceCenter = &types.GeoPoint{Latitude: 51.5, Longitude: -0.12}
	if err := s.UpdateSettings(ctx, "d1", settings); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	got, err := s.GetDevice(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if !got.Settings.AllowScreenLock || got.Settings.GeofenceCenter == nil {
		t.Errorf("settings not persisted: %+v", got.Settings)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Commands
// ═══════════════════════════════════════════════════════════════════════════

func TestStore_Commands_AppendAndResolve(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	issued := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"r1", "r2"} {
		err := s.AppendCommand(ctx, types.CommandRecord{
			RequestID: id,
			DeviceID:  "d1",
			Command:   types.CommandShowMessage,
			Payload:   json.RawMessage(`{"title":"hi","message":"there"}`),
			IssuedAt:  issued.Add(time.Duration(i) * time.Second),
			Status:    types.CommandPending,
		})
		if err != nil {
			t.Fatalf("AppendCommand(%s): %v", id, err)
		}
	}

	resolvedAt := issued.Add(5 * time.Second)
	if err := s.UpdateCommandStatus(ctx, "r1", types.CommandExecuted, resolvedAt, json.RawMessage(`{"success":true}`)); err != nil {
		t.Fatalf("UpdateCommandStatus: %v", err)
	}

	cmds, err := s.ListCommands(ctx, "d1", 0)
	if err != nil {
		t.Fatalf("ListCommands: %v", err)
	}
	if len(cmds) != 2 || cmds[0].RequestID != "r2" {
		t.Fatalf("expected newest first, got %+v", cmds)
	}
	r1 := cmds[1]
	if r1.Status != types.CommandExecuted {
		t.Errorf("expected executed, got %s", r1.Status)
	}
	if r1.ResolvedAt == nil || !r1.ResolvedAt.Equal(resolvedAt) {
		t.Errorf("expected resolvedAt %v, got %v", resolvedAt, r1.ResolvedAt)
	}
	if string(r1.Response) != `{"success":true}` {
		t.Errorf("unexpected response %s", r1.Response)
	}

	limited, err := s.ListCommands(ctx, "d1", 1)
	if err != nil {
		t.Fatalf("ListCommands limit: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected 1 command with limit, got %d", len(limited))
	}
}

func TestStore_UpdateCommandStatus_Unknown(t *testing.T) {
	s, _ := newTestStore(t)

	err := s.UpdateCommandStatus(context.Background(), "nope", types.CommandFailed, time.Now(), nil)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Alerts
// ═══════════════════════════════════════════════════════════════════════════

func TestStore_Alerts(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	alerts := []types.AlertRecord{
		{ID: "a1", DeviceID: "d1", Kind: types.AlertBattery, Message: "Low battery: 15%", Severity: types.SeverityMedium, CreatedAt: base},
		{ID: "a2", DeviceID: "d1", Kind: types.AlertLocation, Message: "left geofence", Severity: types.SeverityHigh, CreatedAt: base.Add(time.Minute)},
		{ID: "a3", DeviceID: "d2", Kind: types.AlertOffline, Message: "offline", Severity: types.SeverityLow, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, a := range alerts {
		if err := s.AppendAlert(ctx, a); err != nil {
			t.Fatalf("AppendAlert(%s): %v", a.ID, err)
		}
	}

	if err := s.AcknowledgeAlert(ctx, "d1", "a1"); err != nil {
		t.Fatalf("AcknowledgeAlert: %v", err)
	}
	if err := s.AcknowledgeAlert(ctx, "d2", "a1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("acknowledging another device's alert: expected ErrNotFound, got %v", err)
	}

	d1, err := s.ListAlerts(ctx, "d1", nil)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(d1) != 2 || d1[0].ID != "a2" {
		t.Fatalf("expected a2,a1 got %+v", d1)
	}

	open, err := s.ListAlerts(ctx, "d1", ptr(false))
	if err != nil {
		t.Fatalf("ListAlerts open: %v", err)
	}
	if len(open) != 1 || open[0].ID != "a2" {
		t.Errorf("expected only a2 open, got %+v", open)
	}

	recent, err := s.RecentAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "a3" || recent[1].ID != "a2" {
		t.Errorf("expected a3,a2 got %+v", recent)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Locations
// ═══════════════════════════════════════════════════════════════════════════

func TestStore_Locations_ListAndPrune(t *testing.T) {
	s, conn := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		err := s.AppendLocation(ctx, types.LocationRecord{
			DeviceID:   "gps_001",
			Location:   types.Location{Latitude: 40 + float64(i), Longitude: -74},
			RecordedAt: base.Add(time.Duration(i) * 24 * time.Hour),
		})
		if err != nil {
			t.Fatalf("AppendLocation %d: %v", i, err)
		}
	}

	locs, err := s.ListLocations(ctx, "gps_001", 2)
	if err != nil {
		t.Fatalf("ListLocations: %v", err)
	}
	if len(locs) != 2 || locs[0].Location.Latitude != 42 {
		t.Fatalf("expected newest two, got %+v", locs)
	}

	deleted, err := s.PruneOlderThan(ctx, base.Add(36*time.Hour))
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 rows pruned, got %d", deleted)
	}

	var count int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM device_locations`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 remaining row, got %d", count)
	}
}

func TestStore_LocationsBetween_InclusiveOldestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		err := s.AppendLocation(ctx, types.LocationRecord{
			DeviceID:   "gps_001",
			Location:   types.Location{Latitude: 40 + float64(i), Longitude: -74},
			RecordedAt: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("AppendLocation %d: %v", i, err)
		}
	}
	_ = s.AppendLocation(ctx, types.LocationRecord{DeviceID: "other", RecordedAt: base.Add(time.Hour)})

	locs, err := s.LocationsBetween(ctx, "gps_001", base.Add(time.Hour), base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("LocationsBetween: %v", err)
	}
	if len(locs) != 2 || locs[0].Location.Latitude != 41 || locs[1].Location.Latitude != 42 {
		t.Fatalf("expected points 41 then 42, got %+v", locs)
	}
}

func TestStore_AppendLocation_CreatesPlaceholderDevice(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	err := s.AppendLocation(ctx, types.LocationRecord{
		DeviceID: "new_dev",
		Location: types.Location{Latitude: 1, Longitude: 2},
	})
	if err != nil {
		t.Fatalf("AppendLocation: %v", err)
	}

	got, err := s.GetDevice(ctx, "new_dev")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if got.Status.Online {
		t.Error("placeholder device must start offline")
	}
	if got.Settings != types.DefaultSettings() {
		t.Errorf("placeholder device should carry default settings, got %+v", got.Settings)
	}
}

func ids(recs []types.DeviceRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.DeviceID
	}
	return out
}
