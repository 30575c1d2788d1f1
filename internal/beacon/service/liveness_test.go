package service_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/beacon/internal/beacon/service"
	"github.com/BrandonDHaskell/beacon/internal/beacon/store/memory"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

// ── LivenessMonitor ──────────────────────────────────────────────────────────

func TestLiveness_DefaultTimeout(t *testing.T) {
	h := newHarness(t)
	if h.liveness.Timeout() != 2*time.Minute {
		t.Errorf("expected twice the heartbeat interval, got %s", h.liveness.Timeout())
	}
}

func TestLiveness_Sweep_EvictsSilentDevices(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	client := h.addClient("dash")
	quiet, _ := h.connectDevice(t, "quiet", types.DeviceGPSTracker)
	chatty, _ := h.connectDevice(t, "chatty", types.DeviceDesktop)
	client.reset()

	if ids := h.liveness.Sweep(ctx, time.Now().Add(time.Minute)); len(ids) != 0 {
		t.Fatalf("nothing is stale yet, got %v", ids)
	}

	later := time.Now().Add(3 * time.Minute)
	ids := h.liveness.Sweep(ctx, later)
	if len(ids) != 2 || ids[0] != "chatty" || ids[1] != "quiet" {
		t.Fatalf("expected both devices evicted at +3m, got %v", ids)
	}
	if quiet.closeCount() != 1 || chatty.closeCount() != 1 {
		t.Error("evicted connections should be closed")
	}

	discs := client.events(types.EventDeviceDisconnected)
	if len(discs) != 2 || discs[0].Data.(types.DeviceConnectionEvent).Reason != "heartbeat_timeout" {
		t.Errorf("unexpected device_disconnected events %+v", discs)
	}

	rec, _ := h.store.GetDevice(ctx, "quiet")
	if rec.Status.Online {
		t.Error("evicted device should be persisted offline")
	}
	alerts, _ := h.store.ListAlerts(ctx, "quiet", nil)
	if len(alerts) != 1 || alerts[0].Kind != types.AlertOffline || !strings.HasPrefix(alerts[0].Message, "Device offline") {
		t.Errorf("expected an offline alert, got %+v", alerts)
	}

	if ids := h.liveness.Sweep(ctx, later); len(ids) != 0 {
		t.Errorf("second sweep should be a no-op, got %v", ids)
	}
}

// ── Sweeper ──────────────────────────────────────────────────────────────────

func TestSweeper_RunsUntilStopped(t *testing.T) {
	var calls atomic.Int32
	s := service.NewSweeper("test_sweeper", 5*time.Millisecond, func(context.Context, time.Time) {
		calls.Add(1)
	}, zerolog.Nop())

	s.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if calls.Load() < 3 {
		t.Fatalf("expected at least 3 passes, got %d", calls.Load())
	}
	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != after {
		t.Error("sweeper kept running after Stop")
	}
}

func TestSweeper_StopBeforeStart(t *testing.T) {
	s := service.NewSweeper("idle", time.Second, func(context.Context, time.Time) {}, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop before Start blocked")
	}
}

// ── LocationPruner ───────────────────────────────────────────────────────────

func TestLocationPruner_PrunesOnStart(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	_ = st.AppendLocation(ctx, types.LocationRecord{DeviceID: "d1", RecordedAt: now.Add(-10 * 24 * time.Hour)})
	_ = st.AppendLocation(ctx, types.LocationRecord{DeviceID: "d1", RecordedAt: now.Add(-time.Hour)})

	p := service.NewLocationPruner(st, service.PrunerConfig{RetentionDays: 7}, zerolog.Nop(), nil)
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.Stop()

	locs, _ := st.ListLocations(ctx, "d1", 0)
	if len(locs) != 1 {
		t.Errorf("expected one location left, got %d", len(locs))
	}
}

func TestLocationPruner_Disabled(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	_ = st.AppendLocation(ctx, types.LocationRecord{DeviceID: "d1", RecordedAt: time.Now().Add(-1000 * 24 * time.Hour)})

	p := service.NewLocationPruner(st, service.PrunerConfig{}, zerolog.Nop(), nil)
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.Stop()

	locs, _ := st.ListLocations(ctx, "d1", 0)
	if len(locs) != 1 {
		t.Error("retention 0 must keep everything")
	}
}

func TestLocationPruner_BadSchedule(t *testing.T) {
	p := service.NewLocationPruner(memory.New(), service.PrunerConfig{RetentionDays: 1, Schedule: "not a schedule"}, zerolog.Nop(), nil)
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("expected an error for an invalid schedule")
	}
}
