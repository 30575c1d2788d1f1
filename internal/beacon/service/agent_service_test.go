package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BrandonDHaskell/beacon/internal/beacon/service"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

// ── Register ──────────────────────────────────────────────────────────────

func TestAgentService_Register_CreatesThenRefreshes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reg := types.DeviceRegistration{DeviceID: " a1 ", Type: string(types.DeviceDesktop), Name: "lab"}
	rec, created, err := h.agents.Register(ctx, reg)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !created || rec.DeviceID != "a1" || !rec.Polling {
		t.Fatalf("unexpected first registration %+v created=%v", rec, created)
	}
	if rec.Settings != types.DefaultSettings() {
		t.Errorf("expected default settings, got %+v", rec.Settings)
	}

	settings := rec.Settings
	settings.AllowMessages = false
	if _, err := h.query.UpdateSettings(ctx, "a1", settings); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	rec, created, err = h.agents.Register(ctx, types.DeviceRegistration{DeviceID: "a1", Type: string(types.DeviceDesktop)})
	if err != nil {
		t.Fatalf("Register again: %v", err)
	}
	if created {
		t.Error("second registration should not report created")
	}
	if rec.Settings.AllowMessages {
		t.Error("re-registration must keep stored settings")
	}
	if rec.Name != "lab" {
		t.Errorf("empty name should keep the stored one, got %q", rec.Name)
	}
}

func TestAgentService_Register_Invalid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, _, err := h.agents.Register(ctx, types.DeviceRegistration{Type: string(types.DeviceDesktop)}); !errors.Is(err, service.ErrInvalidDeviceID) {
		t.Errorf("expected ErrInvalidDeviceID, got %v", err)
	}
	if _, _, err := h.agents.Register(ctx, types.DeviceRegistration{DeviceID: "a1", Type: "toaster"}); !errors.Is(err, types.ErrInvalidDeviceType) {
		t.Errorf("expected ErrInvalidDeviceType, got %v", err)
	}
}

// ── Fetch and complete ────────────────────────────────────────────────────

func TestAgentService_QueueFetchComplete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	client := h.addClient("dash")

	if _, _, err := h.agents.Register(ctx, types.DeviceRegistration{DeviceID: "a1", Type: string(types.DeviceDesktop)}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	first, err := h.commands.Ping(ctx, "a1")
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if first.Status != types.CommandQueued {
		t.Fatalf("expected queued, got %s", first.Status)
	}
	second, err := h.commands.Issue(ctx, "a1", types.Command{Name: types.CommandGetStatus, Params: &types.NoParams{}})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	cmds, err := h.agents.Fetch(ctx, "a1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(cmds) != 2 || cmds[0].RequestID != first.RequestID || cmds[1].RequestID != second.RequestID {
		t.Fatalf("expected both commands oldest first, got %+v", cmds)
	}
	for _, c := range cmds {
		if c.Status != types.CommandDelivered {
			t.Errorf("fetched command %s should be delivered, got %s", c.RequestID, c.Status)
		}
	}

	again, err := h.agents.Fetch(ctx, "a1")
	if err != nil || again == nil || len(again) != 0 {
		t.Fatalf("second fetch should be empty and non-nil, got %+v %v", again, err)
	}

	res, err := h.agents.Complete(first.RequestID, service.CompletionReport{Result: json.RawMessage(`{"pong":true}`)})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.Status != types.CommandExecuted {
		t.Errorf("expected executed, got %s", res.Status)
	}

	res, err = h.agents.Complete(second.RequestID, service.CompletionReport{Error: "disk full"})
	if err != nil {
		t.Fatalf("Complete with error: %v", err)
	}
	if res.Status != types.CommandFailed {
		t.Errorf("expected failed, got %s", res.Status)
	}

	hist, _ := h.commands.History(ctx, "a1", 0)
	status := map[string]types.CommandStatus{}
	for _, c := range hist {
		status[c.RequestID] = c.Status
	}
	if status[first.RequestID] != types.CommandExecuted || status[second.RequestID] != types.CommandFailed {
		t.Errorf("unexpected persisted statuses %+v", status)
	}

	if evs := client.events(types.EventCommandStatus); len(evs) != 2 {
		t.Errorf("expected two command_status events, got %d", len(evs))
	}

	if _, err := h.agents.Complete(first.RequestID, service.CompletionReport{}); !errors.Is(err, service.ErrUnknownRequest) {
		t.Errorf("completing twice should be unknown, got %v", err)
	}
}

func TestAgentService_FetchedCommandExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, _, err := h.agents.Register(ctx, types.DeviceRegistration{DeviceID: "a1", Type: string(types.DeviceDesktop)}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	rec, err := h.commands.Ping(ctx, "a1")
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}

	// Queued commands hold no lease until fetched.
	if n := h.relay.ExpirePending(time.Now().Add(time.Hour)); n != 0 {
		t.Fatalf("queued command should not expire, got %d", n)
	}

	if _, err := h.agents.Fetch(ctx, "a1"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if n := h.relay.ExpirePending(time.Now().Add(11 * time.Second)); n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}

	hist, _ := h.commands.History(ctx, "a1", 0)
	if len(hist) != 1 || hist[0].RequestID != rec.RequestID || hist[0].Status != types.CommandFailed {
		t.Fatalf("expected failed command, got %+v", hist)
	}
	if _, err := h.agents.Complete(rec.RequestID, service.CompletionReport{}); !errors.Is(err, service.ErrUnknownRequest) {
		t.Errorf("late completion should be unknown, got %v", err)
	}
}

func TestAgentService_Fetch_UnknownDevice(t *testing.T) {
	h := newHarness(t)

	if _, err := h.agents.Fetch(context.Background(), "ghost"); !errors.Is(err, service.ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
	if _, err := h.agents.Fetch(context.Background(), " "); !errors.Is(err, service.ErrInvalidDeviceID) {
		t.Errorf("expected ErrInvalidDeviceID, got %v", err)
	}
}

func TestAgentService_SocketRegistrationClearsPolling(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, _, err := h.agents.Register(ctx, types.DeviceRegistration{DeviceID: "a1", Type: string(types.DeviceDesktop)}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, sess := h.connectDevice(t, "a1", types.DeviceDesktop)

	rec, err := h.query.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Polling {
		t.Fatal("socket registration should clear the polling flag")
	}

	sess.Close(ctx)
	if _, err := h.commands.Ping(ctx, "a1"); !errors.Is(err, service.ErrDeviceOffline) {
		t.Errorf("expected ErrDeviceOffline once the socket is gone, got %v", err)
	}
}
