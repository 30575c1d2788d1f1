package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/beacon/internal/beacon/service"
	"github.com/BrandonDHaskell/beacon/internal/beacon/store/memory"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

var errSendFailed = errors.New("send failed")

// fakeConn records every frame sent to it.
type fakeConn struct {
	id string

	mu       sync.Mutex
	sent     []types.Message
	closed   int
	failSend bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msg types.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errSendFailed
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) frames() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Message(nil), c.sent...)
}

func (c *fakeConn) events(name string) []types.Message {
	var out []types.Message
	for _, m := range c.frames() {
		if m.Event == name {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}

// harness wires the whole service layer over a memory store.
type harness struct {
	store      *memory.Store
	clients    *service.ClientRegistry
	devices    *service.DeviceRegistry
	relay      *service.CommandRelay
	heartbeats *service.HeartbeatService
	sessions   *service.SessionService
	commands   *service.CommandService
	telemetry  *service.TelemetryService
	query      *service.DeviceService
	liveness   *service.LivenessMonitor
	agents     *service.AgentService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	log := zerolog.Nop()
	st := memory.New()
	clients := service.NewClientRegistry(log, nil)
	devices := service.NewDeviceRegistry(clients, log, nil)
	relay := service.NewCommandRelay(devices, 10*time.Second, log, nil)
	heartbeats := service.NewHeartbeatService(devices, st, log)

	return &harness{
		store:      st,
		clients:    clients,
		devices:    devices,
		relay:      relay,
		heartbeats: heartbeats,
		sessions:   service.NewSessionService(devices, clients, relay, heartbeats, st, log),
		commands:   service.NewCommandService(st, relay, clients, log),
		telemetry:  service.NewTelemetryService(st, clients, log),
		query:      service.NewDeviceService(st),
		liveness:   service.NewLivenessMonitor(devices, st, clients, time.Minute, 0, log, nil),
		agents:     service.NewAgentService(st, relay, log),
	}
}

// addClient registers a dashboard and discards its initial device_list.
func (h *harness) addClient(id string) *fakeConn {
	c := newFakeConn(id)
	h.clients.Register("", c, h.devices)
	c.reset()
	return c
}

func ptr[T any](v T) *T { return &v }

// connectDevice registers id over a device session, which also persists it
// with default settings, and discards the registration ack.
func (h *harness) connectDevice(t *testing.T, id string, typ types.DeviceType) (*fakeConn, *service.DeviceSession) {
	t.Helper()
	conn := newFakeConn("conn-" + id)
	sess := h.sessions.Open(conn, "")
	data, err := json.Marshal(types.DeviceRegistration{DeviceID: id, Type: string(typ)})
	if err != nil {
		t.Fatalf("marshal registration: %v", err)
	}
	if err := sess.Handle(context.Background(), types.Envelope{Event: types.MsgDeviceRegistration, Data: data}); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	conn.reset()
	return conn, sess
}

func envelope(t *testing.T, event string, v any) types.Envelope {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	return types.Envelope{Event: event, Data: data}
}
