package service

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
	"github.com/BrandonDHaskell/beacon/internal/metrics"
)

type clientEntry struct {
	conn        Conn
	userID      string
	connectedAt time.Time
}

// ClientRegistry is the set of dashboard observers. It is the EventSink the
// rest of the service layer publishes through.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*clientEntry

	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewClientRegistry(log zerolog.Logger, m *metrics.Metrics) *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*clientEntry),
		log:     log.With().Str("component", "client_registry").Logger(),
		metrics: m,
	}
}

// Register adds conn and pushes the current device_list snapshot to it
// alone. An event broadcast between the add and the snapshot can reach the
// client before its device_list.
func (c *ClientRegistry) Register(userID string, conn Conn, devices DeviceLister) {
	now := time.Now().UTC()

	c.mu.Lock()
	c.clients[conn.ID()] = &clientEntry{
		conn:        conn,
		userID:      strings.TrimSpace(userID),
		connectedAt: now,
	}
	n := len(c.clients)
	c.mu.Unlock()

	c.metrics.SetClientsConnected(n)
	c.log.Info().Str("conn_id", conn.ID()).Str("user_id", userID).Msg("client registered")

	snapshot := devices.List()
	if err := conn.Send(types.NewEvent(types.EventDeviceList, snapshot, now)); err != nil {
		c.log.Warn().Err(err).Str("conn_id", conn.ID()).Msg("send device_list")
	}
}

// UnregisterByHandle removes conn. Unknown handles are ignored.
func (c *ClientRegistry) UnregisterByHandle(conn Conn) bool {
	c.mu.Lock()
	_, ok := c.clients[conn.ID()]
	delete(c.clients, conn.ID())
	n := len(c.clients)
	c.mu.Unlock()

	if ok {
		c.metrics.SetClientsConnected(n)
		c.log.Info().Str("conn_id", conn.ID()).Msg("client disconnected")
	}
	return ok
}

// Broadcast delivers event to every client and returns how many sends
// succeeded. A failing client is logged and skipped.
func (c *ClientRegistry) Broadcast(event string, payload any) int {
	msg := types.NewEvent(event, payload, time.Now())

	c.mu.RLock()
	targets := make([]Conn, 0, len(c.clients))
	for _, e := range c.clients {
		targets = append(targets, e.conn)
	}
	c.mu.RUnlock()

	delivered, failed := 0, 0
	for _, conn := range targets {
		if err := conn.Send(msg); err != nil {
			failed++
			c.log.Warn().Err(err).Str("conn_id", conn.ID()).Str("event", event).Msg("broadcast to client failed")
			continue
		}
		delivered++
	}
	c.metrics.Broadcast(event, failed)
	return delivered
}

func (c *ClientRegistry) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients)
}
