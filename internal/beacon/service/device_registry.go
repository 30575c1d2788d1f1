package service

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
	"github.com/BrandonDHaskell/beacon/internal/metrics"
)

type deviceEntry struct {
	conn        Conn
	typ         types.DeviceType
	connectedAt time.Time
	lastSeen    time.Time
}

func (e *deviceEntry) summary(id string) types.DeviceSummary {
	return types.DeviceSummary{
		DeviceID:    id,
		Type:        e.typ,
		ConnectedAt: e.connectedAt,
		LastSeen:    e.lastSeen,
	}
}

// DeviceRegistry tracks which devices hold a live connection. At most one
// connection is registered per device id; the handle index makes
// unregistering by connection O(1).
//
// Handles are never sent to or closed while mu is held.
type DeviceRegistry struct {
	mu      sync.Mutex
	devices map[string]*deviceEntry
	byConn  map[string]string

	events  EventSink
	log     zerolog.Logger
	metrics *metrics.Metrics
	started time.Time
}

func NewDeviceRegistry(events EventSink, log zerolog.Logger, m *metrics.Metrics) *DeviceRegistry {
	return &DeviceRegistry{
		devices: make(map[string]*deviceEntry),
		byConn:  make(map[string]string),
		events:  events,
		log:     log.With().Str("component", "device_registry").Logger(),
		metrics: m,
		started: time.Now().UTC(),
	}
}

// Register binds deviceID to conn. A different connection already holding
// deviceID is replaced and closed. If conn was registered under another id,
// that entry is dropped and announced as disconnected.
func (r *DeviceRegistry) Register(deviceID string, typ types.DeviceType, conn Conn) (types.DeviceSummary, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return types.DeviceSummary{}, ErrInvalidDeviceID
	}
	if typ == "" {
		typ = types.DeviceDesktop
	}
	now := time.Now().UTC()

	var (
		replaced Conn
		orphan   *types.DeviceConnectionEvent
	)

	r.mu.Lock()
	if prevID, ok := r.byConn[conn.ID()]; ok && prevID != deviceID {
		if e, ok := r.devices[prevID]; ok && e.conn.ID() == conn.ID() {
			delete(r.devices, prevID)
			orphan = &types.DeviceConnectionEvent{
				DeviceID:    prevID,
				Type:        e.typ,
				ConnectedAt: e.connectedAt,
				Reason:      "reregistered",
			}
		}
	}

	entry := &deviceEntry{conn: conn, typ: typ, connectedAt: now, lastSeen: now}
	if old, ok := r.devices[deviceID]; ok {
		if old.conn.ID() == conn.ID() {
			entry.connectedAt = old.connectedAt
		} else {
			replaced = old.conn
			delete(r.byConn, old.conn.ID())
		}
	}
	r.devices[deviceID] = entry
	r.byConn[conn.ID()] = deviceID
	summary := entry.summary(deviceID)
	n := len(r.devices)
	r.mu.Unlock()

	if replaced != nil {
		if err := replaced.Close(); err != nil {
			r.log.Debug().Err(err).Str("device_id", deviceID).Msg("close replaced connection")
		}
		r.log.Info().Str("device_id", deviceID).Msg("device reconnected; previous connection closed")
	}
	r.metrics.SetDevicesConnected(n)

	if orphan != nil {
		r.events.Broadcast(types.EventDeviceDisconnected, *orphan)
	}
	r.events.Broadcast(types.EventDeviceConnected, types.DeviceConnectionEvent{
		DeviceID:    deviceID,
		Type:        typ,
		ConnectedAt: summary.ConnectedAt,
	})

	r.log.Info().Str("device_id", deviceID).Str("type", string(typ)).Msg("device registered")
	return summary, nil
}

// UnregisterByHandle removes whatever device conn owns. It reports the
// removed device id; a second call for the same handle is a no-op.
func (r *DeviceRegistry) UnregisterByHandle(conn Conn) (string, bool) {
	r.mu.Lock()
	id, ok := r.byConn[conn.ID()]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	delete(r.byConn, conn.ID())
	e, ok := r.devices[id]
	if !ok || e.conn.ID() != conn.ID() {
		r.mu.Unlock()
		return "", false
	}
	delete(r.devices, id)
	n := len(r.devices)
	r.mu.Unlock()

	r.metrics.SetDevicesConnected(n)
	r.events.Broadcast(types.EventDeviceDisconnected, types.DeviceConnectionEvent{
		DeviceID:    id,
		Type:        e.typ,
		ConnectedAt: e.connectedAt,
		Reason:      "connection_closed",
	})
	r.log.Info().Str("device_id", id).Msg("device disconnected")
	return id, true
}

// Evict removes deviceID and closes its connection. Dashboards see the same
// device_disconnected event as for a transport close.
func (r *DeviceRegistry) Evict(deviceID, reason string) bool {
	r.mu.Lock()
	e, ok := r.devices[deviceID]
	if ok {
		r.removeLocked(deviceID, e)
	}
	n := len(r.devices)
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.afterEvict(deviceID, e, reason, n)
	return true
}

// EvictStale evicts every device whose last heartbeat is before cutoff.
// Selection and removal happen under one lock so a heartbeat that lands in
// between keeps the device registered.
func (r *DeviceRegistry) EvictStale(cutoff time.Time, reason string) []types.DeviceSummary {
	type victim struct {
		id string
		e  *deviceEntry
	}
	var victims []victim

	r.mu.Lock()
	for id, e := range r.devices {
		if e.lastSeen.Before(cutoff) {
			victims = append(victims, victim{id, e})
		}
	}
	for _, v := range victims {
		r.removeLocked(v.id, v.e)
	}
	n := len(r.devices)
	r.mu.Unlock()

	out := make([]types.DeviceSummary, 0, len(victims))
	for _, v := range victims {
		r.afterEvict(v.id, v.e, reason, n)
		out = append(out, v.e.summary(v.id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func (r *DeviceRegistry) removeLocked(id string, e *deviceEntry) {
	delete(r.devices, id)
	if r.byConn[e.conn.ID()] == id {
		delete(r.byConn, e.conn.ID())
	}
}

func (r *DeviceRegistry) afterEvict(id string, e *deviceEntry, reason string, remaining int) {
	if err := e.conn.Close(); err != nil {
		r.log.Debug().Err(err).Str("device_id", id).Msg("close evicted connection")
	}
	r.metrics.SetDevicesConnected(remaining)
	r.events.Broadcast(types.EventDeviceDisconnected, types.DeviceConnectionEvent{
		DeviceID:    id,
		Type:        e.typ,
		ConnectedAt: e.connectedAt,
		Reason:      reason,
	})
	r.log.Warn().Str("device_id", id).Str("reason", reason).Msg("device evicted")
}

func (r *DeviceRegistry) IsConnected(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.devices[deviceID]
	return ok
}

// Lookup copies out the handle for deviceID so callers send without the lock.
func (r *DeviceRegistry) Lookup(deviceID string) (Conn, types.DeviceType, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.devices[deviceID]
	if !ok {
		return nil, "", false
	}
	return e.conn, e.typ, true
}

// Touch records a heartbeat. It only counts when conn owns the entry.
func (r *DeviceRegistry) Touch(deviceID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.devices[deviceID]
	if !ok || e.conn.ID() != conn.ID() {
		return false
	}
	e.lastSeen = time.Now().UTC()
	return true
}

// List returns connected devices ordered by connection time, then id.
func (r *DeviceRegistry) List() []types.DeviceSummary {
	r.mu.Lock()
	out := make([]types.DeviceSummary, 0, len(r.devices))
	for id, e := range r.devices {
		out = append(out, e.summary(id))
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out
}

// IDsOfType returns the connected device ids of one type, sorted.
func (r *DeviceRegistry) IDsOfType(typ types.DeviceType) []string {
	r.mu.Lock()
	var ids []string
	for id, e := range r.devices {
		if e.typ == typ {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Stale returns ids whose last heartbeat is before cutoff.
func (r *DeviceRegistry) Stale(cutoff time.Time) []string {
	r.mu.Lock()
	var ids []string
	for id, e := range r.devices {
		if e.lastSeen.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (r *DeviceRegistry) Stats() types.ConnectionStats {
	byType := make(map[types.DeviceType]int, len(types.DeviceTypes))
	for _, t := range types.DeviceTypes {
		byType[t] = 0
	}

	r.mu.Lock()
	total := len(r.devices)
	for _, e := range r.devices {
		byType[e.typ]++
	}
	r.mu.Unlock()

	return types.ConnectionStats{
		TotalDevices:  total,
		TotalClients:  r.events.Count(),
		DevicesByType: byType,
		UptimeSeconds: time.Since(r.started).Seconds(),
	}
}
