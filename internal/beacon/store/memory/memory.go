package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/BrandonDHaskell/beacon/internal/beacon/store"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

// Store keeps everything in process memory. It is intended for tests and dev
// environments, and is the base of the file-backed store.
type Store struct {
	mu        sync.RWMutex
	devices   map[string]types.DeviceRecord
	commands  []types.CommandRecord
	cmdIndex  map[string]int
	alerts    []types.AlertRecord
	locations []types.LocationRecord
}

// Snapshot is a point-in-time copy of the whole store.
type Snapshot struct {
	Devices   []types.DeviceRecord   `json:"devices"`
	Commands  []types.CommandRecord  `json:"commands"`
	Alerts    []types.AlertRecord    `json:"alerts"`
	Locations []types.LocationRecord `json:"locations"`
}

func New() *Store {
	return &Store{
		devices:  make(map[string]types.DeviceRecord),
		cmdIndex: make(map[string]int),
	}
}

func (s *Store) Close() error { return nil }

// ── Devices ──────────────────────────────────────────────────────────────────

func (s *Store) ListDevices(_ context.Context, f store.DeviceFilter) ([]types.DeviceRecord, error) {
	s.mu.RLock()
	out := make([]types.DeviceRecord, 0, len(s.devices))
	for _, d := range s.devices {
		if f.Match(d) {
			out = append(out, d)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Status.LastSeen.Equal(out[j].Status.LastSeen) {
			return out[i].Status.LastSeen.After(out[j].Status.LastSeen)
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out, nil
}

func (s *Store) GetDevice(_ context.Context, deviceID string) (types.DeviceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return types.DeviceRecord{}, store.ErrNotFound
	}
	return d, nil
}

func (s *Store) UpsertDevice(_ context.Context, rec types.DeviceRecord) error {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.devices[rec.DeviceID]; ok {
		rec.CreatedAt = prev.CreatedAt
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	s.devices[rec.DeviceID] = rec
	return nil
}

func (s *Store) MarkSeen(_ context.Context, deviceID string, online bool, t time.Time) error {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return store.ErrNotFound
	}
	d.Status.Online = online
	if online || d.Status.LastSeen.IsZero() {
		d.Status.LastSeen = t
	}
	d.UpdatedAt = t
	s.devices[deviceID] = d
	return nil
}

func (s *Store) UpdateSettings(_ context.Context, deviceID string, settings types.DeviceSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return store.ErrNotFound
	}
	d.Settings = settings
	d.UpdatedAt = time.Now().UTC()
	s.devices[deviceID] = d
	return nil
}

// ── Commands ─────────────────────────────────────────────────────────────────

func (s *Store) AppendCommand(_ context.Context, rec types.CommandRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmdIndex[rec.RequestID] = len(s.commands)
	s.commands = append(s.commands, rec)
	return nil
}

func (s *Store) UpdateCommandStatus(_ context.Context, requestID string, status types.CommandStatus, t time.Time, response json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.cmdIndex[requestID]
	if !ok {
		return store.ErrNotFound
	}
	c := &s.commands[i]
	c.Status = status
	if status.Terminal() {
		at := t.UTC()
		c.ResolvedAt = &at
	}
	if len(response) > 0 {
		c.Response = append(json.RawMessage(nil), response...)
	}
	return nil
}

func (s *Store) ListCommands(_ context.Context, deviceID string, limit int) ([]types.CommandRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.CommandRecord
	for i := len(s.commands) - 1; i >= 0; i-- {
		if s.commands[i].DeviceID != deviceID {
			continue
		}
		out = append(out, s.commands[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ── Alerts ───────────────────────────────────────────────────────────────────

func (s *Store) AppendAlert(_ context.Context, rec types.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, rec)
	return nil
}

func (s *Store) ListAlerts(_ context.Context, deviceID string, acknowledged *bool) ([]types.AlertRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.AlertRecord
	for i := len(s.alerts) - 1; i >= 0; i-- {
		a := s.alerts[i]
		if a.DeviceID != deviceID {
			continue
		}
		if acknowledged != nil && a.Acknowledged != *acknowledged {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) AcknowledgeAlert(_ context.Context, deviceID, alertID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.alerts {
		if s.alerts[i].ID == alertID && s.alerts[i].DeviceID == deviceID {
			s.alerts[i].Acknowledged = true
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) RecentAlerts(_ context.Context, limit int) ([]types.AlertRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.AlertRecord
	for i := len(s.alerts) - 1; i >= 0; i-- {
		if s.alerts[i].Acknowledged {
			continue
		}
		out = append(out, s.alerts[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ── Locations ────────────────────────────────────────────────────────────────

func (s *Store) AppendLocation(_ context.Context, rec types.LocationRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations = append(s.locations, rec)
	return nil
}

func (s *Store) ListLocations(_ context.Context, deviceID string, limit int) ([]types.LocationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.LocationRecord
	for i := len(s.locations) - 1; i >= 0; i-- {
		if s.locations[i].DeviceID != deviceID {
			continue
		}
		out = append(out, s.locations[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) LocationsBetween(_ context.Context, deviceID string, from, to time.Time) ([]types.LocationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.LocationRecord
	for _, l := range s.locations {
		if l.DeviceID != deviceID || l.RecordedAt.Before(from) || l.RecordedAt.After(to) {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

func (s *Store) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.locations[:0]
	var deleted int64
	for _, l := range s.locations {
		if l.RecordedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, l)
	}
	s.locations = kept
	return deleted, nil
}

// ── Snapshots ────────────────────────────────────────────────────────────────

// Snapshot returns a deep-enough copy for serialisation.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Devices:   make([]types.DeviceRecord, 0, len(s.devices)),
		Commands:  append([]types.CommandRecord(nil), s.commands...),
		Alerts:    append([]types.AlertRecord(nil), s.alerts...),
		Locations: append([]types.LocationRecord(nil), s.locations...),
	}
	for _, d := range s.devices {
		snap.Devices = append(snap.Devices, d)
	}
	sort.Slice(snap.Devices, func(i, j int) bool {
		return snap.Devices[i].DeviceID < snap.Devices[j].DeviceID
	})
	return snap
}

// Restore replaces the store contents with snap.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.devices = make(map[string]types.DeviceRecord, len(snap.Devices))
	for _, d := range snap.Devices {
		s.devices[d.DeviceID] = d
	}
	s.commands = append([]types.CommandRecord(nil), snap.Commands...)
	s.cmdIndex = make(map[string]int, len(s.commands))
	for i, c := range s.commands {
		s.cmdIndex[c.RequestID] = i
	}
	s.alerts = append([]types.AlertRecord(nil), snap.Alerts...)
	s.locations = append([]types.LocationRecord(nil), snap.Locations...)
}

var _ store.Store = (*Store)(nil)
