package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BrandonDHaskell/beacon/internal/beacon/store"
	"github.com/BrandonDHaskell/beacon/internal/beacon/store/memory"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

// Store is the in-memory store persisted to a single JSON document after
// every mutation. Writes go to a temp file in the same directory and are
// renamed over the target, so a crash never leaves a half-written file.
type Store struct {
	*memory.Store

	path string
	wmu  sync.Mutex
}

// Open loads path if it exists, creating the parent directory otherwise.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "./data/devices.json"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir data dir: %w", err)
	}

	s := &Store{Store: memory.New(), path: path}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, s.persist()
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var snap memory.Snapshot
	if len(b) > 0 {
		if err := json.Unmarshal(b, &snap); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	s.Restore(snap)
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error { return s.persist() }

func (s *Store) persist() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	b, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".devices-*.json")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// after persists when the wrapped mutation succeeded.
func (s *Store) after(err error) error {
	if err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) UpsertDevice(ctx context.Context, rec types.DeviceRecord) error {
	return s.after(s.Store.UpsertDevice(ctx, rec))
}

func (s *Store) MarkSeen(ctx context.Context, deviceID string, online bool, t time.Time) error {
	return s.after(s.Store.MarkSeen(ctx, deviceID, online, t))
}

func (s *Store) UpdateSettings(ctx context.Context, deviceID string, settings types.DeviceSettings) error {
	return s.after(s.Store.UpdateSettings(ctx, deviceID, settings))
}

func (s *Store) AppendCommand(ctx context.Context, rec types.CommandRecord) error {
	return s.after(s.Store.AppendCommand(ctx, rec))
}

func (s *Store) UpdateCommandStatus(ctx context.Context, requestID string, status types.CommandStatus, t time.Time, response json.RawMessage) error {
	return s.after(s.Store.UpdateCommandStatus(ctx, requestID, status, t, response))
}

func (s *Store) AppendAlert(ctx context.Context, rec types.AlertRecord) error {
	return s.after(s.Store.AppendAlert(ctx, rec))
}

func (s *Store) AcknowledgeAlert(ctx context.Context, deviceID, alertID string) error {
	return s.after(s.Store.AcknowledgeAlert(ctx, deviceID, alertID))
}

func (s *Store) AppendLocation(ctx context.Context, rec types.LocationRecord) error {
	return s.after(s.Store.AppendLocation(ctx, rec))
}

func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.Store.PruneOlderThan(ctx, cutoff)
	if err != nil || n == 0 {
		return n, err
	}
	return n, s.persist()
}

var _ store.Store = (*Store)(nil)
