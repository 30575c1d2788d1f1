package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/beacon/internal/beacon/store"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
	"github.com/BrandonDHaskell/beacon/internal/metrics"
)

// DefaultHeartbeatInterval is how often agents are expected to heartbeat.
const DefaultHeartbeatInterval = 60 * time.Second

// LivenessStore is what the monitor persists into.
type LivenessStore interface {
	store.DeviceStore
	store.AlertStore
}

// LivenessMonitor evicts devices whose heartbeats stopped. An eviction looks
// to dashboards exactly like a transport close, followed by an offline alert.
type LivenessMonitor struct {
	devices *DeviceRegistry
	store   LivenessStore
	events  EventSink
	timeout time.Duration
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewLivenessMonitor uses timeout, or twice the heartbeat interval when
// timeout is zero.
func NewLivenessMonitor(devices *DeviceRegistry, st LivenessStore, events EventSink, heartbeatInterval, timeout time.Duration, log zerolog.Logger, m *metrics.Metrics) *LivenessMonitor {
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}
	if timeout <= 0 {
		timeout = 2 * heartbeatInterval
	}
	return &LivenessMonitor{
		devices: devices,
		store:   st,
		events:  events,
		timeout: timeout,
		log:     log.With().Str("component", "liveness").Logger(),
		metrics: m,
	}
}

func (l *LivenessMonitor) Timeout() time.Duration { return l.timeout }

// Sweep evicts every device silent for longer than the timeout and returns
// the evicted ids.
func (l *LivenessMonitor) Sweep(ctx context.Context, now time.Time) []string {
	evicted := l.devices.EvictStale(now.Add(-l.timeout), "heartbeat_timeout")
	if len(evicted) == 0 {
		return nil
	}

	ids := make([]string, 0, len(evicted))
	for _, d := range evicted {
		ids = append(ids, d.DeviceID)
		l.metrics.IncEviction()

		if err := l.store.MarkSeen(ctx, d.DeviceID, false, now); err != nil && !errors.Is(err, store.ErrNotFound) {
			l.log.Error().Err(err).Str("device_id", d.DeviceID).Msg("mark evicted device offline")
		}
		msg := fmt.Sprintf("Device offline: no heartbeat since %s", d.LastSeen.Format(time.RFC3339))
		_, _ = raiseAlert(ctx, l.store, l.events, l.log, d.DeviceID, types.AlertOffline, types.SeverityLow, msg)
	}
	return ids
}
