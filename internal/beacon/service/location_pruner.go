package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/beacon/internal/beacon/store"
	"github.com/BrandonDHaskell/beacon/internal/metrics"
)

// DefaultPruneSchedule runs retention every six hours.
const DefaultPruneSchedule = "@every 6h"

// LocationPruner deletes location history older than the retention period
// on a cron schedule. A retention of 0 disables pruning entirely.
type LocationPruner struct {
	store     store.LocationStore
	retention time.Duration
	schedule  string
	log       zerolog.Logger
	metrics   *metrics.Metrics
	cron      *cron.Cron
	cancel    context.CancelFunc
}

type PrunerConfig struct {
	// RetentionDays of location history to keep. 0 keeps everything.
	RetentionDays int

	// Schedule is a cron expression; defaults to DefaultPruneSchedule.
	Schedule string
}

// NewLocationPruner creates a pruner but does not start it.
func NewLocationPruner(s store.LocationStore, cfg PrunerConfig, log zerolog.Logger, m *metrics.Metrics) *LocationPruner {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}
	return &LocationPruner{
		store:     s,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		schedule:  schedule,
		log:       log.With().Str("component", "location_pruner").Logger(),
		metrics:   m,
	}
}

// Start prunes once immediately, then on every schedule tick until ctx is
// cancelled or Stop is called.
func (p *LocationPruner) Start(ctx context.Context) error {
	if p.retention <= 0 {
		p.log.Info().Msg("location pruner disabled (retention=0)")
		return nil
	}

	ctx, p.cancel = context.WithCancel(ctx)
	c := cron.New()
	if _, err := c.AddFunc(p.schedule, func() { p.Prune(ctx) }); err != nil {
		p.cancel()
		return err
	}
	p.cron = c

	p.Prune(ctx)
	c.Start()

	p.log.Info().
		Int("retention_days", int(p.retention.Hours()/24)).
		Str("schedule", p.schedule).
		Msg("location pruner started")
	return nil
}

// Stop halts the schedule and waits for a running prune to finish.
func (p *LocationPruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
}

// Prune deletes rows older than the retention cutoff and returns the count.
func (p *LocationPruner) Prune(ctx context.Context) int64 {
	cutoff := time.Now().UTC().Add(-p.retention)
	deleted, err := p.store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		p.log.Error().Err(err).Msg("location prune")
		return 0
	}
	p.metrics.AddLocationsPruned(deleted)
	if deleted > 0 {
		p.log.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("location prune")
	}
	return deleted
}
