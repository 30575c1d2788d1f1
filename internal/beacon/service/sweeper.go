package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SweepFunc runs one pass of a periodic sweep.
type SweepFunc func(ctx context.Context, now time.Time)

// Sweeper runs a SweepFunc on a fixed interval in a background goroutine.
// It exits when its context is cancelled or Stop is called.
type Sweeper struct {
	name     string
	interval time.Duration
	fn       SweepFunc
	log      zerolog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewSweeper(name string, interval time.Duration, fn SweepFunc, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sweeper{
		name:     name,
		interval: interval,
		fn:       fn,
		log:      log.With().Str("component", name).Logger(),
		done:     make(chan struct{}),
	}
}

// Start begins the loop. It does not run a pass immediately.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
	s.log.Info().Dur("interval", s.interval).Msg("sweeper started")
}

// Stop signals the loop to exit and waits for it. Safe before Start.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.fn(ctx, now.UTC())
		}
	}
}
