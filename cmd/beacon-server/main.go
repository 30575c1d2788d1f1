package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/BrandonDHaskell/beacon/internal/beacon/service"
	"github.com/BrandonDHaskell/beacon/internal/beacon/store"
	"github.com/BrandonDHaskell/beacon/internal/beacon/store/file"
	"github.com/BrandonDHaskell/beacon/internal/beacon/store/memory"
	"github.com/BrandonDHaskell/beacon/internal/beacon/store/postgres"
	"github.com/BrandonDHaskell/beacon/internal/beacon/store/sqlite"
	"github.com/BrandonDHaskell/beacon/internal/config"
	"github.com/BrandonDHaskell/beacon/internal/grpcapi"
	"github.com/BrandonDHaskell/beacon/internal/httpapi"
	"github.com/BrandonDHaskell/beacon/internal/logging"
	"github.com/BrandonDHaskell/beacon/internal/metrics"
	"github.com/BrandonDHaskell/beacon/internal/wsapi"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load(os.Getenv("BEACON_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "beacon-server: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, !cfg.IsProd())
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("close store")
		}
	}()
	logger.Info().Str("store", cfg.Store).Msg("store opened")

	// Registries
	clients := service.NewClientRegistry(logger, m)
	devices := service.NewDeviceRegistry(clients, logger, m)
	relay := service.NewCommandRelay(devices, cfg.CommandTimeout, logger, m)

	// Services
	heartbeats := service.NewHeartbeatService(devices, st, logger)
	sessions := service.NewSessionService(devices, clients, relay, heartbeats, st, logger)
	commands := service.NewCommandService(st, relay, clients, logger)
	telemetry := service.NewTelemetryService(st, clients, logger)
	queries := service.NewDeviceService(st)
	agents := service.NewAgentService(st, relay, logger)
	liveness := service.NewLivenessMonitor(devices, st, clients, cfg.HeartbeatInterval, cfg.LivenessTimeout, logger, m)

	// Background work
	commandSweeper := service.NewSweeper("command_sweeper", cfg.CommandSweepInterval, func(_ context.Context, now time.Time) {
		relay.ExpirePending(now)
	}, logger)
	livenessSweeper := service.NewSweeper("liveness_sweeper", cfg.LivenessSweepInterval, func(ctx context.Context, now time.Time) {
		liveness.Sweep(ctx, now)
	}, logger)
	pruner := service.NewLocationPruner(st, service.PrunerConfig{
		RetentionDays: cfg.LocationRetentionDays,
		Schedule:      cfg.PruneSchedule,
	}, logger, m)

	commandSweeper.Start(ctx)
	defer commandSweeper.Stop()
	livenessSweeper.Start(ctx)
	defer livenessSweeper.Stop()
	if err := pruner.Start(ctx); err != nil {
		return err
	}
	defer pruner.Stop()

	// Transports
	sockets := wsapi.NewServer(wsapi.Dependencies{
		Logger:         logger,
		Sessions:       sessions,
		Clients:        clients,
		Devices:        devices,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	var ready func(context.Context) error
	if p, ok := st.(pinger); ok {
		ready = p.Ping
	}

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:    logger,
		Addr:      cfg.HTTPAddr,
		Metrics:   m,
		Devices:   queries,
		Commands:  commands,
		Telemetry: telemetry,
		Agents:    agents,
		Registry:  devices,
		Ready:     ready,
		Sockets:   sockets,
	})

	var health *grpcapi.Server
	if cfg.GRPCAddr != "" {
		health = grpcapi.NewServer(cfg.GRPCAddr, logger)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if health != nil {
		g.Go(func() error {
			logger.Info().Str("addr", cfg.GRPCAddr).Msg("grpc listening")
			if err := health.Start(); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		if health != nil {
			health.SetServing(false)
		}
		sockets.CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if health != nil {
			health.Shutdown(shutdownCtx)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StoreFile:
		return file.Open(cfg.FilePath)
	case config.StoreSQLite:
		return sqlite.Open(ctx, cfg.DBPath)
	case config.StorePostgres:
		return postgres.Open(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
