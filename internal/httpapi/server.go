package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/beacon/internal/beacon/service"
	"github.com/BrandonDHaskell/beacon/internal/config"
	"github.com/BrandonDHaskell/beacon/internal/metrics"
)

// commandWait bounds ?wait=true. requestTimeout leaves room after it so the
// handler answers before the timeout middleware does.
const (
	commandWait    = config.MaxCommandWait
	requestTimeout = commandWait + time.Second
)

// Mounter attaches routes that must bypass the API middleware stack, such as
// WebSocket upgrades.
type Mounter interface {
	Mount(r chi.Router)
}

type Dependencies struct {
	Logger    zerolog.Logger
	Addr      string
	Metrics   *metrics.Metrics
	Devices   *service.DeviceService
	Commands  *service.CommandService
	Telemetry *service.TelemetryService
	Agents    *service.AgentService
	Registry  *service.DeviceRegistry

	// Ready reports whether the backing store can serve requests. Nil means
	// always ready.
	Ready func(ctx context.Context) error

	// Sockets is mounted at the root, outside the request timeout.
	Sockets Mounter
}

type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
	metrics    *metrics.Metrics
	devices    *service.DeviceService
	commands   *service.CommandService
	telemetry  *service.TelemetryService
	agents     *service.AgentService
	registry   *service.DeviceRegistry
	ready      func(ctx context.Context) error
}

func NewServer(d Dependencies) *Server {
	s := &Server{
		log:       d.Logger.With().Str("component", "httpapi").Logger(),
		metrics:   d.Metrics,
		devices:   d.Devices,
		commands:  d.Commands,
		telemetry: d.Telemetry,
		agents:    d.Agents,
		registry:  d.Registry,
		ready:     d.Ready,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	if d.Sockets != nil {
		d.Sockets.Mount(r)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/stats", s.handleDeviceStats)
			r.Post("/location", s.handleUpdateLocation)
			r.Post("/register", s.handleRegisterAgent)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Put("/settings", s.handleUpdateSettings)
				r.Get("/locations", s.handleListLocations)
				r.Get("/locations/current", s.handleCurrentLocation)
				r.Get("/locations/stats", s.handleLocationStats)

				r.Post("/command", s.handleSendCommand)
				r.Post("/message", s.handleSendMessage)
				r.Post("/lock", s.handleLock)
				r.Post("/ping", s.handlePing)
				r.Get("/commands", s.handleListCommands)
				r.Get("/commands/pending", s.handleFetchCommands)

				r.Get("/alerts", s.handleListAlerts)
				r.Post("/alerts/{alertId}/ack", s.handleAckAlert)
			})
		})

		r.Post("/commands/{requestId}/complete", s.handleCompleteCommand)
		r.Post("/broadcast/{type}", s.handleBroadcast)
		r.Get("/connections", s.handleConnections)
	})

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "store not ready", map[string]any{"error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}
