package grpcapi

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ServiceName is the name registered with the health service.
const ServiceName = "beacon"

// Server exposes grpc.health.v1.Health so orchestrators can check the
// process without speaking HTTP.
type Server struct {
	addr   string
	srv    *grpc.Server
	health *health.Server
	log    zerolog.Logger
}

func NewServer(addr string, log zerolog.Logger) *Server {
	s := &Server{
		addr:   addr,
		health: health.NewServer(),
		log:    log.With().Str("component", "grpcapi").Logger(),
	}
	s.srv = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logUnary))
	healthpb.RegisterHealthServer(s.srv, s.health)
	s.SetServing(false)
	return s
}

// SetServing flips the overall and per-service status.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	s.SetServing(true)
	s.log.Info().Str("addr", lis.Addr().String()).Msg("grpc listening")
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Shutdown reports NOT_SERVING, then drains in-flight RPCs until ctx ends.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.srv.Stop()
	}
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.log.Debug().
		Str("method", info.FullMethod).
		Str("code", status.Code(err).String()).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("grpc_request")
	return resp, err
}
