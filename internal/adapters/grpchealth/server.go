package grpchealth

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const ServiceName = "researchflow.Orchestrator"

// Probe reports whether the orchestrator can take work.
type Probe func(ctx context.Context) error

// Server exposes the standard gRPC health protocol for the orchestrator so
// load balancers and kubelets can probe it without HTTP.
type Server struct {
	logger   *slog.Logger
	probe    Probe
	interval time.Duration

	health *health.Server
	server *grpc.Server

	mu     sync.RWMutex
	status grpc_health_v1.HealthCheckResponse_ServingStatus
}

func New(probe Probe, interval time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	hs := health.NewServer()
	gs := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	s := &Server{
		logger:   logger.With("component", "grpc-health"),
		probe:    probe,
		interval: interval,
		health:   hs,
		server:   gs,
		status:   grpc_health_v1.HealthCheckResponse_NOT_SERVING,
	}
	s.setStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return s
}

// Serve runs the probe loop and serves on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.Check(ctx)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.setStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
				s.health.Shutdown()
				s.server.GracefulStop()
				return
			case <-ticker.C:
				s.Check(ctx)
			}
		}
	}()

	s.logger.Info("grpc health server listening", "addr", lis.Addr().String())
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Check runs the probe once and publishes the result.
func (s *Server) Check(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if s.probe != nil {
		probeCtx, cancel := context.WithTimeout(ctx, s.interval)
		err := s.probe(probeCtx)
		cancel()
		if err != nil {
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
			s.logger.Debug("health probe failed", "error", err)
		}
	}
	s.setStatus(status)
	return status
}

func (s *Server) setStatus(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	s.mu.Lock()
	changed := s.status != status
	s.status = status
	s.mu.Unlock()

	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	if changed {
		s.logger.Info("serving status changed", "status", status.String())
	}
}

func (s *Server) Status() grpc_health_v1.HealthCheckResponse_ServingStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.server.Stop()
}
