package server

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// RelayServiceName is the service name reported by the health endpoint.
const RelayServiceName = "huddle.relay"

// HealthService exposes the standard gRPC health protocol for probes.
type HealthService struct {
	addr   string
	server *grpc.Server
	health *health.Server
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewHealthService creates a HealthService that will listen on addr.
//
// Precondition: logger must be non-nil.
func NewHealthService(addr string, logger *zap.Logger) *HealthService {
	h := &HealthService{
		addr:   addr,
		server: grpc.NewServer(),
		health: health.NewServer(),
		logger: logger,
	}
	healthpb.RegisterHealthServer(h.server, h.health)
	return h
}

// Start listens on the configured address and serves until Stop.
func (h *HealthService) Start(ctx context.Context) error {
	lis, err := (&net.ListenConfig{}).Listen(ctx, "tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}
	return h.Serve(lis)
}

// Serve marks the relay serving and serves on lis until Stop.
//
// Postcondition: Returns nil after Stop, or the serve error.
func (h *HealthService) Serve(lis net.Listener) error {
	h.mu.Lock()
	h.listener = lis
	h.mu.Unlock()

	h.SetServing(true)
	h.logger.Info("health service listening", zap.String("addr", lis.Addr().String()))
	if err := h.server.Serve(lis); err != nil {
		return fmt.Errorf("serving grpc health: %w", err)
	}
	return nil
}

// SetServing flips the reported status of the relay and the server as a whole.
func (h *HealthService) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(RelayServiceName, status)
}

// Stop reports NOT_SERVING, then drains RPCs until ctx expires.
func (h *HealthService) Stop(ctx context.Context) {
	h.health.Shutdown()
	done := make(chan struct{})
	go func() {
		h.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		h.logger.Warn("forcing health service stop")
		h.server.Stop()
	}
}

// Addr returns the listening address, or empty string if not yet serving.
func (h *HealthService) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}
