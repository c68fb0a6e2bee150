// Package server provides gRPC and HTTP server lifecycle management.
package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/solatis/gears/internal/core/api"
	"github.com/solatis/gears/internal/core/auth"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 30 * time.Second

// GRPCServer manages the admin gRPC server lifecycle.
type GRPCServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	addr     string
}

// NewGRPCServer registers the admin service behind the token interceptor,
// plus the standard health service which reports NOT_SERVING until MarkServing.
func NewGRPCServer(addr string, service api.AdminServer, authenticator *auth.TokenAuthenticator) (*GRPCServer, error) {
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if authenticator == nil {
		return nil, fmt.Errorf("authenticator cannot be nil")
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(authenticator.UnaryInterceptor()))
	api.RegisterAdminServer(server, service)

	s := &GRPCServer{server: server, health: health.NewServer(), addr: addr}
	grpc_health_v1.RegisterHealthServer(server, s.health)
	s.setStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return s, nil
}

// MarkServing reports SERVING once the first rule table is installed.
func (s *GRPCServer) MarkServing() {
	s.setStatus(grpc_health_v1.HealthCheckResponse_SERVING)
}

// setStatus covers both the overall health and the admin service.
func (s *GRPCServer) setStatus(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	for _, name := range []string{"", api.AdminServiceName} {
		s.health.SetServingStatus(name, status)
	}
}

// Start binds addr and serves until Shutdown is called.
func (s *GRPCServer) Start(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.addr, err)
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener.
func (s *GRPCServer) Serve(listener net.Listener) error {
	s.listener = listener
	return s.server.Serve(listener)
}

// Shutdown gracefully stops server, forcing a stop when ctx ends first.
func (s *GRPCServer) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return fmt.Errorf("shutdown cancelled by context: %w", ctx.Err())
	case <-time.After(ShutdownTimeout):
		s.server.Stop()
		return fmt.Errorf("graceful shutdown timeout, forced stop")
	}
}
