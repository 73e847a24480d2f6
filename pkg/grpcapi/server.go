// Package grpcapi serves the standard gRPC health protocol for bbrd.
// Load balancers and orchestrators probe ForwardingService to find the
// node currently acting as Primary Backbone Router.
package grpcapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/psaab/bbrd/pkg/backbone"
)

// ForwardingService is SERVING only while the node is Primary.
const ForwardingService = "bbrd.forwarding"

// Server is the gRPC health server.
type Server struct {
	addr   string
	health *health.Server
}

// NewServer creates a gRPC server for addr. Forwarding starts NOT_SERVING.
func NewServer(addr string) *Server {
	s := &Server{addr: addr, health: health.NewServer()}
	s.health.SetServingStatus(ForwardingService, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// SetRole updates the forwarding service status for role.
func (s *Server) SetRole(role backbone.Role) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if role == backbone.RolePrimary {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ForwardingService, st)
	slog.Debug("grpc: forwarding health", "role", role, "status", st)
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gRPC listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, s.health)
	reflection.Register(srv)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gRPC server listening", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Tell watchers we are going away before draining.
	s.health.Shutdown()
	srv.GracefulStop()
	return nil
}
