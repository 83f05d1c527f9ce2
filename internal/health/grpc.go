package health

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported alongside the
// server-wide "" entry.
const ServiceName = "research.v1.ResearchService"

// GRPCServer exposes the manager's readiness over the standard gRPC health
// protocol for load balancers that speak it.
type GRPCServer struct {
	server  *grpc.Server
	health  *grpchealth.Server
	manager *Manager
	logger  *zap.Logger
}

func NewGRPCServer(manager *Manager, logger *zap.Logger) *GRPCServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	hs := grpchealth.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &GRPCServer{server: srv, health: hs, manager: manager, logger: logger}
}

// Refresh runs the checks once and publishes SERVING or NOT_SERVING.
func (g *GRPCServer) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if !g.manager.IsReady(ctx) {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ServiceName, status)
	return status
}

// Serve refreshes the status every interval and serves on lis until ctx ends.
func (g *GRPCServer) Serve(ctx context.Context, lis net.Listener, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	g.Refresh(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				g.Stop()
				return
			case <-ticker.C:
				g.Refresh(ctx)
			}
		}
	}()

	g.logger.Info("Starting gRPC health server", zap.String("addr", lis.Addr().String()))
	return g.server.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains connections.
func (g *GRPCServer) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}
