package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/config"
	"github.com/Kocoro-lab/Shannon/go/research/internal/health"
	"github.com/Kocoro-lab/Shannon/go/research/internal/tracing"
)

// Serve runs the HTTP API, the metrics endpoint and the gRPC health service
// until ctx is cancelled, then shuts everything down within
// service.shutdown_timeout.
func Serve(ctx context.Context, cfgMgr *config.Manager, logger *zap.Logger) error {
	cfg := cfgMgr.Current()

	shutdownTracing, err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
	}

	svc, err := New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start background services: %w", err)
	}
	svc.Watch(cfgMgr)
	if err := cfgMgr.Start(ctx); err != nil {
		logger.Warn("Config hot reload unavailable", zap.Error(err))
	}

	errCh := make(chan error, 2)

	// SSE and WebSocket responses are long-lived, so no WriteTimeout
	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Service.Port),
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("Research API listening", zap.Int("port", cfg.Service.Port))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Service.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Metrics server listening", zap.Int("port", cfg.Service.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Failed to start metrics server", zap.Error(err))
		}
	}()

	var grpcHealth *health.GRPCServer
	if cfg.Service.GRPCHealthPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Service.GRPCHealthPort))
		if err != nil {
			logger.Error("gRPC health listener failed", zap.Error(err))
		} else {
			grpcHealth = health.NewGRPCServer(svc.Health, logger.Named("grpc-health"))
			go func() {
				logger.Info("gRPC health server listening", zap.Int("port", cfg.Service.GRPCHealthPort))
				if err := grpcHealth.Serve(ctx, lis, 10*time.Second); err != nil {
					logger.Error("gRPC health server exited", zap.Error(err))
				}
			}()
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	logger.Info("Shutting down research service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown", zap.Error(err))
	}
	_ = metricsServer.Shutdown(shutdownCtx)
	if grpcHealth != nil {
		grpcHealth.Stop()
	}
	_ = cfgMgr.Stop()
	if err := svc.Close(shutdownCtx); err != nil {
		logger.Warn("Service shutdown incomplete", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Tracing shutdown", zap.Error(err))
	}
	return runErr
}
