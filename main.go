package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/app"
	"github.com/Kocoro-lab/Shannon/go/research/internal/config"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfgMgr, err := config.NewManager(os.Getenv("CONFIG_PATH"), true, logger.Named("config"))
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if level := cfgMgr.Current().Service.LogLevel; level != "" && level != "info" {
		leveled, err := app.NewLogger(level, false)
		if err != nil {
			logger.Fatal("Invalid log level", zap.Error(err))
		}
		logger = leveled
		defer leveled.Sync()
	}

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Serve(ctx, cfgMgr, logger); err != nil {
		logger.Fatal("Research service failed", zap.Error(err))
	}
	logger.Info("Research service stopped")
}
