package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/app"
	"github.com/Kocoro-lab/Shannon/go/research/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with progress streaming",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgMgr, err := config.NewManager(rootFlags.configPath, true, zap.NewNop())
		if err != nil {
			return err
		}
		level := cfgMgr.Current().Service.LogLevel
		if rootFlags.verbose {
			level = "debug"
		}
		logger, err := app.NewLogger(level, false)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return app.Serve(ctx, cfgMgr, logger)
	},
}
