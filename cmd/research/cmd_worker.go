package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/app"
	"github.com/Kocoro-lab/Shannon/go/research/internal/ratecontrol"
	"github.com/Kocoro-lab/Shannon/go/research/internal/temporal"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Host the research workflow on a Temporal task queue",
	Long: "worker polls temporal.task_queue and executes ResearchWorkflow and its\n" +
		"activities. Pair it with `serve` running runs.executor=temporal.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		level := cfg.Service.LogLevel
		if rootFlags.verbose {
			level = "debug"
		}
		logger, err := app.NewLogger(level, false)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ag, err := app.BuildAgents(cfg, ratecontrol.NewRegistry(cfg.RateLimits), logger)
		if err != nil {
			return err
		}
		tc := app.TemporalConfig(cfg)
		c, err := temporal.Dial(tc, logger)
		if err != nil {
			return fmt.Errorf("dial temporal: %w", err)
		}
		defer c.Close()

		w := app.NewWorker(c, cfg, ag, logger)
		logger.Info("Research worker started", zap.String("task_queue", tc.QueueName()))
		return w.Run(worker.InterruptCh())
	},
}
