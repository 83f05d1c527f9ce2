package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"

	"github.com/Kocoro-lab/Shannon/go/research/internal/temporal"
	"github.com/Kocoro-lab/Shannon/go/research/internal/workflows"
)

var replayCmd = &cobra.Command{
	Use:   "replay <history.json>",
	Short: "Replay a ResearchWorkflow history against this build",
	Long: "replay feeds a history exported with `temporal workflow show --output json`\n" +
		"through the current ResearchWorkflow code and fails on any non-determinism.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer logger.Sync()

		replayer := worker.NewWorkflowReplayer()
		workflows.RegisterWorkflows(replayer)
		if err := replayer.ReplayWorkflowHistoryFromJSONFile(temporal.NewZapAdapter(logger), args[0]); err != nil {
			return fmt.Errorf("replay %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Replay succeeded for %s\n", args[0])
		return nil
	},
}
