package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/Shannon/go/research/internal/app"
	"github.com/Kocoro-lab/Shannon/go/research/internal/config"
	"github.com/Kocoro-lab/Shannon/go/research/internal/formatting"
	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
	"github.com/Kocoro-lab/Shannon/go/research/internal/runs"
	"github.com/Kocoro-lab/Shannon/go/research/internal/streaming"
)

var runFlags struct {
	sequential   bool
	style        string
	tone         string
	outDir       string
	formats      []string
	noExport     bool
	noCritic     bool
	maxRevisions int
	workers      int
	subtopics    int
}

var runCmd = &cobra.Command{
	Use:   "run <topic>",
	Short: "Research a topic and export the report",
	Example: `  research run "solid state batteries"
  research run --style Business --tone Advisory --format md "EU AI Act"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

func init() {
	f := runCmd.Flags()
	f.BoolVar(&runFlags.sequential, "sequential", false, "Research subtopics one at a time")
	f.StringVar(&runFlags.style, "style", "", "Technical, Layperson or Business (default from config)")
	f.StringVar(&runFlags.tone, "tone", "", "Neutral or Advisory (default from config)")
	f.StringVarP(&runFlags.outDir, "out", "o", ".", "Directory for exported reports")
	f.StringSliceVar(&runFlags.formats, "format", []string{formatting.FormatJSON, formatting.FormatMarkdown}, "Export formats (json, md)")
	f.BoolVar(&runFlags.noExport, "no-export", false, "Print the summary only")
	f.BoolVar(&runFlags.noCritic, "no-critic", false, "Skip the critic review loop")
	f.IntVar(&runFlags.maxRevisions, "max-revisions", -1, "Critic revision budget (default from config)")
	f.IntVar(&runFlags.workers, "workers", 0, "Parallel researchers (default from config)")
	f.IntVar(&runFlags.subtopics, "subtopics", 0, "Subtopics to split into, 2-4 (default from config)")
}

// applyRunOverrides folds explicit flags into the research section.
func applyRunOverrides(cfg *config.Config) {
	if runFlags.noCritic {
		cfg.Research.EnableCritic = false
	}
	if runFlags.maxRevisions >= 0 {
		cfg.Research.MaxRevisions = runFlags.maxRevisions
	}
	if runFlags.workers > 0 {
		cfg.Research.MaxWorkers = runFlags.workers
	}
	if runFlags.subtopics > 0 {
		cfg.Research.NumSubtopics = runFlags.subtopics
	}
}

func runResearch(cmd *cobra.Command, args []string) error {
	topic := strings.TrimSpace(strings.Join(args, " "))
	if topic == "" {
		return runs.ErrEmptyTopic
	}
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	applyRunOverrides(cfg)
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = svc.Close(closeCtx)
	}()

	run, err := svc.Runs.Submit(ctx, runs.SubmitRequest{
		Topic:      topic,
		Style:      runFlags.style,
		Tone:       runFlags.tone,
		Sequential: runFlags.sequential,
		Subject:    "cli",
	})
	if err != nil {
		return err
	}
	followProgress(ctx, svc.Streams, run.ID, cmd.ErrOrStderr())

	final, err := svc.Runs.Wait(ctx, run.ID)
	if err != nil {
		return err
	}
	if final.Status == models.StatusFailed {
		return fmt.Errorf("research failed: %s", final.Error)
	}
	report, err := svc.Runs.Report(ctx, run.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%s\n\n", report.Topic)
	fmt.Fprintln(out, formatting.SummaryTable(*report))
	fmt.Fprintf(out, "\n%s\n", report.ExecutiveSummary)

	if runFlags.noExport {
		return nil
	}
	paths, err := formatting.WriteFiles(runFlags.outDir, *report, runFlags.formats...)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintf(out, "Saved %s\n", p)
	}
	return nil
}

// followProgress prints progress events until the run ends or ctx is done.
func followProgress(ctx context.Context, streams *streaming.Manager, runID string, w io.Writer) {
	ch := streams.Subscribe(runID, 64)
	defer streams.Unsubscribe(runID, ch)

	var seen uint64
	show := func(evt streaming.Event) bool {
		if evt.Seq <= seen {
			return false
		}
		seen = evt.Seq
		fmt.Fprintf(w, "[%3.0f%%] %s\n", evt.Progress*100, evt.Message)
		return evt.Terminal()
	}

	backlog, _ := streams.ReplaySince(ctx, runID, 0)
	for _, evt := range backlog {
		if show(evt) {
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			if show(evt) {
				return
			}
		}
	}
}
