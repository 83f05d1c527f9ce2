package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/Shannon/go/research/internal/db"
	"github.com/Kocoro-lab/Shannon/go/research/internal/formatting"
	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
)

var exportFlags struct {
	from   string
	format string
	outDir string
}

var exportCmd = &cobra.Command{
	Use:   "export [run-id]",
	Short: "Render a stored report as Markdown or JSON",
	Example: `  research export 6f1c...            # from the configured database
  research export --from report.json --format md`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExport,
}

func init() {
	f := exportCmd.Flags()
	f.StringVar(&exportFlags.from, "from", "", "Read a report JSON file instead of the database")
	f.StringVarP(&exportFlags.format, "format", "f", formatting.FormatMarkdown, "Output format (json, md)")
	f.StringVarP(&exportFlags.outDir, "out", "o", "", "Write <topic>.<ext> into this directory instead of stdout")
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportFlags.format != formatting.FormatJSON && exportFlags.format != formatting.FormatMarkdown {
		return fmt.Errorf("unknown format %q", exportFlags.format)
	}
	var (
		report models.Report
		err    error
	)
	switch {
	case exportFlags.from != "":
		report, err = reportFromFile(exportFlags.from)
	case len(args) == 1:
		report, err = reportFromStore(cmd.Context(), args[0])
	default:
		return errors.New("need a run id or --from")
	}
	if err != nil {
		return err
	}

	if exportFlags.outDir != "" {
		paths, err := formatting.WriteFiles(exportFlags.outDir, report, exportFlags.format)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", p)
		}
		return nil
	}
	return writeReport(cmd.OutOrStdout(), report, exportFlags.format)
}

func writeReport(w io.Writer, report models.Report, format string) error {
	if format == formatting.FormatMarkdown {
		_, err := io.WriteString(w, formatting.RenderMarkdown(report))
		return err
	}
	data, err := formatting.ExportJSON(report)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

func reportFromFile(path string) (models.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Report{}, err
	}
	return formatting.ImportJSON(data)
}

// reportFromStore only needs the database section, so no LLM or search keys.
func reportFromStore(ctx context.Context, runID string) (models.Report, error) {
	cfg, err := loadConfig(false)
	if err != nil {
		return models.Report{}, err
	}
	dc := cfg.Database
	if dc.Driver == "" {
		return models.Report{}, errors.New("no database configured; use --from")
	}
	logger, err := newLogger()
	if err != nil {
		return models.Report{}, err
	}
	store, err := db.Open(ctx, db.Config{
		Driver:          dc.Driver,
		DSN:             dc.DSN,
		MaxOpenConns:    dc.MaxOpenConns,
		ConnMaxLifetime: dc.ConnMaxLifetime,
		Breaker:         cfg.CircuitBreaker.Database,
	}, logger.Named("db"))
	if err != nil {
		return models.Report{}, err
	}
	defer store.Close()

	report, err := store.Report(ctx, runID)
	if err != nil {
		return models.Report{}, fmt.Errorf("run %s: %w", runID, err)
	}
	return *report, nil
}
