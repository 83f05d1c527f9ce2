package formatting

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
	"github.com/Kocoro-lab/Shannon/go/research/internal/util"
)

// SummaryTable renders one row per subtopic for terminal output.
func SummaryTable(report models.Report) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Subtopic", "Status", "Insights", "Sources"})
	for i, f := range report.SubtopicFindings {
		status := "ok"
		if f.Failed() {
			status = "failed: " + util.TruncateString(f.Metadata.Error, 40, false)
		}
		t.AppendRow(table.Row{i + 1, f.Subtopic, status, len(f.KeyInsights), len(f.Sources)})
	}
	verdict := "not reviewed"
	if rv := report.CriticReview; rv != nil {
		verdict = fmt.Sprintf("%s %d/10", rv.Decision, rv.OverallScore)
	}
	t.AppendFooter(table.Row{"", "Total", verdict, len(report.OverallInsights), len(report.AllSources)})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, WidthMax: 48},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	return t.Render()
}
