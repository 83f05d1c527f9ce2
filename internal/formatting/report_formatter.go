package formatting

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/Kocoro-lab/Shannon/go/research/internal/metadata"
	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
	"github.com/Kocoro-lab/Shannon/go/research/internal/util"
)

const tableCellMax = 120

// RenderMarkdown renders the human-readable report. It is a pure projection:
// the same report always renders to the same text.
func RenderMarkdown(report models.Report) string {
	r := report.Normalize()
	var b strings.Builder

	fmt.Fprintf(&b, "# Research Report: %s\n\n", r.Topic)
	writeMeta(&b, r)

	b.WriteString("## Executive Summary\n\n")
	b.WriteString(orNone(r.ExecutiveSummary))
	b.WriteString("\n\n")

	b.WriteString("## Key Insights\n\n")
	if len(r.OverallInsights) == 0 {
		b.WriteString("_None._\n\n")
	}
	for i, k := range r.OverallInsights {
		fmt.Fprintf(&b, "%d. %s%s\n", i+1, k.Finding, citationSuffix(k.Citations))
	}
	if len(r.OverallInsights) > 0 {
		b.WriteString("\n")
	}

	b.WriteString("## Consensus Points\n\n")
	writeBullets(&b, r.ConsensusPoints)

	b.WriteString("## Subtopic Findings\n\n")
	for _, f := range r.SubtopicFindings {
		writeFindings(&b, f)
	}
	if len(r.SubtopicFindings) == 0 {
		b.WriteString("_None._\n\n")
	}

	b.WriteString("## Conflicts & Gaps\n\n")
	b.WriteString(orNone(r.ConflictsAndGaps))
	b.WriteString("\n\n")

	b.WriteString("## Top Sources\n\n")
	if len(r.TopSources) == 0 {
		b.WriteString("_None._\n\n")
	} else {
		b.WriteString(topSourcesTable(r.TopSources))
		b.WriteString("\n\n")
	}
	writeDomains(&b, r.AllSources)

	if r.CriticReview != nil {
		writeReview(&b, *r.CriticReview)
	}

	b.WriteString("## All Sources\n\n")
	writeAllSources(&b, r)
	return b.String()
}

func writeMeta(b *strings.Builder, r models.Report) {
	parts := []string{}
	if r.Metadata.RunID != "" {
		parts = append(parts, "Run: "+r.Metadata.RunID)
	}
	if !r.Metadata.Timestamp.IsZero() {
		parts = append(parts, "Generated: "+r.Metadata.Timestamp.UTC().Format("2006-01-02 15:04 UTC"))
	}
	if r.Metadata.Style != "" {
		parts = append(parts, "Style: "+string(r.Metadata.Style))
	}
	if r.Metadata.Tone != "" {
		parts = append(parts, "Tone: "+string(r.Metadata.Tone))
	}
	parts = append(parts,
		fmt.Sprintf("Researchers: %d", r.Metadata.NumResearchers),
		fmt.Sprintf("Sources: %d", len(r.AllSources)),
		fmt.Sprintf("Revisions: %d", r.RevisionCount),
	)
	fmt.Fprintf(b, "_%s_\n\n", strings.Join(parts, " | "))
}

func writeFindings(b *strings.Builder, f models.SubtopicFindings) {
	fmt.Fprintf(b, "### %s\n\n", f.Subtopic)
	if f.Failed() {
		fmt.Fprintf(b, "> Research failed: %s\n\n", f.Metadata.Error)
		return
	}
	b.WriteString(orNone(f.Summary))
	b.WriteString("\n\n")
	for _, k := range f.KeyInsights {
		fmt.Fprintf(b, "- %s%s\n", k.Finding, citationSuffix(k.Citations))
	}
	if len(f.KeyInsights) > 0 {
		b.WriteString("\n")
	}
	if f.ResearcherNotes != "" {
		fmt.Fprintf(b, "_Notes: %s_\n\n", f.ResearcherNotes)
	}
}

func writeReview(b *strings.Builder, rv models.CriticReview) {
	b.WriteString("## Critic Review\n\n")
	fmt.Fprintf(b, "**Decision:** %s | **Score:** %d/10 | **Iteration:** %d\n\n", rv.Decision, rv.OverallScore, rv.Iteration)
	if len(rv.Strengths) > 0 {
		b.WriteString("**Strengths**\n\n")
		writeBullets(b, rv.Strengths)
	}
	if len(rv.IssuesFound) > 0 {
		b.WriteString("**Issues**\n\n")
		for _, is := range rv.IssuesFound {
			fmt.Fprintf(b, "- [%s/%s] %s", is.Severity, is.Category, is.Description)
			if is.Suggestion != "" {
				fmt.Fprintf(b, " Suggestion: %s", is.Suggestion)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if rv.RevisionInstructions != "" {
		fmt.Fprintf(b, "**Unresolved instructions:** %s\n\n", rv.RevisionInstructions)
	}
}

// writeAllSources lists every source, marking the ones cited by an insight.
// writeDomains summarises where the sources came from, at most five domains.
func writeDomains(b *strings.Builder, sources []models.Source) {
	top := metadata.TopDomains(sources, 5)
	if len(top) == 0 {
		return
	}
	parts := make([]string, len(top))
	for i, d := range top {
		parts[i] = fmt.Sprintf("%s (%d)", d.Domain, d.Count)
	}
	fmt.Fprintf(b, "Source domains: %s\n\n", strings.Join(parts, ", "))
}

func writeAllSources(b *strings.Builder, r models.Report) {
	if len(r.AllSources) == 0 {
		b.WriteString("_None._\n")
		return
	}
	cited := citedURLs(r)
	for i, s := range r.AllSources {
		label := "Additional source"
		if cited[s.URL] {
			label = "Cited"
		}
		title := s.Title
		if title == "" {
			title = s.URL
		}
		fmt.Fprintf(b, "%d. [%s](%s) - %s\n", i+1, title, s.URL, label)
	}
}

func citedURLs(r models.Report) map[string]bool {
	cited := make(map[string]bool)
	for _, k := range r.OverallInsights {
		for _, c := range k.Citations {
			cited[c] = true
		}
	}
	for _, f := range r.SubtopicFindings {
		for _, k := range f.KeyInsights {
			for _, c := range k.Citations {
				cited[c] = true
			}
		}
	}
	return cited
}

func topSourcesTable(sources []models.Source) string {
	style := table.StyleDefault
	style.Format.Header = text.FormatDefault
	t := table.NewWriter()
	t.SetStyle(style)
	t.AppendHeader(table.Row{"#", "Title", "Domain", "Why it matters"})
	for i, s := range sources {
		t.AppendRow(table.Row{i + 1, markdownCell(s.Title), metadata.DomainOrEmpty(s.URL), markdownCell(s.WhyMatters)})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 1, Align: text.AlignRight}})
	return t.RenderMarkdown()
}

func markdownCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return util.TruncateString(s, tableCellMax, true)
}

func citationSuffix(citations []string) string {
	if len(citations) == 0 {
		return ""
	}
	refs := make([]string, 0, len(citations))
	for _, c := range citations {
		refs = append(refs, fmt.Sprintf("[%s](%s)", metadata.DomainOrEmpty(c), c))
	}
	return " (" + strings.Join(refs, ", ") + ")"
}

func writeBullets(b *strings.Builder, items []string) {
	if len(items) == 0 {
		b.WriteString("_None._\n\n")
		return
	}
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
	b.WriteString("\n")
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "_None._"
	}
	return s
}
