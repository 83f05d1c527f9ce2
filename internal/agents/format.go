package agents

import (
	"fmt"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
)

const (
	promptSourcesPerSubtopic  = 5
	promptCitationsPerInsight = 3
)

var rule = strings.Repeat("=", 50)

// formatFindings renders researcher output for the synthesis prompt.
func formatFindings(findings []models.SubtopicFindings) string {
	sections := make([]string, 0, len(findings))
	for i, f := range findings {
		var b strings.Builder
		fmt.Fprintf(&b, "\n%s\nSUBTOPIC %d: %s\n%s\n", rule, i+1, f.Subtopic, rule)
		fmt.Fprintf(&b, "\nSummary: %s\n", f.Summary)

		if len(f.KeyInsights) > 0 {
			b.WriteString("\nKey Insights:\n")
			for j, in := range f.KeyInsights {
				fmt.Fprintf(&b, "  %d. %s\n", j+1, in.Finding)
				if len(in.Citations) > 0 {
					fmt.Fprintf(&b, "     Citations: %s\n", strings.Join(headStrings(in.Citations, promptCitationsPerInsight), ", "))
				}
			}
		}

		if len(f.Sources) > 0 {
			fmt.Fprintf(&b, "\nSources (%d total):\n", len(f.Sources))
			for _, s := range headSources(f.Sources, promptSourcesPerSubtopic) {
				fmt.Fprintf(&b, "  - %s\n", s.Title)
				fmt.Fprintf(&b, "    URL: %s\n", s.URL)
				if s.Score != nil && *s.Score != 0 {
					fmt.Fprintf(&b, "    Score: %.3f\n", *s.Score)
				}
			}
		}

		if f.ResearcherNotes != "" {
			fmt.Fprintf(&b, "\nResearcher Notes: %s\n", f.ResearcherNotes)
		}
		sections = append(sections, b.String())
	}
	return strings.Join(sections, "\n")
}

// formatForRevision renders the synthesis-derived fields the reviser may change.
func formatForRevision(r models.Report) string {
	lines := []string{
		"TOPIC: " + r.Topic,
		"\nEXECUTIVE SUMMARY:\n" + r.ExecutiveSummary,
	}
	if len(r.OverallInsights) > 0 {
		lines = append(lines, "\nOVERALL INSIGHTS:")
		for i, in := range r.OverallInsights {
			lines = append(lines, fmt.Sprintf("  %d. %s", i+1, in.Finding))
			if len(in.Citations) > 0 {
				lines = append(lines, "     Citations: "+strings.Join(in.Citations, ", "))
			}
		}
	}
	if len(r.ConsensusPoints) > 0 {
		lines = append(lines, "\nCONSENSUS POINTS:")
		for _, p := range r.ConsensusPoints {
			lines = append(lines, "  - "+p)
		}
	}
	if r.ConflictsAndGaps != "" {
		lines = append(lines, "\nCONFLICTS & GAPS:\n"+r.ConflictsAndGaps)
	}
	if len(r.TopSources) > 0 {
		lines = append(lines, "\nTOP SOURCES:")
		for _, s := range r.TopSources {
			lines = append(lines, fmt.Sprintf("  - %s (%s)", s.Title, s.URL))
			if s.WhyMatters != "" {
				lines = append(lines, "    Why it matters: "+s.WhyMatters)
			}
		}
	}
	return strings.Join(lines, "\n")
}

// formatForReview renders the whole report for the critic.
func formatForReview(r models.Report) string {
	lines := []string{
		"TOPIC: " + r.Topic,
		"SUBTOPICS: " + strings.Join(r.Subtopics, ", "),
		"",
	}
	heading := func(title string) {
		lines = append(lines, rule, title, rule)
	}

	heading("EXECUTIVE SUMMARY")
	lines = append(lines, r.ExecutiveSummary, "")

	if len(r.OverallInsights) > 0 {
		heading("OVERALL KEY INSIGHTS")
		for i, in := range r.OverallInsights {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, in.Finding))
			if len(in.Citations) > 0 {
				lines = append(lines, "   Citations: "+strings.Join(in.Citations, ", "))
			}
		}
		lines = append(lines, "")
	}

	if len(r.ConsensusPoints) > 0 {
		heading("CONSENSUS POINTS")
		for _, p := range r.ConsensusPoints {
			lines = append(lines, "- "+p)
		}
		lines = append(lines, "")
	}

	heading("SUBTOPIC FINDINGS")
	for _, f := range r.SubtopicFindings {
		lines = append(lines, fmt.Sprintf("\n--- %s ---", f.Subtopic), "Summary: "+f.Summary)
		if len(f.KeyInsights) > 0 {
			lines = append(lines, "Insights:")
			for _, in := range f.KeyInsights {
				lines = append(lines, "  - "+in.Finding)
				if len(in.Citations) > 0 {
					lines = append(lines, "    Citations: "+strings.Join(in.Citations, ", "))
				}
			}
		}
		lines = append(lines, "")
	}

	if r.ConflictsAndGaps != "" {
		heading("CONFLICTS & GAPS")
		lines = append(lines, r.ConflictsAndGaps, "")
	}

	if len(r.TopSources) > 0 {
		heading("TOP SOURCES")
		for _, s := range r.TopSources {
			lines = append(lines, "- "+s.Title, "  URL: "+s.URL)
			if s.WhyMatters != "" {
				lines = append(lines, "  Why it matters: "+s.WhyMatters)
			}
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func headStrings(in []string, n int) []string {
	if len(in) > n {
		return in[:n]
	}
	return in
}

func headSources(in []models.Source, n int) []models.Source {
	if len(in) > n {
		return in[:n]
	}
	return in
}
