package models

import "strings"

// Normalize replaces nil slices with empty ones so exports render [] instead of null.
func (k KeyFinding) Normalize() KeyFinding {
	if k.Citations == nil {
		k.Citations = []string{}
	}
	return k
}

func (s SubtopicSpec) Normalize() SubtopicSpec {
	if s.SearchQueries == nil {
		s.SearchQueries = []string{}
	}
	return s
}

func (f SubtopicFindings) Normalize() SubtopicFindings {
	f.KeyInsights = normalizeFindings(f.KeyInsights)
	if f.Sources == nil {
		f.Sources = []Source{}
	}
	return f
}

func (i CriticIssue) Normalize() CriticIssue {
	i.Category = ParseIssueCategory(string(i.Category))
	i.Severity = ParseSeverity(string(i.Severity))
	return i
}

func (r CriticReview) Normalize() CriticReview {
	r.Decision = ParseDecision(string(r.Decision))
	if r.OverallScore == 0 {
		r.OverallScore = DefaultCriticScore
	}
	r.OverallScore = ClampScore(r.OverallScore)
	issues := make([]CriticIssue, 0, len(r.IssuesFound))
	for _, issue := range r.IssuesFound {
		issues = append(issues, issue.Normalize())
	}
	r.IssuesFound = issues
	if r.Strengths == nil {
		r.Strengths = []string{}
	}
	switch {
	case r.Decision == DecisionApproved:
		r.RevisionInstructions = ""
	case strings.TrimSpace(r.RevisionInstructions) == "":
		r.RevisionInstructions = instructionsFromIssues(r.IssuesFound)
	}
	return r
}

// instructionsFromIssues lists each issue's suggestion, or its description
// when the suggestion is blank.
func instructionsFromIssues(issues []CriticIssue) string {
	var lines []string
	for _, issue := range issues {
		line := strings.TrimSpace(issue.Suggestion)
		if line == "" {
			line = strings.TrimSpace(issue.Description)
		}
		if line != "" {
			lines = append(lines, "- "+line)
		}
	}
	if len(lines) == 0 {
		return DefaultRevisionInstructions
	}
	return strings.Join(lines, "\n")
}

func (r Report) Normalize() Report {
	if r.Subtopics == nil {
		r.Subtopics = []string{}
	}
	findings := make([]SubtopicFindings, 0, len(r.SubtopicFindings))
	for _, f := range r.SubtopicFindings {
		findings = append(findings, f.Normalize())
	}
	r.SubtopicFindings = findings
	r.OverallInsights = normalizeFindings(r.OverallInsights)
	if r.ConsensusPoints == nil {
		r.ConsensusPoints = []string{}
	}
	if r.AllSources == nil {
		r.AllSources = []Source{}
	}
	if r.TopSources == nil {
		r.TopSources = []Source{}
	}
	if r.CriticReview != nil {
		review := r.CriticReview.Normalize()
		r.CriticReview = &review
	}
	return r
}

func normalizeFindings(in []KeyFinding) []KeyFinding {
	out := make([]KeyFinding, 0, len(in))
	for _, k := range in {
		out = append(out, k.Normalize())
	}
	return out
}
