package models

import "strings"

// Decision is the critic verdict.
type Decision string

const (
	DecisionApproved       Decision = "APPROVED"
	DecisionRevisionNeeded Decision = "REVISION_NEEDED"
)

// ParseDecision maps anything other than REVISION_NEEDED to APPROVED.
func ParseDecision(s string) Decision {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	if norm == string(DecisionRevisionNeeded) {
		return DecisionRevisionNeeded
	}
	return DecisionApproved
}

// IssueCategory is one of the four fixed rubric categories.
type IssueCategory string

const (
	CategoryFactualConsistency IssueCategory = "factual_consistency"
	CategoryCitationAccuracy   IssueCategory = "citation_accuracy"
	CategoryLogicalCoherence   IssueCategory = "logical_coherence"
	CategoryCompleteness       IssueCategory = "completeness"
)

func ParseIssueCategory(s string) IssueCategory {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch IssueCategory(norm) {
	case CategoryFactualConsistency, CategoryCitationAccuracy, CategoryLogicalCoherence, CategoryCompleteness:
		return IssueCategory(norm)
	}
	return CategoryCompleteness
}

// Severity of a critic issue.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityMajor    Severity = "major"
)

func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityMinor:
		return SeverityMinor
	case SeverityMajor:
		return SeverityMajor
	}
	return SeverityModerate
}

const (
	DefaultCriticScore = 7
	MinCriticScore     = 1
	MaxCriticScore     = 10
)

// DefaultRevisionInstructions is used when a review asks for revision but
// names nothing to change.
const DefaultRevisionInstructions = "Address the weaknesses in the report: strengthen citations and fill gaps in coverage."

// CriticIssue is a single problem found during review.
type CriticIssue struct {
	Category    IssueCategory `json:"category"`
	Severity    Severity      `json:"severity"`
	Description string        `json:"description"`
	Location    string        `json:"location"`
	Suggestion  string        `json:"suggestion"`
}

// CriticReview is attached to the report it evaluated.
type CriticReview struct {
	Decision             Decision      `json:"decision"`
	OverallScore         int           `json:"overall_score"`
	IssuesFound          []CriticIssue `json:"issues_found"`
	Strengths            []string      `json:"strengths"`
	RevisionInstructions string        `json:"revision_instructions"`
	Iteration            int           `json:"iteration"`
}

// DefaultReview is used when the critic output cannot be decoded.
func DefaultReview() CriticReview {
	return CriticReview{
		Decision:     DecisionApproved,
		OverallScore: DefaultCriticScore,
		IssuesFound:  []CriticIssue{},
		Strengths:    []string{},
	}
}

// ClampScore bounds a score to the 1..10 scale.
func ClampScore(score int) int {
	if score < MinCriticScore {
		return MinCriticScore
	}
	if score > MaxCriticScore {
		return MaxCriticScore
	}
	return score
}

// NeedsRevision reports whether the critic asked for another synthesis pass.
func (r CriticReview) NeedsRevision() bool { return r.Decision == DecisionRevisionNeeded }
