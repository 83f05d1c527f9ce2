package models

import (
	"strings"
	"time"
)

// Run statuses
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Execution modes recorded in report metadata
const (
	ModeParallel   = "parallel"
	ModeSequential = "sequential"
)

// Style selects the writing register of the synthesized report.
type Style string

const (
	StyleTechnical Style = "Technical"
	StyleLayperson Style = "Layperson"
	StyleBusiness  Style = "Business"
)

// ParseStyle is case-insensitive and falls back to StyleTechnical.
func ParseStyle(s string) Style {
	for _, v := range []Style{StyleTechnical, StyleLayperson, StyleBusiness} {
		if strings.EqualFold(strings.TrimSpace(s), string(v)) {
			return v
		}
	}
	return StyleTechnical
}

// Tone selects whether the report only presents findings or also advises.
type Tone string

const (
	ToneNeutral  Tone = "Neutral"
	ToneAdvisory Tone = "Advisory"
)

// ParseTone is case-insensitive and falls back to ToneNeutral.
func ParseTone(s string) Tone {
	for _, v := range []Tone{ToneNeutral, ToneAdvisory} {
		if strings.EqualFold(strings.TrimSpace(s), string(v)) {
			return v
		}
	}
	return ToneNeutral
}

// Strictness tunes the critic rubric wording only.
type Strictness string

const (
	StrictnessLenient  Strictness = "lenient"
	StrictnessBalanced Strictness = "balanced"
	StrictnessStrict   Strictness = "strict"
)

// ParseStrictness is case-insensitive and falls back to StrictnessBalanced.
func ParseStrictness(s string) Strictness {
	for _, v := range []Strictness{StrictnessLenient, StrictnessBalanced, StrictnessStrict} {
		if strings.EqualFold(strings.TrimSpace(s), string(v)) {
			return v
		}
	}
	return StrictnessBalanced
}

// SubtopicSpec is one facet of the main topic, researched by exactly one researcher.
type SubtopicSpec struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	SearchQueries []string `json:"search_queries"`
}

// KeyFinding is a single claim with the URLs that support it.
type KeyFinding struct {
	Finding   string   `json:"finding"`
	Citations []string `json:"citations"`
}

// Source is identified by its URL.
type Source struct {
	Title      string   `json:"title"`
	URL        string   `json:"url"`
	Snippet    string   `json:"snippet"`
	Score      *float64 `json:"score,omitempty"`
	WhyMatters string   `json:"why_matters,omitempty"`
}

// FindingsMetadata describes how a SubtopicFindings value was produced.
// A non-empty Error marks an error placeholder.
type FindingsMetadata struct {
	Timestamp   time.Time `json:"timestamp,omitempty"`
	AgentID     string    `json:"agent_id,omitempty"`
	Model       string    `json:"model,omitempty"`
	QueriesUsed []string  `json:"queries_used,omitempty"`
	NumSources  int       `json:"num_sources"`
	Error       string    `json:"error,omitempty"`
}

// SubtopicFindings is the output of one researcher for one subtopic.
type SubtopicFindings struct {
	Subtopic        string           `json:"subtopic"`
	Summary         string           `json:"summary"`
	KeyInsights     []KeyFinding     `json:"key_insights"`
	Sources         []Source         `json:"sources"`
	ResearcherNotes string           `json:"researcher_notes"`
	Metadata        FindingsMetadata `json:"metadata"`
}

// Failed reports whether the findings are an error placeholder.
func (f SubtopicFindings) Failed() bool { return f.Metadata.Error != "" }

// ErrorFindings builds the placeholder used when research for a subtopic fails.
func ErrorFindings(subtopic string, err error) SubtopicFindings {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return SubtopicFindings{
		Subtopic:        subtopic,
		Summary:         "Research failed: " + msg,
		KeyInsights:     []KeyFinding{},
		Sources:         []Source{},
		ResearcherNotes: "Error during research: " + msg,
		Metadata:        FindingsMetadata{Error: msg},
	}
}

// ReportMetadata describes the synthesis that produced a report.
type ReportMetadata struct {
	RunID          string    `json:"run_id,omitempty"`
	Timestamp      time.Time `json:"timestamp,omitempty"`
	Model          string    `json:"model,omitempty"`
	NumResearchers int       `json:"num_researchers"`
	TotalSources   int       `json:"total_sources"`
	Mode           string    `json:"mode,omitempty"`
	Style          Style     `json:"style,omitempty"`
	Tone           Tone      `json:"tone,omitempty"`
}

// Report is the terminal artifact of a research run.
type Report struct {
	Topic            string             `json:"topic"`
	Subtopics        []string           `json:"subtopics"`
	ExecutiveSummary string             `json:"executive_summary"`
	SubtopicFindings []SubtopicFindings `json:"subtopic_findings"`
	OverallInsights  []KeyFinding       `json:"overall_insights"`
	ConsensusPoints  []string           `json:"consensus_points"`
	ConflictsAndGaps string             `json:"conflicts_and_gaps"`
	AllSources       []Source           `json:"all_sources"`
	TopSources       []Source           `json:"top_sources"`
	RevisionCount    int                `json:"revision_count"`
	CriticReview     *CriticReview      `json:"critic_review,omitempty"`
	Metadata         ReportMetadata     `json:"metadata"`
}

// WithReview returns a shallow copy of r carrying the given review.
func (r Report) WithReview(review CriticReview) Report {
	r.CriticReview = &review
	return r
}

// Approved reports whether the attached review approved the report.
// A report without a review counts as approved.
func (r Report) Approved() bool {
	return r.CriticReview == nil || r.CriticReview.Decision == DecisionApproved
}
