package agents

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/research/internal/metadata"
	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
	"github.com/Kocoro-lab/Shannon/go/research/internal/prompts"
)

const (
	synthesisTemperature = 0.3
	maxTopSources        = 5
)

// Synthesizer merges researcher findings into a report and revises it on request.
type Synthesizer struct {
	deps Deps
}

func NewSynthesizer(deps Deps) *Synthesizer {
	return &Synthesizer{deps: deps.withDefaults()}
}

type synthesisPayload struct {
	ExecutiveSummary string `json:"executive_summary"`
	OverallInsights  []struct {
		Finding   string   `json:"finding"`
		Citations []string `json:"citations"`
	} `json:"overall_insights"`
	ConsensusPoints  []string `json:"consensus_points"`
	ConflictsAndGaps string   `json:"conflicts_and_gaps"`
	TopSources       []struct {
		Title      string   `json:"title"`
		URL        string   `json:"url"`
		Snippet    string   `json:"snippet"`
		Score      *float64 `json:"score"`
		WhyMatters string   `json:"why_matters"`
	} `json:"top_sources"`
}

// Synthesize builds a report from findings in subtopic order. Findings are carried unchanged.
func (s *Synthesizer) Synthesize(ctx context.Context, topic string, findings []models.SubtopicFindings, style models.Style, tone models.Tone) (models.Report, error) {
	user, err := s.deps.Prompts.Render(prompts.SynthesizerUser, map[string]any{
		"Topic":            topic,
		"StyleInstruction": s.deps.Prompts.Style(style),
		"ToneInstruction":  s.deps.Prompts.Tone(tone),
		"Findings":         formatFindings(findings),
	})
	if err != nil {
		return models.Report{}, err
	}
	payload, err := s.call(ctx, user)
	if err != nil {
		return models.Report{}, fmt.Errorf("synthesize: %w", err)
	}
	report := s.buildReport(topic, findings, payload)
	report.Metadata.Style = style
	report.Metadata.Tone = tone
	s.deps.Logger.Info("Report synthesized",
		zap.String("topic", topic),
		zap.Int("researchers", len(findings)),
		zap.Int("sources", len(report.AllSources)),
	)
	return report, nil
}

// Revise rewrites the synthesis-derived fields following the critic instructions.
// RevisionCount is the input count plus one.
func (s *Synthesizer) Revise(ctx context.Context, report models.Report, instructions string, style models.Style, tone models.Tone) (models.Report, error) {
	user, err := s.deps.Prompts.Render(prompts.SynthesizerRevise, map[string]any{
		"StyleInstruction": s.deps.Prompts.Style(style),
		"ToneInstruction":  s.deps.Prompts.Tone(tone),
		"Report":           formatForRevision(report),
		"Instructions":     instructions,
	})
	if err != nil {
		return models.Report{}, err
	}
	payload, err := s.call(ctx, user)
	if err != nil {
		return models.Report{}, fmt.Errorf("revise: %w", err)
	}

	revised := s.buildReport(report.Topic, report.SubtopicFindings, payload)
	revised.RevisionCount = report.RevisionCount + 1
	revised.Metadata.RunID = report.Metadata.RunID
	revised.Metadata.Mode = report.Metadata.Mode
	revised.Metadata.Style = style
	revised.Metadata.Tone = tone
	s.deps.Logger.Info("Report revised", zap.String("topic", report.Topic), zap.Int("revision", revised.RevisionCount))
	return revised, nil
}

// call returns an empty payload when the model output cannot be decoded.
func (s *Synthesizer) call(ctx context.Context, user string) (synthesisPayload, error) {
	system, err := s.deps.Prompts.Render(prompts.SynthesizerSystem, nil)
	if err != nil {
		return synthesisPayload{}, err
	}
	resp, err := s.deps.LLM.Complete(ctx, &llm.CompletionRequest{
		Model: s.deps.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
		JSONMode:    true,
		Temperature: llm.Temperature(synthesisTemperature),
		Caller:      CallerSynthesizer,
	})
	if err != nil {
		return synthesisPayload{}, err
	}
	var payload synthesisPayload
	if err := decodeObject(resp.Content, &payload); err != nil {
		s.deps.Logger.Warn("Synthesis output undecodable, using empty fields", zap.Error(err))
		return synthesisPayload{}, nil
	}
	return payload, nil
}

func (s *Synthesizer) buildReport(topic string, findings []models.SubtopicFindings, p synthesisPayload) models.Report {
	subtopics := make([]string, 0, len(findings))
	for _, f := range findings {
		subtopics = append(subtopics, f.Subtopic)
	}

	insights := make([]models.KeyFinding, 0, len(p.OverallInsights))
	for _, in := range p.OverallInsights {
		insights = append(insights, models.KeyFinding{Finding: in.Finding, Citations: in.Citations})
	}

	top := make([]models.Source, 0, maxTopSources)
	for _, src := range p.TopSources {
		if len(top) == maxTopSources {
			break
		}
		top = append(top, models.Source{
			Title:      src.Title,
			URL:        src.URL,
			Snippet:    src.Snippet,
			Score:      src.Score,
			WhyMatters: src.WhyMatters,
		})
	}

	all := metadata.DedupeSources(findings)
	return models.Report{
		Topic:            topic,
		Subtopics:        subtopics,
		ExecutiveSummary: p.ExecutiveSummary,
		SubtopicFindings: findings,
		OverallInsights:  insights,
		ConsensusPoints:  p.ConsensusPoints,
		ConflictsAndGaps: p.ConflictsAndGaps,
		AllSources:       all,
		TopSources:       top,
		Metadata: models.ReportMetadata{
			Timestamp:      s.deps.Now(),
			Model:          s.deps.Model,
			NumResearchers: len(findings),
			TotalSources:   len(all),
		},
	}.Normalize()
}
