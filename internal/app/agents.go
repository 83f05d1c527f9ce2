package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/agents"
	"github.com/Kocoro-lab/Shannon/go/research/internal/config"
	"github.com/Kocoro-lab/Shannon/go/research/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
	"github.com/Kocoro-lab/Shannon/go/research/internal/orchestrator"
	"github.com/Kocoro-lab/Shannon/go/research/internal/prompts"
	"github.com/Kocoro-lab/Shannon/go/research/internal/ratecontrol"
	"github.com/Kocoro-lab/Shannon/go/research/internal/search"
)

// OptionsFromConfig maps the research section onto orchestrator options.
func OptionsFromConfig(cfg *config.Config) orchestrator.Options {
	return orchestrator.Options{
		NumSubtopics:    agents.ClampSubtopics(cfg.Research.NumSubtopics),
		MaxWorkers:      cfg.Research.MaxWorkers,
		ResearchTimeout: cfg.Research.ResearchTimeout,
		EnableCritic:    cfg.Research.EnableCritic,
		MaxRevisions:    cfg.Research.MaxRevisions,
		Style:           models.ParseStyle(cfg.Research.Style),
		Tone:            models.ParseTone(cfg.Research.Tone),
		Model:           cfg.LLM.Model,
	}
}

// BuildAgents constructs the four pipeline roles over the configured LLM and
// search providers. limits may be nil.
func BuildAgents(cfg *config.Config, limits *ratecontrol.Registry, logger *zap.Logger) (orchestrator.Agents, error) {
	set := prompts.Default()
	if cfg.Prompts.Path != "" {
		loaded, err := prompts.Load(cfg.Prompts.Path)
		if err != nil {
			return orchestrator.Agents{}, fmt.Errorf("load prompts: %w", err)
		}
		set = loaded
	}

	client := llm.NewHTTPClient(llm.HTTPConfig{
		Provider:   cfg.LLM.Provider,
		BaseURL:    cfg.LLM.BaseURL,
		APIKey:     cfg.LLM.APIKey,
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: cfg.LLM.MaxRetries,
		Breaker:    cfg.CircuitBreaker.LLM,
	}, limits, logger.Named("llm"))

	provider, err := search.New(search.Config{
		Provider: cfg.Search.Provider,
		APIKey:   cfg.SearchAPIKey(),
		BaseURL:  cfg.Search.BaseURL,
		Timeout:  cfg.Search.Timeout,
		Breaker:  cfg.CircuitBreaker.Search,
	}, limits, logger.Named("search"))
	if err != nil {
		return orchestrator.Agents{}, err
	}

	deps := agents.Deps{
		LLM:     client,
		Prompts: set,
		Model:   cfg.LLM.Model,
		Logger:  logger.Named("agents"),
	}
	return orchestrator.Agents{
		Splitter:    agents.NewSplitter(deps, cfg.Research.NumSubtopics),
		Researcher:  agents.NewResearcher(deps, provider, cfg.Research.MaxSources, cfg.Research.MaxToolRounds),
		Synthesizer: agents.NewSynthesizer(deps),
		Critic:      agents.NewCritic(deps, models.ParseStrictness(cfg.Research.Strictness)),
	}, nil
}
