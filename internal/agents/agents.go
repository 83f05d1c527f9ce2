// Package agents implements the four LLM roles of the research pipeline:
// splitter, researcher, synthesizer and critic.
package agents

import (
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/research/internal/prompts"
)

// Deps are shared by every agent.
type Deps struct {
	LLM     llm.Client
	Prompts *prompts.Set
	Model   string
	Logger  *zap.Logger
	// Now stamps metadata; defaults to time.Now in UTC.
	Now func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Prompts == nil {
		d.Prompts = prompts.Default()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return d
}
