// Package prompts holds the system and user prompt templates for every agent,
// plus the style, tone and strictness instruction tables.
package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Template names accepted by Render.
const (
	SplitterSystem    = "splitter.system"
	SplitterUser      = "splitter.user"
	ResearcherSystem  = "researcher.system"
	ResearcherUser    = "researcher.user"
	ResearcherFinal   = "researcher.finalize"
	SynthesizerSystem = "synthesizer.system"
	SynthesizerUser   = "synthesizer.user"
	SynthesizerRevise = "synthesizer.revise"
	CriticSystem      = "critic.system"
	CriticUser        = "critic.user"
)

type pair struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type researcherPrompts struct {
	System          string `yaml:"system"`
	User            string `yaml:"user"`
	Finalize        string `yaml:"finalize"`
	ToolDescription string `yaml:"tool_description"`
}

type synthesizerPrompts struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
	Revise string `yaml:"revise"`
}

// StrictnessRow is the critic wording for one strictness level.
type StrictnessRow struct {
	Description       string `yaml:"description"`
	RevisionThreshold string `yaml:"revision_threshold"`
}

type document struct {
	Splitter    pair                     `yaml:"splitter"`
	Researcher  researcherPrompts        `yaml:"researcher"`
	Synthesizer synthesizerPrompts       `yaml:"synthesizer"`
	Critic      pair                     `yaml:"critic"`
	Styles      map[string]string        `yaml:"styles"`
	Tones       map[string]string        `yaml:"tones"`
	Strictness  map[string]StrictnessRow `yaml:"strictness"`
}

// Set is a compiled prompt table. It is immutable and safe for concurrent use.
type Set struct {
	doc  document
	tmpl *template.Template
}

var funcs = template.FuncMap{
	"upper": strings.ToUpper,
	"join":  strings.Join,
}

// Default returns the embedded prompt set.
func Default() *Set {
	s, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("embedded prompts are invalid: %v", err))
	}
	return s
}

// Load decodes the embedded defaults and overlays path when it is non-empty.
// Only keys present in the overlay replace defaults.
func Load(path string) (*Set, error) {
	var doc document
	if err := decode(bytes.NewReader(defaultsYAML), &doc); err != nil {
		return nil, fmt.Errorf("decode default prompts: %w", err)
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open prompts %s: %w", path, err)
		}
		defer f.Close()
		if err := decode(f, &doc); err != nil {
			return nil, fmt.Errorf("decode prompts %s: %w", path, err)
		}
	}
	return compile(doc)
}

func decode(r io.Reader, doc *document) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(doc); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func compile(doc document) (*Set, error) {
	root := template.New("prompts").Funcs(funcs).Option("missingkey=error")
	sources := map[string]string{
		SplitterSystem:    doc.Splitter.System,
		SplitterUser:      doc.Splitter.User,
		ResearcherSystem:  doc.Researcher.System,
		ResearcherUser:    doc.Researcher.User,
		ResearcherFinal:   doc.Researcher.Finalize,
		SynthesizerSystem: doc.Synthesizer.System,
		SynthesizerUser:   doc.Synthesizer.User,
		SynthesizerRevise: doc.Synthesizer.Revise,
		CriticSystem:      doc.Critic.System,
		CriticUser:        doc.Critic.User,
	}
	for name, src := range sources {
		if strings.TrimSpace(src) == "" {
			return nil, fmt.Errorf("prompt %s is empty", name)
		}
		if _, err := root.New(name).Parse(src); err != nil {
			return nil, fmt.Errorf("parse prompt %s: %w", name, err)
		}
	}
	return &Set{doc: doc, tmpl: root}, nil
}

// Render executes the named template with data.
func (s *Set) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return buf.String(), nil
}

// Style returns the instruction for style, falling back to Technical.
func (s *Set) Style(style models.Style) string {
	if v, ok := s.doc.Styles[string(style)]; ok {
		return v
	}
	return s.doc.Styles[string(models.StyleTechnical)]
}

// Tone returns the instruction for tone, falling back to Neutral.
func (s *Set) Tone(tone models.Tone) string {
	if v, ok := s.doc.Tones[string(tone)]; ok {
		return v
	}
	return s.doc.Tones[string(models.ToneNeutral)]
}

// Strictness returns the critic wording, falling back to balanced.
func (s *Set) Strictness(level models.Strictness) StrictnessRow {
	if v, ok := s.doc.Strictness[string(level)]; ok {
		return v
	}
	return s.doc.Strictness[string(models.StrictnessBalanced)]
}

// SearchToolDescription is the description of the web_search tool schema.
func (s *Set) SearchToolDescription() string { return s.doc.Researcher.ToolDescription }
