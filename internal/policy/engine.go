package policy

import (
	"container/list"
	"context"
	"embed"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"
)

const decisionQuery = "data.research.admission.decision"

//go:embed policies/*.rego
var builtinPolicies embed.FS

// Input is the admission request evaluated by the policy.
type Input struct {
	Topic      string `json:"topic"`
	Subject    string `json:"subject,omitempty"`
	Style      string `json:"style,omitempty"`
	Tone       string `json:"tone,omitempty"`
	Sequential bool   `json:"sequential"`
}

// Decision represents the policy evaluation result
type Decision struct {
	Allow   bool     `json:"allow"`
	Reasons []string `json:"reasons,omitempty"`
	// DryRunDenied is set when a dry-run policy would have denied the topic.
	DryRunDenied bool `json:"dry_run_denied,omitempty"`
}

// Reason joins the deny reasons.
func (d *Decision) Reason() string {
	if d == nil || len(d.Reasons) == 0 {
		return ""
	}
	return strings.Join(d.Reasons, "; ")
}

// Engine evaluates topic admission.
type Engine interface {
	Evaluate(ctx context.Context, input Input) (*Decision, error)
	Mode() Mode
}

// OPAEngine implements Engine with OPA rego.
type OPAEngine struct {
	config Config
	logger *zap.Logger

	mu       sync.RWMutex
	compiled *rego.PreparedEvalQuery
	cache    *decisionCache
}

// NewOPAEngine compiles the policies. Load failures are fatal only in
// fail-closed mode; otherwise the engine admits every topic.
func NewOPAEngine(config Config, logger *zap.Logger) (*OPAEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Mode == "" {
		config.Mode = ModeEnforce
	}
	e := &OPAEngine{
		config: config,
		logger: logger,
		cache:  newDecisionCache(1000, 5*time.Minute),
	}
	if config.Mode == ModeOff {
		return e, nil
	}
	if err := e.LoadPolicies(); err != nil {
		policyErrors.WithLabelValues("load").Inc()
		if config.FailClosed {
			return nil, fmt.Errorf("failed to load policies in fail-closed mode: %w", err)
		}
		logger.Warn("Failed to load policies, running in fail-open mode", zap.Error(err))
	}
	return e, nil
}

// Mode returns the configured enforcement mode.
func (e *OPAEngine) Mode() Mode { return e.config.Mode }

// LoadPolicies compiles the built-in policy or every .rego file under Path.
// It is safe to call again when the directory changes.
func (e *OPAEngine) LoadPolicies() error {
	modules, err := e.readModules()
	if err != nil {
		return err
	}
	if len(modules) == 0 {
		return fmt.Errorf("no policies found in %s", e.config.Path)
	}

	opts := []func(*rego.Rego){rego.Query(decisionQuery)}
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, rego.Module(name, modules[name]))
	}

	compiled, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to compile policies: %w", err)
	}

	e.mu.Lock()
	e.compiled = &compiled
	e.cache = newDecisionCache(1000, 5*time.Minute)
	e.mu.Unlock()

	policyModulesLoaded.Set(float64(len(modules)))
	e.logger.Info("Policies loaded and compiled successfully",
		zap.Int("policy_count", len(modules)),
		zap.String("decision_query", decisionQuery),
		zap.String("path", e.config.Path),
	)
	return nil
}

func (e *OPAEngine) readModules() (map[string]string, error) {
	modules := make(map[string]string)
	if e.config.Path == "" {
		err := fs.WalkDir(builtinPolicies, "policies", func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !strings.HasSuffix(path, ".rego") {
				return err
			}
			content, err := builtinPolicies.ReadFile(path)
			if err != nil {
				return err
			}
			modules[path] = string(content)
			return nil
		})
		return modules, err
	}

	err := filepath.Walk(e.config.Path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".rego") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read policy file %s: %w", path, err)
		}
		rel, _ := filepath.Rel(e.config.Path, path)
		modules[rel] = string(content)
		e.logger.Debug("Loaded policy file", zap.String("path", path))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk policy directory: %w", err)
	}
	return modules, nil
}

// Evaluate decides whether the topic may start a run.
func (e *OPAEngine) Evaluate(ctx context.Context, input Input) (*Decision, error) {
	if e.config.Mode == ModeOff {
		return &Decision{Allow: true}, nil
	}
	start := time.Now()
	mode := string(e.config.Mode)
	defer func() {
		policyEvaluationDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}()

	e.mu.RLock()
	compiled, cache := e.compiled, e.cache
	e.mu.RUnlock()

	if compiled == nil {
		return e.failure("no policies loaded", nil)
	}

	if d, ok := cache.Get(input); ok {
		policyCacheHits.Inc()
		return d, nil
	}

	results, err := compiled.Eval(ctx, rego.EvalInput(e.inputMap(input)))
	if err != nil {
		policyErrors.WithLabelValues("evaluation").Inc()
		e.logger.Error("Policy evaluation failed", zap.Error(err))
		return e.failure("policy evaluation error", err)
	}

	decision := parseResults(results)
	if !decision.Allow && e.config.Mode == ModeDryRun {
		policyDryRunDivergence.Inc()
		e.logger.Info("Dry-run policy would deny topic",
			zap.String("topic", input.Topic),
			zap.Strings("reasons", decision.Reasons),
		)
		decision.Allow = true
		decision.DryRunDenied = true
	}

	label := "allow"
	if !decision.Allow {
		label = "deny"
	}
	policyEvaluations.WithLabelValues(label, mode).Inc()
	cache.Set(input, decision)
	return decision, nil
}

func (e *OPAEngine) failure(reason string, err error) (*Decision, error) {
	if e.config.FailClosed {
		if err == nil {
			err = fmt.Errorf("%s", reason)
		}
		return &Decision{Allow: false, Reasons: []string{reason}}, err
	}
	return &Decision{Allow: true, Reasons: []string{reason}}, nil
}

func (e *OPAEngine) inputMap(in Input) map[string]interface{} {
	terms := make([]interface{}, 0, len(e.config.BlockedTerms))
	for _, t := range e.config.BlockedTerms {
		terms = append(terms, t)
	}
	return map[string]interface{}{
		"topic":            in.Topic,
		"subject":          in.Subject,
		"style":            in.Style,
		"tone":             in.Tone,
		"sequential":       in.Sequential,
		"blocked_terms":    terms,
		"max_topic_length": e.config.MaxTopicLength,
	}
}

func parseResults(results rego.ResultSet) *Decision {
	decision := &Decision{Allow: false, Reasons: []string{"no matching policy rules"}}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return decision
	}
	switch v := results[0].Expressions[0].Value.(type) {
	case map[string]interface{}:
		if allow, ok := v["allow"].(bool); ok {
			decision.Allow = allow
		}
		decision.Reasons = nil
		if reasons, ok := v["reasons"].([]interface{}); ok {
			for _, r := range reasons {
				if s, ok := r.(string); ok {
					decision.Reasons = append(decision.Reasons, s)
				}
			}
		}
		if reason, ok := v["reason"].(string); ok && reason != "" {
			decision.Reasons = append(decision.Reasons, reason)
		}
	case bool:
		decision.Allow = v
		decision.Reasons = nil
		if !v {
			decision.Reasons = []string{"denied by policy"}
		}
	}
	return decision
}

// --- decision cache (LRU with TTL) ---

type decisionCache struct {
	cap  int
	ttl  time.Duration
	mu   sync.Mutex
	list *list.List
	m    map[string]*list.Element
}

type cacheEntry struct {
	key       string
	expiresAt time.Time
	decision  Decision
}

func newDecisionCache(cap int, ttl time.Duration) *decisionCache {
	return &decisionCache{cap: cap, ttl: ttl, list: list.New(), m: make(map[string]*list.Element)}
}

func (c *decisionCache) makeKey(in Input) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(in.Topic)))
	return fmt.Sprintf("%s|%s|%s|%t|%x", in.Subject, in.Style, in.Tone, in.Sequential, h.Sum64())
}

func (c *decisionCache) Get(in Input) (*Decision, bool) {
	key := c.makeKey(in)
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.m[key]
	if !ok {
		return nil, false
	}
	ce := el.Value.(cacheEntry)
	if time.Now().After(ce.expiresAt) {
		c.list.Remove(el)
		delete(c.m, key)
		return nil, false
	}
	c.list.MoveToFront(el)
	d := ce.decision
	return &d, true
}

func (c *decisionCache) Set(in Input, d *Decision) {
	key := c.makeKey(in)
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := cacheEntry{key: key, expiresAt: time.Now().Add(c.ttl), decision: *d}
	if el, ok := c.m[key]; ok {
		el.Value = entry
		c.list.MoveToFront(el)
		return
	}
	c.m[key] = c.list.PushFront(entry)
	if c.list.Len() > c.cap {
		oldest := c.list.Back()
		c.list.Remove(oldest)
		delete(c.m, oldest.Value.(cacheEntry).key)
	}
}
