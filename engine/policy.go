package engine

import (
	"fmt"
	"time"
)

// Strategy selects how a cache level matches queries.
type Strategy string

const (
	// StrategyExact matches on the canonical key digest only.
	StrategyExact Strategy = "exact"
	// StrategySemantic matches embedded queries by cosine similarity.
	StrategySemantic Strategy = "semantic"
)

// Default level names. Levels are configuration, not code — deployments may
// rename them or add their own — but these four cover the standard chatbot
// pipeline stages.
const (
	LevelConversation = "conversation"
	LevelIntent       = "intent"
	LevelKnowledge    = "knowledge"
	LevelFullResponse = "full_response"
)

// Policy is the per-level cache policy: how keys are matched, how long
// entries live, and how much recent conversation participates in the key.
type Policy struct {
	// Name identifies the level and namespaces its stored keys.
	Name string `yaml:"name"`
	// TTL is how long entries in this level stay readable.
	TTL time.Duration `yaml:"-"`
	// Strategy is exact or semantic.
	Strategy Strategy `yaml:"strategy"`
	// SimilarityThreshold is the minimum cosine similarity for a semantic
	// hit. Only meaningful when Strategy is semantic.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	// KeyWindow is how many trailing conversation turns join the query in
	// the exact key. Zero keys on the query alone.
	KeyWindow int `yaml:"key_window"`
	// TopK is how many index candidates a semantic lookup considers.
	// Defaults to DefaultTopK.
	TopK int `yaml:"top_k"`
}

// DefaultTopK is the semantic candidate count used when a policy leaves
// TopK unset.
const DefaultTopK = 4

// DefaultCostPerCall is the assumed dollar cost of one full pipeline
// invocation, used for the estimated-savings metric.
const DefaultCostPerCall = 0.002

// Config configures an Engine. All tuning lives here, passed at
// construction — there is no package-level state to mutate.
type Config struct {
	// Levels in lookup priority order, fastest/narrowest first. The order
	// is fixed for the life of the engine.
	Levels []Policy
	// CostPerCall is the estimated dollar cost of one expensive pipeline
	// call, used to report estimated savings. Defaults to
	// DefaultCostPerCall.
	CostPerCall float64
}

// DefaultConfig returns the standard four-level chatbot configuration:
// short-lived exact conversation entries, longer-lived intent entries, and
// semantic knowledge/full-response levels.
func DefaultConfig() Config {
	return Config{
		Levels: []Policy{
			{Name: LevelConversation, TTL: 30 * time.Minute, Strategy: StrategyExact, KeyWindow: 3},
			{Name: LevelIntent, TTL: 6 * time.Hour, Strategy: StrategyExact, KeyWindow: 0},
			{Name: LevelKnowledge, TTL: 24 * time.Hour, Strategy: StrategySemantic, SimilarityThreshold: 0.85, KeyWindow: 0},
			{Name: LevelFullResponse, TTL: time.Hour, Strategy: StrategySemantic, SimilarityThreshold: 0.92, KeyWindow: 3},
		},
		CostPerCall: DefaultCostPerCall,
	}
}

func (c *Config) validate() error {
	if len(c.Levels) == 0 {
		return fmt.Errorf("engine: config needs at least one level")
	}
	seen := make(map[string]bool, len(c.Levels))
	for i := range c.Levels {
		level := &c.Levels[i]
		if level.Name == "" {
			return fmt.Errorf("engine: level %d has no name", i)
		}
		if seen[level.Name] {
			return fmt.Errorf("engine: duplicate level %q", level.Name)
		}
		seen[level.Name] = true
		if level.TTL <= 0 {
			return fmt.Errorf("engine: level %q needs a positive ttl", level.Name)
		}
		switch level.Strategy {
		case StrategyExact:
		case StrategySemantic:
			if level.SimilarityThreshold <= 0 || level.SimilarityThreshold > 1 {
				return fmt.Errorf("engine: level %q similarity threshold must be in (0, 1]", level.Name)
			}
			if level.TopK == 0 {
				level.TopK = DefaultTopK
			}
			if level.TopK < 0 {
				return fmt.Errorf("engine: level %q top_k must be positive", level.Name)
			}
		default:
			return fmt.Errorf("engine: level %q has unknown strategy %q", level.Name, level.Strategy)
		}
		if level.KeyWindow < 0 {
			return fmt.Errorf("engine: level %q key_window must not be negative", level.Name)
		}
	}
	if c.CostPerCall == 0 {
		c.CostPerCall = DefaultCostPerCall
	}
	if c.CostPerCall < 0 {
		return fmt.Errorf("engine: cost_per_call must not be negative")
	}
	return nil
}

func (c *Config) policy(name string) (*Policy, bool) {
	for i := range c.Levels {
		if c.Levels[i].Name == name {
			return &c.Levels[i], true
		}
	}
	return nil, false
}
