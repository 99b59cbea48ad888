package engine

import (
	"fmt"
	"os"

	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// yamlConfig is the on-disk shape of Config. TTLs are human duration
// strings ("45m", "1d12h") parsed with str2duration.
type yamlConfig struct {
	Levels []struct {
		Name                string  `yaml:"name"`
		TTL                 string  `yaml:"ttl"`
		Strategy            string  `yaml:"strategy"`
		SimilarityThreshold float64 `yaml:"similarity_threshold"`
		KeyWindow           int     `yaml:"key_window"`
		TopK                int     `yaml:"top_k"`
	} `yaml:"levels"`
	CostPerCall float64 `yaml:"cost_per_call"`
}

// ParseConfig decodes a YAML configuration document into a validated
// Config.
func ParseConfig(data []byte) (Config, error) {
	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("engine: failed to parse config: %w", err)
	}
	cfg := Config{CostPerCall: raw.CostPerCall}
	for _, level := range raw.Levels {
		ttl, err := str2duration.ParseDuration(level.TTL)
		if err != nil {
			return Config{}, fmt.Errorf("engine: level %q has invalid ttl %q: %w", level.Name, level.TTL, err)
		}
		cfg.Levels = append(cfg.Levels, Policy{
			Name:                level.Name,
			TTL:                 ttl,
			Strategy:            Strategy(level.Strategy),
			SimilarityThreshold: level.SimilarityThreshold,
			KeyWindow:           level.KeyWindow,
			TopK:                level.TopK,
		})
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("engine: failed to read config: %w", err)
	}
	return ParseConfig(data)
}
