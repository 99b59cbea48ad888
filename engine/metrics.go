package engine

import "sync/atomic"

type levelCounters struct {
	hits   atomic.Uint64
	misses atomic.Uint64
}

// aggregator tracks hit/miss bookkeeping with atomic counters. The level
// set is fixed at construction so reads never need a lock.
type aggregator struct {
	levels      map[string]*levelCounters
	gets        atomic.Uint64
	hits        atomic.Uint64
	puts        atomic.Uint64
	costPerCall float64
}

func newAggregator(cfg Config) *aggregator {
	a := &aggregator{
		levels:      make(map[string]*levelCounters, len(cfg.Levels)),
		costPerCall: cfg.CostPerCall,
	}
	for _, level := range cfg.Levels {
		a.levels[level.Name] = &levelCounters{}
	}
	return a
}

func (a *aggregator) levelHit(name string) {
	if c, ok := a.levels[name]; ok {
		c.hits.Add(1)
	}
}

func (a *aggregator) levelMiss(name string) {
	if c, ok := a.levels[name]; ok {
		c.misses.Add(1)
	}
}

func (a *aggregator) get(hit bool) {
	a.gets.Add(1)
	if hit {
		a.hits.Add(1)
	}
}

func (a *aggregator) put() {
	a.puts.Add(1)
}

// LevelMetrics is the per-level slice of a metrics snapshot.
type LevelMetrics struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Snapshot is a point-in-time read of the engine's counters. Counters are
// read individually without a global lock, so a snapshot taken under
// concurrent traffic can be off by in-flight operations — fine for
// monitoring, which is all this is for.
type Snapshot struct {
	PerLevel           map[string]LevelMetrics `json:"per_level"`
	Gets               uint64                  `json:"gets"`
	Hits               uint64                  `json:"hits"`
	Puts               uint64                  `json:"puts"`
	OverallHitRate     float64                 `json:"overall_hit_rate"`
	EstimatedCostSaved float64                 `json:"estimated_cost_saved"`
}

func (a *aggregator) snapshot() Snapshot {
	s := Snapshot{
		PerLevel: make(map[string]LevelMetrics, len(a.levels)),
		Gets:     a.gets.Load(),
		Hits:     a.hits.Load(),
		Puts:     a.puts.Load(),
	}
	for name, c := range a.levels {
		m := LevelMetrics{Hits: c.hits.Load(), Misses: c.misses.Load()}
		if total := m.Hits + m.Misses; total > 0 {
			m.HitRate = float64(m.Hits) / float64(total)
		}
		s.PerLevel[name] = m
	}
	if s.Gets > 0 {
		s.OverallHitRate = float64(s.Hits) / float64(s.Gets)
	}
	s.EstimatedCostSaved = float64(s.Hits) * a.costPerCall
	return s
}
