package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	descLevelHits = prometheus.NewDesc(
		"rescache_level_hits_total",
		"Cache hits per level.",
		[]string{"level"}, nil,
	)
	descLevelMisses = prometheus.NewDesc(
		"rescache_level_misses_total",
		"Cache misses per level.",
		[]string{"level"}, nil,
	)
	descGets = prometheus.NewDesc(
		"rescache_gets_total",
		"Total cache lookups.",
		nil, nil,
	)
	descHits = prometheus.NewDesc(
		"rescache_hits_total",
		"Total cache lookups that hit any level.",
		nil, nil,
	)
	descPuts = prometheus.NewDesc(
		"rescache_puts_total",
		"Total cache writes.",
		nil, nil,
	)
	descHitRate = prometheus.NewDesc(
		"rescache_hit_rate",
		"Overall cache hit rate.",
		nil, nil,
	)
	descCostSaved = prometheus.NewDesc(
		"rescache_estimated_cost_saved_dollars",
		"Estimated dollars saved by serving hits instead of pipeline calls.",
		nil, nil,
	)
)

type collector struct {
	engine *Engine
}

var _ prometheus.Collector = (*collector)(nil)

// NewCollector returns a prometheus.Collector that reads the engine's
// metrics snapshot on scrape. The aggregator stays the source of truth;
// Prometheus just gets a view of it.
func NewCollector(e *Engine) prometheus.Collector {
	return &collector{engine: e}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descLevelHits
	ch <- descLevelMisses
	ch <- descGets
	ch <- descHits
	ch <- descPuts
	ch <- descHitRate
	ch <- descCostSaved
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.engine.Metrics()
	for level, m := range s.PerLevel {
		ch <- prometheus.MustNewConstMetric(descLevelHits, prometheus.CounterValue, float64(m.Hits), level)
		ch <- prometheus.MustNewConstMetric(descLevelMisses, prometheus.CounterValue, float64(m.Misses), level)
	}
	ch <- prometheus.MustNewConstMetric(descGets, prometheus.CounterValue, float64(s.Gets))
	ch <- prometheus.MustNewConstMetric(descHits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(descPuts, prometheus.CounterValue, float64(s.Puts))
	ch <- prometheus.MustNewConstMetric(descHitRate, prometheus.GaugeValue, s.OverallHitRate)
	ch <- prometheus.MustNewConstMetric(descCostSaved, prometheus.GaugeValue, s.EstimatedCostSaved)
}
