// Package metrics implements the node metrics side channel on Prometheus
// and keeps a rolling in-memory snapshot for dashboards and suggestions.
package metrics

import (
	"math"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/warriorguo/riskflow/types"
)

var (
	_ types.Metrics = &Collector{}
)

const (
	namespace = "riskflow"

	maxLatencySamples = 1000
	maxRiskSamples    = 500
	// share of a blocked amount assumed to be saved
	savingsRatio = 0.85
)

type Totals struct {
	Processed int64 `json:"processed"`
	Approved  int64 `json:"approved"`
	Flagged   int64 `json:"flagged"`
	Blocked   int64 `json:"blocked"`
}

type LatencyStats struct {
	AverageMs float64 `json:"averageMs"`
	Samples   int     `json:"samples"`
}

type RiskStats struct {
	AverageScore float64 `json:"averageScore"`
	Samples      int     `json:"samples"`
}

type Snapshot struct {
	Totals           Totals           `json:"totals"`
	EstimatedSavings float64          `json:"estimatedSavings"`
	Latency          LatencyStats     `json:"latency"`
	Risk             RiskStats        `json:"risk"`
	Counters         map[string]int64 `json:"counters"`
}

// Collector is safe for concurrent use.
type Collector struct {
	events    *prometheus.CounterVec
	decisions *prometheus.CounterVec
	risk      prometheus.Histogram
	latency   prometheus.Histogram
	savings   prometheus.Counter

	mu               sync.Mutex
	totals           Totals
	estimatedSavings float64
	latencySamples   []float64
	riskSamples      []int
	counters         map[string]int64
}

// New creates a collector and registers it with reg, or with
// prometheus.DefaultRegisterer when reg is nil.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_events_total",
			Help:      "Events reported by risk nodes, by key.",
		}, []string{"key"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Terminal decisions by status.",
		}, []string{"status"}),
		risk: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Risk scores (0-100) recorded by scoring nodes.",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Time to run one transaction through the workflow.",
			Buckets:   prometheus.DefBuckets,
		}),
		savings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimated_savings_total",
			Help:      "Estimated amount saved by blocked transactions.",
		}),
		counters: make(map[string]int64),
	}
	for _, collector := range []prometheus.Collector{c.events, c.decisions, c.risk, c.latency, c.savings} {
		if err := reg.Register(collector); err != nil {
			return nil, errors.Annotatef(err, "register metrics")
		}
	}
	return c, nil
}

func (c *Collector) Increment(key string) {
	c.events.WithLabelValues(key).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
}

func (c *Collector) RecordRisk(score int) {
	c.risk.Observe(float64(score))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.riskSamples = appendBounded(c.riskSamples, score, maxRiskSamples)
}

// RecordDecision counts a terminal decision for the transaction amount.
func (c *Collector) RecordDecision(status types.Status, amount float64) {
	c.decisions.WithLabelValues(string(status)).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals.Processed++
	switch status {
	case types.StatusApprove:
		c.totals.Approved++
	case types.StatusFlag:
		c.totals.Flagged++
	case types.StatusBlock:
		c.totals.Blocked++
		saved := amount * savingsRatio
		if saved > 0 {
			c.estimatedSavings += saved
			c.savings.Add(saved)
		}
	}
}

func (c *Collector) RecordLatency(d time.Duration) {
	c.latency.Observe(d.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.latencySamples = appendBounded(c.latencySamples, float64(d)/float64(time.Millisecond), maxLatencySamples)
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	counters := make(map[string]int64, len(c.counters))
	for k, v := range c.counters {
		counters[k] = v
	}

	var latencySum float64
	for _, v := range c.latencySamples {
		latencySum += v
	}
	var riskSum float64
	for _, v := range c.riskSamples {
		riskSum += float64(v)
	}

	return Snapshot{
		Totals:           c.totals,
		EstimatedSavings: round2(c.estimatedSavings),
		Latency:          LatencyStats{AverageMs: round2(average(latencySum, len(c.latencySamples))), Samples: len(c.latencySamples)},
		Risk:             RiskStats{AverageScore: round2(average(riskSum, len(c.riskSamples))), Samples: len(c.riskSamples)},
		Counters:         counters,
	}
}

func appendBounded[T any](s []T, v T, max int) []T {
	s = append(s, v)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}

func average(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
