package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/riskflow/types"
)

func newTestCollector(t *testing.T) *Collector {
	c, err := New(prometheus.NewRegistry())
	require.Nil(t, err)
	return c
}

func TestCollectorCounters(t *testing.T) {
	c := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Increment("geoAlert")
		}()
	}
	wg.Wait()
	c.Increment("velocityWarn")

	assert.Equal(t, float64(50), testutil.ToFloat64(c.events.WithLabelValues("geoAlert")))
	snap := c.Snapshot()
	assert.Equal(t, int64(50), snap.Counters["geoAlert"])
	assert.Equal(t, int64(1), snap.Counters["velocityWarn"])
}

func TestCollectorDecisionsAndSavings(t *testing.T) {
	c := newTestCollector(t)

	c.RecordDecision(types.StatusApprove, 10)
	c.RecordDecision(types.StatusFlag, 20)
	c.RecordDecision(types.StatusBlock, 1000)
	c.RecordDecision(types.StatusBlock, 100)

	snap := c.Snapshot()
	assert.Equal(t, Totals{Processed: 4, Approved: 1, Flagged: 1, Blocked: 2}, snap.Totals)
	assert.Equal(t, 935.0, snap.EstimatedSavings)
	assert.Equal(t, float64(2), testutil.ToFloat64(c.decisions.WithLabelValues("BLOCK")))
	assert.InDelta(t, 935.0, testutil.ToFloat64(c.savings), 0.001)
}

func TestCollectorRollingAverages(t *testing.T) {
	c := newTestCollector(t)

	for i := 0; i < maxRiskSamples+10; i++ {
		c.RecordRisk(100)
	}
	c.RecordRisk(0)
	c.RecordLatency(10 * time.Millisecond)
	c.RecordLatency(20 * time.Millisecond)

	snap := c.Snapshot()
	assert.Equal(t, maxRiskSamples, snap.Risk.Samples)
	assert.Equal(t, 99.8, snap.Risk.AverageScore)
	assert.Equal(t, 2, snap.Latency.Samples)
	assert.Equal(t, 15.0, snap.Latency.AverageMs)
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.Nil(t, err)
	_, err = New(reg)
	assert.NotNil(t, err)
}
