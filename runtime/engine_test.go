package runtime

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/riskflow/metrics"
	"github.com/warriorguo/riskflow/store"
	"github.com/warriorguo/riskflow/store/mem"
	"github.com/warriorguo/riskflow/types"
	"github.com/warriorguo/riskflow/velocity"
)

func newTestEngine(t *testing.T, s store.Store) (*Engine, *metrics.Collector) {
	collector, err := metrics.New(prometheus.NewRegistry())
	require.Nil(t, err)

	opts := types.NewEngineOptions()
	opts.RecentLimit = 5
	opts.MaxConcurrency = 3
	services := &types.Services{VelocityCache: velocity.NewMemoryCache()}

	e, err := NewEngine(s, nil, services, collector, opts)
	require.Nil(t, err)
	t.Cleanup(func() {
		e.Close(context.Background())
	})
	return e, collector
}

func TestEngineBootstrapsDefaultWorkflow(t *testing.T) {
	s := mem.NewMemStore()
	e, _ := newTestEngine(t, s)

	active := e.ActiveWorkflow()
	assert.Equal(t, "Default Risk Flow", active.Name)
	assert.Equal(t, 1, active.Version)

	b, err := s.Get(context.Background(), WorkflowPath, activeWorkflowKey)
	assert.Nil(t, err)
	assert.Contains(t, string(b), active.ID)

	// the copy handed out is detached
	active.Nodes[0].Config["logEntry"] = false
	assert.Equal(t, true, e.ActiveWorkflow().Nodes[0].Config["logEntry"])

	// a second engine on the same store picks the workflow up
	again, _ := newTestEngine(t, s)
	assert.Equal(t, active.ID, again.ActiveWorkflow().ID)
}

func TestEngineSetWorkflow(t *testing.T) {
	e, _ := newTestEngine(t, mem.NewMemStore())
	ctx := context.Background()

	wf := workflowOf(node("geo", "GEO_CHECK", types.Data{"allowedCountries": []string{"US"}}))
	wf.ID = "strict"
	stored, err := e.SetWorkflow(ctx, wf)
	require.Nil(t, err)
	assert.Equal(t, 2, stored.Version)
	assert.Equal(t, "strict", e.ActiveWorkflow().ID)

	wf.Version = 10
	stored, err = e.SetWorkflow(ctx, wf)
	require.Nil(t, err)
	assert.Equal(t, 10, stored.Version)

	broken := workflowOf(node("x", "TELEPORT", nil))
	_, err = e.SetWorkflow(ctx, broken)
	assert.True(t, errors.Is(err, errors.NotValid))
	assert.Equal(t, 10, e.ActiveWorkflow().Version)

	record, err := e.Evaluate(ctx, riskyTransaction("tx-ru"))
	require.Nil(t, err)
	assert.Equal(t, types.StatusBlock, record.Decision.Status)
	assert.Equal(t, "strict", record.WorkflowID)
	assert.Equal(t, 10, record.WorkflowVersion)
}

func TestEngineEvaluate(t *testing.T) {
	s := mem.NewMemStore()
	e, collector := newTestEngine(t, s)
	ctx := context.Background()

	blocked, err := e.Evaluate(ctx, riskyTransaction("tx-ru"))
	require.Nil(t, err)
	assert.Equal(t, types.StatusBlock, blocked.Decision.Status)
	assert.NotEmpty(t, blocked.ID)
	assert.False(t, blocked.EndTime.Before(blocked.StartTime))

	approved, err := e.Evaluate(ctx, safeTransaction("tx-us"))
	require.Nil(t, err)
	assert.Equal(t, types.StatusApprove, approved.Decision.Status)

	snapshot := collector.Snapshot()
	assert.Equal(t, metrics.Totals{Processed: 2, Approved: 1, Blocked: 1}, snapshot.Totals)
	assert.Equal(t, 42500.0, snapshot.EstimatedSavings)
	assert.Equal(t, 2, snapshot.Latency.Samples)
	assert.Equal(t, int64(2), snapshot.Counters["transactionReceived"])
	assert.Equal(t, int64(1), snapshot.Counters["geoAlert"])
	assert.Equal(t, int64(1), snapshot.Counters["anomalyBlock"])
	assert.Equal(t, snapshot.Totals, e.Snapshot().Totals)

	got, err := e.GetRecord(ctx, blocked.ID)
	require.Nil(t, err)
	assert.Equal(t, blocked, got)

	_, err = e.GetRecord(ctx, "missing")
	assert.True(t, errors.Is(err, errors.NotFound))

	// records survive a restart
	restarted, _ := newTestEngine(t, s)
	got, err = restarted.GetRecord(ctx, approved.ID)
	require.Nil(t, err)
	assert.Equal(t, types.StatusApprove, got.Decision.Status)
	assert.Equal(t, "tx-us", got.Transaction.ID)
	recent := restarted.RecentRecords()
	require.Len(t, recent, 2)
	assert.Equal(t, blocked.ID, recent[0].ID)
	assert.Equal(t, approved.ID, recent[1].ID)
}

func TestEngineRecentLimitAndSuggestions(t *testing.T) {
	e, _ := newTestEngine(t, mem.NewMemStore())
	ctx := context.Background()

	var last *types.ExecutionRecord
	for i := 0; i < 8; i++ {
		tx := riskyTransaction(fmt.Sprintf("tx-%d", i))
		tx.Origin.DeviceID = fmt.Sprintf("dev-%d", i)
		record, err := e.Evaluate(ctx, tx)
		require.Nil(t, err)
		last = record
	}
	recent := e.RecentRecords()
	require.Len(t, recent, 5)
	assert.Equal(t, last.ID, recent[4].ID)

	titles := make([]string, 0)
	for _, s := range e.Suggestions() {
		titles = append(titles, s.Title)
	}
	assert.Contains(t, titles, "High block rate detected")
	assert.Contains(t, titles, "Elevated anomaly scores")
	assert.Contains(t, titles, "European traffic experiencing friction")
}

func TestEngineEvaluateBatch(t *testing.T) {
	e, collector := newTestEngine(t, mem.NewMemStore())

	txs := make([]*types.Transaction, 0)
	for i := 0; i < 12; i++ {
		if i%2 == 0 {
			txs = append(txs, riskyTransaction(fmt.Sprintf("tx-%d", i)))
		} else {
			txs = append(txs, safeTransaction(fmt.Sprintf("tx-%d", i)))
		}
	}
	records, err := e.EvaluateBatch(context.Background(), txs)
	require.Nil(t, err)
	require.Len(t, records, len(txs))
	for i, record := range records {
		assert.Equal(t, txs[i].ID, record.Transaction.ID)
	}
	assert.Equal(t, int64(12), collector.Snapshot().Totals.Processed)
}

func TestEngineStoreFailure(t *testing.T) {
	failing := false
	s := mem.NewMemStoreWithErrHandler(func() error {
		if failing {
			return errors.New("disk full")
		}
		return nil
	})
	e, _ := newTestEngine(t, s)

	failing = true
	record, err := e.Evaluate(context.Background(), safeTransaction("tx-us"))
	assert.NotNil(t, err)
	require.NotNil(t, record)
	assert.Equal(t, types.StatusApprove, record.Decision.Status)

	_, err = e.SetWorkflow(context.Background(), DefaultWorkflow())
	assert.NotNil(t, err)

	// the failing store cannot bootstrap a new engine either
	_, err = NewEngine(s, nil, nil, nil, nil)
	assert.NotNil(t, err)
}

func TestEngineRenderRecord(t *testing.T) {
	e, _ := newTestEngine(t, mem.NewMemStore())
	ctx := context.Background()

	record, err := e.Evaluate(ctx, riskyTransaction("tx-ru"))
	require.Nil(t, err)

	// a newer workflow does not change how old records render
	_, err = e.SetWorkflow(ctx, workflowOf(node("only", "DECISION", nil)))
	require.Nil(t, err)

	dot, err := e.RenderRecord(ctx, record.ID)
	require.Nil(t, err)
	assert.Contains(t, nodeLine(dot, "anomaly"), `color="red"`)
	assert.False(t, strings.Contains(dot, "only ["))

	_, err = e.RenderRecord(ctx, "missing")
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestEngineClose(t *testing.T) {
	e, _ := newTestEngine(t, mem.NewMemStore())

	order := make([]int, 0)
	e.OnClose(func() error { order = append(order, 1); return nil })
	e.OnClose(func() error { order = append(order, 2); return errors.New("close failed") })

	assert.NotNil(t, e.Close(context.Background()))
	assert.Nil(t, e.Close(context.Background()))
	assert.Equal(t, []int{2, 1}, order)
}
