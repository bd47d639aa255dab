package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/riskflow/metrics"
	"github.com/warriorguo/riskflow/runtime"
	"github.com/warriorguo/riskflow/store/mem"
	"github.com/warriorguo/riskflow/types"
	"github.com/warriorguo/riskflow/velocity"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	safeTx  = `{"id":"tx-safe","amount":42,"currency":"USD","timestamp":"2024-03-14T12:00:00Z","origin":{"country":"US","deviceId":"dev-safe"},"destination":{"country":"US"}}`
	riskyTx = `{"id":"tx-risky","amount":50000,"currency":"EUR","timestamp":1710417600000,"origin":{"country":"RU","region":"Europe","deviceId":"dev-risky"},"destination":{"country":"NG"},"metadata":{"paymentMethod":"crypto"}}`
)

func newTestServer(t *testing.T) (*Server, *runtime.Engine) {
	reg := prometheus.NewRegistry()
	collector, err := metrics.New(reg)
	require.Nil(t, err)

	opts := types.NewEngineOptions()
	opts.RecentLimit = 10
	services := &types.Services{VelocityCache: velocity.NewMemoryCache()}
	engine, err := runtime.NewEngine(mem.NewMemStore(), nil, services, collector, opts)
	require.Nil(t, err)
	t.Cleanup(func() { engine.Close(context.Background()) })

	s, err := New(engine, WithGatherer(reg), WithMaxBodyBytes(64*1024))
	require.Nil(t, err)
	return s, engine
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	var v T
	require.Nil(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestNewRequiresEngine(t *testing.T) {
	_, err := New(nil)
	assert.NotNil(t, err)
}

func TestHealth(t *testing.T) {
	s, engine := newTestServer(t)

	w := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, engine.ActiveWorkflow().ID, body["workflowId"])
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(requestIDHeader, "req-1")
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-1", w.Header().Get(requestIDHeader))
}

func TestWorkflowRoutes(t *testing.T) {
	s, engine := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/workflow", "")
	assert.Equal(t, http.StatusOK, w.Code)
	active := decode[types.Workflow](t, w)
	assert.Equal(t, "Default Risk Flow", active.Name)
	assert.Len(t, active.Nodes, 5)

	update := `{"id":"wf-geo","name":"Geo only","version":1,
		"nodes":[{"id":"geo","type":"GEO_CHECK","config":{"allowedCountries":["US"]}}],"edges":[]}`
	w = do(t, s, http.MethodPut, "/api/workflow", update)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[struct {
		Status   string         `json:"status"`
		Workflow types.Workflow `json:"workflow"`
	}](t, w)
	assert.Equal(t, "updated", updated.Status)
	assert.Equal(t, "wf-geo", updated.Workflow.ID)
	assert.Equal(t, 2, updated.Workflow.Version)
	assert.Equal(t, "wf-geo", engine.ActiveWorkflow().ID)

	w = do(t, s, http.MethodGet, "/api/workflow/dot", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/vnd.graphviz")
	assert.True(t, strings.HasPrefix(w.Body.String(), "digraph"))
}

func TestPutWorkflowRejectsInvalid(t *testing.T) {
	s, engine := newTestServer(t)
	before := engine.ActiveWorkflow()

	cases := []string{
		`{"id":`,
		`{"id":"wf","nodes":[{"id":"x","type":"NOT_A_NODE"}]}`,
		`{"id":"wf","nodes":[{"id":"a","type":"INPUT"},{"id":"b","type":"DECISION"}],
			"edges":[{"id":"e1","source":"a","target":"b"},{"id":"e2","source":"b","target":"a"}]}`,
		`{"id":"wf","nodes":[{"id":"a","type":"INPUT"}],"edges":[{"id":"e1","source":"a","target":"ghost"}]}`,
	}
	for _, body := range cases {
		w := do(t, s, http.MethodPut, "/api/workflow", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "invalid_request", decode[map[string]any](t, w)["error"])
	}
	assert.Equal(t, before, engine.ActiveWorkflow())
}

func TestEvaluateSingle(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/transactions/evaluate", safeTx)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	record := decode[types.ExecutionRecord](t, w)
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, "tx-safe", record.Transaction.ID)
	assert.Equal(t, types.StatusApprove, record.Decision.Status)
	assert.Len(t, record.History, 5)

	w = do(t, s, http.MethodPost, "/api/transactions/evaluate", riskyTx)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	record = decode[types.ExecutionRecord](t, w)
	assert.Equal(t, types.StatusBlock, record.Decision.Status)
	assert.Equal(t, []string{"anomaly"}, record.Decision.TriggeredBy)
	assert.Equal(t, time.UnixMilli(1710417600000).UTC(), record.Transaction.Timestamp.UTC())

	w = do(t, s, http.MethodGet, "/api/transactions/"+record.ID, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, record.ID, decode[types.ExecutionRecord](t, w).ID)

	w = do(t, s, http.MethodGet, "/api/transactions/"+record.ID+"/dot", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "anomaly")

	w = do(t, s, http.MethodGet, "/api/transactions/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode[map[string]any](t, w)["error"])

	w = do(t, s, http.MethodGet, "/api/transactions/missing/dot", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEvaluateBatchAndList(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/transactions/evaluate", "["+safeTx+","+riskyTx+"]")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	batch := decode[struct {
		Results []types.ExecutionRecord `json:"results"`
	}](t, w)
	require.Len(t, batch.Results, 2)
	assert.Equal(t, "tx-safe", batch.Results[0].Transaction.ID)
	assert.Equal(t, types.StatusApprove, batch.Results[0].Decision.Status)
	assert.Equal(t, "tx-risky", batch.Results[1].Transaction.ID)
	assert.Equal(t, types.StatusBlock, batch.Results[1].Decision.Status)

	w = do(t, s, http.MethodGet, "/api/transactions", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]types.ExecutionRecord](t, w), 2)

	w = do(t, s, http.MethodPost, "/api/transactions/evaluate", safeTx)
	require.Equal(t, http.StatusOK, w.Code)
	latest := decode[types.ExecutionRecord](t, w)

	w = do(t, s, http.MethodGet, "/api/transactions?limit=1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	listed := decode[[]types.ExecutionRecord](t, w)
	require.Len(t, listed, 1)
	assert.Equal(t, latest.ID, listed[0].ID)

	w = do(t, s, http.MethodGet, "/api/transactions?limit=oops", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvaluateRejectsBadBodies(t *testing.T) {
	s, _ := newTestServer(t)

	for _, body := range []string{"", "   ", "{", "[{]", `{"id":"x","timestamp":true}`} {
		w := do(t, s, http.MethodPost, "/api/transactions/evaluate", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "%q", body)
	}

	big := `{"id":"big","metadata":{"note":"` + strings.Repeat("x", 70*1024) + `"}}`
	w := do(t, s, http.MethodPost, "/api/transactions/evaluate", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestMetricsAndSuggestions(t *testing.T) {
	s, _ := newTestServer(t)

	for _, body := range []string{safeTx, riskyTx} {
		require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/transactions/evaluate", body).Code)
	}

	w := do(t, s, http.MethodGet, "/api/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	snapshot := decode[metrics.Snapshot](t, w)
	assert.Equal(t, int64(2), snapshot.Totals.Processed)
	assert.Equal(t, int64(1), snapshot.Totals.Blocked)
	assert.Equal(t, 42500.0, snapshot.EstimatedSavings)

	w = do(t, s, http.MethodGet, "/api/suggestions", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[[]map[string]any](t, w))

	w = do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `riskflow_decisions_total{status="BLOCK"} 1`)
}

func TestBlockAction(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/actions/block", `{"transactionId":"tx-1"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "tx-1", body["transactionId"])
	assert.Equal(t, "Manual block request accepted.", body["reason"])

	w = do(t, s, http.MethodPost, "/api/actions/block", `{"reason":"no id"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	s, _ := newTestServer(t)
	s.Router().GET("/panic", func(c *gin.Context) { panic("boom") })

	w := do(t, s, http.MethodGet, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal_error", decode[map[string]any](t, w)["error"])
}

func TestRunAndShutdown(t *testing.T) {
	s, _ := newTestServer(t)
	s.opts.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.Nil(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	// shutting down twice is harmless
	assert.Nil(t, s.Shutdown())
}
