package runtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/riskflow/metrics"
	"github.com/warriorguo/riskflow/store"
	"github.com/warriorguo/riskflow/suggestions"
	"github.com/warriorguo/riskflow/types"
)

// Engine owns the active workflow and evaluates transactions against it,
// recording metrics and an execution record for each one.
type Engine struct {
	ctx    context.Context
	cancel context.CancelFunc

	store     store.Store
	registry  *Registry
	services  *types.Services
	collector *metrics.Collector
	opts      *types.EngineOptions

	mu       sync.RWMutex
	workflow *types.Workflow
	recent   []*types.ExecutionRecord

	closeMu sync.Mutex
	closers []func() error
	closed  bool
}

// NewEngine loads the active workflow from s, saving DefaultWorkflow when
// there is none. collector may be nil; when set it also becomes the
// services metrics sink if none was given.
func NewEngine(s store.Store, registry *Registry, services *types.Services, collector *metrics.Collector,
	opts *types.EngineOptions) (*Engine, error) {
	if s == nil {
		return nil, errors.NotValidf("nil store")
	}
	if registry == nil {
		registry = NewDefaultRegistry()
	}
	if services == nil {
		services = &types.Services{}
	}
	if services.Metrics == nil && collector != nil {
		services.Metrics = collector
	}
	if opts == nil {
		opts = types.NewEngineOptions()
	}

	e := &Engine{
		store:     s,
		registry:  registry,
		services:  services,
		collector: collector,
		opts:      opts,
	}
	e.ctx, e.cancel = context.WithCancel(opts.Ctx)

	if err := e.loadActive(e.ctx); err != nil {
		e.cancel()
		return nil, errors.Trace(err)
	}
	if err := e.warmRecent(e.ctx); err != nil {
		log.Warnf("failed to load recent execution records: %v", err)
	}
	return e, nil
}

func (e *Engine) loadActive(ctx context.Context) error {
	w, err := e.loadWorkflow(ctx, activeWorkflowKey)
	switch {
	case err == nil:
		if verr := ValidateWorkflow(w); verr != nil {
			log.Warnf("stored workflow %s is invalid, keeping it anyway: %v", w.ID, verr)
		}
		log.Infof("loaded workflow %s (%s) version %d", w.ID, w.Name, w.Version)
	case errors.Is(err, errors.NotFound):
		w = DefaultWorkflow()
		log.Infof("no workflow stored, activating default %s", w.ID)
		if err := e.saveWorkflow(ctx, w); err != nil {
			return errors.Annotatef(err, "save default workflow")
		}
	default:
		return errors.Annotatef(err, "load active workflow")
	}

	e.mu.Lock()
	e.workflow = w
	e.mu.Unlock()
	return nil
}

func (e *Engine) warmRecent(ctx context.Context) error {
	records, err := e.loadRecentRecords(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartTime.Before(records[j].StartTime)
	})
	if limit := e.opts.RecentLimit; limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.recent = records
	return nil
}

// ActiveWorkflow returns a copy of the workflow in use.
func (e *Engine) ActiveWorkflow() *types.Workflow {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.workflow.Clone()
}

// SetWorkflow validates w, bumps its version past the active one, persists
// it and activates it. The stored copy is returned.
func (e *Engine) SetWorkflow(ctx context.Context, w *types.Workflow) (*types.Workflow, error) {
	if err := ValidateWorkflow(w); err != nil {
		return nil, errors.Trace(err)
	}
	w = w.Clone()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.workflow != nil && w.Version <= e.workflow.Version {
		w.Version = e.workflow.Version + 1
	}
	if w.Version <= 0 {
		w.Version = 1
	}
	if err := e.saveWorkflow(ctx, w); err != nil {
		return nil, errors.Annotatef(err, "save workflow %s", w.ID)
	}
	e.workflow = w
	log.Infof("activated workflow %s (%s) version %d", w.ID, w.Name, w.Version)
	return w.Clone(), nil
}

func (e *Engine) executeOptions() []ExecuteOption {
	return []ExecuteOption{WithNodeTimeout(e.opts.NodeTimeout)}
}

// Evaluate runs tx through the active workflow. Only persisting the record
// can fail; the decision is returned either way.
func (e *Engine) Evaluate(ctx context.Context, tx *types.Transaction) (*types.ExecutionRecord, error) {
	workflow := e.ActiveWorkflow()

	start := time.Now()
	result := Execute(ctx, e.registry, workflow, tx, e.services, e.executeOptions()...)
	return e.record(ctx, workflow, tx, result, start, time.Since(start))
}

// EvaluateBatch evaluates txs against one snapshot of the active workflow,
// at most MaxConcurrency at a time through the same fanOut as ExecuteBatch.
// Records come back in input order; the error joins every failed save.
func (e *Engine) EvaluateBatch(ctx context.Context, txs []*types.Transaction) ([]*types.ExecutionRecord, error) {
	records := make([]*types.ExecutionRecord, len(txs))
	errs := make([]error, len(txs))

	workflow := e.ActiveWorkflow()
	options := e.executeOptions()
	fanOut(len(txs), e.opts.MaxConcurrency, func(i int) {
		start := time.Now()
		result := Execute(ctx, e.registry, workflow, txs[i], e.services, options...)
		records[i], errs[i] = e.record(ctx, workflow, txs[i], result, start, time.Since(start))
	})

	var retErr error
	for i, err := range errs {
		if err != nil {
			retErr = errors.Wrapf(retErr, err, "record transaction %d", i)
		}
	}
	return records, retErr
}

func (e *Engine) record(ctx context.Context, workflow *types.Workflow, tx *types.Transaction,
	result *types.ExecutionResult, start time.Time, latency time.Duration) (*types.ExecutionRecord, error) {
	var amount float64
	if tx != nil {
		amount = tx.Amount
	}
	if e.collector != nil {
		e.collector.RecordDecision(result.Decision.Status, amount)
		e.collector.RecordLatency(latency)
	}

	record := &types.ExecutionRecord{
		ID:              uuid.NewString(),
		WorkflowID:      workflow.ID,
		WorkflowVersion: workflow.Version,
		Transaction:     tx,
		Decision:        result.Decision,
		History:         result.History,
		StartTime:       start,
		EndTime:         start.Add(latency),
		LatencyMs:       float64(latency) / float64(time.Millisecond),
	}
	e.pushRecent(record)

	if err := e.saveRecord(ctx, record); err != nil {
		log.Errorf("failed to save execution record %s: %v", record.ID, err)
		return record, errors.Trace(err)
	}
	return record, nil
}

func (e *Engine) pushRecent(record *types.ExecutionRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.recent = append(e.recent, record)
	if limit := e.opts.RecentLimit; limit > 0 && len(e.recent) > limit {
		e.recent = append([]*types.ExecutionRecord(nil), e.recent[len(e.recent)-limit:]...)
	}
}

// RecentRecords returns the kept records, oldest first.
func (e *Engine) RecentRecords() []*types.ExecutionRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*types.ExecutionRecord(nil), e.recent...)
}

func (e *Engine) GetRecord(ctx context.Context, id string) (*types.ExecutionRecord, error) {
	e.mu.RLock()
	for i := len(e.recent) - 1; i >= 0; i-- {
		if e.recent[i].ID == id {
			record := e.recent[i]
			e.mu.RUnlock()
			return record, nil
		}
	}
	e.mu.RUnlock()

	record, err := e.loadRecord(ctx, id)
	return record, errors.Trace(err)
}

// Snapshot is the metrics summary; empty when no collector is attached.
func (e *Engine) Snapshot() metrics.Snapshot {
	if e.collector == nil {
		return metrics.Snapshot{Counters: map[string]int64{}}
	}
	return e.collector.Snapshot()
}

func (e *Engine) Suggestions() []suggestions.Suggestion {
	return suggestions.Generate(e.Snapshot(), e.RecentRecords())
}

// OnClose registers fn to run when the engine closes, in reverse order.
func (e *Engine) OnClose(fn func() error) {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	e.closers = append(e.closers, fn)
}

func (e *Engine) Close(ctx context.Context) error {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.cancel()

	var retErr error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			retErr = errors.Wrapf(retErr, err, "close engine")
		}
	}
	return retErr
}
