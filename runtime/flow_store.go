package runtime

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/riskflow/types"
	"github.com/warriorguo/riskflow/utils"
)

const (
	WorkflowPath  = "/workflow/"
	ExecutionPath = "/execution/"

	activeWorkflowKey = "active"
)

func workflowVersionKey(id string, version int) string {
	return fmt.Sprintf("%s@%d", id, version)
}

// saveWorkflow stores w both as the active workflow and under its version,
// so old execution records can still be rendered.
func (e *Engine) saveWorkflow(ctx context.Context, w *types.Workflow) error {
	b, err := utils.Serialize(w)
	if err != nil {
		return errors.Trace(err)
	}
	if err := e.store.Set(ctx, WorkflowPath, workflowVersionKey(w.ID, w.Version), b); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(e.store.Set(ctx, WorkflowPath, activeWorkflowKey, b))
}

func (e *Engine) loadWorkflow(ctx context.Context, key string) (*types.Workflow, error) {
	b, err := e.store.Get(ctx, WorkflowPath, key)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if b == nil {
		return nil, errors.NotFoundf("workflow: %s", key)
	}
	w := &types.Workflow{}
	if err := utils.Unserialize(b, w); err != nil {
		return nil, errors.Annotatef(err, "unserialize workflow %s", key)
	}
	return w, nil
}

func (e *Engine) saveRecord(ctx context.Context, record *types.ExecutionRecord) error {
	b, err := utils.Serialize(record)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(e.store.Set(ctx, ExecutionPath, record.ID, b))
}

func (e *Engine) loadRecord(ctx context.Context, id string) (*types.ExecutionRecord, error) {
	b, err := e.store.Get(ctx, ExecutionPath, id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if b == nil {
		return nil, errors.NotFoundf("execution record: %s", id)
	}
	record := &types.ExecutionRecord{}
	if err := utils.Unserialize(b, record); err != nil {
		return nil, errors.Annotatef(err, "unserialize execution record %s", id)
	}
	return record, nil
}

// loadRecentRecords warms the in-memory ring from the store. Record order
// in the store is not guaranteed, so they are sorted by start time.
func (e *Engine) loadRecentRecords(ctx context.Context) ([]*types.ExecutionRecord, error) {
	records := make([]*types.ExecutionRecord, 0)
	err := e.store.List(ctx, ExecutionPath, func(id string) bool {
		record, err := e.loadRecord(ctx, id)
		if err != nil {
			log.Errorf("load %s %s from store failed: %v", ExecutionPath, id, err)
			return true
		}
		records = append(records, record)
		return true
	})
	return records, errors.Trace(err)
}

func (e *Engine) workflowForRecord(ctx context.Context, record *types.ExecutionRecord) (*types.Workflow, error) {
	active := e.ActiveWorkflow()
	if active.ID == record.WorkflowID && active.Version == record.WorkflowVersion {
		return active, nil
	}
	w, err := e.loadWorkflow(ctx, workflowVersionKey(record.WorkflowID, record.WorkflowVersion))
	if errors.Is(err, errors.NotFound) {
		log.Warnf("workflow %s@%d of record %s is gone, rendering the active one",
			record.WorkflowID, record.WorkflowVersion, record.ID)
		return active, nil
	}
	return w, errors.Trace(err)
}
