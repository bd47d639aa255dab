package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/riskflow/types"
)

// nodeRuntime is one resolved workflow node, ready to be invoked.
type nodeRuntime struct {
	node    *types.WorkflowNode
	kind    types.NodeKind
	handler types.NodeHandler
	timeout time.Duration
}

func (n *nodeRuntime) runHandler(ctx context.Context, in *types.NodeInput) (result *types.NodeResult, retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = types.NewFatalErrorf(n.node.ID, types.FailurePanic, "%v", r)
		}
	}()
	result, retErr = n.handler.Handle(ctx, in)
	if retErr != nil {
		return nil, types.NewFatalError(n.node.ID, types.FailureError, retErr)
	}
	if result == nil {
		return nil, types.NewFatalErrorf(n.node.ID, types.FailureNoResult, "handler returned no result")
	}
	return result, nil
}

// invoke runs the handler under the node timeout. A handler that overruns
// it is abandoned; its goroutine finishes on its own.
func (n *nodeRuntime) invoke(ctx context.Context, in *types.NodeInput) (*types.NodeResult, error) {
	if n.timeout <= 0 {
		return n.runHandler(ctx, in)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	type reply struct {
		result *types.NodeResult
		err    error
	}
	ch := make(chan reply, 1)
	go func() {
		result, err := n.runHandler(ctx, in)
		ch <- reply{result, err}
	}()

	select {
	case r := <-ch:
		return r.result, r.err
	case <-ctx.Done():
		return nil, types.NewFatalError(n.node.ID, types.FailureTimeout, errors.Annotatef(ctx.Err(), "exceeded %s", n.timeout))
	}
}

// runOnce invokes the node and stamps the outcome as a history entry.
// Failures become a critical BLOCK carrying the error.
func (n *nodeRuntime) runOnce(ctx context.Context, in *types.NodeInput) types.HistoryEntry {
	entry := types.HistoryEntry{
		NodeID:    n.node.ID,
		Type:      n.node.Type,
		Label:     n.node.Label,
		StartTime: in.Services.Now(),
	}

	result, err := n.invoke(ctx, in)
	entry.EndTime = in.Services.Now()
	if err != nil {
		metadata := types.Data{"nodeError": true, "error": err.Error()}
		var fatal *types.FatalError
		if errors.As(err, &fatal) {
			metadata["failure"] = string(fatal.Kind)
		}
		log.WithFields(log.Fields{
			"node": n.node.ID,
			"type": n.node.Type,
		}).Errorf("node failed: %v", err)

		entry.NodeResult = types.NodeResult{
			Status:   types.StatusBlock,
			Reason:   fmt.Sprintf("Node %s failed: %v", n.node.DisplayName(), err),
			Severity: types.SeverityCritical,
			Metadata: metadata,
		}
		return entry
	}

	entry.NodeResult = *result
	entry.Metadata = result.Metadata.Clone()
	return entry
}
