package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/riskflow/types"
)

const (
	reasonDefault     = "Default decision."
	reasonAllContinue = "All nodes returned CONTINUE."
	reasonFlagged     = "Flagged for review."
)

type executeOptions struct {
	nodeTimeout time.Duration
}

type ExecuteOption func(*executeOptions)

// WithNodeTimeout bounds every node invocation. Zero disables the bound.
func WithNodeTimeout(timeout time.Duration) ExecuteOption {
	return func(opts *executeOptions) {
		opts.nodeTimeout = timeout
	}
}

// Execute runs the workflow nodes in declared order over tx and returns
// exactly one decision. Nodes whose type has no registered handler are
// skipped. Execute never fails: node errors are folded into the result.
func Execute(ctx context.Context, registry *Registry, workflow *types.Workflow, tx *types.Transaction,
	services *types.Services, options ...ExecuteOption) *types.ExecutionResult {
	opts := &executeOptions{}
	for _, opt := range options {
		opt(opts)
	}

	result := &types.ExecutionResult{
		Decision: types.Decision{Status: types.StatusApprove, Reason: reasonDefault},
		History:  make([]types.HistoryEntry, 0),
	}
	for _, nr := range resolve(registry, workflow, opts) {
		entry := nr.runOnce(ctx, &types.NodeInput{
			Transaction: tx,
			Config:      nr.node.Config,
			Services:    services,
			History:     append([]types.HistoryEntry(nil), result.History...),
		})
		result.History = append(result.History, entry)

		if decision, terminal := terminalDecision(nr, &entry); terminal {
			result.Decision = decision
			return result
		}
	}

	if len(result.History) > 0 {
		result.Decision = aggregate(result.History)
	}
	return result
}

func resolve(registry *Registry, workflow *types.Workflow, opts *executeOptions) []*nodeRuntime {
	if workflow == nil {
		return nil
	}
	runtimes := make([]*nodeRuntime, 0, len(workflow.Nodes))
	for i := range workflow.Nodes {
		node := &workflow.Nodes[i]
		kind, handler, exists := registry.Resolve(node.Type)
		if !exists {
			log.Debugf("skip node %s: no handler for type %q", node.ID, node.Type)
			continue
		}
		runtimes = append(runtimes, &nodeRuntime{
			node:    node,
			kind:    kind,
			handler: handler,
			timeout: opts.nodeTimeout,
		})
	}
	return runtimes
}

func terminalDecision(nr *nodeRuntime, entry *types.HistoryEntry) (types.Decision, bool) {
	decision := types.Decision{
		Status:      entry.Status,
		Reason:      entry.Reason,
		TriggeredBy: []string{nr.node.ID},
		Severity:    entry.Severity,
		Metadata:    entry.Metadata,
	}

	var verb string
	switch {
	case entry.Status == types.StatusBlock:
		verb = "Blocked"
	case nr.kind == types.KindDecision && entry.Status == types.StatusApprove:
		verb = "Approved"
	case nr.kind == types.KindDecision && entry.Status == types.StatusFlag:
		verb = "Flagged"
	default:
		return types.Decision{}, false
	}
	if decision.Reason == "" {
		decision.Reason = fmt.Sprintf("%s by %s", verb, nr.node.DisplayName())
	}
	return decision, true
}

func aggregate(history []types.HistoryEntry) types.Decision {
	var reasons, flaggedBy []string
	severity := types.SeverityNone
	for _, entry := range history {
		if entry.Status != types.StatusFlag {
			continue
		}
		flaggedBy = append(flaggedBy, entry.NodeID)
		if entry.Reason != "" {
			reasons = append(reasons, entry.Reason)
		}
		if severityRank[entry.Severity] > severityRank[severity] {
			severity = entry.Severity
		}
	}
	if len(flaggedBy) == 0 {
		return types.Decision{Status: types.StatusApprove, Reason: reasonAllContinue}
	}

	reason := strings.Join(reasons, " | ")
	if reason == "" {
		reason = reasonFlagged
	}
	return types.Decision{
		Status:      types.StatusFlag,
		Reason:      reason,
		TriggeredBy: flaggedBy,
		Severity:    severity,
	}
}

var severityRank = map[types.Severity]int{
	types.SeverityLow:      1,
	types.SeverityMedium:   2,
	types.SeverityHigh:     3,
	types.SeverityCritical: 4,
}
