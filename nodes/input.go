package nodes

import (
	"context"

	"github.com/warriorguo/riskflow/types"
)

type inputConfig struct {
	ValidateTransaction bool `json:"validateTransaction" default:"true"`
	LogEntry            bool `json:"logEntry" default:"true"`
}

// Input is the entry node. It validates the transaction and counts it in.
func Input(ctx context.Context, in *types.NodeInput) (*types.NodeResult, error) {
	cfg := &inputConfig{}
	decodeConfig(in.Config, cfg)

	tx := in.Transaction
	if cfg.ValidateTransaction {
		if tx == nil {
			return &types.NodeResult{
				Status:   types.StatusBlock,
				Reason:   "No transaction data provided to input node.",
				Severity: types.SeverityCritical,
			}, nil
		}
		if tx.ID == "" {
			return &types.NodeResult{
				Status:   types.StatusBlock,
				Reason:   "Transaction missing required ID field.",
				Severity: types.SeverityCritical,
			}, nil
		}
	}

	if cfg.LogEntry {
		in.Services.Increment("transactionReceived")
	}

	metadata := types.Data{"entryTime": in.Services.Now().UnixMilli()}
	if tx != nil {
		metadata["transactionId"] = tx.ID
	}
	return &types.NodeResult{
		Status:   types.StatusContinue,
		Reason:   "Transaction received and validated.",
		Metadata: metadata,
	}, nil
}
