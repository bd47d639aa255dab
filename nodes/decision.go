package nodes

import (
	"context"
	"fmt"

	"github.com/warriorguo/riskflow/types"
)

type decisionConfig struct {
	AutoApproveBelow float64 `json:"autoApproveBelow" default:"40"`
	EscalateOnFlag   bool    `json:"escalateOnFlag" default:"true"`
}

// latestRiskScore scans history backwards for a numeric riskScore.
func latestRiskScore(history []types.HistoryEntry) (float64, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if score, ok := history[i].Metadata.GetNumber("riskScore"); ok {
			return score, true
		}
	}
	return 0, false
}

// Decision turns the accumulated history into a terminal verdict.
func Decision(ctx context.Context, in *types.NodeInput) (*types.NodeResult, error) {
	cfg := &decisionConfig{}
	decodeConfig(in.Config, cfg)

	var hasFlag, hasBlock bool
	for _, h := range in.History {
		switch h.Status {
		case types.StatusFlag:
			hasFlag = true
		case types.StatusBlock:
			hasBlock = true
		}
	}
	riskScore, hasScore := latestRiskScore(in.History)
	metadata := types.Data{}
	if hasScore {
		metadata["riskScore"] = riskScore
	}

	if hasBlock {
		return &types.NodeResult{
			Status: types.StatusBlock,
			Reason: "Decision node confirms upstream block.",
		}, nil
	}
	if hasFlag && cfg.EscalateOnFlag {
		metadata["escalated"] = true
		return &types.NodeResult{
			Status:   types.StatusFlag,
			Reason:   "Decision node escalating flagged transaction for review.",
			Metadata: metadata,
		}, nil
	}
	if hasScore && riskScore < cfg.AutoApproveBelow {
		return &types.NodeResult{
			Status:   types.StatusApprove,
			Reason:   fmt.Sprintf("Risk score %g below auto-approve threshold (%g).", riskScore, cfg.AutoApproveBelow),
			Metadata: metadata,
		}, nil
	}
	if hasFlag {
		return &types.NodeResult{
			Status:   types.StatusFlag,
			Reason:   "Flags present but auto approval not permitted.",
			Metadata: metadata,
		}, nil
	}
	return &types.NodeResult{
		Status:   types.StatusApprove,
		Reason:   "Decision node approval.",
		Metadata: metadata,
	}, nil
}
