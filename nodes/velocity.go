package nodes

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/riskflow/types"
)

type velocityConfig struct {
	WindowMs     int64  `json:"windowMs" default:"60000"`
	MaxPerWindow int    `json:"maxPerWindow" default:"5"`
	Identifier   string `json:"identifier" default:"deviceId"`
	FlagOnly     bool   `json:"flagOnly"`
}

func pickIdentifier(tx *types.Transaction, identifier string) string {
	switch identifier {
	case "deviceId":
		return tx.Origin.DeviceID
	case "originAccount":
		return tx.Origin.Account
	case "destinationAccount":
		return tx.Destination.Account
	}
	for _, id := range []string{tx.Origin.DeviceID, tx.Origin.Account, tx.Destination.Account} {
		if id != "" {
			return id
		}
	}
	return ""
}

// VelocityCheck counts transactions per identifier inside a sliding window.
func VelocityCheck(ctx context.Context, in *types.NodeInput) (*types.NodeResult, error) {
	cfg := &velocityConfig{}
	decodeConfig(in.Config, cfg)

	if in.Transaction == nil {
		return &types.NodeResult{
			Status: types.StatusContinue,
			Reason: "Velocity Check skipped (no transaction).",
		}, nil
	}
	id := pickIdentifier(in.Transaction, cfg.Identifier)
	if id == "" {
		return &types.NodeResult{
			Status: types.StatusContinue,
			Reason: "Velocity Check skipped (missing identifier).",
		}, nil
	}
	if in.Services == nil || in.Services.VelocityCache == nil {
		return &types.NodeResult{
			Status: types.StatusContinue,
			Reason: "Velocity Check skipped (no velocity cache).",
		}, nil
	}

	window := time.Duration(cfg.WindowMs) * time.Millisecond
	count, err := in.Services.VelocityCache.Append(ctx, id, in.Services.Now(), window)
	if err != nil {
		in.Services.Log().WithFields(log.Fields{
			"transaction": in.Transaction.ID,
			"identifier":  id,
		}).Warnf("velocity cache append failed: %v", err)
		return &types.NodeResult{
			Status:   types.StatusContinue,
			Reason:   "Velocity Check skipped (cache unavailable).",
			Metadata: types.Data{"cacheError": true},
		}, nil
	}

	metadata := types.Data{
		"count":      count,
		"threshold":  cfg.MaxPerWindow,
		"identifier": id,
	}
	switch {
	case count > cfg.MaxPerWindow:
		in.Services.Increment("velocityAlert")
		status, severity := types.StatusBlock, types.SeverityHigh
		if cfg.FlagOnly {
			status, severity = types.StatusFlag, types.SeverityMedium
		}
		return &types.NodeResult{
			Status:   status,
			Reason:   fmt.Sprintf("Velocity threshold exceeded: %d in %.0fs", count, window.Seconds()),
			Severity: severity,
			Metadata: metadata,
		}, nil
	case count == cfg.MaxPerWindow:
		in.Services.Increment("velocityWarn")
		return &types.NodeResult{
			Status:   types.StatusFlag,
			Reason:   fmt.Sprintf("Approaching velocity threshold (%d/%d).", count, cfg.MaxPerWindow),
			Severity: types.SeverityMedium,
			Metadata: metadata,
		}, nil
	}
	return &types.NodeResult{
		Status:   types.StatusContinue,
		Reason:   "Velocity within acceptable range.",
		Metadata: metadata,
	}, nil
}
