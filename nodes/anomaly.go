package nodes

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/riskflow/types"
)

type anomalyConfig struct {
	BlockThreshold    float64  `json:"blockThreshold" default:"80"`
	FlagThreshold     float64  `json:"flagThreshold" default:"55"`
	HighRiskCountries []string `json:"highRiskCountries"`
	NightHours        []int    `json:"nightHours"`
	Timezone          string   `json:"timezone"`
}

var (
	defaultHighRiskCountries = []string{"RU", "NG", "CN", "IR", "BR"}
	defaultNightHours        = []int{0, 5}
)

// AnomalyCheck computes a heuristic risk score from amount, currency,
// geography, time of day and payment method.
func AnomalyCheck(ctx context.Context, in *types.NodeInput) (*types.NodeResult, error) {
	cfg := &anomalyConfig{}
	decodeConfig(in.Config, cfg)
	if _, ok := in.Config.GetStringSlice("highRiskCountries"); !ok {
		cfg.HighRiskCountries = defaultHighRiskCountries
	}
	if len(cfg.NightHours) < 2 {
		cfg.NightHours = defaultNightHours
	}

	tx := in.Transaction
	if tx == nil {
		return &types.NodeResult{
			Status: types.StatusContinue,
			Reason: "Anomaly Check skipped (no transaction).",
		}, nil
	}

	metadata := types.Data{}
	score := 10.0

	if tx.Amount > 10000 {
		score += math.Min(60, math.Log10(tx.Amount)*10)
		metadata["highValue"] = true
	}
	if currency := strings.ToUpper(tx.Currency); currency != "" && currency != "USD" {
		score += 8
		metadata["fx"] = currency
	}

	origin := strings.ToUpper(tx.Origin.Country)
	destination := strings.ToUpper(tx.Destination.Country)
	if origin != "" && destination != "" && origin != destination {
		score += 15
		metadata["crossBorder"] = true
	}
	var risky []string
	for _, country := range []string{origin, destination} {
		if country != "" && containsFold(cfg.HighRiskCountries, country) {
			risky = append(risky, country)
		}
	}
	if len(risky) > 0 {
		score += 20
		metadata["highRiskGeo"] = risky
	}

	if inHours(localHour(in, cfg.Timezone), cfg.NightHours[0], cfg.NightHours[1]) {
		score += 12
		metadata["nightActivity"] = true
	}
	if strings.EqualFold(tx.PaymentMethod(), "crypto") {
		score += 10
		metadata["crypto"] = true
	}

	riskScore := int(math.Max(0, math.Min(100, math.Round(score))))
	metadata["riskScore"] = riskScore
	in.Services.RecordRisk(riskScore)

	switch {
	case float64(riskScore) >= cfg.BlockThreshold:
		in.Services.Increment("anomalyBlock")
		return &types.NodeResult{
			Status:   types.StatusBlock,
			Reason:   fmt.Sprintf("Anomaly Check score %d >= %g.", riskScore, cfg.BlockThreshold),
			Severity: types.SeverityHigh,
			Metadata: metadata,
		}, nil
	case float64(riskScore) >= cfg.FlagThreshold:
		in.Services.Increment("anomalyFlag")
		return &types.NodeResult{
			Status:   types.StatusFlag,
			Reason:   fmt.Sprintf("Anomaly Check score %d >= %g.", riskScore, cfg.FlagThreshold),
			Severity: types.SeverityMedium,
			Metadata: metadata,
		}, nil
	}
	return &types.NodeResult{
		Status:   types.StatusContinue,
		Reason:   fmt.Sprintf("Anomaly Check score %d below thresholds.", riskScore),
		Metadata: metadata,
	}, nil
}

func localHour(in *types.NodeInput, timezone string) int {
	ts := in.Transaction.Timestamp
	if ts.IsZero() {
		ts = in.Services.Now()
	}
	if timezone != "" {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			in.Services.Log().WithFields(log.Fields{
				"transaction": in.Transaction.ID,
				"timezone":    timezone,
			}).Warnf("unknown timezone, using the timestamp zone: %v", err)
		} else {
			ts = ts.In(loc)
		}
	}
	return ts.Hour()
}

// inHours reports whether hour is in [start, end], wrapping past midnight
// when start > end.
func inHours(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour <= end
	}
	return hour >= start || hour <= end
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), s) {
			return true
		}
	}
	return false
}
