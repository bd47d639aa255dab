// Package suggestions derives workflow tuning hints from live metrics and
// recent decisions.
package suggestions

import (
	"strings"

	"github.com/google/uuid"

	"github.com/warriorguo/riskflow/metrics"
	"github.com/warriorguo/riskflow/types"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

const (
	ActionWorkflowHint = "WORKFLOW_HINT"
	ActionInfo         = "INFO"
)

type Action struct {
	Type string     `json:"type"`
	Data types.Data `json:"data,omitempty"`
}

type Suggestion struct {
	ID       string   `json:"id"`
	Priority Priority `json:"priority"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Action   Action   `json:"action"`
}

const (
	blockRateRatio        = 0.4
	elevatedRiskAverage   = 65
	europeFrictionMinimum = 5
)

// Generate always returns at least one suggestion.
func Generate(snapshot metrics.Snapshot, recent []*types.ExecutionRecord) []Suggestion {
	suggestions := make([]Suggestion, 0)

	if float64(snapshot.Totals.Blocked) > float64(snapshot.Totals.Approved)*blockRateRatio {
		suggestions = append(suggestions, hint(PriorityHigh,
			"High block rate detected",
			"More than 40% of transactions are being blocked. Consider adding a behavioral check or lowering the velocity threshold to reduce false positives.",
			types.KindVelocityCheck,
			types.Data{"maxPerWindow": 7, "flagOnly": true}))
	}

	if snapshot.Risk.AverageScore > elevatedRiskAverage {
		suggestions = append(suggestions, hint(PriorityMedium,
			"Elevated anomaly scores",
			"Average anomaly scores exceed 65. Add a secondary decision branch that requests manual review for high amounts instead of blocking outright.",
			types.KindDecision,
			types.Data{"escalateOnFlag": true, "autoApproveBelow": 35}))
	}

	if countEuropeFriction(recent) >= europeFrictionMinimum {
		suggestions = append(suggestions, hint(PriorityMedium,
			"European traffic experiencing friction",
			"Geo checks are impacting legitimate European traffic. Consider widening the allowedCountries list or inserting a velocity check before the geo block.",
			types.KindGeoCheck,
			types.Data{
				"allowedCountries": []string{"US", "CA", "GB", "DE", "FR", "ES", "IT", "NL"},
				"action":           "FLAG",
			}))
	}

	if len(suggestions) == 0 {
		suggestions = append(suggestions, Suggestion{
			ID:       uuid.NewString(),
			Priority: PriorityLow,
			Title:    "All systems normal",
			Body:     "Current workflows are performing within expected thresholds. Keep monitoring for anomalies.",
			Action:   Action{Type: ActionInfo},
		})
	}
	return suggestions
}

func hint(priority Priority, title, body string, kind types.NodeKind, config types.Data) Suggestion {
	return Suggestion{
		ID:       uuid.NewString(),
		Priority: priority,
		Title:    title,
		Body:     body,
		Action: Action{
			Type: ActionWorkflowHint,
			Data: types.Data{
				"nodeType":          kind.String(),
				"recommendedConfig": config,
			},
		},
	}
}

func countEuropeFriction(recent []*types.ExecutionRecord) int {
	count := 0
	for _, record := range recent {
		if record == nil || record.Transaction == nil {
			continue
		}
		if record.Decision.Status != types.StatusBlock && record.Decision.Status != types.StatusFlag {
			continue
		}
		if strings.EqualFold(record.Transaction.Origin.Region, "Europe") {
			count++
		}
	}
	return count
}
