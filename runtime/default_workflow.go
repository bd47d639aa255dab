package runtime

import (
	"github.com/google/uuid"

	"github.com/warriorguo/riskflow/types"
)

// DefaultWorkflow is activated when the store holds no workflow yet.
func DefaultWorkflow() *types.Workflow {
	return &types.Workflow{
		ID:      uuid.NewString(),
		Name:    "Default Risk Flow",
		Version: 1,
		Nodes: []types.WorkflowNode{
			{
				ID:       "input-node",
				Label:    "Input",
				Type:     types.KindInput.String(),
				Config:   types.Data{"validateTransaction": true, "logEntry": true},
				Position: &types.Position{X: 0, Y: 0},
			},
			{
				ID:    "geo-check",
				Label: "Geo Check",
				Type:  types.KindGeoCheck.String(),
				Config: types.Data{
					"allowedCountries": []string{"US", "CA", "GB", "DE", "FR"},
					"action":           "FLAG",
				},
				Position: &types.Position{X: 250, Y: 0},
			},
			{
				ID:       "velocity-check",
				Label:    "Velocity Guard",
				Type:     types.KindVelocityCheck.String(),
				Config:   types.Data{"maxPerWindow": 6, "flagOnly": true},
				Position: &types.Position{X: 500, Y: 0},
			},
			{
				ID:       "anomaly",
				Label:    "Anomaly Score",
				Type:     types.KindAnomalyCheck.String(),
				Config:   types.Data{"blockThreshold": 85, "flagThreshold": 60},
				Position: &types.Position{X: 750, Y: 0},
			},
			{
				ID:       "decision",
				Label:    "Decision",
				Type:     types.KindDecision.String(),
				Config:   types.Data{"autoApproveBelow": 40, "escalateOnFlag": true},
				Position: &types.Position{X: 1000, Y: 0},
			},
		},
		Edges: []types.Edge{
			{ID: "e1", Source: "input-node", Target: "geo-check"},
			{ID: "e2", Source: "geo-check", Target: "velocity-check"},
			{ID: "e3", Source: "velocity-check", Target: "anomaly"},
			{ID: "e4", Source: "anomaly", Target: "decision"},
		},
	}
}
