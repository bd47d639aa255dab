package types

import "time"

type Status string

const (
	StatusContinue Status = "CONTINUE"
	StatusFlag     Status = "FLAG"
	StatusBlock    Status = "BLOCK"
	StatusApprove  Status = "APPROVE"
)

type Severity string

const (
	SeverityNone     Severity = ""
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// NodeResult is what a node handler returns for one transaction.
type NodeResult struct {
	Status   Status   `json:"status"`
	Reason   string   `json:"reason"`
	Severity Severity `json:"severity,omitempty"`
	Metadata Data     `json:"metadata,omitempty"`
}

// HistoryEntry is a NodeResult stamped with the node that produced it.
type HistoryEntry struct {
	NodeResult

	NodeID    string    `json:"nodeId"`
	Type      string    `json:"type"`
	Label     string    `json:"label,omitempty"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// Decision is the single terminal verdict of an execution. Status is never
// CONTINUE.
type Decision struct {
	Status      Status   `json:"status"`
	Reason      string   `json:"reason"`
	TriggeredBy []string `json:"triggeredBy,omitempty"`
	Severity    Severity `json:"severity,omitempty"`
	Metadata    Data     `json:"metadata,omitempty"`
}

type ExecutionResult struct {
	Decision Decision       `json:"decision"`
	History  []HistoryEntry `json:"history"`
}

// ExecutionRecord is the persisted audit trail of one evaluation.
type ExecutionRecord struct {
	ID              string         `json:"id"`
	WorkflowID      string         `json:"workflowId"`
	WorkflowVersion int            `json:"workflowVersion"`
	Transaction     *Transaction   `json:"transaction"`
	Decision        Decision       `json:"decision"`
	History         []HistoryEntry `json:"history"`
	StartTime       time.Time      `json:"startTime"`
	EndTime         time.Time      `json:"endTime"`
	LatencyMs       float64        `json:"latencyMs"`
}
