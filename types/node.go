package types

import (
	"context"
	"strings"

	"github.com/warriorguo/riskflow/utils"
)

// NodeKind is the closed set of node implementations the engine knows.
type NodeKind int

const (
	KindUnknown NodeKind = iota
	KindInput
	KindGeoCheck
	KindVelocityCheck
	KindAnomalyCheck
	KindAIScore
	KindDecision
)

var kindTags = map[NodeKind]string{
	KindInput:         "INPUT",
	KindGeoCheck:      "GEO_CHECK",
	KindVelocityCheck: "VELOCITY_CHECK",
	KindAnomalyCheck:  "ANOMALY_CHECK",
	KindAIScore:       "AI_SCORE",
	KindDecision:      "DECISION",
}

var tagKinds = utils.ReverseMap(kindTags)

// older editors saved these tags
var kindAliases = map[string]NodeKind{
	"AI_ANOMALY":   KindAnomalyCheck,
	"GEMINI_CHECK": KindAIScore,
}

func (k NodeKind) String() string {
	if tag, exists := kindTags[k]; exists {
		return tag
	}
	return "UNKNOWN"
}

// NodeKinds lists every known kind in a stable order.
func NodeKinds() []NodeKind {
	return []NodeKind{KindInput, KindGeoCheck, KindVelocityCheck, KindAnomalyCheck, KindAIScore, KindDecision}
}

// ParseNodeKind resolves a workflow type tag, case-insensitively.
func ParseNodeKind(tag string) (NodeKind, bool) {
	tag = strings.ToUpper(strings.TrimSpace(tag))
	if kind, exists := tagKinds[tag]; exists {
		return kind, true
	}
	if kind, exists := kindAliases[tag]; exists {
		return kind, true
	}
	return KindUnknown, false
}

// NodeInput is everything a handler sees. History is a copy of the entries
// recorded so far in this execution.
type NodeInput struct {
	Transaction *Transaction
	Config      Data
	Services    *Services
	History     []HistoryEntry
}

type NodeHandler interface {
	Handle(ctx context.Context, in *NodeInput) (*NodeResult, error)
}

type NodeHandlerFunc func(ctx context.Context, in *NodeInput) (*NodeResult, error)

func (f NodeHandlerFunc) Handle(ctx context.Context, in *NodeInput) (*NodeResult, error) {
	return f(ctx, in)
}
