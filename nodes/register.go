// Package nodes implements the built-in risk nodes. Every handler reads its
// settings from the node config map, reports through the injected services,
// and never modifies the transaction.
package nodes

import (
	"github.com/warriorguo/riskflow/types"
)

// Handlers returns the built-in handler for every known node kind.
func Handlers() map[types.NodeKind]types.NodeHandler {
	return map[types.NodeKind]types.NodeHandler{
		types.KindInput:         types.NodeHandlerFunc(Input),
		types.KindGeoCheck:      types.NodeHandlerFunc(GeoCheck),
		types.KindVelocityCheck: types.NodeHandlerFunc(VelocityCheck),
		types.KindAnomalyCheck:  types.NodeHandlerFunc(AnomalyCheck),
		types.KindAIScore:       types.NodeHandlerFunc(AIScore),
		types.KindDecision:      types.NodeHandlerFunc(Decision),
	}
}
