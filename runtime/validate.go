package runtime

import (
	"github.com/juju/errors"

	"github.com/warriorguo/riskflow/types"
)

// ValidateWorkflow checks a workflow before it is activated: node ids are
// present and unique, every type is known, and edges reference declared
// nodes without forming a cycle. Edges stay advisory for execution.
func ValidateWorkflow(workflow *types.Workflow) error {
	if workflow == nil {
		return errors.NotValidf("nil workflow")
	}
	if workflow.ID == "" {
		return errors.NotValidf("workflow without id")
	}

	declared := make(map[string]bool, len(workflow.Nodes))
	for _, node := range workflow.Nodes {
		if node.ID == "" {
			return errors.NotValidf("node of type %q without id", node.Type)
		}
		if declared[node.ID] {
			return errors.AlreadyExistsf("node id: %s", node.ID)
		}
		declared[node.ID] = true
		if _, known := types.ParseNodeKind(node.Type); !known {
			return errors.NotValidf("node %s type %q", node.ID, node.Type)
		}
	}

	links := make(map[string][]string)
	edgeIDs := make(map[string]bool, len(workflow.Edges))
	for _, edge := range workflow.Edges {
		if edge.ID != "" {
			if edgeIDs[edge.ID] {
				return errors.AlreadyExistsf("edge id: %s", edge.ID)
			}
			edgeIDs[edge.ID] = true
		}
		if !declared[edge.Source] {
			return errors.NotFoundf("edge %s source: %v", edge.ID, edge.Source)
		}
		if !declared[edge.Target] {
			return errors.NotFoundf("edge %s target: %v", edge.ID, edge.Target)
		}
		if edge.Source == edge.Target || checkLinkValid(links, edge.Target, edge.Source) {
			return errors.Forbiddenf("%s -> %s is linked", edge.Target, edge.Source)
		}
		links[edge.Source] = append(links[edge.Source], edge.Target)
	}
	return nil
}

// checkLinkValid reports whether to is reachable from from.
func checkLinkValid(links map[string][]string, from, to string) bool {
	visited := map[string]bool{from: true}
	pending := []string{from}
	for len(pending) > 0 {
		current := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		for _, next := range links[current] {
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				pending = append(pending, next)
			}
		}
	}
	return false
}
