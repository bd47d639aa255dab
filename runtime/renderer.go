package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/juju/errors"

	"github.com/warriorguo/riskflow/types"
)

// RenderDOT draws the workflow in Graphviz DOT. Nodes that ran are filled
// with the colour of their status and carry their history entry as a
// comment; the rest stay white.
func RenderDOT(workflow *types.Workflow, history []types.HistoryEntry) string {
	renderer := newDOTRenderer()
	return renderer.generateDOT(workflow, history)
}

func (e *Engine) RenderRecord(ctx context.Context, id string) (string, error) {
	record, err := e.GetRecord(ctx, id)
	if err != nil {
		return "", errors.Trace(err)
	}
	workflow, err := e.workflowForRecord(ctx, record)
	if err != nil {
		return "", errors.Trace(err)
	}
	return RenderDOT(workflow, record.History), nil
}

func newDOTRenderer() *dotRenderer {
	return &dotRenderer{nil, &strings.Builder{}}
}

type dotRenderer struct {
	records map[string]*types.HistoryEntry
	sb      *strings.Builder
}

func (d *dotRenderer) setRecords(history []types.HistoryEntry) {
	d.records = make(map[string]*types.HistoryEntry, len(history))
	for i := range history {
		d.records[history[i].NodeID] = &history[i]
	}
}

func (d *dotRenderer) generateDOT(workflow *types.Workflow, history []types.HistoryEntry) string {
	d.setRecords(history)

	d.write("digraph D {")
	if workflow != nil {
		for i := range workflow.Nodes {
			d.drawNode(&workflow.Nodes[i])
		}
		d.drawLinks(workflow.Edges)
		d.write("label=%s", quoteString(workflow.Name))
	}
	d.write("}")
	return d.sb.String()
}

func packToComment(r *types.HistoryEntry) string {
	s, _ := json.Marshal(r)
	return formatNL(addSlashes(string(s)))
}

func statusColor(status types.Status) string {
	switch status {
	case types.StatusBlock:
		return "red"
	case types.StatusFlag:
		return "orange"
	case types.StatusContinue, types.StatusApprove:
		return "green"
	}
	return "white"
}

func (d *dotRenderer) calcAttr(nodeID string) string {
	record, exists := d.records[nodeID]
	if !exists {
		return " style=\"filled\" color=\"white\""
	}
	return fmt.Sprintf(" style=\"filled\" color=\"%s\" comment=\"%s\"", statusColor(record.Status), packToComment(record))
}

func (d *dotRenderer) drawNode(node *types.WorkflowNode) {
	shape := "record"
	if kind, _ := types.ParseNodeKind(node.Type); kind == types.KindDecision {
		shape = "diamond"
	}
	label := fmt.Sprintf("%s\\n%s", node.DisplayName(), node.Type)
	d.write("%s [label=%s shape=\"%s\"%s]", idString(node.ID), quoteString(label), shape, d.calcAttr(node.ID))
}

func (d *dotRenderer) drawLinks(edges []types.Edge) {
	for _, edge := range edges {
		d.write("%s -> %s", idString(edge.Source), idString(edge.Target))
	}
}

func (d *dotRenderer) write(format string, s ...any) {
	d.sb.WriteString(fmt.Sprintf(format+"\n", s...))
}

var (
	slashesToken = []string{"\\", "\"", "'", " "}
)

func addSlashes(s string) string {
	for _, token := range slashesToken {
		s = strings.ReplaceAll(s, token, "\\"+token)
	}
	return s
}

func formatNL(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func quoteString(s string) string {
	return "\"" + strings.ReplaceAll(s, "\"", "\\\"") + "\""
}

var idleChars = []string{" ", "'", "\"", "(", ")", "*", "&", "^", "%", "$", "#", "@", "!", "?", "<", ">", "[", "]", "{", "}", ".", "-", "/", ":"}

func idString(s string) string {
	for _, ch := range idleChars {
		s = strings.ReplaceAll(s, ch, "_")
	}
	return s
}
