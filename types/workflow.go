package types

// Position is only meaningful to editors; the engine ignores it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type WorkflowNode struct {
	ID       string    `json:"id"`
	Label    string    `json:"label,omitempty"`
	Type     string    `json:"type"`
	Config   Data      `json:"config,omitempty"`
	Position *Position `json:"position,omitempty"`
}

// DisplayName is the label, or the type tag when no label is set.
func (n *WorkflowNode) DisplayName() string {
	if n.Label != "" {
		return n.Label
	}
	return n.Type
}

type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Workflow is an ordered node list. Nodes execute in slice order; Edges are
// carried for editors and rendering and never drive execution.
type Workflow struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Version int            `json:"version"`
	Nodes   []WorkflowNode `json:"nodes"`
	Edges   []Edge         `json:"edges"`
}

// Clone deep-copies node slices and config maps.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	c := *w
	c.Nodes = make([]WorkflowNode, len(w.Nodes))
	for i, n := range w.Nodes {
		n.Config = n.Config.Clone()
		if n.Position != nil {
			p := *n.Position
			n.Position = &p
		}
		c.Nodes[i] = n
	}
	c.Edges = append([]Edge(nil), w.Edges...)
	return &c
}
