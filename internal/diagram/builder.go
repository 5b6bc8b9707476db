package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/shopsync/internal/engine"
	"github.com/rendis/shopsync/pkg/schema"
)

// Build constructs a DiagramModel from the dependency graph. When rec is
// non-nil each agent node carries that run's outcome.
func Build(g *engine.Graph, rec *schema.WorkflowRecord) (*DiagramModel, error) {
	if g == nil {
		return nil, fmt.Errorf("diagram: nil graph")
	}

	nodes := make([]*Node, 0, len(g.Sorted)+2)
	nodes = append(nodes, &Node{ID: StartID, Label: "Start", Kind: NodeKindStart})
	for _, t := range g.Sorted {
		node := &Node{ID: string(t), Label: agentLabel(t), Kind: NodeKindAgent}
		overlayStatus(node, t, rec)
		nodes = append(nodes, node)
	}
	nodes = append(nodes, &Node{ID: EndID, Label: "End", Kind: NodeKindEnd})

	return &DiagramModel{
		Title:  title(rec),
		Nodes:  nodes,
		Edges:  buildEdges(g),
		Levels: buildLevels(g),
	}, nil
}

// agentLabel turns "customer_support" into "customer support".
func agentLabel(t schema.AgentType) string {
	return strings.ReplaceAll(string(t), "_", " ")
}

func overlayStatus(node *Node, t schema.AgentType, rec *schema.WorkflowRecord) {
	if rec == nil {
		return
	}
	st, ok := rec.Agents[t]
	if !ok {
		return
	}
	node.Status = &StatusOverlay{Status: string(st)}
	if st == schema.AgentRunFailed {
		node.Status.Error = rec.Error
	}
}

// buildEdges emits start -> roots, every dependency edge, and leaves -> end.
func buildEdges(g *engine.Graph) []Edge {
	var edges []Edge
	for _, root := range g.Roots {
		edges = append(edges, Edge{From: StartID, To: string(root)})
	}
	for _, e := range g.Edges() {
		edges = append(edges, Edge{From: string(e.From), To: string(e.To)})
	}
	for _, t := range g.Sorted {
		if len(g.Succs[t]) == 0 {
			edges = append(edges, Edge{From: string(t), To: EndID})
		}
	}
	if len(g.Sorted) == 0 {
		edges = append(edges, Edge{From: StartID, To: EndID})
	}
	return edges
}

func buildLevels(g *engine.Graph) [][]string {
	levels := make([][]string, 0, len(g.Levels)+2)
	levels = append(levels, []string{StartID})
	for _, lvl := range g.Levels {
		ids := make([]string, len(lvl))
		for i, t := range lvl {
			ids[i] = string(t)
		}
		levels = append(levels, ids)
	}
	levels = append(levels, []string{EndID})
	return levels
}

func title(rec *schema.WorkflowRecord) string {
	if rec != nil && rec.ID != "" {
		return fmt.Sprintf("%s (%s)", rec.ID, rec.Status)
	}
	return "ShopSync agent workflow"
}
