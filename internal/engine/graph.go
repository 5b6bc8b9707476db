package engine

import (
	"fmt"
	"sort"

	"github.com/rendis/shopsync/pkg/schema"
)

// Edge states that From must complete before To starts.
type Edge struct {
	From schema.AgentType `json:"from"`
	To   schema.AgentType `json:"to"`
}

// DefaultEdges is the fixed dependency set between agent types.
func DefaultEdges() []Edge {
	return []Edge{
		{schema.AgentDataCollection, schema.AgentPersonalization},
		{schema.AgentDataCollection, schema.AgentLoyalty},
		{schema.AgentDataCollection, schema.AgentSentiment},
		{schema.AgentPersonalization, schema.AgentPricing},
		{schema.AgentPersonalization, schema.AgentPromotion},
		{schema.AgentSentiment, schema.AgentTrend},
		{schema.AgentSentiment, schema.AgentCustomerSupport},
		{schema.AgentTrend, schema.AgentInventory},
		{schema.AgentTrend, schema.AgentPricing},
	}
}

// Graph is the dependency graph restricted to the enabled agents.
// Immutable once built; safe to share between workflow runs.
type Graph struct {
	Nodes  []schema.AgentType                      // enabled agents, declaration order
	Preds  map[schema.AgentType][]schema.AgentType // direct predecessors after bridging
	Succs  map[schema.AgentType][]schema.AgentType // direct successors after bridging
	Sorted []schema.AgentType                      // topological order
	Roots  []schema.AgentType                      // nodes without predecessors
	Levels [][]schema.AgentType                    // nodes grouped by dependency depth
}

// rank orders agent types by declaration so every traversal is deterministic.
var rank = func() map[schema.AgentType]int {
	m := make(map[schema.AgentType]int)
	for i, t := range schema.AllAgentTypes() {
		m[t] = i
	}
	return m
}()

// BuildGraph validates edges over the full agent set, then restricts the
// graph to enabled. A disabled agent's predecessors are linked to its
// successors, so transitive ordering between enabled agents survives.
// Every structural problem is reported here, never during traversal.
func BuildGraph(edges []Edge, enabled []schema.AgentType) (*Graph, error) {
	on := make(map[schema.AgentType]bool, len(enabled))
	for _, t := range enabled {
		if !t.Valid() {
			return nil, schema.NewErrorf(schema.ErrCodeConfigNotFound, "unknown agent type %q", t)
		}
		on[t] = true
	}

	preds := make(map[schema.AgentType][]schema.AgentType)
	succs := make(map[schema.AgentType][]schema.AgentType)
	seen := make(map[Edge]bool, len(edges))
	for _, e := range edges {
		if !e.From.Valid() || !e.To.Valid() {
			return nil, schema.NewErrorf(schema.ErrCodeGraphConfiguration,
				"edge %s -> %s references an unknown agent type", e.From, e.To)
		}
		if e.From == e.To {
			return nil, schema.NewErrorf(schema.ErrCodeGraphConfiguration, "agent %s depends on itself", e.From).WithAgent(e.From)
		}
		if seen[e] {
			return nil, schema.NewErrorf(schema.ErrCodeGraphConfiguration, "duplicate edge %s -> %s", e.From, e.To)
		}
		seen[e] = true
		preds[e.To] = append(preds[e.To], e.From)
		succs[e.From] = append(succs[e.From], e.To)
	}

	if _, err := topoSort(schema.AllAgentTypes(), preds, succs); err != nil {
		return nil, err
	}

	g := &Graph{
		Preds: make(map[schema.AgentType][]schema.AgentType),
		Succs: make(map[schema.AgentType][]schema.AgentType),
	}
	for _, t := range schema.AllAgentTypes() {
		if on[t] {
			g.Nodes = append(g.Nodes, t)
		}
	}
	for _, t := range g.Nodes {
		for _, p := range enabledPreds(t, preds, on) {
			g.Preds[t] = append(g.Preds[t], p)
			g.Succs[p] = append(g.Succs[p], t)
		}
	}
	for _, t := range g.Nodes {
		sortByRank(g.Preds[t])
		sortByRank(g.Succs[t])
		if len(g.Preds[t]) == 0 {
			g.Roots = append(g.Roots, t)
		}
	}

	sorted, err := topoSort(g.Nodes, g.Preds, g.Succs)
	if err != nil {
		return nil, err
	}
	g.Sorted = sorted
	g.Levels = computeLevels(g)
	return g, nil
}

// enabledPreds walks backwards from t through disabled agents and returns
// the nearest enabled predecessors on every path.
func enabledPreds(t schema.AgentType, preds map[schema.AgentType][]schema.AgentType, on map[schema.AgentType]bool) []schema.AgentType {
	var out []schema.AgentType
	found := make(map[schema.AgentType]bool)
	visited := make(map[schema.AgentType]bool)
	stack := append([]schema.AgentType(nil), preds[t]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[n] {
			continue
		}
		visited[n] = true
		if on[n] {
			if !found[n] {
				found[n] = true
				out = append(out, n)
			}
			continue
		}
		stack = append(stack, preds[n]...)
	}
	return out
}

// topoSort is Kahn's algorithm; among ready nodes the lowest rank goes first.
func topoSort(nodes []schema.AgentType, preds, succs map[schema.AgentType][]schema.AgentType) ([]schema.AgentType, error) {
	inDegree := make(map[schema.AgentType]int, len(nodes))
	var ready []schema.AgentType
	for _, n := range nodes {
		inDegree[n] = len(preds[n])
		if inDegree[n] == 0 {
			ready = append(ready, n)
		}
	}

	sorted := make([]schema.AgentType, 0, len(nodes))
	for len(ready) > 0 {
		sortByRank(ready)
		n := ready[0]
		ready = ready[1:]
		sorted = append(sorted, n)
		for _, s := range succs[n] {
			inDegree[s]--
			if inDegree[s] == 0 {
				ready = append(ready, s)
			}
		}
	}

	if len(sorted) != len(nodes) {
		var stuck []string
		for _, n := range nodes {
			if inDegree[n] > 0 {
				stuck = append(stuck, string(n))
			}
		}
		return nil, schema.NewError(schema.ErrCodeGraphConfiguration, "dependency graph contains a cycle").
			WithDetails(map[string]any{"agents": stuck})
	}
	return sorted, nil
}

// computeLevels groups nodes by longest distance from a root.
func computeLevels(g *Graph) [][]schema.AgentType {
	depth := make(map[schema.AgentType]int, len(g.Sorted))
	maxDepth := -1
	for _, n := range g.Sorted {
		d := 0
		for _, p := range g.Preds[n] {
			if depth[p]+1 > d {
				d = depth[p] + 1
			}
		}
		depth[n] = d
		if d > maxDepth {
			maxDepth = d
		}
	}
	levels := make([][]schema.AgentType, maxDepth+1)
	for _, n := range g.Sorted {
		levels[depth[n]] = append(levels[depth[n]], n)
	}
	return levels
}

// Contains reports whether t is an enabled node.
func (g *Graph) Contains(t schema.AgentType) bool {
	for _, n := range g.Nodes {
		if n == t {
			return true
		}
	}
	return false
}

// Ancestors returns every node t transitively depends on, in topological order.
func (g *Graph) Ancestors(t schema.AgentType) []schema.AgentType {
	return g.reach(t, g.Preds)
}

// Descendants returns every node that transitively depends on t, in topological order.
func (g *Graph) Descendants(t schema.AgentType) []schema.AgentType {
	return g.reach(t, g.Succs)
}

func (g *Graph) reach(t schema.AgentType, next map[schema.AgentType][]schema.AgentType) []schema.AgentType {
	visited := make(map[schema.AgentType]bool)
	stack := append([]schema.AgentType(nil), next[t]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[n] {
			continue
		}
		visited[n] = true
		stack = append(stack, next[n]...)
	}
	out := make([]schema.AgentType, 0, len(visited))
	for _, n := range g.Sorted {
		if visited[n] {
			out = append(out, n)
		}
	}
	return out
}

// Edges lists the effective edges, ordered by source then target.
func (g *Graph) Edges() []Edge {
	var out []Edge
	for _, from := range g.Nodes {
		for _, to := range g.Succs[from] {
			out = append(out, Edge{From: from, To: to})
		}
	}
	return out
}

func (e Edge) String() string {
	return fmt.Sprintf("%s -> %s", e.From, e.To)
}

func sortByRank(ts []schema.AgentType) {
	sort.Slice(ts, func(i, j int) bool { return rank[ts[i]] < rank[ts[j]] })
}
