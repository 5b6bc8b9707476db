package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindAgent NodeKind = "agent"
	NodeKindStart NodeKind = "start"
	NodeKindEnd   NodeKind = "end"
)

// Virtual node ids framing every diagram.
const (
	StartID = "__start__"
	EndID   = "__end__"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is one agent in the diagram, or a virtual start/end marker.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries the outcome of the agent in a specific workflow run.
type StatusOverlay struct {
	Status string // schema.AgentRunStatus
	Error  string
}

// Edge is a dependency between two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}

// Node looks up a node by id.
func (m *DiagramModel) Node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
