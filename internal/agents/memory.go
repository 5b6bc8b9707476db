package agents

import (
	"time"
)

// Turn roles recorded in conversation memory.
const (
	RoleInput      = "input"
	RoleToolCall   = "tool_call"
	RoleToolResult = "tool_result"
	RoleOutput     = "output"
)

// Memory types accepted in AgentConfig.MemoryType.
const (
	MemoryBuffer = "conversation_buffer"
	MemoryWindow = "conversation_buffer_window"
	MemoryNone   = "none"
)

// Retained turns per memory type. Unknown types get the buffer size.
const (
	bufferTurns = 256
	windowTurns = 32
)

// sizeBudget caps how many values approxSize visits per turn.
const sizeBudget = 512

// Turn is one entry of an agent's conversation memory.
type Turn struct {
	Role       string    `json:"role"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	Tool       string    `json:"tool,omitempty"`
	Content    any       `json:"content,omitempty"`
	At         time.Time `json:"at"`
}

// memoryLimit returns the number of turns kept for kind.
func memoryLimit(kind string) int {
	switch kind {
	case MemoryNone:
		return 0
	case MemoryWindow:
		return windowTurns
	}
	return bufferTurns
}

// memory is a sliding turn window: appends past limit evict the oldest turns.
// Not safe for concurrent use; the owning agent serializes access.
type memory struct {
	limit int
	turns []Turn
	sizes []int
	bytes int
}

func newMemory(kind string) memory {
	return memory{limit: memoryLimit(kind)}
}

func (m *memory) append(t Turn) {
	if m.limit <= 0 {
		return
	}
	n := approxSize(t.Content, sizeBudget) + len(t.Role) + len(t.Tool)
	m.turns = append(m.turns, t)
	m.sizes = append(m.sizes, n)
	m.bytes += n
	m.trim()
}

// resize changes the window to fit kind, evicting if it shrank.
func (m *memory) resize(kind string) {
	m.limit = memoryLimit(kind)
	if m.limit <= 0 {
		m.reset()
		return
	}
	m.trim()
}

func (m *memory) trim() {
	drop := len(m.turns) - m.limit
	if drop <= 0 {
		return
	}
	for _, n := range m.sizes[:drop] {
		m.bytes -= n
	}
	m.turns = append(m.turns[:0], m.turns[drop:]...)
	m.sizes = append(m.sizes[:0], m.sizes[drop:]...)
}

func (m *memory) snapshot() []Turn {
	return append([]Turn(nil), m.turns...)
}

func (m *memory) reset() {
	m.turns = nil
	m.sizes = nil
	m.bytes = 0
}

// approxSize estimates the encoded size of v, visiting at most budget values.
func approxSize(v any, budget int) int {
	n, _ := sizeOf(v, budget)
	return n
}

func sizeOf(v any, budget int) (int, int) {
	if budget <= 0 {
		return 0, 0
	}
	budget--
	switch x := v.(type) {
	case nil:
		return 0, budget
	case string:
		return len(x) + 2, budget
	case bool:
		return 5, budget
	case map[string]any:
		total := 2
		for k, item := range x {
			if budget <= 0 {
				break
			}
			var n int
			n, budget = sizeOf(item, budget)
			total += len(k) + 4 + n
		}
		return total, budget
	case []any:
		total := 2
		for _, item := range x {
			if budget <= 0 {
				break
			}
			var n int
			n, budget = sizeOf(item, budget)
			total += n + 1
		}
		return total, budget
	case []string:
		total := 2
		for _, s := range x {
			total += len(s) + 3
		}
		return total, budget
	}
	return 8, budget
}
