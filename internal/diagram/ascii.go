package diagram

import (
	"fmt"
	"strings"
)

// statusTag returns a short ASCII indicator for an agent run status.
func statusTag(status string) string {
	switch status {
	case "completed":
		return "[OK]"
	case "failed":
		return "[FAIL]"
	case "running":
		return "[RUN]"
	case "skipped":
		return "[SKIP]"
	case "pending":
		return "[PEND]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as a level-by-level box diagram.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	for levelIdx, level := range model.Levels {
		var boxes []asciiBox
		for _, id := range level {
			if node := model.Node(id); node != nil {
				boxes = append(boxes, makeBox(node))
			}
		}
		renderBoxRow(&b, boxes)
		if levelIdx < len(model.Levels)-1 && len(boxes) > 0 {
			b.WriteString("       │\n")
			b.WriteString("       ▼\n")
		}
	}

	return b.String()
}

type asciiBox struct {
	lines []string
	width int
}

func makeBox(node *Node) asciiBox {
	content := []string{node.Label}
	if node.Status != nil {
		if tag := statusTag(node.Status.Status); tag != "" {
			content = append(content, tag)
		}
	}

	maxLen := 0
	for _, line := range content {
		if len(line) > maxLen {
			maxLen = len(line)
		}
	}
	width := maxLen + 4

	lines := []string{"┌" + strings.Repeat("─", width-2) + "┐"}
	for _, line := range content {
		lines = append(lines, "│ "+line+strings.Repeat(" ", maxLen-len(line))+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")
	return asciiBox{lines: lines, width: width}
}

// renderBoxRow writes boxes side by side, padding shorter ones.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	maxHeight := 0
	for _, box := range boxes {
		if len(box.lines) > maxHeight {
			maxHeight = len(box.lines)
		}
	}
	for row := 0; row < maxHeight; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}
