package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// RenderTable renders headers and rows as an aligned text table. Cells are
// padded to the widest value in their column; rows shorter than the header
// are padded with empty cells.
func RenderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	for i, h := range headers {
		b.WriteString(TableHeaderStyle.Render(TableCellStyle.Width(widths[i] + 2).Render(h)))
	}
	b.WriteString("\n")
	b.WriteString(SubtleStyle.Render(strings.Repeat("─", totalWidth(widths))))

	for _, row := range rows {
		b.WriteString("\n")
		for i := range headers {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			b.WriteString(TableCellStyle.Width(widths[i] + 2).Render(cell))
		}
	}
	return b.String()
}

func totalWidth(widths []int) int {
	total := 0
	for _, w := range widths {
		total += w + 2
	}
	return total
}
