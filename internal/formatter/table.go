package formatter

import (
	"fmt"

	"github.com/harunnryd/sdd/internal/resource"
	"github.com/harunnryd/sdd/internal/sandbox"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
)

const nameWidth = 40

type TableFormatter struct {
	headerStyle  lipgloss.Style
	cellStyle    lipgloss.Style
	oddRowStyle  lipgloss.Style
	evenRowStyle lipgloss.Style
	borderStyle  lipgloss.Style
	dirStyle     lipgloss.Style
}

func NewTableFormatter() *TableFormatter {
	purple := lipgloss.Color("99")
	gray := lipgloss.Color("245")
	lightGray := lipgloss.Color("241")
	blue := lipgloss.Color("39")

	return &TableFormatter{
		headerStyle: lipgloss.NewStyle().
			Foreground(purple).
			Bold(true).
			Align(lipgloss.Center).
			Padding(0, 1),
		cellStyle: lipgloss.NewStyle().
			Padding(0, 1),
		oddRowStyle: lipgloss.NewStyle().
			Foreground(gray).
			Padding(0, 1),
		evenRowStyle: lipgloss.NewStyle().
			Foreground(lightGray).
			Padding(0, 1),
		borderStyle: lipgloss.NewStyle().
			Foreground(purple),
		dirStyle: lipgloss.NewStyle().
			Foreground(blue).
			Bold(true).
			Padding(0, 1),
	}
}

func (f *TableFormatter) zebra(row, col int) lipgloss.Style {
	switch {
	case row == table.HeaderRow:
		return f.headerStyle
	case row%2 == 0:
		return f.evenRowStyle
	default:
		return f.oddRowStyle
	}
}

func (f *TableFormatter) FormatUsage(u resource.Usages) (string, error) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(f.zebra).
		Headers("", "Containers", "System", "Total")

	t.Row("Memory (GiB)", num(u.Memory.Docker), num(u.Memory.System), num(u.Memory.Total))
	t.Row("CPU (%)", num(u.CPU.Docker), num(u.CPU.System), fmt.Sprintf("%.0f cores", u.CPU.Total))

	return t.String(), nil
}

func (f *TableFormatter) FormatContainerUsage(id string, u resource.ContainerUsage) (string, error) {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return f.headerStyle
			}
			return f.cellStyle
		})

	t.Row("Container", truncateString(id, nameWidth))
	t.Row("CPU (%)", num(u.CPU))
	t.Row("Memory (GiB)", num(u.Memory))

	return t.String(), nil
}

func (f *TableFormatter) FormatEntries(path string, entries []sandbox.DirEntry) (string, error) {
	if len(entries) == 0 {
		return fmt.Sprintf("%s is empty", path), nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row != table.HeaderRow && col == 0 && entries[row].Kind == sandbox.KindDirectory {
				return f.dirStyle
			}
			return f.zebra(row, col)
		}).
		Headers("Name", "Type")

	for _, e := range entries {
		t.Row(truncateString(e.Name, nameWidth), string(e.Kind))
	}

	return t.String(), nil
}

func num(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
