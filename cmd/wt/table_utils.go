package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/badri/wtsession/internal/tools"
)

var (
	tableTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	tableDimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Column caps for the entries table. Path is last and never truncated.
var entryColumns = []struct {
	title string
	max   int
}{
	{"Branch", 32},
	{"Status", 9},
	{"Session", 24},
	{"Flags", 44},
	{"Path", 0},
}

// renderEntries renders list entries as a static table titled with the
// scope. Columns are sized to their widest cell, up to each column's cap.
func renderEntries(scope string, entries []tools.Entry) string {
	rows := entryRows(entries)
	if len(rows) == 0 {
		return ""
	}

	columns := make([]table.Column, len(entryColumns))
	for i, c := range entryColumns {
		width := len(c.title)
		for _, row := range rows {
			width = max(width, len(row[i]))
		}
		if c.max > 0 {
			width = min(width, c.max)
		}
		columns[i] = table.Column{Title: c.title, Width: width}
	}
	for _, row := range rows {
		for i, c := range entryColumns {
			if c.max > 0 {
				row[i] = truncate(row[i], c.max)
			}
		}
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithHeight(len(rows)+1),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true).
		Foreground(lipgloss.Color("229"))
	styles.Selected = lipgloss.NewStyle()
	styles.Cell = styles.Cell.Foreground(lipgloss.Color("252"))
	t.SetStyles(styles)

	return tableTitleStyle.Render(scope) + "\n\n" + t.View()
}

// entryRows keeps the store's most-recently-updated-first order.
func entryRows(entries []tools.Entry) []table.Row {
	rows := make([]table.Row, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, table.Row{
			e.Branch,
			string(e.Status),
			e.ForkedSessionID,
			strings.Join(e.Flags(), " "),
			e.WorktreePath,
		})
	}
	return rows
}

func printEmptyMessage(message, hint string) {
	fmt.Println(tableDimStyle.Render(message))
	if hint != "" {
		fmt.Println(tableDimStyle.Render("\n" + hint))
	}
}
