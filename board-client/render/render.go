// Package render draws the board for a terminal.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"taskboard/board-api/domain"
	"taskboard/board-client/viewmodel"
)

const defaultColumnWidth = 32

var columnLabels = map[string]string{
	domain.StatusTodo:       "To Do",
	domain.StatusInProgress: "In Progress",
	domain.StatusDone:       "Done",
}

// Theme holds the colors used by the board.
type Theme struct {
	Header   lipgloss.Color
	Border   lipgloss.Color
	Muted    lipgloss.Color
	Alert    lipgloss.Color
	Editing  lipgloss.Color
	Priority map[string]lipgloss.Color
}

// DefaultTheme uses 256-color palette indices.
var DefaultTheme = Theme{
	Header:  lipgloss.Color("99"),
	Border:  lipgloss.Color("240"),
	Muted:   lipgloss.Color("245"),
	Alert:   lipgloss.Color("196"),
	Editing: lipgloss.Color("214"),
	Priority: map[string]lipgloss.Color{
		domain.PriorityLow:    lipgloss.Color("42"),
		domain.PriorityMedium: lipgloss.Color("220"),
		domain.PriorityHigh:   lipgloss.Color("203"),
	},
}

// Board renders a view model.
type Board struct {
	theme       Theme
	columnWidth int
}

// NewBoard returns a renderer with the default theme. A non-positive width
// uses the default column width.
func NewBoard(columnWidth int) Board {
	if columnWidth <= 0 {
		columnWidth = defaultColumnWidth
	}
	return Board{theme: DefaultTheme, columnWidth: columnWidth}
}

// Render draws the status banner, the progress line and the three columns.
func (b Board) Render(vm *viewmodel.ViewModel) string {
	var sections []string
	if banner := b.banner(vm); banner != "" {
		sections = append(sections, banner)
	}
	sections = append(sections, b.progress(vm.Progress()))

	cols := vm.Columns()
	rendered := make([]string, len(cols))
	for i, col := range cols {
		rendered[i] = b.column(vm, col)
	}
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, rendered...))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (b Board) banner(vm *viewmodel.ViewModel) string {
	switch {
	case vm.Loading():
		return lipgloss.NewStyle().Foreground(b.theme.Muted).Render("Loading tasks...")
	case !vm.Connected():
		return lipgloss.NewStyle().Foreground(b.theme.Alert).Bold(true).Render("Not connected to the board server.")
	}
	return ""
}

func (b Board) progress(p viewmodel.Progress) string {
	parts := make([]string, 0, len(domain.Statuses))
	for _, s := range domain.Statuses {
		parts = append(parts, fmt.Sprintf("%s %d", columnLabels[s], p.Counts[s]))
	}
	head := lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("Completion: %d%%", p.Completion))
	return head + "  " + lipgloss.NewStyle().Foreground(b.theme.Muted).Render(strings.Join(parts, " · "))
}

func (b Board) column(vm *viewmodel.ViewModel, col viewmodel.Column) string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(b.theme.Header).
		Render(fmt.Sprintf("%s (%d)", columnLabels[col.Status], len(col.Tasks)))

	lines := []string{header}
	if len(col.Tasks) == 0 {
		lines = append(lines, lipgloss.NewStyle().Foreground(b.theme.Muted).Italic(true).Render("no tasks"))
	}
	for _, t := range col.Tasks {
		lines = append(lines, b.card(t, vm.Editing(t.ID)))
	}

	return lipgloss.NewStyle().
		Width(b.columnWidth).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(b.theme.Border).
		Padding(0, 1).
		Render(strings.Join(lines, "\n"))
}

func (b Board) card(t domain.Task, editing bool) string {
	inner := b.columnWidth - 4
	title := lipgloss.NewStyle().Bold(true).Width(inner).Render(fmt.Sprintf("#%s %s", t.ID, t.Title))

	priorityColor, ok := b.theme.Priority[t.Priority]
	if !ok {
		priorityColor = b.theme.Muted
	}
	meta := lipgloss.NewStyle().Foreground(priorityColor).Render(t.Priority) +
		" " + lipgloss.NewStyle().Foreground(b.theme.Muted).Render(t.Category)
	if n := len(t.Attachments); n > 0 {
		meta += lipgloss.NewStyle().Foreground(b.theme.Muted).Render(fmt.Sprintf(" 📎%d", n))
	}

	lines := []string{title, meta}
	if t.Description != "" {
		lines = append(lines, lipgloss.NewStyle().Foreground(b.theme.Muted).Width(inner).Render(t.Description))
	}

	border := b.theme.Border
	if editing {
		border = b.theme.Editing
		lines = append(lines, lipgloss.NewStyle().Foreground(b.theme.Editing).Render("editing"))
	}
	return lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), true, false, false, false).
		BorderForeground(border).
		Render(strings.Join(lines, "\n"))
}
