// Package render formats task lists for the terminal.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"

	"github.com/amirbrooks/tasker/internal/store"
)

// NothingToDisplay is printed instead of a table when no task matches.
const NothingToDisplay = "Nothing to display."

const (
	idWidth      = 3
	statusWidth  = 12
	createdWidth = 20
	updatedWidth = 19
	uidWidth     = 10
	separator    = " | "
)

type Options struct {
	// Profile selects the colour output; termenv.Ascii disables colour.
	Profile termenv.Profile
	// ShowUID adds a column with the short stable id.
	ShowUID bool
}

// Styles maps a status to its colour.
type Styles struct {
	Todo       lipgloss.Style
	InProgress lipgloss.Style
	Done       lipgloss.Style
	Other      lipgloss.Style
}

func NewStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Todo:       r.NewStyle().Foreground(lipgloss.Color("3")), // yellow
		InProgress: r.NewStyle().Foreground(lipgloss.Color("4")), // blue
		Done:       r.NewStyle().Foreground(lipgloss.Color("2")), // green
		Other:      r.NewStyle().Foreground(lipgloss.Color("7")), // white
	}
}

func (s Styles) Status(status store.Status) string {
	switch status {
	case store.StatusTodo:
		return s.Todo.Render(string(status))
	case store.StatusInProgress:
		return s.InProgress.Render(string(status))
	case store.StatusDone:
		return s.Done.Render(string(status))
	default:
		return s.Other.Render(string(status))
	}
}

// List writes tasks as an aligned table, or NothingToDisplay when tasks is
// empty. The Task column is as wide as the longest description shown, and
// never narrower than its header.
func List(w io.Writer, tasks []store.Task, opts Options) error {
	if len(tasks) == 0 {
		_, err := fmt.Fprintln(w, NothingToDisplay)
		return err
	}
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(opts.Profile)
	styles := NewStyles(r)

	taskWidth := runewidth.StringWidth("Task")
	for _, t := range tasks {
		if n := runewidth.StringWidth(t.Description); n > taskWidth {
			taskWidth = n
		}
	}

	var b strings.Builder
	b.WriteString("\n\n")
	headers := []string{
		pad("ID", idWidth),
		pad("Task", taskWidth),
		pad("Status", statusWidth),
		pad("Created", createdWidth),
		pad("Updated", updatedWidth),
	}
	if opts.ShowUID {
		headers = append(headers, pad("UID", uidWidth))
	}
	header := strings.Join(headers, separator)
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("-", runewidth.StringWidth(header)) + "\n")

	for _, t := range tasks {
		status := string(t.Status)
		cols := []string{
			pad(fmt.Sprintf("%d", t.ID), idWidth),
			pad(t.Description, taskWidth),
			styles.Status(t.Status) + strings.Repeat(" ", max(0, statusWidth-runewidth.StringWidth(status))),
			pad(t.CreatedAt, createdWidth),
			pad(t.UpdatedAt, updatedWidth),
		}
		if opts.ShowUID {
			cols = append(cols, pad(t.UIDShort(uidWidth), uidWidth))
		}
		b.WriteString(strings.Join(cols, separator) + "\n")
	}
	b.WriteString("\n\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// pad left-aligns s in width terminal cells; longer values are kept whole.
func pad(s string, width int) string {
	return runewidth.FillRight(s, width)
}
