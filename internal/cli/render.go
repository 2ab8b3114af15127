// Package cli implements the agentcheck command-line interface.
// This file contains shared output helpers used across commands.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/hangw/agentcheck/internal/task"
)

// styled reports whether stdout is a terminal worth coloring.
func styled() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// terminalWidth returns the stdout width, or 100 off-terminal.
func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 100
}

var statusStyles = map[task.Status]lipgloss.Style{
	task.StatusQueued:        lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	task.StatusRunning:       lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
	task.StatusWaitingManual: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	task.StatusPassed:        lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
	task.StatusFailedGate:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	task.StatusFailedSystem:  lipgloss.NewStyle().Foreground(lipgloss.Color("160")),
	task.StatusCanceled:      lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
}

// statusBadge renders a status, colored only on a terminal.
func statusBadge(status task.Status) string {
	if !styled() {
		return string(status)
	}
	if style, ok := statusStyles[status]; ok {
		return style.Render(string(status))
	}
	return string(status)
}

var headerStyle = lipgloss.NewStyle().Bold(true)

// heading renders a section heading.
func heading(text string) string {
	if !styled() {
		return text
	}
	return headerStyle.Render(text)
}

// truncate clips a string to max runes with an ellipsis.
func truncate(value string, max int) string {
	runes := []rune(value)
	if max <= 3 || len(runes) <= max {
		return value
	}
	return string(runes[:max-3]) + "..."
}

// titleWidth sizes the title column from the terminal, leaving room for
// the fixed columns.
func titleWidth() int {
	w := terminalWidth() - 60
	if w < 20 {
		w = 20
	}
	if w > 80 {
		w = 80
	}
	return w
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// printTaskRow renders one task as a detail block.
func printTaskRow(row *task.Task) {
	fmt.Printf("%s  %s\n", row.TaskID, statusBadge(row.Status))
	fmt.Printf("  Title:   %s\n", row.Title)
	fmt.Printf("  Rounds:  %d/%d\n", row.RoundsCompleted, row.MaxRounds)
	if row.LastGateReason != "" {
		fmt.Printf("  Reason:  %s\n", row.LastGateReason)
	}
	if row.WorkspacePath != "" {
		fmt.Printf("  Workspace: %s\n", row.WorkspacePath)
	}
	if row.SandboxWorkspacePath != "" {
		fmt.Printf("  Sandbox:   %s\n", row.SandboxWorkspacePath)
	}
	if row.CancelRequested {
		fmt.Println("  Cancel requested: yes")
	}
	fmt.Printf("  Updated: %s\n", formatTime(row.UpdatedAt))
}

// printTaskTable renders tasks as an aligned table.
func printTaskTable(rows []*task.Task) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tROUNDS\tREASON\tTITLE")
	fmt.Fprintln(w, "──\t──────\t──────\t──────\t─────")
	width := titleWidth()
	for _, row := range rows {
		reason := truncate(row.LastGateReason, 28)
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\n",
			row.TaskID, statusBadge(row.Status), row.RoundsCompleted, row.MaxRounds,
			reason, truncate(row.Title, width))
	}
	w.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// bulletList prints lines as "  - item" bullets.
func bulletList(lines []string) {
	for _, line := range lines {
		fmt.Println("  - " + line)
	}
}

// splitCommaList splits a comma-separated flag into trimmed entries.
func splitCommaList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
