// Package cli implements the agentcheck command-line interface.
package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/hangw/agentcheck/internal/analysis"
	"github.com/hangw/agentcheck/internal/events"
)

// newEventsCmd creates the events command
func newEventsCmd() *cobra.Command {
	var (
		sinceSeq int64
		limit    int
		follow   bool
	)

	cmd := &cobra.Command{
		Use:   "events <task-id>",
		Short: "Show a task's event stream",
		Long: `List a task's events in sequence order.

Example:
  agentcheck events a1b2c3d4e5f6
  agentcheck events a1b2c3d4e5f6 --since 20 --limit 10
  agentcheck events a1b2c3d4e5f6 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			// follow means live watch; hand off to the TUI.
			if follow {
				return runWatch(a, args[0])
			}

			evs, err := a.tasks.ListEvents(cmd.Context(), args[0], sinceSeq, limit)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(evs)
			}
			if len(evs) == 0 {
				fmt.Println("No events.")
				return nil
			}
			for _, evt := range evs {
				fmt.Println(formatEventLine(evt))
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&sinceSeq, "since", 0, "only events with seq greater than this")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum events (0 = all)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "watch the stream live")
	return cmd
}

// formatEventLine renders one event as "#seq [round] type: snippet".
func formatEventLine(evt *events.Event) string {
	round := "-"
	if evt.Round != nil {
		round = fmt.Sprintf("r%d", *evt.Round)
	}
	line := fmt.Sprintf("#%-4d %-3s %-26s", evt.Seq, round, evt.Type)
	if snippet := eventSnippet(evt); snippet != "" {
		line += " " + snippet
	}
	return line
}

// eventSnippet pulls the most telling payload field. gjson keeps this
// tolerant of loosely shaped payloads from imported event logs.
func eventSnippet(evt *events.Event) string {
	raw, err := json.Marshal(evt.Payload)
	if err != nil {
		return ""
	}
	for _, field := range []string{"reason", "verdict", "participant", "output", "note", "decision"} {
		if v := gjson.GetBytes(raw, field); v.Exists() && v.String() != "" {
			return analysis.ClipSnippet(field + "=" + v.String())
		}
	}
	return ""
}
