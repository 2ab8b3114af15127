// Package cli implements the agentcheck command-line interface.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/hangw/agentcheck/internal/tui"
)

// newWatchCmd creates the watch command
func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <task-id>",
		Short: "Watch a task live",
		Long: `Monitor a task in a live terminal view: current status, rounds, and
the recent event tail, refreshed every two seconds.

Example:
  agentcheck watch a1b2c3d4e5f6`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			return runWatch(a, args[0])
		},
	}
}

func runWatch(a *app, taskID string) error {
	return tui.Run(a.tasks, taskID)
}
