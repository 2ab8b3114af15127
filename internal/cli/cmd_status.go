// Package cli implements the agentcheck command-line interface.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the status command
func newStatusCmd() *cobra.Command {
	var withEvents int

	cmd := &cobra.Command{
		Use:     "status <task-id>",
		Aliases: []string{"st"},
		Short:   "Show one task",
		Long: `Show a task's current status, rounds, and reason.

Example:
  agentcheck status a1b2c3d4e5f6
  agentcheck status a1b2c3d4e5f6 --events 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			row, err := a.tasks.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(row)
			}
			printTaskRow(row)

			if withEvents > 0 {
				evs, err := a.tasks.ListEvents(cmd.Context(), row.TaskID, 0, 0)
				if err != nil {
					return err
				}
				if len(evs) > withEvents {
					evs = evs[len(evs)-withEvents:]
				}
				fmt.Println()
				fmt.Println(heading("Recent events"))
				for _, evt := range evs {
					fmt.Printf("  #%d %s\n", evt.Seq, evt.Type)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&withEvents, "events", 0, "also show the last N events")
	return cmd
}

// newListCmd creates the list command
func newListCmd() *cobra.Command {
	var (
		limit  int
		status string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		Long: `List tasks, newest first.

Example:
  agentcheck list
  agentcheck list --status failed_gate --limit 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.tasks.ListTasks(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if status != "" {
				filtered := rows[:0]
				for _, row := range rows {
					if string(row.Status) == status {
						filtered = append(filtered, row)
					}
				}
				rows = filtered
			}

			if jsonOut {
				return printJSON(rows)
			}
			if len(rows) == 0 {
				fmt.Println("No tasks found. Create one with: agentcheck create \"Your task\"")
				return nil
			}
			printTaskTable(rows)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum tasks to list")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}
