// Package cli implements the agentcheck command-line interface.
// This file contains the lifecycle commands: start, cancel, force-fail,
// restart, and approve.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hangw/agentcheck/internal/task"
)

// newStartCmd creates the start command
func newStartCmd() *cobra.Command {
	var async bool

	cmd := &cobra.Command{
		Use:   "start <task-id>",
		Short: "Start a queued task",
		Long: `Admit a queued task into running and drive the debate to a terminal
status. With --async the command returns as soon as the task is
admitted; follow it with: agentcheck watch <task-id>.

When the concurrency ceiling is full the task stays queued with reason
concurrency_limit; start it again later.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			var row *task.Task
			if async {
				row, err = a.tasks.StartAsync(cmd.Context(), args[0])
			} else {
				row, err = a.tasks.Start(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(row)
			}
			printTaskRow(row)
			return nil
		},
	}

	cmd.Flags().BoolVar(&async, "async", false, "return after admission instead of waiting for the outcome")
	return cmd
}

// newCancelCmd creates the cancel command
func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a task",
		Long: `Cancel a task. Queued and waiting tasks settle immediately; a running
task gets a sticky cancel flag and settles at its next cancellation
poll.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			row, err := a.tasks.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(row)
			}
			printTaskRow(row)
			return nil
		},
	}
}

// newForceFailCmd creates the force-fail command
func newForceFailCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "force-fail <task-id>",
		Short: "Administratively fail a stuck task",
		Long: `Write failed_system on a task that will not settle on its own, for
example after a worker crash. The reason is recorded as the task's
last gate reason.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			row, err := a.tasks.ForceFail(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(row)
			}
			printTaskRow(row)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "operator force-fail", "recorded failure reason")
	return cmd
}

// newRestartCmd creates the restart command
func newRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <task-id>",
		Short: "Restart a failed task",
		Long: `Requeue a failed_gate or failed_system task and run it again. Restart
refuses when the workspace fingerprint no longer matches the one
captured at creation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			row, err := a.tasks.Restart(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(row)
			}
			printTaskRow(row)
			return nil
		},
	}
}

// newApproveCmd creates the approve command
func newApproveCmd() *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "approve <task-id>",
		Short: "Approve a waiting task",
		Long: `Resume a waiting_manual task, typically after a consensus stall. The
optional note is recorded on the manual_gate event and shown to
participants in the next round.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			row, err := a.tasks.Approve(cmd.Context(), args[0], note)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(row)
			}
			printTaskRow(row)
			fmt.Println("Approved. Start the task to continue the debate.")
			return nil
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "direction recorded for the next round")
	return cmd
}
