// Package cli implements the agentcheck command-line interface.
// This file contains the read-model commands: analyse, history,
// pr-summary.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hangw/agentcheck/internal/analysis"
	"github.com/hangw/agentcheck/internal/hosting"
	"github.com/hangw/agentcheck/internal/task"
)

// newAnalyseCmd creates the analyse command
func newAnalyseCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "analyse <task-id>",
		Aliases: []string{"analyze"},
		Short:   "Summarize a task's outcome",
		Long: `Derive findings, revisions, disputes, and suggested next steps from a
task's events and artifacts.

Example:
  agentcheck analyse a1b2c3d4e5f6`,
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
			item := analysis.BuildProjectHistoryItem(cmd.Context(), a.store, row.TaskID, row, a.artifacts.TaskDir(row.TaskID))
			if item == nil {
				return fmt.Errorf("no analysable data for task %s", args[0])
			}
			if jsonOut {
				return printJSON(item)
			}
			printHistoryItem(item)
			return nil
		},
	}
}

// printHistoryItem renders one analysed task.
func printHistoryItem(item *analysis.HistoryItem) {
	fmt.Printf("%s  %s\n", item.TaskID, statusBadge(task.Status(item.Status)))
	fmt.Printf("  Title:  %s\n", item.Title)
	fmt.Printf("  Rounds: %d/%d\n", item.RoundsCompleted, item.MaxRounds)
	if item.LastGateReason != "" {
		fmt.Printf("  Reason: %s\n", item.LastGateReason)
	}

	if len(item.CoreFindings) > 0 {
		fmt.Println()
		fmt.Println(heading("Core findings"))
		bulletList(item.CoreFindings)
	}
	if item.Revisions.AutoMerge {
		fmt.Println()
		fmt.Println(heading("Revisions"))
		fmt.Printf("  - auto-merge %s: %d changed, %d copied, %d deleted\n",
			item.Revisions.Mode, item.Revisions.ChangedFiles,
			item.Revisions.CopiedFiles, item.Revisions.DeletedFiles)
		if item.Revisions.ChangelogPath != "" {
			fmt.Printf("  - changelog: %s\n", item.Revisions.ChangelogPath)
		}
	}
	if len(item.Disputes) > 0 {
		fmt.Println()
		fmt.Println(heading("Disputes"))
		for _, d := range item.Disputes {
			fmt.Printf("  - [%s] %s: %s\n", d.Verdict, d.Participant, d.Note)
		}
	}
	if len(item.NextSteps) > 0 {
		fmt.Println()
		fmt.Println(heading("Next steps"))
		bulletList(item.NextSteps)
	}
}

// newHistoryCmd creates the history command
func newHistoryCmd() *cobra.Command {
	var (
		project string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show project task history",
		Long: `List analysed task history, most recent first, optionally filtered to
one project path.

Example:
  agentcheck history
  agentcheck history --project /path/to/repo --limit 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.history.ListProjectHistory(cmd.Context(), project, limit)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(items)
			}
			if len(items) == 0 {
				fmt.Println("No history.")
				return nil
			}
			for i, item := range items {
				if i > 0 {
					fmt.Println()
				}
				printHistoryItem(item)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "filter by project path")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum history items")
	return cmd
}

// newPRSummaryCmd creates the pr-summary command
func newPRSummaryCmd() *cobra.Command {
	var (
		publish  bool
		provider string
		baseURL  string
		tokenEnv string
	)

	cmd := &cobra.Command{
		Use:   "pr-summary <task-id>",
		Short: "Render a task's PR summary",
		Long: `Render the task summary markdown used for pull requests. With
--publish the summary is posted as a draft PR (or merge request) on
the workspace's hosted remote, using GITHUB_TOKEN or GITLAB_TOKEN.

Example:
  agentcheck pr-summary a1b2c3d4e5f6
  agentcheck pr-summary a1b2c3d4e5f6 --publish`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if publish {
				pr, err := a.history.PublishPRSummary(cmd.Context(), args[0], publishConfig(provider, baseURL, tokenEnv))
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(pr)
				}
				fmt.Printf("Published %s (#%d): %s\n", pr.Title, pr.Number, pr.URL)
				return nil
			}

			summary, err := a.history.BuildPRSummary(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(summary)
			return nil
		},
	}

	cmd.Flags().BoolVar(&publish, "publish", false, "publish as a draft PR on the hosted remote")
	cmd.Flags().StringVar(&provider, "provider", "", "force hosting provider: github or gitlab")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "self-hosted API base URL")
	cmd.Flags().StringVar(&tokenEnv, "token-env", "", "environment variable holding the API token")
	return cmd
}

// publishConfig maps the pr-summary flags onto a hosting config. The
// provider value stays a plain string; NewProvider resolves it (empty
// means detect from the remote URL).
func publishConfig(provider, baseURL, tokenEnv string) hosting.Config {
	return hosting.Config{
		Provider:    provider,
		BaseURL:     baseURL,
		TokenEnvVar: tokenEnv,
	}
}
