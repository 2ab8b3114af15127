// Package cli implements the agentcheck command-line interface.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hangw/agentcheck/internal/policy"
	"github.com/hangw/agentcheck/internal/service"
)

// newCreateCmd creates the create command
func newCreateCmd() *cobra.Command {
	var (
		in       service.CreateTaskInput
		reviewer []string
		template string
		start    bool
	)

	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a debate task",
		Long: `Create a task with an author participant and one or more reviewers.

Participants are written provider#alias, e.g. claude#author or codex#rev1.

Example:
  agentcheck create "Fix login bug" \
    --author claude#author --reviewer codex#rev1 \
    --workspace . --test-command "go test ./..."
  agentcheck create "Refactor cache" --template safe-review --start`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			in.Title = args[0]
			in.ReviewerParticipants = reviewer
			if template != "" {
				tpl := policy.TemplateByID(template)
				if tpl == nil {
					return fmt.Errorf("unknown policy template %q (see: agentcheck policy list)", template)
				}
				applyTemplateDefaults(&in, tpl, cmd)
			}

			row, err := a.tasks.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			if start {
				if row, err = a.tasks.Start(cmd.Context(), row.TaskID); err != nil {
					return err
				}
			}

			if jsonOut {
				return printJSON(row)
			}
			printTaskRow(row)
			return nil
		},
	}

	cmd.Flags().StringVar(&in.Description, "description", "", "task description shown to participants")
	cmd.Flags().StringVar(&in.AuthorParticipant, "author", "", "author participant (provider#alias)")
	cmd.Flags().StringArrayVar(&reviewer, "reviewer", nil, "reviewer participant, repeatable")
	cmd.Flags().StringVar(&in.WorkspacePath, "workspace", ".", "project workspace path")
	cmd.Flags().StringVar(&in.TestCommand, "test-command", "", "verification test command")
	cmd.Flags().StringVar(&in.LintCommand, "lint-command", "", "verification lint command")
	cmd.Flags().IntVar(&in.MaxRounds, "max-rounds", 1, "maximum debate rounds")
	cmd.Flags().IntVar(&in.SelfLoopMode, "self-loop-mode", 0, "self-loop mode (0 off, 1 on)")
	cmd.Flags().IntVar(&in.EvolutionLevel, "evolution-level", 0, "evolution aggressiveness level")
	cmd.Flags().StringVar(&in.EvolveUntil, "evolve-until", "", "evolution deadline (YYYY-MM-DD HH:MM)")
	cmd.Flags().BoolVar(&in.AutoMerge, "auto-merge", false, "fuse sandbox changes into the merge target on pass")
	cmd.Flags().StringVar(&in.MergeTargetPath, "merge-target", "", "auto-merge target path (default workspace)")
	cmd.Flags().BoolVar(&in.SandboxMode, "sandbox", false, "run in a sandbox copy of the workspace")
	cmd.Flags().StringVar(&in.SandboxWorkspacePath, "sandbox-path", "", "use an existing sandbox instead of generating one")
	cmd.Flags().BoolVar(&in.SandboxCleanupOnPass, "sandbox-cleanup-on-pass", false, "remove a generated sandbox after a pass")
	cmd.Flags().StringVar(&in.ConversationLanguage, "language", "", "conversation language (en, zh)")
	cmd.Flags().StringVar(&in.RepairMode, "repair-mode", "", "repair mode: balanced, minimal, structural")
	cmd.Flags().BoolVar(&in.PlainMode, "plain", false, "plain prompts without debate framing")
	cmd.Flags().BoolVar(&in.StreamMode, "stream", false, "stream participant output")
	cmd.Flags().BoolVar(&in.DebateMode, "debate", true, "reviewer debate rounds")
	cmd.Flags().BoolVar(&in.ClaudeTeamAgents, "claude-team-agents", false, "enable claude team agents")
	cmd.Flags().BoolVar(&in.CodexMultiAgents, "codex-multi-agents", false, "enable codex multi-agent mode")
	cmd.Flags().StringVar(&template, "template", "", "policy template seeding the mode flags")
	cmd.Flags().BoolVar(&start, "start", false, "start the task immediately")

	return cmd
}

// applyTemplateDefaults seeds mode fields from a policy template without
// clobbering flags the operator set explicitly.
func applyTemplateDefaults(in *service.CreateTaskInput, tpl *policy.Template, cmd *cobra.Command) {
	if !cmd.Flags().Changed("sandbox") {
		in.SandboxMode = tpl.Defaults.SandboxMode
	}
	if !cmd.Flags().Changed("self-loop-mode") {
		in.SelfLoopMode = tpl.Defaults.SelfLoopMode
	}
	if !cmd.Flags().Changed("auto-merge") {
		in.AutoMerge = tpl.Defaults.AutoMerge
	}
	if !cmd.Flags().Changed("max-rounds") {
		in.MaxRounds = tpl.Defaults.MaxRounds
	}
	if !cmd.Flags().Changed("debate") {
		in.DebateMode = tpl.Defaults.DebateMode
	}
	if !cmd.Flags().Changed("plain") {
		in.PlainMode = tpl.Defaults.PlainMode
	}
	if !cmd.Flags().Changed("stream") {
		in.StreamMode = tpl.Defaults.StreamMode
	}
	if !cmd.Flags().Changed("repair-mode") {
		in.RepairMode = string(tpl.Defaults.RepairMode)
	}
}
