// Package cli implements the agentcheck command-line interface.
package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hangw/agentcheck/internal/automation"
	"github.com/hangw/agentcheck/internal/config"
)

// newOvernightCmd creates the overnight command
func newOvernightCmd() *cobra.Command {
	var (
		until            string
		workspace        string
		sandboxMode      bool
		selfLoopMode     int
		autoMerge        bool
		author           string
		reviewers        []string
		fallbackAuthor   string
		fallbackReviewer []string
		evolutionLevel   int
		evolveUntil      string
		maxRounds        int
		pollSeconds      int
		idleSeconds      int
		taskTimeout      int
		maxFailures      int
		cooldownSeconds  int
		disableSeconds   int
		testCommand      string
		lintCommand      string
		topicFile        string
		logDir           string
		lockFile         string
	)

	cmd := &cobra.Command{
		Use:   "overnight",
		Short: "Run unattended self-evolution until a deadline",
		Long: `Run self-evolution tasks back to back until the deadline, rotating
topics and switching to the fallback participant pool when the primary
provider fails. A lock file keeps the driver single-instance.

Example:
  agentcheck overnight --until "2026-08-26 07:00" \
    --author claude#author --reviewer codex#rev1 \
    --fallback-author codex#author --fallback-reviewer gemini#rev1 \
    --workspace-path . --sandbox-mode --self-loop-mode 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			deadline, err := automation.ParseUntil(until)
			if err != nil {
				return err
			}
			topics, err := automation.LoadTopicFile(topicFile)
			if err != nil {
				return err
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if lockFile == "" {
				lockFile = filepath.Join(config.ConfigDir, "overnight.lock")
			}
			if logDir == "" {
				logDir = filepath.Join(config.ConfigDir, "overnight")
			}
			if err := os.MkdirAll(filepath.Dir(lockFile), 0o755); err != nil {
				return err
			}

			driver := automation.NewOvernight(a.tasks, automation.OvernightConfig{
				Until:                        deadline,
				WorkspacePath:                workspace,
				SandboxMode:                  sandboxMode,
				SelfLoopMode:                 selfLoopMode,
				AutoMerge:                    autoMerge,
				EvolutionLevel:               evolutionLevel,
				EvolveUntil:                  evolveUntil,
				MaxRounds:                    maxRounds,
				TestCommand:                  testCommand,
				LintCommand:                  lintCommand,
				Primary:                      automation.ParticipantPlan{Author: author, Reviewers: reviewers},
				Fallback:                     automation.ParticipantPlan{Author: fallbackAuthor, Reviewers: fallbackReviewer},
				Topics:                       topics,
				PollSeconds:                  pollSeconds,
				IdleSeconds:                  idleSeconds,
				TaskTimeoutSeconds:           taskTimeout,
				MaxConsecutiveSystemFailures: maxFailures,
				CooldownSeconds:              cooldownSeconds,
				PrimaryDisableSeconds:        disableSeconds,
				LogDir:                       logDir,
				LockFile:                     lockFile,
			})
			return driver.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&until, "until", "", "stop after this local datetime (YYYY-MM-DD HH:MM)")
	cmd.Flags().StringVar(&workspace, "workspace-path", ".", "workspace to evolve")
	cmd.Flags().BoolVar(&sandboxMode, "sandbox-mode", true, "run each task in a sandbox")
	cmd.Flags().IntVar(&selfLoopMode, "self-loop-mode", 1, "derive followup topics from finished tasks")
	cmd.Flags().BoolVar(&autoMerge, "auto-merge", false, "fuse sandbox changes on pass")
	cmd.Flags().StringVar(&author, "author", "claude#author", "primary author participant")
	cmd.Flags().StringArrayVar(&reviewers, "reviewer", []string{"codex#rev1"}, "primary reviewer, repeatable")
	cmd.Flags().StringVar(&fallbackAuthor, "fallback-author", "codex#author", "fallback author participant")
	cmd.Flags().StringArrayVar(&fallbackReviewer, "fallback-reviewer", []string{"gemini#rev1"}, "fallback reviewer, repeatable")
	cmd.Flags().IntVar(&evolutionLevel, "evolution-level", 0, "evolution aggressiveness level")
	cmd.Flags().StringVar(&evolveUntil, "evolve-until", "", "per-task evolution deadline")
	cmd.Flags().IntVar(&maxRounds, "max-rounds", 3, "rounds per task")
	cmd.Flags().IntVar(&pollSeconds, "poll-seconds", 10, "terminal-status poll interval")
	cmd.Flags().IntVar(&idleSeconds, "idle-seconds", 20, "pause between iterations")
	cmd.Flags().IntVar(&taskTimeout, "task-timeout-seconds", 5400, "watchdog force-fail budget per task")
	cmd.Flags().IntVar(&maxFailures, "max-consecutive-system-failures", 3, "system failures before a cooldown")
	cmd.Flags().IntVar(&cooldownSeconds, "cooldown-seconds", 600, "cooldown after repeated system failures")
	cmd.Flags().IntVar(&disableSeconds, "primary-disable-seconds", 3600, "primary pool cooldown after a provider limit")
	cmd.Flags().StringVar(&testCommand, "test-command", "", "verification test command per task")
	cmd.Flags().StringVar(&lintCommand, "lint-command", "", "verification lint command per task")
	cmd.Flags().StringVar(&topicFile, "topic-file", "", "file with one rotation topic per line")
	cmd.Flags().StringVar(&logDir, "log-dir", "", "iteration log directory")
	cmd.Flags().StringVar(&lockFile, "lock-file", "", "single-instance lock file path")
	_ = cmd.MarkFlagRequired("until")

	return cmd
}
