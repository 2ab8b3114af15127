// Package cli implements the agentcheck command-line interface.
package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hangw/agentcheck/internal/automation"
)

// newBenchmarkCmd creates the benchmark command
func newBenchmarkCmd() *cobra.Command {
	var (
		tasksFile         string
		regressionFile    string
		includeRegression bool
		reportDir         string
		variantAName      string
		variantATemplate  string
		variantAOverrides string
		variantBName      string
		variantBTemplate  string
		variantBOverrides string
		workspace         string
		author            string
		reviewers         []string
		testCommand       string
		lintCommand       string
		pollSeconds       int
		taskTimeout       int
	)

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Run an A/B policy benchmark over a task corpus",
		Long: `Run every corpus task under two policy variants and write JSON and
markdown comparison reports.

Overrides are JSON objects over task payload fields, e.g.
'{"max_rounds": 1, "debate_mode": false}'.

Example:
  agentcheck benchmark --workspace-path . \
    --variant-a-template balanced-default \
    --variant-b-template safe-review \
    --variant-b-overrides '{"plain_mode": true}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			overridesA, err := parseOverrides(variantAOverrides)
			if err != nil {
				return fmt.Errorf("variant-a-overrides: %w", err)
			}
			overridesB, err := parseOverrides(variantBOverrides)
			if err != nil {
				return fmt.Errorf("variant-b-overrides: %w", err)
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			driver := automation.NewBenchmark(a.tasks, automation.BenchmarkConfig{
				WorkspacePath:     workspace,
				TasksFile:         tasksFile,
				RegressionFile:    regressionFile,
				IncludeRegression: includeRegression,
				ReportDir:         reportDir,
				VariantA:          automation.Variant{Name: variantAName, Template: variantATemplate, Overrides: overridesA},
				VariantB:          automation.Variant{Name: variantBName, Template: variantBTemplate, Overrides: overridesB},
				Author:            author,
				Reviewers:         reviewers,
				TestCommand:       testCommand,
				LintCommand:       lintCommand,
				PollSeconds:       pollSeconds,
				TaskTimeoutSeconds: taskTimeout,
			})

			report, err := driver.Run(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(report)
			}
			fmt.Printf("Variant %s: pass rate %.2f, timeout-like %.2f\n",
				report.VariantA.Name, report.VariantA.Summary.PassRate, report.VariantA.Summary.TimeoutLikeRate)
			fmt.Printf("Variant %s: pass rate %.2f, timeout-like %.2f\n",
				report.VariantB.Name, report.VariantB.Summary.PassRate, report.VariantB.Summary.TimeoutLikeRate)
			fmt.Printf("Delta (B - A): pass %.4f, timeout-like %.4f\n",
				report.Compare.PassRateDelta, report.Compare.TimeoutLikeRateDelta)
			fmt.Println("Reports:")
			fmt.Println("  " + report.JSONPath)
			fmt.Println("  " + report.MarkdownPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&tasksFile, "tasks-file", "", "JSON benchmark corpus (default built-in)")
	cmd.Flags().StringVar(&regressionFile, "regression-file", "", "JSON regression corpus")
	cmd.Flags().BoolVar(&includeRegression, "include-regression", false, "merge the regression corpus in")
	cmd.Flags().StringVar(&reportDir, "report-dir", "", "report output directory (default .agents/benchmarks)")
	cmd.Flags().StringVar(&variantAName, "variant-a-name", "A", "variant A display name")
	cmd.Flags().StringVar(&variantATemplate, "variant-a-template", "balanced-default", "variant A policy template")
	cmd.Flags().StringVar(&variantAOverrides, "variant-a-overrides", "", "variant A JSON payload overrides")
	cmd.Flags().StringVar(&variantBName, "variant-b-name", "B", "variant B display name")
	cmd.Flags().StringVar(&variantBTemplate, "variant-b-template", "safe-review", "variant B policy template")
	cmd.Flags().StringVar(&variantBOverrides, "variant-b-overrides", "", "variant B JSON payload overrides")
	cmd.Flags().StringVar(&workspace, "workspace-path", ".", "workspace the corpus tasks run in")
	cmd.Flags().StringVar(&author, "author", "claude#author", "author participant")
	cmd.Flags().StringArrayVar(&reviewers, "reviewer", []string{"codex#rev1"}, "reviewer, repeatable")
	cmd.Flags().StringVar(&testCommand, "test-command", "", "verification test command")
	cmd.Flags().StringVar(&lintCommand, "lint-command", "", "verification lint command")
	cmd.Flags().IntVar(&pollSeconds, "poll-seconds", 10, "terminal-status poll interval")
	cmd.Flags().IntVar(&taskTimeout, "task-timeout-seconds", 3600, "force-fail budget per task")

	return cmd
}

// parseOverrides decodes a JSON object flag; empty means no overrides.
func parseOverrides(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var overrides map[string]any
	if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
		return nil, err
	}
	return overrides, nil
}
