// Package cli implements the agentcheck command-line interface.
// This file contains the aggregate read commands: stats, analytics.
package cli

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newStatsCmd creates the stats command
func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show task statistics",
		Long: `Show status counts, failure reason buckets, provider error counts, and
recent pass/fail rates over the newest 50 tasks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.analytics.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(stats)
			}

			fmt.Println(heading(fmt.Sprintf("Tasks: %d", stats.TotalTasks)))
			printCountMap("Status", stats.StatusCounts)
			printCountMap("Failure reasons", stats.ReasonBuckets)
			printCountMap("Provider errors", stats.ProviderErrors)
			fmt.Println()
			fmt.Println(heading(fmt.Sprintf("Recent %d tasks", stats.RecentTasks)))
			fmt.Printf("  Pass rate:     %.2f\n", stats.RecentPassRate)
			fmt.Printf("  Failure rate:  %.2f\n", stats.RecentFailureRate)
			fmt.Printf("  Mean duration: %.0fs\n", stats.MeanDurationSecond)
			return nil
		},
	}
}

// printCountMap renders a count map sorted by key.
func printCountMap(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Println()
	fmt.Println(heading(title))
	for _, k := range keys {
		fmt.Printf("  %-32s %d\n", k, counts[k])
	}
}

// newAnalyticsCmd creates the analytics command
func newAnalyticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analytics",
		Short: "Show failure taxonomy and reviewer drift",
		Long: `Show the failure taxonomy with shares of terminal tasks, the per-day
pass/fail trend, and per-reviewer verdict drift against the global
adverse rate.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.analytics.Analytics(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(report)
			}

			if len(report.FailureTaxonomy) > 0 {
				fmt.Println(heading("Failure taxonomy"))
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "BUCKET\tCOUNT\tSHARE")
				for _, row := range report.FailureTaxonomy {
					fmt.Fprintf(w, "%s\t%d\t%.2f\n", row.Bucket, row.Count, row.Share)
				}
				w.Flush()
			}

			if len(report.Trend) > 0 {
				fmt.Println()
				fmt.Println(heading("Trend"))
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "DAY\tTOTAL\tPASSED\tFAILED")
				for _, p := range report.Trend {
					fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", p.Day, p.Total, p.Passed, p.Failed)
				}
				w.Flush()
			}

			if len(report.Reviewers) > 0 {
				fmt.Println()
				fmt.Println(heading(fmt.Sprintf("Reviewers (global adverse rate %.2f)", report.GlobalAdverseRate)))
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "PARTICIPANT\tREVIEWS\tBLOCKERS\tUNKNOWNS\tADVERSE\tDRIFT")
				for _, r := range report.Reviewers {
					fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.2f\t%.2f\n",
						r.Participant, r.Reviews, r.Blockers, r.Unknowns, r.AdverseRate, r.DriftScore)
				}
				w.Flush()
			}
			return nil
		},
	}
}
