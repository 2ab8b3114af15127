// Package cli implements the agentcheck command-line interface.
package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hangw/agentcheck/internal/automation"
	"github.com/hangw/agentcheck/internal/policy"
)

// newPolicyCmd creates the policy command
func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect policy templates",
		Long: `Inspect the policy template catalog and derive a recommended template
from the failure analytics.

Example:
  agentcheck policy list
  agentcheck policy show safe-review
  agentcheck policy recommend`,
	}

	cmd.AddCommand(newPolicyListCmd())
	cmd.AddCommand(newPolicyShowCmd())
	cmd.AddCommand(newPolicyRecommendCmd())
	return cmd
}

func newPolicyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List policy templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			templates := policy.Catalog()
			if jsonOut {
				return printJSON(templates)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tLABEL\tROUNDS\tSANDBOX\tAUTO-MERGE\tREPAIR")
			for _, tpl := range templates {
				fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%t\t%s\n",
					tpl.ID, tpl.Label, tpl.Defaults.MaxRounds,
					tpl.Defaults.SandboxMode, tpl.Defaults.AutoMerge, tpl.Defaults.RepairMode)
			}
			w.Flush()
			return nil
		},
	}
}

func newPolicyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <template-id>",
		Short: "Show one policy template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tpl := policy.TemplateByID(args[0])
			if tpl == nil {
				return fmt.Errorf("unknown policy template %q (known: %v)", args[0], policy.TemplateIDs())
			}
			if jsonOut {
				return printJSON(tpl)
			}
			fmt.Println(heading(tpl.Label) + "  (" + tpl.ID + ")")
			fmt.Println("  " + tpl.Description)
			fmt.Printf("  max_rounds=%d sandbox=%t auto_merge=%t debate=%t plain=%t stream=%t self_loop=%d repair=%s\n",
				tpl.Defaults.MaxRounds, tpl.Defaults.SandboxMode, tpl.Defaults.AutoMerge,
				tpl.Defaults.DebateMode, tpl.Defaults.PlainMode, tpl.Defaults.StreamMode,
				tpl.Defaults.SelfLoopMode, tpl.Defaults.RepairMode)
			return nil
		},
	}
}

func newPolicyRecommendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recommend",
		Short: "Recommend a template from failure analytics",
		Long: `Cluster the dominant failure bucket from analytics into a recommended
template plus task payload overrides.`,
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
			adjustment := automation.DerivePolicyAdjustmentFromAnalytics(report, policy.DefaultTemplate)
			if jsonOut {
				return printJSON(adjustment)
			}
			fmt.Printf("Recommended template: %s\n", adjustment.RecommendedTemplate)
			fmt.Printf("  Top failure bucket: %s\n", adjustment.TopFailureBucket)
			fmt.Printf("  Reason:             %s\n", adjustment.Reason)
			if len(adjustment.TaskOverrides) > 0 {
				fmt.Printf("  Task overrides:     %v\n", adjustment.TaskOverrides)
			}
			if adjustment.HighDriftParticipant != "" {
				fmt.Printf("  High-drift reviewer: %s\n", adjustment.HighDriftParticipant)
			}
			return nil
		},
	}
}
