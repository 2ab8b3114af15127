// Package cli implements the agentcheck command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	jsonOut bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "agentcheck",
	Short: "Multi-participant agent debate orchestrator",
	Long: `agentcheck runs author/reviewer agent debates over a workspace,
gates the outcome on tests, lint, and reviewer verdicts, and records
every round as a replayable event stream.

Quick start:
  agentcheck create "Fix login bug" --author claude#author --reviewer codex#rev1 --workspace .
  agentcheck start <task-id>
  agentcheck watch <task-id>
  agentcheck analyse <task-id>`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .awe-agentcheck/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")

	// Add subcommands
	rootCmd.AddCommand(newCreateCmd())
	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newCancelCmd())
	rootCmd.AddCommand(newForceFailCmd())
	rootCmd.AddCommand(newRestartCmd())
	rootCmd.AddCommand(newApproveCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newEventsCmd())
	rootCmd.AddCommand(newAnalyseCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newPRSummaryCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newAnalyticsCmd())
	rootCmd.AddCommand(newPolicyCmd())
	rootCmd.AddCommand(newOvernightCmd())
	rootCmd.AddCommand(newBenchmarkCmd())
	rootCmd.AddCommand(newWatchCmd())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".awe-agentcheck")
		viper.AddConfigPath("$HOME/.awe-agentcheck")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("AWE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
