package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	logLevel    string
	logFormat   string
	region      string
	profile     string
	endpointURL string
	storePath   string
	jsonOutput  bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "verge",
		Short: "cloudverge - declarative EC2 security group and instance reconciliation",
		Long: `cloudverge converges AWS security groups and EC2 instances toward a
declared desired state.

Workspaces are written in CUE or YAML, with optional Starlark scripts for
generated resources. Every apply is policy-checked (OPA/rego), recorded in a
local history database, and repeatable: a converged workspace applies with
zero changes.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().StringVar(&region, "region", "", "AWS region (overrides the workspace)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "AWS shared-config profile (overrides the workspace)")
	rootCmd.PersistentFlags().StringVar(&endpointURL, "endpoint-url", "", "override the AWS endpoint, for localstack")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "history database path (overrides the workspace)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newDriftCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newPolicyCommand())

	return rootCmd
}
