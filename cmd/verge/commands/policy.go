package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and test guardrail policies",
		Long: `Inspect the rego policies guarding this workspace and evaluate them
without touching AWS.

Built-in policies ship with verge; the workspace's policy block can add
more from .rego files.`,
	}

	cmd.AddCommand(newPolicyListCommand())
	cmd.AddCommand(newPolicyEvalCommand())

	return cmd
}

func newPolicyListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [sources...]",
		Short: "List built-in and workspace policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.shutdown(ctx)

			doc, err := rt.loadDocument(ctx, args)
			if err != nil {
				return err
			}

			eng, err := rt.policyEngine(ctx, doc)
			if err != nil {
				return err
			}

			policies := eng.ListPolicies()
			if jsonOutput {
				return printJSON(policies)
			}

			fmt.Printf("%-28s  %-8s  %-8s  %s\n", "NAME", "SEVERITY", "ENABLED", "DESCRIPTION")
			for _, p := range policies {
				enabled := "yes"
				if !p.Enabled {
					enabled = "no"
				}
				fmt.Printf("%-28s  %-8s  %-8s  %s\n", p.Name, p.Severity, enabled, p.Description)
			}
			return nil
		},
	}

	return cmd
}

func newPolicyEvalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval [sources...]",
		Short: "Evaluate policies against the workspace without calling AWS",
		Example: `  # Check the current directory against all policies
  verge policy eval

  # Machine-readable findings
  verge policy eval --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.shutdown(ctx)

			doc, err := rt.loadDocument(ctx, args)
			if err != nil {
				return err
			}
			if err := doc.Err(); err != nil {
				return err
			}

			eng, err := rt.policyEngine(ctx, doc)
			if err != nil {
				return err
			}

			result, err := eng.EvaluateDocument(ctx, doc)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(result)
			}

			printPolicyResult(result)
			if !result.Allowed {
				return fmt.Errorf("%d policy violation(s)", len(result.Violations))
			}
			fmt.Printf("OK: %d policies evaluated, %d warning(s)\n",
				len(result.EvaluatedPolicies), len(result.Warnings))
			return nil
		},
	}

	return cmd
}
