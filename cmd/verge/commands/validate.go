package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var skipPolicy bool

	cmd := &cobra.Command{
		Use:   "validate [sources...]",
		Short: "Validate workspace sources",
		Long: `Validate workspace sources without touching AWS.

This command checks:
  - CUE/YAML syntax and Starlark evaluation
  - Schema conformance and struct validation
  - Duplicate and conflicting declarations
  - Policy compliance (OPA/rego)`,
		Example: `  # Validate the current directory
  verge validate

  # Validate specific files
  verge validate infra.cue extra.yaml

  # Skip policy evaluation
  verge validate --skip-policy`,
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

			for _, verr := range doc.Errors {
				fmt.Println(verr.String())
			}
			if err := doc.Err(); err != nil {
				return err
			}

			if !skipPolicy && policyEnabled(doc) {
				eng, err := rt.policyEngine(ctx, doc)
				if err != nil {
					return err
				}
				result, err := eng.EvaluateDocument(ctx, doc)
				if err != nil {
					return err
				}
				printPolicyResult(result)
				if !result.Allowed || (failOnWarnings(doc) && len(result.Warnings) > 0) {
					return fmt.Errorf("policy evaluation failed")
				}
			}

			fmt.Printf("OK: workspace %q, %d group(s), %d instance spec(s)\n",
				doc.Workspace.Name, len(doc.Groups), len(doc.Instances))
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipPolicy, "skip-policy", false, "skip policy evaluation")

	return cmd
}
