package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloudverge/cloudverge/pkg/engine"
)

func newApplyCommand() *cobra.Command {
	var (
		autoApprove bool
		skipPolicy  bool
	)

	cmd := &cobra.Command{
		Use:   "apply [sources...]",
		Short: "Reconcile AWS toward the declared state",
		Long: `Reconcile every declared security group and instance spec toward its
desired state.

Groups are reconciled first so instance specs can reference them. Policy
violations block the apply; warnings block only when the workspace sets
on_violation to fail. The run is recorded in history.`,
		Example: `  # Apply the current directory
  verge apply

  # Apply without the approval prompt
  verge apply --auto-approve

  # Apply against localstack
  verge apply --endpoint-url http://localhost:4566`,
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
				if !result.Allowed {
					return fmt.Errorf("policy violations block this apply")
				}
				if failOnWarnings(doc) && len(result.Warnings) > 0 {
					return fmt.Errorf("policy warnings block this apply (on_violation: fail)")
				}
			}

			if !autoApprove {
				ok, err := confirm(fmt.Sprintf("Apply workspace %q (%d group(s), %d instance spec(s))?",
					doc.Workspace.Name, len(doc.Groups), len(doc.Instances)))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("apply cancelled")
					return nil
				}
			}

			runner, err := rt.runner(ctx, doc)
			if err != nil {
				return err
			}

			groups, instances := desiredState(doc)
			run, runErr := runner.Run(rt.tel.WithContext(ctx), doc.Workspace.Name, groups, instances, engine.ReconcileOptions{})

			store, serr := rt.openStore(ctx, doc)
			if serr != nil {
				rt.log.WithError(serr).Warn("history store unavailable, run not recorded")
			} else {
				defer store.Close()
				if serr := store.SaveRun(ctx, run); serr != nil {
					rt.log.WithError(serr).Warn("failed to record run")
				}
			}

			if err := printRun(run); err != nil {
				return err
			}
			if runErr != nil {
				return runErr
			}
			if run.Status == engine.RunStatusFailed || run.Status == engine.RunStatusPartial {
				return fmt.Errorf("run %s finished with status %s", run.ID, run.Status)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip approval prompt")
	cmd.Flags().BoolVar(&skipPolicy, "skip-policy", false, "skip policy evaluation")

	return cmd
}

func confirm(prompt string) (bool, error) {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("reading confirmation: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
