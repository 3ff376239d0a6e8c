package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudverge/cloudverge/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var (
		skipPolicy bool
		noStore    bool
	)

	cmd := &cobra.Command{
		Use:   "plan [sources...]",
		Short: "Show what an apply would change",
		Long: `Reconcile in check mode: every read happens, every mutation is recorded
as a pending action, and nothing is changed in AWS.

The resulting run is saved to history with check mode marked, so a later
apply can be compared against the plan.`,
		Example: `  # Plan the current directory
  verge plan

  # Plan specific sources with JSON output
  verge plan infra.cue --json`,
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
					return fmt.Errorf("policy violations block this workspace")
				}
			}

			runner, err := rt.runner(ctx, doc)
			if err != nil {
				return err
			}

			groups, instances := desiredState(doc)
			run, err := runner.Run(rt.tel.WithContext(ctx), doc.Workspace.Name, groups, instances, engine.ReconcileOptions{CheckMode: true})
			if err != nil {
				return err
			}

			if !noStore {
				store, serr := rt.openStore(ctx, doc)
				if serr != nil {
					rt.log.WithError(serr).Warn("history store unavailable, plan not recorded")
				} else {
					defer store.Close()
					if serr := store.SaveRun(ctx, run); serr != nil {
						rt.log.WithError(serr).Warn("failed to record plan")
					}
				}
			}

			return printRun(run)
		},
	}

	cmd.Flags().BoolVar(&skipPolicy, "skip-policy", false, "skip policy evaluation")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "do not record the plan in history")

	return cmd
}
