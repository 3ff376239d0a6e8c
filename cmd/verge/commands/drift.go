package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/cloudverge/cloudverge/pkg/engine"
	"github.com/cloudverge/cloudverge/pkg/stores"
	"github.com/cloudverge/cloudverge/pkg/telemetry"
)

func newDriftCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Drift detection",
		Long: `Detect drift between the declared workspace and live AWS state.

Detection is a check-mode reconciliation: any pending action means the
resource has drifted. Outcomes are recorded in the history database.`,
	}

	cmd.AddCommand(newDriftDetectCommand())
	cmd.AddCommand(newDriftHistoryCommand())

	return cmd
}

func newDriftDetectCommand() *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "detect [sources...]",
		Short: "Detect drift once or continuously",
		Long: `Compare live AWS state against the declared workspace.

With --watch, detection re-runs on an interval and whenever a source file
changes; stop with an interrupt.`,
		Example: `  # One-shot drift check
  verge drift detect

  # Watch mode: re-check every 5 minutes and on config changes
  verge drift detect --watch --interval 5m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.shutdown(ctx)

			sources := args
			if len(sources) == 0 {
				sources = []string{"."}
			}

			if !watch {
				drifted, err := detectOnce(ctx, rt, sources)
				if err != nil {
					return err
				}
				if drifted > 0 {
					return fmt.Errorf("%d resource(s) drifted", drifted)
				}
				fmt.Println("workspace in sync")
				return nil
			}

			return watchDrift(ctx, rt, sources, interval)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and re-check on changes")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "re-check interval in watch mode")

	return cmd
}

func newDriftHistoryCommand() *cobra.Command {
	var (
		workspace string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded drift events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.shutdown(ctx)

			store, err := rt.openStore(ctx, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := store.ListDriftEvents(ctx, workspace, limit)
			if err != nil {
				return err
			}
			return printDriftEvents(events)
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "workspace name to show events for")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to show")
	cmd.MarkFlagRequired("workspace")

	return cmd
}

// detectOnce runs one check-mode reconciliation and records an event per
// resource. Returns the number of drifted resources.
func detectOnce(ctx context.Context, rt *runtime, sources []string) (int, error) {
	op := telemetry.StartOperation(rt.tel.WithContext(ctx), "drift.detect")
	drifted, err := func() (int, error) {
		doc, err := rt.loadDocument(op.Ctx, sources)
		if err != nil {
			return 0, err
		}
		if err := doc.Err(); err != nil {
			return 0, err
		}

		runner, err := rt.runner(op.Ctx, doc)
		if err != nil {
			return 0, err
		}

		groups, instances := desiredState(doc)
		run, err := runner.Run(op.Ctx, doc.Workspace.Name, groups, instances, engine.ReconcileOptions{CheckMode: true})
		if err != nil {
			return 0, err
		}

		store, serr := rt.openStore(op.Ctx, doc)
		if serr != nil {
			rt.log.WithError(serr).Warn("history store unavailable, drift not recorded")
			store = nil
		} else {
			defer store.Close()
		}

		return recordDrift(op.Ctx, rt, store, doc.Workspace.Name, run), nil
	}()
	op.End(err)
	return drifted, err
}

func recordDrift(ctx context.Context, rt *runtime, store *stores.SQLiteStore, workspace string, run *engine.Run) int {
	drifted := 0
	detectedAt := time.Now()

	record := func(ev stores.DriftEvent) {
		rt.tel.Metrics.RecordDriftDetection(string(ev.ResourceType), string(ev.Status))
		if ev.Status == stores.DriftStatusDrifted {
			drifted++
			fmt.Printf("DRIFT %s/%s: %s\n", ev.ResourceType, ev.Name, ev.Detail)
			_ = rt.tel.Events.PublishDriftDetected(ev.Name, ev.Detail)
		}
		if store != nil {
			if err := store.RecordDrift(ctx, ev); err != nil {
				rt.log.WithError(err).Warn("failed to record drift event")
			}
		}
	}

	for _, g := range run.Groups {
		ev := stores.DriftEvent{
			Workspace:    workspace,
			ResourceType: stores.ResourceTypeGroup,
			Name:         g.GroupName,
			Status:       stores.DriftStatusInSync,
			DetectedAt:   detectedAt,
		}
		if g.Changed {
			ev.Status = stores.DriftStatusDrifted
			ev.Detail = summarizeActions(g.Actions)
		}
		record(ev)
	}

	for _, i := range run.Instances {
		ev := stores.DriftEvent{
			Workspace:    workspace,
			ResourceType: stores.ResourceTypeInstance,
			Name:         strings.Join(i.InstanceIDs, ","),
			Status:       stores.DriftStatusInSync,
			DetectedAt:   detectedAt,
		}
		if i.Changed {
			ev.Status = stores.DriftStatusDrifted
			ev.Detail = summarizeActions(i.Actions)
		}
		record(ev)
	}

	return drifted
}

func summarizeActions(actions []engine.Action) string {
	parts := make([]string, 0, len(actions))
	for _, a := range actions {
		parts = append(parts, string(a.Type))
	}
	return strings.Join(parts, ", ")
}

// watchDrift re-runs detection on an interval and whenever a source
// changes, with a short debounce for editors that write twice.
func watchDrift(ctx context.Context, rt *runtime, sources []string, interval time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	for _, src := range sources {
		if err := watcher.Add(src); err != nil {
			return fmt.Errorf("watching %s: %w", src, err)
		}
		if info, err := os.Stat(src); err == nil && !info.IsDir() {
			// Watch the directory too: editors replace files on save.
			_ = watcher.Add(".")
		}
	}

	check := func() {
		if drifted, err := detectOnce(ctx, rt, sources); err != nil {
			rt.log.WithError(err).Error("drift detection failed")
		} else if drifted == 0 {
			fmt.Println("workspace in sync")
		}
	}

	check()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			check()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, func() {
				rt.log.WithField("file", event.Name).Info("source changed, re-checking drift")
				check()
			})
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			rt.log.WithError(werr).Warn("watch error")
		}
	}
}
