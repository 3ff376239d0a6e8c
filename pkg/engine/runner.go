package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloudverge/cloudverge/pkg/telemetry"
)

// Runner reconciles a whole workspace: every security group first, so
// instance specs can reference groups created in the same run, then every
// instance spec. A failing resource does not stop the run; the failure is
// counted and the run status reflects it.
type Runner struct {
	groups    *GroupReconciler
	instances *InstanceReconciler
	log       *telemetry.Logger
	metrics   *telemetry.Metrics
	events    *telemetry.EventPublisher
}

// NewRunner creates a workspace runner. metrics may be nil.
func NewRunner(api EC2API, iamAPI IAMAPI, log *telemetry.Logger, metrics *telemetry.Metrics) *Runner {
	return &Runner{
		groups:    NewGroupReconciler(api, log),
		instances: NewInstanceReconciler(api, iamAPI, log),
		log:       log.NewComponentLogger("runner"),
		metrics:   metrics,
	}
}

// WithEvents attaches an event publisher for run lifecycle events.
func (r *Runner) WithEvents(events *telemetry.EventPublisher) *Runner {
	r.events = events
	return r
}

// Run reconciles all desired groups and instances and returns the run
// record. The returned error is non-nil only when the run as a whole could
// not proceed; per-resource failures are reported through the run status
// and summary.
func (r *Runner) Run(ctx context.Context, workspace string, groups []GroupDesired, instances []InstanceDesired, opts ReconcileOptions) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		Workspace: workspace,
		CheckMode: opts.CheckMode,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	run.Summary.GroupsTotal = len(groups)
	run.Summary.InstancesTotal = len(instances)

	log := r.log.WithRunID(run.ID)
	log.WithField("groups", len(groups)).
		WithField("instances", len(instances)).
		WithField("check_mode", opts.CheckMode).
		Info("starting reconciliation run")

	if r.metrics != nil {
		mode := "apply"
		if opts.CheckMode {
			mode = "check"
		}
		r.metrics.RecordRunStarted(mode)
	}
	if r.events != nil {
		_ = r.events.PublishRunStarted(run.ID, workspace, opts.CheckMode)
	}

	tel := telemetry.FromTelemetryContext(ctx)
	if tel != nil {
		runCtx, span := tel.Tracer.StartRunSpan(ctx, run.ID)
		defer span.End()
		ctx = runCtx
	}

	for _, desired := range groups {
		if err := ctx.Err(); err != nil {
			return r.finish(run, err)
		}

		started := time.Now()
		result, err := r.reconcileGroup(ctx, tel, desired, opts)
		r.recordGroup(result, err, time.Since(started))
		if err != nil {
			log.WithError(err).WithField("group", desired.Name).Error("group reconciliation failed")
			run.Summary.Errors++
			run.Groups = append(run.Groups, GroupResult{
				GroupName: desired.Name,
				GroupID:   desired.GroupID,
				Warnings:  []string{err.Error()},
			})
			continue
		}

		run.Groups = append(run.Groups, *result)
		if result.Changed {
			run.Summary.GroupsChanged++
		}
		if result.Created {
			run.Summary.GroupsCreated++
		}
		authorized, revoked := countRuleActions(result.Actions)
		run.Summary.RulesAuthorized += authorized
		run.Summary.RulesRevoked += revoked
		if r.metrics != nil {
			for _, a := range result.Actions {
				if (a.Type == ActionAuthorize || a.Type == ActionRevoke) && a.Count > 0 {
					r.metrics.RecordRuleChanges(string(a.Direction), string(a.Type), a.Count)
				}
			}
		}
		if r.events != nil {
			_ = r.events.PublishGroupReconciled(run.ID, result.GroupName, result.Changed, result.Created)
		}
	}

	for _, desired := range instances {
		if err := ctx.Err(); err != nil {
			return r.finish(run, err)
		}

		started := time.Now()
		result, err := r.reconcileInstance(ctx, tel, desired, opts)
		r.recordInstance(result, err, time.Since(started))
		if err != nil {
			log.WithError(err).Error("instance reconciliation failed")
			run.Summary.Errors++
			run.Instances = append(run.Instances, InstanceResult{
				InstanceIDs: desired.InstanceIDs,
				Warnings:    []string{err.Error()},
			})
			continue
		}

		run.Instances = append(run.Instances, *result)
		if result.Changed {
			run.Summary.InstancesChanged++
		}
		if r.events != nil {
			_ = r.events.PublishInstanceReconciled(run.ID, result.InstanceIDs, result.Changed)
		}
	}

	return r.finish(run, nil)
}

// reconcileGroup wraps one group reconciliation in its own span when
// tracing is attached to the run context.
func (r *Runner) reconcileGroup(ctx context.Context, tel *telemetry.Telemetry, desired GroupDesired, opts ReconcileOptions) (*GroupResult, error) {
	if tel == nil {
		return r.groups.Reconcile(ctx, desired, opts)
	}
	spanCtx, span := tel.Tracer.StartGroupSpan(ctx, desired.Name)
	defer span.End()
	result, err := r.groups.Reconcile(spanCtx, desired, opts)
	telemetry.RecordError(span, err)
	return result, err
}

// reconcileInstance wraps one instance reconciliation in its own span.
func (r *Runner) reconcileInstance(ctx context.Context, tel *telemetry.Telemetry, desired InstanceDesired, opts ReconcileOptions) (*InstanceResult, error) {
	if tel == nil {
		return r.instances.Reconcile(ctx, desired, opts)
	}
	spanCtx, span := tel.Tracer.StartInstanceSpan(ctx, string(desired.State))
	defer span.End()
	result, err := r.instances.Reconcile(spanCtx, desired, opts)
	telemetry.RecordError(span, err)
	return result, err
}

// finish stamps the end time and derives the final status.
func (r *Runner) finish(run *Run, ctxErr error) (*Run, error) {
	run.FinishedAt = time.Now().UTC()

	switch {
	case ctxErr != nil:
		run.Status = RunStatusFailed
	case run.Summary.Errors == 0:
		run.Status = RunStatusSucceeded
	case run.Summary.Errors >= run.Summary.GroupsTotal+run.Summary.InstancesTotal:
		run.Status = RunStatusFailed
	default:
		run.Status = RunStatusPartial
	}

	r.log.WithRunID(run.ID).
		WithField("status", string(run.Status)).
		WithField("duration", run.FinishedAt.Sub(run.StartedAt).String()).
		WithField("errors", run.Summary.Errors).
		Info("reconciliation run finished")

	if r.metrics != nil {
		r.metrics.RecordRunCompleted(string(run.Status), run.FinishedAt.Sub(run.StartedAt))
	}
	if r.events != nil {
		if run.Status == RunStatusFailed {
			reason := "all resources failed"
			if ctxErr != nil {
				reason = ctxErr.Error()
			}
			_ = r.events.PublishRunFailed(run.ID, reason)
		} else {
			_ = r.events.PublishRunCompleted(run.ID, string(run.Status), run.FinishedAt.Sub(run.StartedAt))
		}
	}

	if ctxErr != nil {
		return run, NewTransientError("run interrupted", ctxErr)
	}
	return run, nil
}

func (r *Runner) recordGroup(result *GroupResult, err error, duration time.Duration) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordGroupReconcile(reconcileStatus(result != nil && result.Changed, err), duration)
	if err != nil {
		r.recordError(err)
	}
}

func (r *Runner) recordInstance(result *InstanceResult, err error, duration time.Duration) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordInstanceReconcile(reconcileStatus(result != nil && result.Changed, err), duration)
	if err != nil {
		r.recordError(err)
	}
}

func (r *Runner) recordError(err error) {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		r.metrics.RecordError(string(engErr.Class), engErr.Code)
		return
	}
	r.metrics.RecordError(string(ErrorClassPermanent), "")
}

func reconcileStatus(changed bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case changed:
		return "changed"
	default:
		return "ok"
	}
}

func countRuleActions(actions []Action) (authorized, revoked int) {
	for _, a := range actions {
		switch a.Type {
		case ActionAuthorize:
			authorized += a.Count
		case ActionRevoke:
			revoked += a.Count
		}
	}
	return authorized, revoked
}

// Describe returns a one-line human summary of a run for CLI output.
func (run *Run) Describe() string {
	var b strings.Builder
	b.WriteString(string(run.Status))
	if run.CheckMode {
		b.WriteString(" (check mode)")
	}
	return b.String()
}
