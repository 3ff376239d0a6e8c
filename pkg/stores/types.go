package stores

import (
	"context"
	"time"

	"github.com/cloudverge/cloudverge/pkg/engine"
)

// ResourceType identifies the kind of resource a stored result refers to.
type ResourceType string

const (
	ResourceTypeGroup    ResourceType = "group"
	ResourceTypeInstance ResourceType = "instance"
)

// DriftStatus is the outcome of a single drift check.
type DriftStatus string

const (
	DriftStatusInSync  DriftStatus = "in_sync"
	DriftStatusDrifted DriftStatus = "drifted"
)

// RunRecord is the stored summary of a reconciliation run. The full run,
// including per-resource results, is kept as JSON and returned by GetRun.
type RunRecord struct {
	ID         string            `json:"id"`
	Workspace  string            `json:"workspace"`
	CheckMode  bool              `json:"check_mode"`
	Status     engine.RunStatus  `json:"status"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at,omitempty"`
	Summary    engine.RunSummary `json:"summary"`
}

// DriftEvent records the result of comparing live state against the last
// applied run for one resource.
type DriftEvent struct {
	ID           int64        `json:"id,omitempty"`
	Workspace    string       `json:"workspace"`
	ResourceType ResourceType `json:"resource_type"`
	Name         string       `json:"name"`
	Status       DriftStatus  `json:"status"`
	Detail       string       `json:"detail,omitempty"`
	DetectedAt   time.Time    `json:"detected_at"`
}

// Store persists reconciliation runs and drift events.
type Store interface {
	// Init opens the underlying database.
	Init(ctx context.Context) error

	// Close releases the database connection.
	Close() error

	// Migrate brings the schema up to date.
	Migrate(ctx context.Context) error

	// SaveRun persists a completed run and its per-resource results.
	SaveRun(ctx context.Context, run *engine.Run) error

	// GetRun returns a run by id, including full per-resource results.
	GetRun(ctx context.Context, id string) (*engine.Run, error)

	// ListRuns returns run summaries for a workspace, newest first. An
	// empty workspace matches all workspaces.
	ListRuns(ctx context.Context, workspace string, limit, offset int) ([]RunRecord, error)

	// LastRun returns the most recent run for a workspace, or nil when
	// the workspace has none.
	LastRun(ctx context.Context, workspace string) (*engine.Run, error)

	// DeleteRun removes a run and its results.
	DeleteRun(ctx context.Context, id string) error

	// PruneRuns keeps the newest keep runs for a workspace and deletes
	// the rest, returning the number removed.
	PruneRuns(ctx context.Context, workspace string, keep int) (int, error)

	// RecordDrift appends a drift check outcome.
	RecordDrift(ctx context.Context, event DriftEvent) error

	// ListDriftEvents returns drift events for a workspace, newest first.
	ListDriftEvents(ctx context.Context, workspace string, limit int) ([]DriftEvent, error)

	// HealthCheck verifies the database is reachable.
	HealthCheck(ctx context.Context) error
}
