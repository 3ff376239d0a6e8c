package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/cloudverge/cloudverge/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("run not found")

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string

	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path:            cfg.Path,
		maxOpenConns:    cfg.MaxOpenConns,
		maxIdleConns:    cfg.MaxIdleConns,
		connMaxLifetime: cfg.ConnMaxLifetime,
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.maxOpenConns)
	db.SetMaxIdleConns(s.maxIdleConns)
	db.SetConnMaxLifetime(s.connMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded schema files.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveRun persists a run and one result row per resource in a single
// transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *engine.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}

	detail, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, workspace, check_mode, status, started_at, finished_at,
			groups_total, groups_changed, groups_created,
			instances_total, instances_changed,
			rules_authorized, rules_revoked, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Workspace,
		run.CheckMode,
		string(run.Status),
		run.StartedAt.UTC(),
		nullableTime(run.FinishedAt),
		run.Summary.GroupsTotal,
		run.Summary.GroupsChanged,
		run.Summary.GroupsCreated,
		run.Summary.InstancesTotal,
		run.Summary.InstancesChanged,
		run.Summary.RulesAuthorized,
		run.Summary.RulesRevoked,
		string(detail),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	resultStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_results (run_id, resource_type, name, changed, created, absent, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer resultStmt.Close()

	for i := range run.Groups {
		g := &run.Groups[i]
		rowDetail, err := json.Marshal(g)
		if err != nil {
			return fmt.Errorf("failed to marshal group result: %w", err)
		}
		if _, err := resultStmt.ExecContext(ctx, run.ID, string(ResourceTypeGroup),
			g.GroupName, g.Changed, g.Created, g.Absent, string(rowDetail)); err != nil {
			return fmt.Errorf("failed to insert group result: %w", err)
		}
	}

	for i := range run.Instances {
		r := &run.Instances[i]
		rowDetail, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal instance result: %w", err)
		}
		if _, err := resultStmt.ExecContext(ctx, run.ID, string(ResourceTypeInstance),
			strings.Join(r.InstanceIDs, ","), r.Changed, false, false, string(rowDetail)); err != nil {
			return fmt.Errorf("failed to insert instance result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by id, including full per-resource results.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*engine.Run, error) {
	var detail string
	err := s.db.QueryRowContext(ctx,
		"SELECT detail FROM runs WHERE id = ?", id).Scan(&detail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return decodeRun(detail)
}

// ListRuns returns run summaries, newest first. An empty workspace matches
// all workspaces.
func (s *SQLiteStore) ListRuns(ctx context.Context, workspace string, limit, offset int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, workspace, check_mode, status, started_at, finished_at,
			groups_total, groups_changed, groups_created,
			instances_total, instances_changed,
			rules_authorized, rules_revoked
		FROM runs`
	args := []interface{}{}
	if workspace != "" {
		query += " WHERE workspace = ?"
		args = append(args, workspace)
	}
	query += " ORDER BY started_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	records := []RunRecord{}
	for rows.Next() {
		var rec RunRecord
		var status string
		var finishedAt sql.NullTime
		err := rows.Scan(
			&rec.ID,
			&rec.Workspace,
			&rec.CheckMode,
			&status,
			&rec.StartedAt,
			&finishedAt,
			&rec.Summary.GroupsTotal,
			&rec.Summary.GroupsChanged,
			&rec.Summary.GroupsCreated,
			&rec.Summary.InstancesTotal,
			&rec.Summary.InstancesChanged,
			&rec.Summary.RulesAuthorized,
			&rec.Summary.RulesRevoked,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		rec.Status = engine.RunStatus(status)
		if finishedAt.Valid {
			rec.FinishedAt = finishedAt.Time
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// LastRun returns the most recent run for a workspace, or nil when the
// workspace has none.
func (s *SQLiteStore) LastRun(ctx context.Context, workspace string) (*engine.Run, error) {
	var detail string
	err := s.db.QueryRowContext(ctx, `
		SELECT detail FROM runs
		WHERE workspace = ?
		ORDER BY started_at DESC
		LIMIT 1`, workspace).Scan(&detail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last run: %w", err)
	}

	return decodeRun(detail)
}

// DeleteRun removes a run; its result rows cascade.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	return nil
}

// PruneRuns keeps the newest keep runs for a workspace and deletes the
// rest, returning the number removed.
func (s *SQLiteStore) PruneRuns(ctx context.Context, workspace string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM runs
		WHERE workspace = ?
		AND id NOT IN (
			SELECT id FROM runs
			WHERE workspace = ?
			ORDER BY started_at DESC
			LIMIT ?
		)`, workspace, workspace, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rows), nil
}

// RecordDrift appends a drift check outcome.
func (s *SQLiteStore) RecordDrift(ctx context.Context, event DriftEvent) error {
	detectedAt := event.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drift_events (workspace, resource_type, name, status, detail, detected_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.Workspace,
		string(event.ResourceType),
		event.Name,
		string(event.Status),
		event.Detail,
		detectedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record drift event: %w", err)
	}

	return nil
}

// ListDriftEvents returns drift events for a workspace, newest first.
func (s *SQLiteStore) ListDriftEvents(ctx context.Context, workspace string, limit int) ([]DriftEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace, resource_type, name, status, detail, detected_at
		FROM drift_events
		WHERE workspace = ?
		ORDER BY detected_at DESC
		LIMIT ?`, workspace, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list drift events: %w", err)
	}
	defer rows.Close()

	events := []DriftEvent{}
	for rows.Next() {
		var ev DriftEvent
		var resourceType, status string
		var detail sql.NullString
		err := rows.Scan(&ev.ID, &ev.Workspace, &resourceType, &ev.Name, &status, &detail, &ev.DetectedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan drift event: %w", err)
		}
		ev.ResourceType = ResourceType(resourceType)
		ev.Status = DriftStatus(status)
		ev.Detail = detail.String
		events = append(events, ev)
	}

	return events, rows.Err()
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction.
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

func decodeRun(detail string) (*engine.Run, error) {
	run := &engine.Run{}
	if err := json.Unmarshal([]byte(detail), run); err != nil {
		return nil, fmt.Errorf("failed to decode run: %w", err)
	}
	return run, nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
