package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudverge/cloudverge/pkg/engine"
	"github.com/cloudverge/cloudverge/pkg/rules"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "verge.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	return store
}

func sampleRun(id, workspace string, started time.Time) *engine.Run {
	return &engine.Run{
		ID:         id,
		Workspace:  workspace,
		Status:     engine.RunStatusSucceeded,
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		Groups: []engine.GroupResult{{
			GroupID:   "sg-0123456789abcdef0",
			GroupName: "web",
			VpcID:     "vpc-0aa11bb22cc33dd44",
			Changed:   true,
			Created:   true,
			IngressRules: []rules.Rule{{
				Protocol:   "tcp",
				FromPort:   rules.Int32(443),
				ToPort:     rules.Int32(443),
				TargetType: rules.TargetIPv4,
				Target:     "0.0.0.0/0",
			}},
		}},
		Instances: []engine.InstanceResult{{
			InstanceIDs: []string{"i-0123456789abcdef0"},
			Changed:     true,
		}},
		Summary: engine.RunSummary{
			GroupsTotal:      1,
			GroupsChanged:    1,
			GroupsCreated:    1,
			InstancesTotal:   1,
			InstancesChanged: 1,
			RulesAuthorized:  2,
		},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	started := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	if err := store.SaveRun(ctx, sampleRun("run-1", "staging", started)); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Workspace != "staging" || got.Status != engine.RunStatusSucceeded {
		t.Errorf("unexpected run: %+v", got)
	}
	if len(got.Groups) != 1 || got.Groups[0].GroupName != "web" || !got.Groups[0].Created {
		t.Errorf("group results not preserved: %+v", got.Groups)
	}
	if len(got.Groups[0].IngressRules) != 1 {
		t.Errorf("ingress rules not preserved: %+v", got.Groups[0])
	}
	if len(got.Instances) != 1 || got.Instances[0].InstanceIDs[0] != "i-0123456789abcdef0" {
		t.Errorf("instance results not preserved: %+v", got.Instances)
	}
	if got.Summary.RulesAuthorized != 2 {
		t.Errorf("summary not preserved: %+v", got.Summary)
	}
}

func TestGetRunNotFound(t *testing.T) {
	store := testStore(t)

	_, err := store.GetRun(context.Background(), "run-missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestSaveRunRequiresID(t *testing.T) {
	store := testStore(t)

	run := sampleRun("", "staging", time.Now())
	if err := store.SaveRun(context.Background(), run); err == nil {
		t.Error("expected an error for a run without an id")
	}
}

func TestListRunsOrderedAndFiltered(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	for i, run := range []*engine.Run{
		sampleRun("run-1", "staging", base),
		sampleRun("run-2", "staging", base.Add(time.Hour)),
		sampleRun("run-3", "production", base.Add(2*time.Hour)),
	} {
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun %d: %v", i, err)
		}
	}

	records, err := store.ListRuns(ctx, "staging", 10, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 staging runs, got %d", len(records))
	}
	if records[0].ID != "run-2" || records[1].ID != "run-1" {
		t.Errorf("runs not newest first: %s, %s", records[0].ID, records[1].ID)
	}
	if records[0].Summary.GroupsChanged != 1 {
		t.Errorf("summary columns not populated: %+v", records[0].Summary)
	}

	all, err := store.ListRuns(ctx, "", 10, 0)
	if err != nil {
		t.Fatalf("ListRuns all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 runs across workspaces, got %d", len(all))
	}

	page, err := store.ListRuns(ctx, "", 1, 1)
	if err != nil {
		t.Fatalf("ListRuns paged: %v", err)
	}
	if len(page) != 1 || page[0].ID != "run-2" {
		t.Errorf("pagination off: %+v", page)
	}
}

func TestLastRun(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	if err := store.SaveRun(ctx, sampleRun("run-1", "staging", base)); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := store.SaveRun(ctx, sampleRun("run-2", "staging", base.Add(time.Hour))); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	last, err := store.LastRun(ctx, "staging")
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if last == nil || last.ID != "run-2" {
		t.Errorf("expected run-2, got %+v", last)
	}

	none, err := store.LastRun(ctx, "production")
	if err != nil {
		t.Fatalf("LastRun empty workspace: %v", err)
	}
	if none != nil {
		t.Errorf("expected nil for a workspace without runs, got %+v", none)
	}
}

func TestDeleteRunCascades(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SaveRun(ctx, sampleRun("run-1", "staging", time.Now())); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := store.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}

	if _, err := store.GetRun(ctx, "run-1"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("run should be gone, got %v", err)
	}

	var results int
	if err := store.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM run_results").Scan(&results); err != nil {
		t.Fatalf("counting results: %v", err)
	}
	if results != 0 {
		t.Errorf("result rows should cascade, %d remain", results)
	}

	if err := store.DeleteRun(ctx, "run-1"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("double delete should report not found, got %v", err)
	}
}

func TestPruneRuns(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		run := sampleRun(string(rune('a'+i)), "staging", base.Add(time.Duration(i)*time.Hour))
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun %d: %v", i, err)
		}
	}

	removed, err := store.PruneRuns(ctx, "staging", 2)
	if err != nil {
		t.Fatalf("PruneRuns: %v", err)
	}
	if removed != 3 {
		t.Errorf("expected 3 pruned, got %d", removed)
	}

	records, err := store.ListRuns(ctx, "staging", 10, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(records) != 2 || records[0].ID != "e" || records[1].ID != "d" {
		t.Errorf("wrong survivors: %+v", records)
	}
}

func TestDriftEvents(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	events := []DriftEvent{
		{Workspace: "staging", ResourceType: ResourceTypeGroup, Name: "web", Status: DriftStatusInSync, DetectedAt: base},
		{Workspace: "staging", ResourceType: ResourceTypeGroup, Name: "web", Status: DriftStatusDrifted, Detail: "missing ingress tcp/443", DetectedAt: base.Add(time.Hour)},
		{Workspace: "production", ResourceType: ResourceTypeInstance, Name: "i-0123456789abcdef0", Status: DriftStatusInSync, DetectedAt: base},
	}
	for i, ev := range events {
		if err := store.RecordDrift(ctx, ev); err != nil {
			t.Fatalf("RecordDrift %d: %v", i, err)
		}
	}

	got, err := store.ListDriftEvents(ctx, "staging", 10)
	if err != nil {
		t.Fatalf("ListDriftEvents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 staging events, got %d", len(got))
	}
	if got[0].Status != DriftStatusDrifted || got[0].Detail != "missing ingress tcp/443" {
		t.Errorf("events not newest first: %+v", got[0])
	}
	if got[1].Status != DriftStatusInSync {
		t.Errorf("unexpected older event: %+v", got[1])
	}
}

func TestHealthCheck(t *testing.T) {
	store := testStore(t)

	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}
