package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mindloom/mindloom/internal/domain"
	"github.com/mindloom/mindloom/internal/model"
	"github.com/mindloom/mindloom/internal/storeerr"
)

const testWorkspace = "ws-sqlite"

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	now := time.Now().UnixMilli()
	db, err := Open(context.Background(), dbPath, now)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.EnsureWorkspace(context.Background(), testWorkspace, now); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	return db
}

func TestEnsureWorkspaceIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	ws1, err := db.EnsureWorkspace(ctx, testWorkspace, time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	ws2, err := db.EnsureWorkspace(ctx, testWorkspace, time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("ensure workspace again: %v", err)
	}
	if ws1.CreatedAtMs != ws2.CreatedAtMs {
		t.Fatalf("expected created_at_ms to stay stable across re-ensure, got %d then %d", ws1.CreatedAtMs, ws2.CreatedAtMs)
	}
}

func TestNextSeqIsMonotonicPerWorkspace(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first, err := db.NextSeq(ctx, testWorkspace)
	if err != nil {
		t.Fatalf("next seq: %v", err)
	}
	second, err := db.NextSeq(ctx, testWorkspace)
	if err != nil {
		t.Fatalf("next seq: %v", err)
	}
	if second != first+1 {
		t.Fatalf("expected strictly increasing sequence, got %d then %d", first, second)
	}
}

func TestCreateAndGetBranch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	branch, err := domain.NewThoughtBranch(testWorkspace, "feature-x", "", "", now, now)
	if err != nil {
		t.Fatalf("build branch: %v", err)
	}
	if err := db.CreateBranch(ctx, branch); err != nil {
		t.Fatalf("create branch: %v", err)
	}

	got, err := db.GetBranch(ctx, testWorkspace, "feature-x")
	if err != nil {
		t.Fatalf("get branch: %v", err)
	}
	if got.BranchID != "feature-x" || got.ParentBranchID != "" {
		t.Fatalf("unexpected branch row: %+v", got)
	}

	list, err := db.ListBranches(ctx, testWorkspace)
	if err != nil {
		t.Fatalf("list branches: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 branch, got %d", len(list))
	}
}

func TestCreateBranchDuplicateConflicts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	branch, err := domain.NewThoughtBranch(testWorkspace, "feature-x", "", "", now, now)
	if err != nil {
		t.Fatalf("build branch: %v", err)
	}
	if err := db.CreateBranch(ctx, branch); err != nil {
		t.Fatalf("create branch: %v", err)
	}
	if err := db.CreateBranch(ctx, branch); err == nil {
		t.Fatal("expected conflict on duplicate branch")
	} else if se, ok := err.(*storeerr.Error); !ok || se.Code != storeerr.Conflict {
		t.Fatalf("expected storeerr.Conflict, got %v", err)
	}
}

func TestTouchAndDeleteBranch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	branch, err := domain.NewThoughtBranch(testWorkspace, "feature-x", "", "", now, now)
	if err != nil {
		t.Fatalf("build branch: %v", err)
	}
	if err := db.CreateBranch(ctx, branch); err != nil {
		t.Fatalf("create branch: %v", err)
	}

	if err := db.TouchBranch(ctx, testWorkspace, "feature-x", "commit-1", now+1000); err != nil {
		t.Fatalf("touch branch: %v", err)
	}
	got, err := db.GetBranch(ctx, testWorkspace, "feature-x")
	if err != nil {
		t.Fatalf("get branch: %v", err)
	}
	if got.HeadCommitID != "commit-1" {
		t.Fatalf("expected head commit to be updated, got %q", got.HeadCommitID)
	}

	if err := db.DeleteBranch(ctx, testWorkspace, "feature-x"); err != nil {
		t.Fatalf("delete branch: %v", err)
	}
	if _, err := db.GetBranch(ctx, testWorkspace, "feature-x"); err == nil {
		t.Fatal("expected unknown id after delete")
	} else if se, ok := err.(*storeerr.Error); !ok || se.Code != storeerr.UnknownID {
		t.Fatalf("expected storeerr.UnknownID, got %v", err)
	}
}

func TestTouchUnknownBranchFails(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := db.TouchBranch(ctx, testWorkspace, "ghost", "commit-1", time.Now().UnixMilli()); err == nil {
		t.Fatal("expected unknown id for a branch that was never created")
	} else if se, ok := err.(*storeerr.Error); !ok || se.Code != storeerr.UnknownID {
		t.Fatalf("expected storeerr.UnknownID, got %v", err)
	}
}

func TestCreateGetAndUpdateTask(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	task := &model.Task{
		ID:          "task-1",
		Kind:        "task",
		Title:       "tidy up the onboarding flow",
		Status:      "OPEN",
		Priority:    1,
		UpdatedAtMs: now,
		Revision:    0,
	}
	if err := db.CreateTask(ctx, testWorkspace, task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	got, err := db.GetTask(ctx, testWorkspace, "task-1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Title != task.Title || got.Revision != 0 {
		t.Fatalf("unexpected task row: %+v", got)
	}

	updated, err := db.UpdateTask(ctx, testWorkspace, "task-1", 0, func(t *model.Task) {
		t.Status = "DONE"
	})
	if err != nil {
		t.Fatalf("update task: %v", err)
	}
	if updated.Status != "DONE" || updated.Revision != 1 {
		t.Fatalf("expected status DONE and revision 1, got %+v", updated)
	}
}

func TestUpdateTaskRevisionMismatch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	task := &model.Task{ID: "task-1", Kind: "task", Title: "x", Status: "OPEN", UpdatedAtMs: now}
	if err := db.CreateTask(ctx, testWorkspace, task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	_, err := db.UpdateTask(ctx, testWorkspace, "task-1", 5, func(t *model.Task) { t.Status = "DONE" })
	if err == nil {
		t.Fatal("expected revision mismatch")
	}
	se, ok := err.(*storeerr.Error)
	if !ok || se.Code != storeerr.RevisionMismatch {
		t.Fatalf("expected storeerr.RevisionMismatch, got %v", err)
	}
}

func TestListTasksFiltersByStatus(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	open := &model.Task{ID: "task-open", Kind: "task", Title: "open one", Status: "OPEN", UpdatedAtMs: now}
	done := &model.Task{ID: "task-done", Kind: "task", Title: "done one", Status: "DONE", UpdatedAtMs: now}
	if err := db.CreateTask(ctx, testWorkspace, open); err != nil {
		t.Fatalf("create open task: %v", err)
	}
	if err := db.CreateTask(ctx, testWorkspace, done); err != nil {
		t.Fatalf("create done task: %v", err)
	}

	openOnly, err := db.ListTasks(ctx, testWorkspace, "OPEN")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(openOnly) != 1 || openOnly[0].ID != "task-open" {
		t.Fatalf("expected only the open task, got %+v", openOnly)
	}

	all, err := db.ListTasks(ctx, testWorkspace, "")
	if err != nil {
		t.Fatalf("list all tasks: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 tasks total, got %d", len(all))
	}
}

func TestUpsertAndGetStep(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	task := &model.Task{ID: "task-1", Kind: "task", Title: "x", Status: "OPEN", UpdatedAtMs: now}
	if err := db.CreateTask(ctx, testWorkspace, task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	step := &model.Step{
		TaskID:          "task-1",
		StepID:          "s:1",
		Path:            "s:1",
		Title:           "write the migration",
		SuccessCriteria: []string{"schema matches the target shape"},
		Tests:           []string{"migration_test.go passes against a seeded db"},
	}
	if err := db.UpsertStep(ctx, testWorkspace, step); err != nil {
		t.Fatalf("upsert step: %v", err)
	}

	got, err := db.GetStep(ctx, testWorkspace, "task-1", "s:1")
	if err != nil {
		t.Fatalf("get step: %v", err)
	}
	if got.Title != step.Title || len(got.SuccessCriteria) != 1 {
		t.Fatalf("unexpected step row: %+v", got)
	}

	got.Completed = true
	got.CompletedAtMs = now + 5000
	if err := db.UpsertStep(ctx, testWorkspace, got); err != nil {
		t.Fatalf("re-upsert step: %v", err)
	}
	reloaded, err := db.GetStep(ctx, testWorkspace, "task-1", "s:1")
	if err != nil {
		t.Fatalf("get step after update: %v", err)
	}
	if !reloaded.Completed {
		t.Fatal("expected step to be marked completed after upsert")
	}

	steps, err := db.ListSteps(ctx, testWorkspace, "task-1")
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(steps))
	}
}

func TestGetUnknownTaskFails(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if _, err := db.GetTask(ctx, testWorkspace, "ghost"); err == nil {
		t.Fatal("expected unknown id for a task that was never created")
	} else if se, ok := err.(*storeerr.Error); !ok || se.Code != storeerr.UnknownID {
		t.Fatalf("expected storeerr.UnknownID, got %v", err)
	}
}
