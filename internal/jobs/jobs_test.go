package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mindloom/mindloom/internal/model"
	"github.com/mindloom/mindloom/internal/storeerr"
	"github.com/mindloom/mindloom/internal/storage/sqlite"
)

const testWorkspace = "ws-jobs"

func newTestJobs(t *testing.T) *Jobs {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	now := func() int64 { return time.Now().UnixMilli() }

	db, err := sqlite.Open(context.Background(), dbPath, now())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.EnsureWorkspace(context.Background(), testWorkspace, now()); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	return New(db, now)
}

func TestJobLifecycleQueuedToDone(t *testing.T) {
	j := newTestJobs(t)
	ctx := context.Background()

	job, err := j.Create(ctx, CreateInput{WorkspaceID: testWorkspace, Title: "audit logs", Prompt: "check auth denials since Monday"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.Status != model.JobQueued {
		t.Fatalf("expected QUEUED, got %s", job.Status)
	}

	job, err = j.Claim(ctx, testWorkspace, job.ID, "runner-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job.Status != model.JobRunning {
		t.Fatalf("expected RUNNING, got %s", job.Status)
	}

	job, err = j.Complete(ctx, CompleteInput{WorkspaceID: testWorkspace, JobID: job.ID, Status: model.JobDone, Summary: "no anomalies found"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if job.Status != model.JobDone {
		t.Fatalf("expected DONE, got %s", job.Status)
	}
}

func TestCompleteAlreadyTerminalJobConflicts(t *testing.T) {
	j := newTestJobs(t)
	ctx := context.Background()

	job, err := j.Create(ctx, CreateInput{WorkspaceID: testWorkspace, Title: "x", Prompt: "y"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := j.Complete(ctx, CompleteInput{WorkspaceID: testWorkspace, JobID: job.ID, Status: model.JobDone, Summary: "done"}); err != nil {
		t.Fatalf("first complete: %v", err)
	}

	_, err = j.Complete(ctx, CompleteInput{WorkspaceID: testWorkspace, JobID: job.ID, Status: model.JobDone, Summary: "done again"})
	if err == nil {
		t.Fatal("expected conflict on re-completing a terminal job")
	}
	se, ok := err.(*storeerr.Error)
	if !ok || se.Code != storeerr.Conflict {
		t.Fatalf("expected storeerr.Conflict, got %v", err)
	}
}

func TestHighPriorityDoneRequiresCheckpointAndProofRef(t *testing.T) {
	j := newTestJobs(t)
	ctx := context.Background()

	job, err := j.Create(ctx, CreateInput{
		WorkspaceID: testWorkspace, Title: "ship the fix", Prompt: "patch the race condition",
		Priority: model.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = j.Complete(ctx, CompleteInput{WorkspaceID: testWorkspace, JobID: job.ID, Status: model.JobDone, Summary: "fixed it"})
	if err == nil {
		t.Fatal("expected precondition failure with no checkpoint/proof ref")
	}
	se, ok := err.(*storeerr.Error)
	if !ok || se.Code != storeerr.PreconditionFailed {
		t.Fatalf("expected storeerr.PreconditionFailed, got %v", err)
	}

	if err := j.Checkpoint(ctx, testWorkspace, job.ID, nil, "reproduced the race under load"); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}

	job, err = j.Complete(ctx, CompleteInput{
		WorkspaceID: testWorkspace, JobID: job.ID, Status: model.JobDone,
		Summary: "fixed it, see CARD-abc123 for the test that reproduced it",
	})
	if err != nil {
		t.Fatalf("expected complete to succeed once checkpoint+proof ref exist: %v", err)
	}
	if job.Status != model.JobDone {
		t.Fatalf("expected DONE, got %s", job.Status)
	}
}

func TestCompleteValidatesArtifactContractShape(t *testing.T) {
	j := newTestJobs(t)
	ctx := context.Background()

	job, err := j.Create(ctx, CreateInput{
		WorkspaceID: testWorkspace, Title: "scout the repo", Prompt: "map the auth module",
		Meta: map[string]any{"expected_artifacts": map[string]any{"scout_context_pack": true}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = j.Complete(ctx, CompleteInput{WorkspaceID: testWorkspace, JobID: job.ID, Status: model.JobDone, Summary: "not json"})
	if err == nil {
		t.Fatal("expected artifact contract validation to reject a non-JSON summary")
	}

	job, err = j.Complete(ctx, CompleteInput{
		WorkspaceID: testWorkspace, JobID: job.ID, Status: model.JobDone,
		Summary: `{"files": ["internal/auth/session.go"], "entry_points": ["Authenticate"]}`,
	})
	if err != nil {
		t.Fatalf("expected valid JSON summary to be accepted: %v", err)
	}
	if job.Status != model.JobDone {
		t.Fatalf("expected DONE, got %s", job.Status)
	}
}
