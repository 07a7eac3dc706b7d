package engine

import (
	"context"
	"fmt"

	"github.com/mindloom/mindloom/internal/domain"
	"github.com/mindloom/mindloom/internal/ids"
	"github.com/mindloom/mindloom/internal/model"
	"github.com/mindloom/mindloom/internal/storeerr"
)

// CreateTaskInput is the validated request to create a TASK-### or PLAN-### row.
type CreateTaskInput struct {
	WorkspaceID   string
	Kind          string // "task" | "plan"
	Title         string
	Description   string
	Priority      int
	ParentPlanID  string
	ReasoningMode string
}

func (e *Engine) CreateTask(ctx context.Context, in CreateTaskInput) (*model.Task, error) {
	if in.Title == "" {
		return nil, storeerr.New(storeerr.InvalidInput, "title is required")
	}
	if _, err := domain.CanonicalIdentifier("workspace_id", in.WorkspaceID); err != nil {
		return nil, storeerr.Wrap(storeerr.InvalidInput, "invalid workspace_id", err)
	}

	seqN, err := e.nextSeq(ctx, in.WorkspaceID)
	if err != nil {
		return nil, err
	}

	reasoningMode := in.ReasoningMode
	if reasoningMode == "" {
		reasoningMode = model.ReasoningLax
	}

	prefix := ids.PrefixTask
	if in.Kind == "plan" {
		prefix = ids.PrefixPlan
	}

	now := e.nowMs()
	t := &model.Task{
		ID:            ids.NextSequential(prefix, seqN),
		Kind:          in.Kind,
		Title:         in.Title,
		Description:   in.Description,
		Status:        model.StatusTODO,
		Priority:      in.Priority,
		UpdatedAtMs:   now,
		Revision:      0,
		ParentPlanID:  in.ParentPlanID,
		ReasoningMode: reasoningMode,
	}
	if err := e.Store.CreateTask(ctx, in.WorkspaceID, t); err != nil {
		return nil, err
	}
	if _, err := e.Store.AppendEvent(ctx, in.WorkspaceID, "task.created", t.ID, "", now); err != nil {
		return nil, err
	}
	return t, nil
}

func (e *Engine) GetTask(ctx context.Context, workspaceID, taskID string) (*model.Task, error) {
	return e.Store.GetTask(ctx, workspaceID, taskID)
}

func (e *Engine) ListTasks(ctx context.Context, workspaceID, status string) ([]*model.Task, error) {
	return e.Store.ListTasks(ctx, workspaceID, status)
}

// TransitionTask moves a task to newStatus under optimistic concurrency: callers pass
// the revision they last observed, and a concurrent writer racing ahead of them fails
// closed with REVISION_MISMATCH rather than silently clobbering the other write.
func (e *Engine) TransitionTask(ctx context.Context, workspaceID, taskID string, expectedRevision int64, newStatus string) (*model.Task, error) {
	now := e.nowMs()
	t, err := e.Store.UpdateTask(ctx, workspaceID, taskID, expectedRevision, func(t *model.Task) {
		t.Status = newStatus
		t.UpdatedAtMs = now
		if newStatus != model.StatusPARKED {
			t.ParkedUntilMs = 0
		}
	})
	if err != nil {
		return nil, err
	}
	if _, err := e.Store.AppendEvent(ctx, workspaceID, fmt.Sprintf("task.%s", newStatus), taskID, "", now); err != nil {
		return nil, err
	}
	return t, nil
}

// ParkTask sets status=PARKED with a wake time, used by the reminder/park flow.
func (e *Engine) ParkTask(ctx context.Context, workspaceID, taskID string, expectedRevision, parkedUntilMs int64) (*model.Task, error) {
	now := e.nowMs()
	return e.Store.UpdateTask(ctx, workspaceID, taskID, expectedRevision, func(t *model.Task) {
		t.Status = model.StatusPARKED
		t.ParkedUntilMs = parkedUntilMs
		t.UpdatedAtMs = now
	})
}

// SetBlocked flips a task's blocked flag, recording the new revision.
func (e *Engine) SetBlocked(ctx context.Context, workspaceID, taskID string, expectedRevision int64, blocked bool) (*model.Task, error) {
	now := e.nowMs()
	return e.Store.UpdateTask(ctx, workspaceID, taskID, expectedRevision, func(t *model.Task) {
		t.Blocked = blocked
		t.UpdatedAtMs = now
	})
}
