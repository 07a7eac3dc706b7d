package engine

import (
	"context"
	"fmt"

	"github.com/mindloom/mindloom/internal/model"
)

// AddStepInput is the validated request to append a step under a task.
type AddStepInput struct {
	WorkspaceID     string
	TaskID          string
	Path            string // "s:N" or "s:N.M" for a nested step
	Title           string
	SuccessCriteria []string
	Tests           []string
}

func (e *Engine) AddStep(ctx context.Context, in AddStepInput) (*model.Step, error) {
	s := &model.Step{
		TaskID:          in.TaskID,
		StepID:          fmt.Sprintf("%s/%s", in.TaskID, in.Path),
		Path:            in.Path,
		Title:           in.Title,
		SuccessCriteria: in.SuccessCriteria,
		Tests:           in.Tests,
		ProofTestsMode:  model.ProofOff,
	}
	if err := e.Store.UpsertStep(ctx, in.WorkspaceID, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (e *Engine) ListSteps(ctx context.Context, workspaceID, taskID string) ([]*model.Step, error) {
	return e.Store.ListSteps(ctx, workspaceID, taskID)
}

// CompleteStep marks a step done, requiring any confirmation flags whose proof mode is
// "require" to already be set (per-dimension proof gates on step completion).
func (e *Engine) CompleteStep(ctx context.Context, workspaceID, taskID, stepID string) (*model.Step, error) {
	s, err := e.Store.GetStep(ctx, workspaceID, taskID, stepID)
	if err != nil {
		return nil, err
	}
	if missing := missingRequiredProofs(s); len(missing) > 0 {
		return nil, proofRequiredError(stepID, missing)
	}
	s.Completed = true
	s.CompletedAtMs = e.nowMs()
	if err := e.Store.UpsertStep(ctx, workspaceID, s); err != nil {
		return nil, err
	}
	return s, nil
}

func missingRequiredProofs(s *model.Step) []string {
	var missing []string
	if s.ProofTestsMode == model.ProofRequire && !s.TestsConfirmed {
		missing = append(missing, "tests")
	}
	if s.ProofSecurityMode == model.ProofRequire && !s.SecurityConfirmed {
		missing = append(missing, "security")
	}
	if s.ProofPerfMode == model.ProofRequire && !s.PerfConfirmed {
		missing = append(missing, "perf")
	}
	if s.ProofDocsMode == model.ProofRequire && !s.DocsConfirmed {
		missing = append(missing, "docs")
	}
	return missing
}

// AcquireLease claims exclusive ownership of a step for holderAgentID, expiring
// leaseTicks ticks of the workspace's logical clock later. force=true evicts a live
// holder instead of failing with STEP_LEASE_HELD.
func (e *Engine) AcquireLease(ctx context.Context, workspaceID, taskID, stepID, holderAgentID string, leaseTicks int64, force bool) (*model.StepLease, error) {
	nowSeq, err := e.nextSeq(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return e.Store.AcquireStepLease(ctx, workspaceID, taskID, stepID, holderAgentID, nowSeq, nowSeq+leaseTicks, force)
}

func (e *Engine) RenewLease(ctx context.Context, workspaceID, taskID, stepID, holderAgentID string, leaseTicks int64) (*model.StepLease, error) {
	nowSeq, err := e.nextSeq(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return e.Store.RenewStepLease(ctx, workspaceID, taskID, stepID, holderAgentID, nowSeq+leaseTicks)
}

func (e *Engine) ReleaseLease(ctx context.Context, workspaceID, taskID, stepID, holderAgentID string) error {
	return e.Store.ReleaseStepLease(ctx, workspaceID, taskID, stepID, holderAgentID)
}

func (e *Engine) GetLease(ctx context.Context, workspaceID, taskID, stepID string) (*model.StepLease, error) {
	return e.Store.GetStepLease(ctx, workspaceID, taskID, stepID)
}
