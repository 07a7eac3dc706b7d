package engine

import (
	"context"

	"github.com/mindloom/mindloom/internal/model"
	"github.com/mindloom/mindloom/internal/storeerr"
)

// CloseStepInput is the validated request behind tasks.close.step /
// tasks.macro.close.step.
type CloseStepInput struct {
	WorkspaceID string
	TaskID      string
	Path        string // "s:N"
	Branch      string
	GraphDoc    string
	Override    *Override
}

// CloseStepResult carries the closed step plus any non-fatal warning the gate produced
// (e.g. REASONING_OVERRIDE_APPLIED), for the caller to fold into the response envelope.
type CloseStepResult struct {
	Step    *model.Step
	Warning string
}

// CloseStep enforces the strict-mode completion gate before marking a step done:
// (a) success criteria confirmed, (b) at least one test recorded, then (c)/(d) the
// hypothesis/counter-hypothesis graph rules from CheckStrictGate. Lax-mode tasks skip
// straight to the per-dimension proof check CompleteStep already does. An Override
// bypasses a real violation but is recorded as a warning, never silently.
func (e *Engine) CloseStep(ctx context.Context, in CloseStepInput) (*CloseStepResult, error) {
	stepID := in.TaskID + "/" + in.Path
	task, err := e.Store.GetTask(ctx, in.WorkspaceID, in.TaskID)
	if err != nil {
		return nil, err
	}
	step, err := e.Store.GetStep(ctx, in.WorkspaceID, in.TaskID, stepID)
	if err != nil {
		return nil, err
	}

	var warning string
	if task.ReasoningMode == model.ReasoningStrict {
		if !step.CriteriaConfirmed && in.Override == nil {
			return nil, storeerr.New(storeerr.ReasoningRequired, "success criteria not confirmed").
				WithRecovery("confirm success criteria, or close with override={reason,risk}").
				WithData(&GateReasonData{StepID: stepID, Reason: "REASONING_REQUIRED"})
		}
		if len(step.Tests) == 0 && in.Override == nil {
			return nil, storeerr.New(storeerr.ReasoningRequired, "no test recorded for this step").
				WithRecovery("record a test, or close with override={reason,risk}").
				WithData(&GateReasonData{StepID: stepID, Reason: "REASONING_REQUIRED"})
		}
		w, gateErr := e.CheckStrictGate(ctx, in.WorkspaceID, in.Branch, in.GraphDoc, in.TaskID, in.Path, stepID, in.Override)
		if gateErr != nil {
			return nil, gateErr
		}
		warning = w
	}

	if missing := missingRequiredProofs(step); len(missing) > 0 {
		if in.Override == nil {
			return nil, proofRequiredError(stepID, missing)
		}
		warning = "REASONING_OVERRIDE_APPLIED"
	}

	now := e.nowMs()
	step.Completed = true
	step.CompletedAtMs = now
	if err := e.Store.UpsertStep(ctx, in.WorkspaceID, step); err != nil {
		return nil, err
	}

	eventKind := "step_done"
	if in.Override != nil {
		eventKind = "step_done_override"
	}
	if _, err := e.Store.AppendEvent(ctx, in.WorkspaceID, eventKind, stepID, overridePayload(in.Override), now); err != nil {
		return nil, err
	}

	return &CloseStepResult{Step: step, Warning: warning}, nil
}

func overridePayload(o *Override) string {
	if o == nil {
		return `{"force":false}`
	}
	return `{"force":true,"reason":` + jsonQuote(o.Reason) + `,"risk":` + jsonQuote(o.Risk) + `}`
}

func jsonQuote(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			out = append(out, '\\', byte(r))
		case '\n':
			out = append(out, '\\', 'n')
		default:
			out = append(out, string(r)...)
		}
	}
	out = append(out, '"')
	return string(out)
}
