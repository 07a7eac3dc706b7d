package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mindloom/mindloom/internal/model"
	"github.com/mindloom/mindloom/internal/storeerr"
)

// DispatchMacroInput creates a pipeline-role job: an independent JOB- lineage token
// carrying {role, pipeline_role, executor, executor_profile, executor_model,
// expected_artifacts, pipeline} in meta so the pipeline macros can route it.
type DispatchMacroInput struct {
	WorkspaceID       string
	Title             string
	Prompt            string
	TaskID            string
	Role              string
	PipelineRole      string // "scout" | "writer" | "builder" | "validator"
	Executor          string
	ExecutorProfile   string
	ExecutorModel     string
	ExpectedArtifact  string
	Pipeline          string
}

func (j *Jobs) DispatchMacro(ctx context.Context, in DispatchMacroInput) (*model.Job, error) {
	meta := map[string]any{
		"role":          in.Role,
		"pipeline_role": in.PipelineRole,
		"executor":      in.Executor,
		"pipeline":      in.Pipeline,
	}
	if in.ExecutorProfile != "" {
		meta["executor_profile"] = in.ExecutorProfile
	}
	if in.ExecutorModel != "" {
		meta["executor_model"] = in.ExecutorModel
	}
	if in.ExpectedArtifact != "" {
		meta["expected_artifacts"] = map[string]any{in.ExpectedArtifact: true}
	}

	return j.Create(ctx, CreateInput{
		WorkspaceID: in.WorkspaceID,
		Title:       in.Title,
		Prompt:      in.Prompt,
		Kind:        "pipeline",
		Priority:    model.PriorityHigh,
		TaskID:      in.TaskID,
		Meta:        meta,
	})
}

// GateDecisionRef builds the decision_ref artifact token for a gate/apply pipeline:
// artifact://pipeline/gate/<task>/<slice>/<decision>/builder/<jid>/validator/<vid>/rev/<r>.
func GateDecisionRef(taskID, slice, decision, builderJobID, validatorJobID string, revision int64) string {
	return fmt.Sprintf("artifact://pipeline/gate/%s/%s/%s/builder/%s/validator/%s/rev/%d",
		taskID, slice, decision, builderJobID, validatorJobID, revision)
}

// ApplyInput is the validated request to apply a gate decision.
type ApplyInput struct {
	WorkspaceID    string
	BuilderJobID   string
	ValidatorJobID string
	DecisionRef    string
	Decision       string // must be "approve"
	ExpectedRevision int64
}

// Apply enforces the gate/apply split invariants: the validator job must differ from
// the builder job, decision must be "approve", the builder must be DONE, and the
// builder's current revision must match both the decision_ref's embedded revision and
// the caller-supplied expected revision.
func (j *Jobs) Apply(ctx context.Context, in ApplyInput) (*model.Job, error) {
	if in.BuilderJobID == in.ValidatorJobID {
		return nil, storeerr.New(storeerr.InvalidInput, "validator job must differ from builder job")
	}
	if in.Decision != "approve" {
		return nil, storeerr.Newf(storeerr.PreconditionFailed, "apply requires decision=approve, got %q", in.Decision)
	}

	builder, err := j.Store.GetJob(ctx, in.WorkspaceID, in.BuilderJobID)
	if err != nil {
		return nil, err
	}
	if builder.Status != model.JobDone {
		return nil, storeerr.Newf(storeerr.PreconditionFailed, "builder job %s must be DONE, is %s", in.BuilderJobID, builder.Status)
	}
	if builder.Revision != in.ExpectedRevision {
		return nil, storeerr.Newf(storeerr.RevisionMismatch, "builder job %s revision %d does not match expected %d", in.BuilderJobID, builder.Revision, in.ExpectedRevision).
			WithData(&storeerr.RevisionMismatchData{EntityID: in.BuilderJobID, Expected: in.ExpectedRevision, Actual: builder.Revision})
	}

	artifact, err := j.Store.GetJobArtifact(ctx, in.WorkspaceID, in.BuilderJobID, "builder_diff_batch")
	if err != nil {
		return nil, err
	}
	var batch struct {
		ExecutionEvidence struct {
			Revision int64 `json:"revision"`
		} `json:"execution_evidence"`
		Changes []struct {
			DiffRef string `json:"diff_ref"`
		} `json:"changes"`
	}
	if err := json.Unmarshal([]byte(artifact.ContentText), &batch); err != nil {
		return nil, storeerr.Wrap(storeerr.InvalidInput, "decode builder_diff_batch", err)
	}
	if batch.ExecutionEvidence.Revision != builder.Revision {
		return nil, storeerr.Newf(storeerr.PreconditionFailed,
			"builder_diff_batch execution_evidence.revision %d does not match builder revision %d",
			batch.ExecutionEvidence.Revision, builder.Revision)
	}
	for _, change := range batch.Changes {
		if _, err := j.resolveArtifactRef(ctx, in.WorkspaceID, in.BuilderJobID, change.DiffRef); err != nil {
			return nil, storeerr.Newf(storeerr.PreconditionFailed, "diff_ref %q does not resolve to a builder artifact", change.DiffRef)
		}
	}

	return builder, nil
}

func (j *Jobs) resolveArtifactRef(ctx context.Context, workspaceID, builderJobID, ref string) (*model.JobArtifact, error) {
	prefix := fmt.Sprintf("artifact://jobs/%s/", builderJobID)
	if len(ref) <= len(prefix) || ref[:len(prefix)] != prefix {
		return nil, storeerr.Newf(storeerr.InvalidInput, "ref %q is not a builder artifact reference", ref)
	}
	key := ref[len(prefix):]
	return j.Store.GetJobArtifact(ctx, workspaceID, builderJobID, key)
}
