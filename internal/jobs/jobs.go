// Package jobs is the L6 job pipeline: the QUEUED -> RUNNING -> {DONE|FAILED|CANCELED}
// FSM, proof-gate completion, artifact contracts and the job-bus mesh. It is grounded
// on the reference store's jobs.complete handler and job_bus store.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mindloom/mindloom/internal/ids"
	"github.com/mindloom/mindloom/internal/model"
	"github.com/mindloom/mindloom/internal/storage"
	"github.com/mindloom/mindloom/internal/storeerr"
)

type Jobs struct {
	Store storage.Store
	Now   func() int64
}

func New(store storage.Store, now func() int64) *Jobs {
	return &Jobs{Store: store, Now: now}
}

// CreateInput is the validated request to enqueue a job.
type CreateInput struct {
	WorkspaceID string
	Title       string
	Prompt      string
	Kind        string
	Priority    string
	TaskID      string
	AnchorID    string
	Meta        map[string]any
}

func (j *Jobs) Create(ctx context.Context, in CreateInput) (*model.Job, error) {
	if in.Title == "" || in.Prompt == "" {
		return nil, storeerr.New(storeerr.InvalidInput, "title and prompt are required")
	}
	priority := in.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}

	seqN, err := j.Store.NextSeq(ctx, in.WorkspaceID)
	if err != nil {
		return nil, err
	}

	metaJSON := ""
	if len(in.Meta) > 0 {
		encoded, err := json.Marshal(in.Meta)
		if err != nil {
			return nil, storeerr.Wrap(storeerr.InvalidInput, "encode job meta", err)
		}
		metaJSON = string(encoded)
	}

	now := j.Now()
	job := &model.Job{
		ID:          ids.NextSequential(ids.PrefixJob, seqN),
		Title:       in.Title,
		Prompt:      in.Prompt,
		Kind:        in.Kind,
		Priority:    priority,
		Status:      model.JobQueued,
		TaskID:      in.TaskID,
		AnchorID:    in.AnchorID,
		CreatedAtMs: now,
		UpdatedAtMs: now,
		MetaJSON:    metaJSON,
	}
	if err := j.Store.CreateJob(ctx, in.WorkspaceID, job); err != nil {
		return nil, err
	}
	if err := j.appendEvent(ctx, in.WorkspaceID, job.ID, model.JobEventCreated, nil, ""); err != nil {
		return nil, err
	}
	return job, nil
}

// Claim transitions QUEUED -> RUNNING under a runner identity. A job not in QUEUED
// fails with CONFLICT; this is the dispatch idempotency boundary callers rely on when
// retrying a claim after a transport error.
func (j *Jobs) Claim(ctx context.Context, workspaceID, jobID, runnerID string) (*model.Job, error) {
	current, err := j.Store.GetJob(ctx, workspaceID, jobID)
	if err != nil {
		return nil, err
	}
	if current.Status != model.JobQueued {
		conflict := storeerr.Newf(storeerr.Conflict, "job %s is not QUEUED (%s); only a queued job can be claimed", jobID, current.Status)
		if current.IsTerminal() {
			conflict = conflict.WithData(&storeerr.JobAlreadyTerminalData{JobID: jobID, Status: current.Status})
		}
		return nil, conflict
	}
	job, err := j.Store.UpdateJob(ctx, workspaceID, jobID, current.Revision, func(job *model.Job) {
		job.Status = model.JobRunning
		job.Runner = runnerID
		job.UpdatedAtMs = j.Now()
	})
	if err != nil {
		return nil, err
	}
	if err := j.appendEvent(ctx, workspaceID, jobID, model.JobEventClaimed, nil, ""); err != nil {
		return nil, err
	}
	return job, nil
}

// Checkpoint records progress without changing job status, used both for free-form
// progress notes and as one of the two preconditions the HIGH-priority DONE guardrail
// checks for.
func (j *Jobs) Checkpoint(ctx context.Context, workspaceID, jobID string, refs []string, note string) error {
	return j.appendEvent(ctx, workspaceID, jobID, model.JobEventCheckpoint, refs, note)
}

// CompleteInput is the validated request to transition a job to a terminal status.
type CompleteInput struct {
	WorkspaceID string
	JobID       string
	Status      string // DONE | FAILED | CANCELED
	Summary     string
	Refs        []string
}

// Complete runs the full proof-gate pipeline: refs salvage,
// artifact-contract validation against meta.expected_artifacts, and the HIGH-priority
// DONE guardrail requiring at least one checkpoint and one non-self proof ref.
func (j *Jobs) Complete(ctx context.Context, in CompleteInput) (*model.Job, error) {
	job, err := j.Store.GetJob(ctx, in.WorkspaceID, in.JobID)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return nil, storeerr.Newf(storeerr.Conflict, "job %s is already terminal (%s)", in.JobID, job.Status).
			WithData(&storeerr.JobAlreadyTerminalData{JobID: in.JobID, Status: job.Status})
	}

	selfRef := in.JobID
	refs := in.Refs
	if in.Status == model.JobDone && NeedsSalvage(refs, selfRef) {
		refs = SalvageRefs(in.Summary, selfRef)
	}

	summary := in.Summary
	var artifactRef string
	if in.Status == model.JobDone {
		expectedKey := expectedArtifactKey(job.MetaJSON)
		if expectedKey != "" {
			if err := validateArtifactContract(expectedKey, in.Summary); err != nil {
				return nil, err
			}
			var obj map[string]any
			dec := json.NewDecoder(strings.NewReader(in.Summary))
			dec.UseNumber()
			if err := dec.Decode(&obj); err != nil {
				return nil, storeerr.Wrap(storeerr.StoreErrorCode, "decode artifact summary", err)
			}
			canonical, err := CanonicalJSON(obj)
			if err != nil {
				return nil, storeerr.Wrap(storeerr.StoreErrorCode, "encode canonical artifact", err)
			}
			summary = canonical
			artifact := &model.JobArtifact{JobID: in.JobID, ArtifactKey: expectedKey, ContentText: summary}
			if err := j.Store.PutJobArtifact(ctx, in.WorkspaceID, artifact); err != nil {
				return nil, err
			}
			artifactRef = fmt.Sprintf("artifact://jobs/%s/%s", in.JobID, expectedKey)
			if artifactRef != "" {
				refs = append(refs, artifactRef)
			}
		}

		if job.Priority == model.PriorityHigh {
			if err := j.checkHighPriorityGuardrail(ctx, in.WorkspaceID, in.JobID, selfRef, refs); err != nil {
				return nil, err
			}
		}
	}

	now := j.Now()
	updated, err := j.Store.UpdateJob(ctx, in.WorkspaceID, in.JobID, -1, func(job *model.Job) {
		job.Status = in.Status
		job.Summary = summary
		job.UpdatedAtMs = now
	})
	if err != nil {
		return nil, err
	}

	kind := model.JobEventCompleted
	if in.Status == model.JobCanceled {
		kind = model.JobEventCanceled
	}
	if err := j.appendEvent(ctx, in.WorkspaceID, in.JobID, kind, refs, summary); err != nil {
		return nil, err
	}
	return updated, nil
}

// checkHighPriorityGuardrail requires at least one checkpoint event and at least one
// proof ref that is not the job's own self-reference before a HIGH job may reach DONE.
func (j *Jobs) checkHighPriorityGuardrail(ctx context.Context, workspaceID, jobID, selfRef string, refs []string) error {
	events, err := j.Store.ListJobEvents(ctx, workspaceID, jobID)
	if err != nil {
		return err
	}
	hasCheckpoint := false
	for _, e := range events {
		if e.Kind == model.JobEventCheckpoint {
			hasCheckpoint = true
			break
		}
	}
	hasProofRef := false
	for _, r := range refs {
		if r != selfRef {
			hasProofRef = true
			break
		}
	}
	if !hasCheckpoint || !hasProofRef {
		return storeerr.Newf(storeerr.PreconditionFailed,
			"HIGH priority job %s requires at least one checkpoint and one proof ref before DONE", jobID).
			WithRecovery("record a checkpoint and include a verifiable proof ref, then complete again")
	}
	return j.appendEvent(ctx, workspaceID, jobID, model.JobEventProofGate, refs, "")
}

func (j *Jobs) appendEvent(ctx context.Context, workspaceID, jobID, kind string, refs []string, note string) error {
	metaJSON := ""
	if note != "" {
		encoded, err := json.Marshal(map[string]string{"note": note})
		if err == nil {
			metaJSON = string(encoded)
		}
	}
	return j.Store.AppendJobEvent(ctx, workspaceID, &model.JobEvent{
		JobID:    jobID,
		TsMs:     j.Now(),
		Kind:     kind,
		Refs:     refs,
		MetaJSON: metaJSON,
	})
}

func (j *Jobs) Get(ctx context.Context, workspaceID, jobID string) (*model.Job, error) {
	return j.Store.GetJob(ctx, workspaceID, jobID)
}

func (j *Jobs) List(ctx context.Context, workspaceID, status string) ([]*model.Job, error) {
	return j.Store.ListJobs(ctx, workspaceID, status)
}

// Cancel transitions a job to CANCELED. Only a QUEUED job may be canceled; a job a
// runner has already claimed must run to a terminal status on its own, and a job
// already terminal reports CONFLICT with a JobAlreadyTerminalData payload so callers
// can tell the two failure shapes apart.
func (j *Jobs) Cancel(ctx context.Context, workspaceID, jobID string) (*model.Job, error) {
	job, err := j.Store.GetJob(ctx, workspaceID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobQueued {
		se := storeerr.Newf(storeerr.Conflict, "job %s is not QUEUED (%s); only a queued job can be canceled", jobID, job.Status)
		if job.IsTerminal() {
			se = se.WithData(&storeerr.JobAlreadyTerminalData{JobID: jobID, Status: job.Status})
		}
		return nil, se
	}

	now := j.Now()
	updated, err := j.Store.UpdateJob(ctx, workspaceID, jobID, -1, func(job *model.Job) {
		job.Status = model.JobCanceled
		job.UpdatedAtMs = now
	})
	if err != nil {
		return nil, err
	}
	if err := j.appendEvent(ctx, workspaceID, jobID, model.JobEventCanceled, nil, ""); err != nil {
		return nil, err
	}
	return updated, nil
}

// maxWaitMs bounds how long jobs.wait will poll before returning the job's current
// (possibly still non-terminal) status.
const maxWaitMs = 25000

// Wait polls a job until it reaches a terminal status or timeoutMs elapses, whichever
// comes first. timeoutMs above maxWaitMs is rejected outright rather than silently
// clamped, since a caller blocking a connection for that long is itself a problem.
func (j *Jobs) Wait(ctx context.Context, workspaceID, jobID string, timeoutMs int64) (*model.Job, error) {
	if timeoutMs > maxWaitMs {
		return nil, storeerr.Newf(storeerr.InvalidInput, "timeout_ms %d exceeds the maximum of %d", timeoutMs, maxWaitMs).
			WithRecovery("retry with timeout_ms <= 25000")
	}
	if timeoutMs < 0 {
		timeoutMs = 0
	}

	job, err := j.Store.GetJob(ctx, workspaceID, jobID)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() || timeoutMs == 0 {
		return job, nil
	}

	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	const pollInterval = 200 * time.Millisecond
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-time.After(pollInterval):
		}
		job, err = j.Store.GetJob(ctx, workspaceID, jobID)
		if err != nil {
			return nil, err
		}
		if job.IsTerminal() {
			return job, nil
		}
	}
	return job, nil
}
