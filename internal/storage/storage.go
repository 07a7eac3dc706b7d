// Package storage defines the persistence boundary for the reasoning store.
// internal/storage/sqlite is the only implementation; callers depend on this
// interface so internal/engine, internal/jobs, internal/graph and internal/projector
// never import database/sql directly.
package storage

import (
	"context"

	"github.com/mindloom/mindloom/internal/domain"
	"github.com/mindloom/mindloom/internal/model"
)

// Store is the full persistence surface. A *sqlite.DB satisfies it.
type Store interface {
	Close() error

	EnsureWorkspace(ctx context.Context, workspaceID string, nowMs int64) (*model.Workspace, error)
	NextSeq(ctx context.Context, workspaceID string) (int64, error)

	CreateBranch(ctx context.Context, b *domain.ThoughtBranch) error
	GetBranch(ctx context.Context, workspaceID, branchID string) (*domain.ThoughtBranch, error)
	ListBranches(ctx context.Context, workspaceID string) ([]*domain.ThoughtBranch, error)
	TouchBranch(ctx context.Context, workspaceID, branchID, headCommitID string, updatedAtMs int64) error
	DeleteBranch(ctx context.Context, workspaceID, branchID string) error

	AppendCommit(ctx context.Context, c *domain.ThoughtCommit) error
	GetCommit(ctx context.Context, workspaceID, commitID string) (*domain.ThoughtCommit, error)
	ListCommits(ctx context.Context, workspaceID, branchID string, limit int) ([]*domain.ThoughtCommit, error)

	RecordMerge(ctx context.Context, m *domain.MergeRecord) error
	GetMerge(ctx context.Context, workspaceID, mergeID string) (*domain.MergeRecord, error)

	CreateTask(ctx context.Context, workspaceID string, t *model.Task) error
	GetTask(ctx context.Context, workspaceID, taskID string) (*model.Task, error)
	ListTasks(ctx context.Context, workspaceID string, status string) ([]*model.Task, error)
	// UpdateTask applies mutate under expectedRevision (optimistic concurrency). It
	// returns storeerr Conflict/RevisionMismatch if the stored revision has moved on.
	UpdateTask(ctx context.Context, workspaceID, taskID string, expectedRevision int64, mutate func(*model.Task)) (*model.Task, error)

	UpsertStep(ctx context.Context, workspaceID string, s *model.Step) error
	GetStep(ctx context.Context, workspaceID, taskID, stepID string) (*model.Step, error)
	ListSteps(ctx context.Context, workspaceID, taskID string) ([]*model.Step, error)

	AcquireStepLease(ctx context.Context, workspaceID, taskID, stepID, holderAgentID string, nowSeq, expiresSeq int64, force bool) (*model.StepLease, error)
	RenewStepLease(ctx context.Context, workspaceID, taskID, stepID, holderAgentID string, newExpiresSeq int64) (*model.StepLease, error)
	ReleaseStepLease(ctx context.Context, workspaceID, taskID, stepID, holderAgentID string) error
	GetStepLease(ctx context.Context, workspaceID, taskID, stepID string) (*model.StepLease, error)

	UpsertAnchor(ctx context.Context, workspaceID string, a *model.Anchor) error
	GetAnchor(ctx context.Context, workspaceID, anchorID string) (*model.Anchor, error)
	ResolveAlias(ctx context.Context, workspaceID, alias string) (string, error)
	ListAnchors(ctx context.Context, workspaceID string) ([]*model.Anchor, error)

	AppendKnowledgeKey(ctx context.Context, workspaceID string, row model.KnowledgeKeyRow) error
	LatestKnowledgeKey(ctx context.Context, workspaceID, anchorID, key string) (*model.KnowledgeKeyRow, error)
	HistoryKnowledgeKey(ctx context.Context, workspaceID, anchorID, key string) ([]model.KnowledgeKeyRow, error)
	// ListKnowledgeKeys lists every (anchor,key) claim row across anchorIDs (all
	// anchors when empty), ordered anchor_id,key,created_at_ms ascending, optionally
	// capped at limit. Used by knowledge.lint to scan for duplicate/overloaded claims.
	ListKnowledgeKeys(ctx context.Context, workspaceID string, anchorIDs []string, limit int) ([]model.KnowledgeKeyRow, error)

	AppendDocument(ctx context.Context, e *model.DocEntry) error
	ListDocuments(ctx context.Context, workspaceID, branch, doc string, afterSeq int64, limit int) ([]*model.DocEntry, error)

	UpsertThinkCard(ctx context.Context, c *model.ThinkCard) error
	GetThinkCard(ctx context.Context, workspaceID, cardID string) (*model.ThinkCard, error)
	ListThinkCards(ctx context.Context, workspaceID, branch, graphDoc string) ([]*model.ThinkCard, error)
	AddThinkEdge(ctx context.Context, e *model.ThinkEdge) error
	ListThinkEdges(ctx context.Context, workspaceID, cardID string) ([]*model.ThinkEdge, error)

	CreateJob(ctx context.Context, workspaceID string, j *model.Job) error
	GetJob(ctx context.Context, workspaceID, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, workspaceID, status string) ([]*model.Job, error)
	UpdateJob(ctx context.Context, workspaceID, jobID string, expectedRevision int64, mutate func(*model.Job)) (*model.Job, error)
	AppendJobEvent(ctx context.Context, workspaceID string, e *model.JobEvent) error
	ListJobEvents(ctx context.Context, workspaceID, jobID string) ([]*model.JobEvent, error)
	PutJobArtifact(ctx context.Context, workspaceID string, a *model.JobArtifact) error
	GetJobArtifact(ctx context.Context, workspaceID, jobID, key string) (*model.JobArtifact, error)

	PublishMeshMessage(ctx context.Context, workspaceID string, m *model.MeshMessage) (*model.MeshMessage, bool, error)
	ListMeshMessages(ctx context.Context, workspaceID, threadID string, afterSeq int64, limit int) ([]*model.MeshMessage, error)
	GetMeshOffset(ctx context.Context, workspaceID, consumerID, threadID string) (int64, error)
	SetMeshOffset(ctx context.Context, workspaceID, consumerID, threadID string, afterSeq, nowMs int64) error

	AppendEvent(ctx context.Context, workspaceID, kind, entityID, payloadJSON string, nowMs int64) (int64, error)

	RecordOpsHistory(ctx context.Context, e *model.OpsHistoryEntry) (int64, error)
	GetOpsHistory(ctx context.Context, workspaceID string, id int64) (*model.OpsHistoryEntry, error)
	DeleteOpsHistory(ctx context.Context, workspaceID string, id int64) error
}
