package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/mindloom/mindloom/internal/model"
	"github.com/mindloom/mindloom/internal/storeerr"
)

// Wire-shape limits for job-bus mesh messages.
const (
	maxThreadIDLen       = 200
	maxAgentIDLen        = 128
	maxKindLen           = 48
	maxSummaryLen        = 800
	maxIdempotencyKeyLen = 128
	maxRefs              = 32
	maxRefItemLen        = 256
	maxPullLimit         = 200
)

// PublishInput is the validated request to post a job-bus mesh message.
type PublishInput struct {
	WorkspaceID    string
	ThreadID       string
	FromAgentID    string
	FromJobID      string
	ToAgentID      string
	Kind           string
	Summary        string
	Refs           []string
	PayloadJSON    string
	IdempotencyKey string
}

func validatePublish(in PublishInput) error {
	switch {
	case in.ThreadID == "" || len(in.ThreadID) > maxThreadIDLen:
		return storeerr.New(storeerr.InvalidInput, "thread_id must be 1-200 chars")
	case strings.Contains(in.ThreadID, ".."):
		return storeerr.New(storeerr.InvalidInput, "thread_id must not contain '..'")
	case in.FromAgentID == "" || len(in.FromAgentID) > maxAgentIDLen:
		return storeerr.New(storeerr.InvalidInput, "from_agent_id must be 1-128 chars")
	case in.ToAgentID != "" && len(in.ToAgentID) > maxAgentIDLen:
		return storeerr.New(storeerr.InvalidInput, "to_agent_id must be at most 128 chars")
	case in.Kind == "" || len(in.Kind) > maxKindLen:
		return storeerr.New(storeerr.InvalidInput, "kind must be 1-48 chars")
	case len(in.Summary) > maxSummaryLen:
		return storeerr.New(storeerr.InvalidInput, "summary must be at most 800 chars")
	case len(in.IdempotencyKey) > maxIdempotencyKeyLen:
		return storeerr.New(storeerr.InvalidInput, "idempotency_key must be at most 128 chars")
	case len(in.Refs) > maxRefs:
		return storeerr.New(storeerr.InvalidInput, "refs must have at most 32 entries")
	}
	for _, r := range in.Refs {
		if len(r) > maxRefItemLen {
			return storeerr.New(storeerr.InvalidInput, "each ref must be at most 256 chars")
		}
	}
	return nil
}

// Publish posts a mesh message, deduplicating on (workspace, idempotency_key): a
// retried publish with the same key returns the original message and inserted=false
// rather than creating a second row.
func (j *Jobs) Publish(ctx context.Context, in PublishInput) (msg *model.MeshMessage, inserted bool, err error) {
	if err := validatePublish(in); err != nil {
		return nil, false, err
	}
	m := &model.MeshMessage{
		TsMs:           j.Now(),
		ThreadID:       in.ThreadID,
		FromAgentID:    in.FromAgentID,
		FromJobID:      in.FromJobID,
		ToAgentID:      in.ToAgentID,
		Kind:           in.Kind,
		Summary:        in.Summary,
		Refs:           in.Refs,
		PayloadJSON:    in.PayloadJSON,
		IdempotencyKey: in.IdempotencyKey,
	}
	return j.Store.PublishMeshMessage(ctx, in.WorkspaceID, m)
}

// Pull returns unread messages on a thread for consumerID, starting after its stored
// watermark, and does NOT advance the watermark — callers must call Ack explicitly so
// a consumer that crashes mid-batch can re-pull.
func (j *Jobs) Pull(ctx context.Context, workspaceID, consumerID, threadID string, limit int) ([]*model.MeshMessage, error) {
	if limit <= 0 || limit > maxPullLimit {
		limit = maxPullLimit
	}
	afterSeq, err := j.Store.GetMeshOffset(ctx, workspaceID, consumerID, threadID)
	if err != nil {
		return nil, err
	}
	return j.Store.ListMeshMessages(ctx, workspaceID, threadID, afterSeq, limit)
}

// Ack advances consumerID's watermark to afterSeq. The offset is max-monotonic: an ack
// for a seq behind the stored watermark is a no-op, never a regression.
func (j *Jobs) Ack(ctx context.Context, workspaceID, consumerID, threadID string, afterSeq int64) error {
	return j.Store.SetMeshOffset(ctx, workspaceID, consumerID, threadID, afterSeq, j.Now())
}

// DMThreadID builds the canonical thread id for a direct message between two agents,
// ordering the agent ids so either side resolves to the same thread.
func DMThreadID(agentA, agentB string) string {
	if agentA > agentB {
		agentA, agentB = agentB, agentA
	}
	return fmt.Sprintf("dm/%s/%s", agentA, agentB)
}
