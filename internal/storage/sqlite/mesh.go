package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mindloom/mindloom/internal/model"
	"github.com/mindloom/mindloom/internal/storeerr"
)

// PublishMeshMessage inserts a job-bus message, advancing the workspace sequence.
// A duplicate (workspace, idempotency_key) is ignored rather than rejected: the caller
// gets back the original row and a false "inserted" flag, so retried publishes are safe.
func (db *DB) PublishMeshMessage(ctx context.Context, workspaceID string, m *model.MeshMessage) (*model.MeshMessage, bool, error) {
	refs, _ := json.Marshal(m.Refs)

	tx, err := db.sqldb.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, storeerr.Wrap(storeerr.StoreErrorCode, "begin publish", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO workspace_seq (workspace, value) VALUES (?, 0)", workspaceID); err != nil {
		return nil, false, storeerr.Wrap(storeerr.StoreErrorCode, "seed workspace sequence", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE workspace_seq SET value = value + 1 WHERE workspace = ?", workspaceID); err != nil {
		return nil, false, storeerr.Wrap(storeerr.StoreErrorCode, "advance workspace sequence", err)
	}
	var seq int64
	if err := tx.QueryRowContext(ctx, "SELECT value FROM workspace_seq WHERE workspace = ?", workspaceID).Scan(&seq); err != nil {
		return nil, false, storeerr.Wrap(storeerr.StoreErrorCode, "read workspace sequence", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO job_bus_messages(workspace, seq, ts_ms, thread_id, from_agent_id, from_job_id, to_agent_id, kind, summary, refs_json, payload_json, idempotency_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		workspaceID, seq, m.TsMs, m.ThreadID, m.FromAgentID, nullableText(m.FromJobID), nullableText(m.ToAgentID), m.Kind, m.Summary, string(refs), nullableText(m.PayloadJSON), m.IdempotencyKey)
	if err != nil {
		return nil, false, storeerr.Wrap(storeerr.StoreErrorCode, "insert mesh message", err)
	}
	n, _ := res.RowsAffected()

	if n == 0 {
		var existing model.MeshMessage
		var fromJobID, toAgentID, payloadJSON, existingRefs sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT seq, ts_ms, thread_id, from_agent_id, from_job_id, to_agent_id, kind, summary, refs_json, payload_json, idempotency_key
			 FROM job_bus_messages WHERE workspace = ? AND idempotency_key = ?`, workspaceID, m.IdempotencyKey).
			Scan(&existing.Seq, &existing.TsMs, &existing.ThreadID, &existing.FromAgentID, &fromJobID, &toAgentID, &existing.Kind, &existing.Summary, &existingRefs, &payloadJSON, &existing.IdempotencyKey)
		if err != nil {
			return nil, false, storeerr.Wrap(storeerr.StoreErrorCode, "read existing mesh message", err)
		}
		existing.FromJobID, existing.ToAgentID, existing.PayloadJSON = fromJobID.String, toAgentID.String, payloadJSON.String
		_ = json.Unmarshal([]byte(existingRefs.String), &existing.Refs)
		if err := tx.Commit(); err != nil {
			return nil, false, storeerr.Wrap(storeerr.StoreErrorCode, "commit publish (dedupe)", err)
		}
		return &existing, false, nil
	}

	m.Seq = seq
	if err := tx.Commit(); err != nil {
		return nil, false, storeerr.Wrap(storeerr.StoreErrorCode, "commit publish", err)
	}
	return m, true, nil
}

func (db *DB) ListMeshMessages(ctx context.Context, workspaceID, threadID string, afterSeq int64, limit int) ([]*model.MeshMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	rows, err := db.sqldb.QueryContext(ctx,
		`SELECT seq, ts_ms, thread_id, from_agent_id, from_job_id, to_agent_id, kind, summary, refs_json, payload_json, idempotency_key
		 FROM job_bus_messages WHERE workspace = ? AND thread_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`,
		workspaceID, threadID, afterSeq, limit)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "list mesh messages", err)
	}
	defer rows.Close()

	var out []*model.MeshMessage
	for rows.Next() {
		var m model.MeshMessage
		var fromJobID, toAgentID, payloadJSON, refs sql.NullString
		if err := rows.Scan(&m.Seq, &m.TsMs, &m.ThreadID, &m.FromAgentID, &fromJobID, &toAgentID, &m.Kind, &m.Summary, &refs, &payloadJSON, &m.IdempotencyKey); err != nil {
			return nil, storeerr.Wrap(storeerr.StoreErrorCode, "scan mesh message", err)
		}
		m.FromJobID, m.ToAgentID, m.PayloadJSON = fromJobID.String, toAgentID.String, payloadJSON.String
		_ = json.Unmarshal([]byte(refs.String), &m.Refs)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// GetMeshOffset reads a consumer's read watermark, defaulting to 0 (start of thread)
// when no watermark has been recorded yet.
func (db *DB) GetMeshOffset(ctx context.Context, workspaceID, consumerID, threadID string) (int64, error) {
	var afterSeq int64
	err := db.sqldb.QueryRowContext(ctx,
		"SELECT after_seq FROM job_bus_offsets WHERE workspace = ? AND consumer_id = ? AND thread_id = ?", workspaceID, consumerID, threadID).Scan(&afterSeq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, storeerr.Wrap(storeerr.StoreErrorCode, "read mesh offset", err)
	}
	return afterSeq, nil
}

// SetMeshOffset advances a consumer's watermark, max-monotonically: a stale ack never
// regresses the stored offset, matching the bus's max-monotonic ack invariant.
func (db *DB) SetMeshOffset(ctx context.Context, workspaceID, consumerID, threadID string, afterSeq, nowMs int64) error {
	current, err := db.GetMeshOffset(ctx, workspaceID, consumerID, threadID)
	if err != nil {
		return err
	}
	if afterSeq < current {
		afterSeq = current
	}
	_, err = db.sqldb.ExecContext(ctx,
		`INSERT INTO job_bus_offsets(workspace, consumer_id, thread_id, after_seq, updated_at_ms) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(workspace, consumer_id, thread_id) DO UPDATE SET after_seq = excluded.after_seq, updated_at_ms = excluded.updated_at_ms`,
		workspaceID, consumerID, threadID, afterSeq, nowMs)
	if err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "set mesh offset", err)
	}
	return nil
}
