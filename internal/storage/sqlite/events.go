package sqlite

import (
	"context"
	"database/sql"

	"github.com/mindloom/mindloom/internal/model"
	"github.com/mindloom/mindloom/internal/storeerr"
)

// AppendEvent writes one row to the workspace-wide audit log and returns its seq,
// the same monotonic per-workspace counter used for mesh publish and step leases so
// the whole store shares one logical clock.
func (db *DB) AppendEvent(ctx context.Context, workspaceID, kind, entityID, payloadJSON string, nowMs int64) (int64, error) {
	seq, err := db.NextSeq(ctx, workspaceID)
	if err != nil {
		return 0, err
	}
	_, err = db.sqldb.ExecContext(ctx,
		"INSERT INTO events(workspace, seq, ts_ms, kind, entity_id, payload_json) VALUES (?, ?, ?, ?, ?, ?)",
		workspaceID, seq, nowMs, kind, nullableText(entityID), nullableText(payloadJSON))
	if err != nil {
		return 0, storeerr.Wrap(storeerr.StoreErrorCode, "append event", err)
	}
	return seq, nil
}

func (db *DB) RecordOpsHistory(ctx context.Context, e *model.OpsHistoryEntry) (int64, error) {
	res, err := db.sqldb.ExecContext(ctx,
		"INSERT INTO ops_history(workspace, intent, before_json, after_json, created_at_ms) VALUES (?, ?, ?, ?, ?)",
		e.Workspace, e.Intent, nullableText(e.BeforeJSON), nullableText(e.AfterJSON), e.CreatedAtMs)
	if err != nil {
		return 0, storeerr.Wrap(storeerr.StoreErrorCode, "record ops history", err)
	}
	return res.LastInsertId()
}

func (db *DB) GetOpsHistory(ctx context.Context, workspaceID string, id int64) (*model.OpsHistoryEntry, error) {
	var e model.OpsHistoryEntry
	e.Workspace = workspaceID
	e.ID = id
	var beforeJSON, afterJSON sql.NullString
	err := db.sqldb.QueryRowContext(ctx,
		"SELECT intent, before_json, after_json, created_at_ms FROM ops_history WHERE workspace = ? AND id = ?", workspaceID, id).
		Scan(&e.Intent, &beforeJSON, &afterJSON, &e.CreatedAtMs)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.UnknownID, "ops history entry not found", err)
	}
	e.BeforeJSON, e.AfterJSON = beforeJSON.String, afterJSON.String
	return &e, nil
}

func (db *DB) DeleteOpsHistory(ctx context.Context, workspaceID string, id int64) error {
	_, err := db.sqldb.ExecContext(ctx, "DELETE FROM ops_history WHERE workspace = ? AND id = ?", workspaceID, id)
	if err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "delete ops history entry", err)
	}
	return nil
}
