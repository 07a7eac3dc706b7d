package sqlite

import (
	"context"
	"database/sql"

	"github.com/mindloom/mindloom/internal/model"
	"github.com/mindloom/mindloom/internal/storeerr"
)

func (db *DB) AppendDocument(ctx context.Context, e *model.DocEntry) error {
	_, err := db.sqldb.ExecContext(ctx,
		`INSERT INTO documents(workspace, branch, doc, seq, ts_ms, kind, title, format, meta_json, content, event_type, task_id, path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Workspace, e.Branch, e.Doc, e.Seq, e.TsMs, e.Kind, nullableText(e.Title), nullableText(e.Format),
		nullableText(e.MetaJSON), nullableText(e.Content), nullableText(e.EventType), nullableText(e.TaskID), nullableText(e.Path))
	if err != nil {
		return mapConflict("document entry", err)
	}
	return nil
}

func (db *DB) ListDocuments(ctx context.Context, workspaceID, branch, doc string, afterSeq int64, limit int) ([]*model.DocEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.sqldb.QueryContext(ctx,
		`SELECT workspace, branch, doc, seq, ts_ms, kind, title, format, meta_json, content, event_type, task_id, path
		 FROM documents WHERE workspace = ? AND branch = ? AND doc = ? AND seq > ? ORDER BY seq ASC LIMIT ?`,
		workspaceID, branch, doc, afterSeq, limit)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "list documents", err)
	}
	defer rows.Close()

	var out []*model.DocEntry
	for rows.Next() {
		var e model.DocEntry
		var title, format, metaJSON, content, eventType, taskID, path sql.NullString
		if err := rows.Scan(&e.Workspace, &e.Branch, &e.Doc, &e.Seq, &e.TsMs, &e.Kind, &title, &format, &metaJSON, &content, &eventType, &taskID, &path); err != nil {
			return nil, storeerr.Wrap(storeerr.StoreErrorCode, "scan document entry", err)
		}
		e.Title, e.Format, e.MetaJSON, e.Content, e.EventType, e.TaskID, e.Path =
			title.String, format.String, metaJSON.String, content.String, eventType.String, taskID.String, path.String
		out = append(out, &e)
	}
	return out, rows.Err()
}
