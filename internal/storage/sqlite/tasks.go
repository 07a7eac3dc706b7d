package sqlite

import (
	"context"
	"database/sql"

	"github.com/mindloom/mindloom/internal/model"
	"github.com/mindloom/mindloom/internal/storeerr"
)

func (db *DB) CreateTask(ctx context.Context, workspaceID string, t *model.Task) error {
	_, err := db.sqldb.ExecContext(ctx,
		`INSERT INTO tasks(workspace, id, kind, title, description, status, priority, blocked,
			updated_at_ms, parked_until_ms, revision, parent_plan_id, reasoning_mode)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		workspaceID, t.ID, t.Kind, t.Title, t.Description, t.Status, t.Priority, boolToInt(t.Blocked),
		t.UpdatedAtMs, nullableInt(t.ParkedUntilMs), t.Revision, nullableText(t.ParentPlanID), t.ReasoningMode)
	if err != nil {
		return mapConflict("task", err)
	}
	return nil
}

func (db *DB) GetTask(ctx context.Context, workspaceID, taskID string) (*model.Task, error) {
	row := db.sqldb.QueryRowContext(ctx,
		`SELECT id, kind, title, description, status, priority, blocked, updated_at_ms,
			parked_until_ms, revision, parent_plan_id, reasoning_mode
		 FROM tasks WHERE workspace = ? AND id = ?`, workspaceID, taskID)
	return scanTask(row)
}

func (db *DB) ListTasks(ctx context.Context, workspaceID string, status string) ([]*model.Task, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = db.sqldb.QueryContext(ctx,
			`SELECT id, kind, title, description, status, priority, blocked, updated_at_ms,
				parked_until_ms, revision, parent_plan_id, reasoning_mode
			 FROM tasks WHERE workspace = ? ORDER BY priority DESC, updated_at_ms ASC`, workspaceID)
	} else {
		rows, err = db.sqldb.QueryContext(ctx,
			`SELECT id, kind, title, description, status, priority, blocked, updated_at_ms,
				parked_until_ms, revision, parent_plan_id, reasoning_mode
			 FROM tasks WHERE workspace = ? AND status = ? ORDER BY priority DESC, updated_at_ms ASC`, workspaceID, status)
	}
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "list tasks", err)
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTask applies mutate to the current row inside a transaction, enforcing
// expectedRevision before writing and incrementing the stored revision afterward:
// a strictly increasing task revision, REVISION_MISMATCH on a stale write.
func (db *DB) UpdateTask(ctx context.Context, workspaceID, taskID string, expectedRevision int64, mutate func(*model.Task)) (*model.Task, error) {
	tx, err := db.sqldb.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "begin update_task", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT id, kind, title, description, status, priority, blocked, updated_at_ms,
			parked_until_ms, revision, parent_plan_id, reasoning_mode
		 FROM tasks WHERE workspace = ? AND id = ?`, workspaceID, taskID)
	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}

	if expectedRevision >= 0 && t.Revision != expectedRevision {
		return nil, storeerr.Newf(storeerr.RevisionMismatch, "task %q revision %d does not match expected %d", taskID, t.Revision, expectedRevision).
			WithData(&storeerr.RevisionMismatchData{EntityID: taskID, Expected: expectedRevision, Actual: t.Revision})
	}

	mutate(t)
	t.Revision++

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET kind = ?, title = ?, description = ?, status = ?, priority = ?, blocked = ?,
			updated_at_ms = ?, parked_until_ms = ?, revision = ?, parent_plan_id = ?, reasoning_mode = ?
		 WHERE workspace = ? AND id = ?`,
		t.Kind, t.Title, t.Description, t.Status, t.Priority, boolToInt(t.Blocked),
		t.UpdatedAtMs, nullableInt(t.ParkedUntilMs), t.Revision, nullableText(t.ParentPlanID), t.ReasoningMode,
		workspaceID, taskID)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "write updated task", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "commit update_task", err)
	}
	return t, nil
}

func scanTask(row *sql.Row) (*model.Task, error)     { return scanTaskGeneric(row) }
func scanTaskRows(rows *sql.Rows) (*model.Task, error) { return scanTaskGeneric(rows) }

func scanTaskGeneric(s rowScanner) (*model.Task, error) {
	var t model.Task
	var description, parentPlanID sql.NullString
	var blocked int
	var parkedUntilMs sql.NullInt64
	if err := s.Scan(&t.ID, &t.Kind, &t.Title, &description, &t.Status, &t.Priority, &blocked,
		&t.UpdatedAtMs, &parkedUntilMs, &t.Revision, &parentPlanID, &t.ReasoningMode); err != nil {
		if err == sql.ErrNoRows {
			return nil, storeerr.New(storeerr.UnknownID, "task not found")
		}
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "scan task", err)
	}
	t.Description = description.String
	t.Blocked = blocked != 0
	t.ParkedUntilMs = parkedUntilMs.Int64
	t.ParentPlanID = parentPlanID.String
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
