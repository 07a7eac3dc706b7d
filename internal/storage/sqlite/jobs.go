package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mindloom/mindloom/internal/model"
	"github.com/mindloom/mindloom/internal/storeerr"
)

func (db *DB) CreateJob(ctx context.Context, workspaceID string, j *model.Job) error {
	_, err := db.sqldb.ExecContext(ctx,
		`INSERT INTO jobs(workspace, id, title, prompt, kind, priority, status, task_id, anchor_id, runner, revision, created_at_ms, updated_at_ms, summary, meta_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		workspaceID, j.ID, j.Title, j.Prompt, j.Kind, j.Priority, j.Status, nullableText(j.TaskID), nullableText(j.AnchorID),
		nullableText(j.Runner), j.Revision, j.CreatedAtMs, j.UpdatedAtMs, nullableText(j.Summary), nullableText(j.MetaJSON))
	if err != nil {
		return mapConflict("job", err)
	}
	return nil
}

func (db *DB) GetJob(ctx context.Context, workspaceID, jobID string) (*model.Job, error) {
	row := db.sqldb.QueryRowContext(ctx, jobSelectSQL+" WHERE workspace = ? AND id = ?", workspaceID, jobID)
	return scanJob(row)
}

func (db *DB) ListJobs(ctx context.Context, workspaceID, status string) ([]*model.Job, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = db.sqldb.QueryContext(ctx, jobSelectSQL+" WHERE workspace = ? ORDER BY created_at_ms ASC", workspaceID)
	} else {
		rows, err = db.sqldb.QueryContext(ctx, jobSelectSQL+" WHERE workspace = ? AND status = ? ORDER BY created_at_ms ASC", workspaceID, status)
	}
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "list jobs", err)
	}
	defer rows.Close()

	var out []*model.Job
	for rows.Next() {
		j, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// UpdateJob applies mutate under an optimistic revision check, the same pattern as
// UpdateTask: a -1 expectedRevision skips the check for system-internal transitions
// (pipeline timers) that do not carry a caller-supplied revision.
func (db *DB) UpdateJob(ctx context.Context, workspaceID, jobID string, expectedRevision int64, mutate func(*model.Job)) (*model.Job, error) {
	tx, err := db.sqldb.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "begin update_job", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, jobSelectSQL+" WHERE workspace = ? AND id = ?", workspaceID, jobID)
	j, err := scanJob(row)
	if err != nil {
		return nil, err
	}

	if expectedRevision >= 0 && j.Revision != expectedRevision {
		return nil, storeerr.Newf(storeerr.RevisionMismatch, "job %q revision %d does not match expected %d", jobID, j.Revision, expectedRevision).
			WithData(&storeerr.RevisionMismatchData{EntityID: jobID, Expected: expectedRevision, Actual: j.Revision})
	}

	mutate(j)
	j.Revision++

	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET title = ?, prompt = ?, kind = ?, priority = ?, status = ?, task_id = ?, anchor_id = ?, runner = ?,
			revision = ?, updated_at_ms = ?, summary = ?, meta_json = ?
		 WHERE workspace = ? AND id = ?`,
		j.Title, j.Prompt, j.Kind, j.Priority, j.Status, nullableText(j.TaskID), nullableText(j.AnchorID), nullableText(j.Runner),
		j.Revision, j.UpdatedAtMs, nullableText(j.Summary), nullableText(j.MetaJSON), workspaceID, jobID)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "write updated job", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "commit update_job", err)
	}
	return j, nil
}

const jobSelectSQL = `SELECT id, title, prompt, kind, priority, status, task_id, anchor_id, runner, revision, created_at_ms, updated_at_ms, summary, meta_json FROM jobs`

func scanJob(row *sql.Row) (*model.Job, error)     { return scanJobGeneric(row) }
func scanJobRows(rows *sql.Rows) (*model.Job, error) { return scanJobGeneric(rows) }

func scanJobGeneric(s rowScanner) (*model.Job, error) {
	var j model.Job
	var taskID, anchorID, runner, summary, metaJSON sql.NullString
	if err := s.Scan(&j.ID, &j.Title, &j.Prompt, &j.Kind, &j.Priority, &j.Status, &taskID, &anchorID, &runner, &j.Revision, &j.CreatedAtMs, &j.UpdatedAtMs, &summary, &metaJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, storeerr.New(storeerr.UnknownID, "job not found")
		}
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "scan job", err)
	}
	j.TaskID, j.AnchorID, j.Runner, j.Summary, j.MetaJSON = taskID.String, anchorID.String, runner.String, summary.String, metaJSON.String
	return &j, nil
}

func (db *DB) AppendJobEvent(ctx context.Context, workspaceID string, e *model.JobEvent) error {
	refs, _ := json.Marshal(e.Refs)
	var nextSeq int64
	err := db.sqldb.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) + 1 FROM job_events WHERE workspace = ? AND job_id = ?", workspaceID, e.JobID).Scan(&nextSeq)
	if err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "compute job event seq", err)
	}
	e.Seq = nextSeq
	_, err = db.sqldb.ExecContext(ctx,
		"INSERT INTO job_events(workspace, job_id, seq, ts_ms, kind, refs_json, meta_json) VALUES (?, ?, ?, ?, ?, ?, ?)",
		workspaceID, e.JobID, e.Seq, e.TsMs, e.Kind, string(refs), nullableText(e.MetaJSON))
	if err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "append job event", err)
	}
	return nil
}

func (db *DB) ListJobEvents(ctx context.Context, workspaceID, jobID string) ([]*model.JobEvent, error) {
	rows, err := db.sqldb.QueryContext(ctx,
		"SELECT job_id, seq, ts_ms, kind, refs_json, meta_json FROM job_events WHERE workspace = ? AND job_id = ? ORDER BY seq ASC", workspaceID, jobID)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "list job events", err)
	}
	defer rows.Close()

	var out []*model.JobEvent
	for rows.Next() {
		var e model.JobEvent
		var refs string
		var metaJSON sql.NullString
		if err := rows.Scan(&e.JobID, &e.Seq, &e.TsMs, &e.Kind, &refs, &metaJSON); err != nil {
			return nil, storeerr.Wrap(storeerr.StoreErrorCode, "scan job event", err)
		}
		_ = json.Unmarshal([]byte(refs), &e.Refs)
		e.MetaJSON = metaJSON.String
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (db *DB) PutJobArtifact(ctx context.Context, workspaceID string, a *model.JobArtifact) error {
	_, err := db.sqldb.ExecContext(ctx,
		`INSERT INTO job_artifacts(workspace, job_id, artifact_key, content_text) VALUES (?, ?, ?, ?)
		 ON CONFLICT(workspace, job_id, artifact_key) DO UPDATE SET content_text = excluded.content_text`,
		workspaceID, a.JobID, a.ArtifactKey, a.ContentText)
	if err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "put job artifact", err)
	}
	return nil
}

func (db *DB) GetJobArtifact(ctx context.Context, workspaceID, jobID, key string) (*model.JobArtifact, error) {
	var a model.JobArtifact
	a.JobID = jobID
	a.ArtifactKey = key
	err := db.sqldb.QueryRowContext(ctx,
		"SELECT content_text FROM job_artifacts WHERE workspace = ? AND job_id = ? AND artifact_key = ?", workspaceID, jobID, key).Scan(&a.ContentText)
	if err == sql.ErrNoRows {
		return nil, storeerr.Newf(storeerr.UnknownID, "artifact %q on job %q not found", key, jobID)
	}
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "get job artifact", err)
	}
	return &a, nil
}
