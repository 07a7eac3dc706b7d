package sqlite

import (
	"context"
	"database/sql"

	"github.com/mindloom/mindloom/internal/domain"
	"github.com/mindloom/mindloom/internal/storeerr"
)

// AppendCommit inserts a commit and advances the branch's head_commit_id and
// updated_at_ms under the branch's monotonic clamp, mirroring the reference store's
// append_commit transaction (insert commit, then max-monotonic branch touch, atomically).
func (db *DB) AppendCommit(ctx context.Context, c *domain.ThoughtCommit) error {
	tx, err := db.sqldb.BeginTx(ctx, nil)
	if err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "begin append_commit", err)
	}
	defer func() { _ = tx.Rollback() }()

	var branchCreatedAtMs, branchUpdatedAtMs int64
	err = tx.QueryRowContext(ctx,
		"SELECT created_at_ms, updated_at_ms FROM branches WHERE workspace = ? AND name = ?",
		c.WorkspaceID, c.BranchID).Scan(&branchCreatedAtMs, &branchUpdatedAtMs)
	if err == sql.ErrNoRows {
		return storeerr.Newf(storeerr.UnknownID, "branch %q not found", c.BranchID)
	}
	if err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "read branch for append_commit", err)
	}

	if c.ParentCommitID != "" {
		var exists int
		err = tx.QueryRowContext(ctx, "SELECT 1 FROM commits WHERE workspace = ? AND commit_id = ?", c.WorkspaceID, c.ParentCommitID).Scan(&exists)
		if err == sql.ErrNoRows {
			return storeerr.Newf(storeerr.UnknownID, "parent commit %q not found", c.ParentCommitID)
		}
		if err != nil {
			return storeerr.Wrap(storeerr.StoreErrorCode, "check parent commit", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO commits(workspace, branch, commit_id, parent_commit_id, message, body, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.WorkspaceID, c.BranchID, c.CommitID, nullableText(c.ParentCommitID), c.Message, c.Body, c.CreatedAtMs)
	if err != nil {
		return mapConflict("commit", err)
	}

	updatedAtMs := domain.MonotonicUpdatedAtMs(branchUpdatedAtMs, c.CreatedAtMs)
	_, err = tx.ExecContext(ctx,
		"UPDATE branches SET head_commit_id = ?, updated_at_ms = ? WHERE workspace = ? AND name = ?",
		c.CommitID, updatedAtMs, c.WorkspaceID, c.BranchID)
	if err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "touch branch head", err)
	}

	if err := tx.Commit(); err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "commit append_commit", err)
	}
	return nil
}

func (db *DB) GetCommit(ctx context.Context, workspaceID, commitID string) (*domain.ThoughtCommit, error) {
	row := db.sqldb.QueryRowContext(ctx,
		`SELECT workspace, branch, commit_id, parent_commit_id, message, body, created_at_ms
		 FROM commits WHERE workspace = ? AND commit_id = ?`, workspaceID, commitID)
	return scanCommit(row)
}

func (db *DB) ListCommits(ctx context.Context, workspaceID, branchID string, limit int) ([]*domain.ThoughtCommit, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.sqldb.QueryContext(ctx,
		`SELECT workspace, branch, commit_id, parent_commit_id, message, body, created_at_ms
		 FROM commits WHERE workspace = ? AND branch = ? ORDER BY created_at_ms ASC, commit_id ASC LIMIT ?`,
		workspaceID, branchID, limit)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "list commits", err)
	}
	defer rows.Close()

	var out []*domain.ThoughtCommit
	for rows.Next() {
		c, err := scanCommitRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCommit(row *sql.Row) (*domain.ThoughtCommit, error)   { return scanCommitGeneric(row) }
func scanCommitRows(rows *sql.Rows) (*domain.ThoughtCommit, error) { return scanCommitGeneric(rows) }

func scanCommitGeneric(s rowScanner) (*domain.ThoughtCommit, error) {
	var workspaceID, branch, commitID, message, body string
	var parentCommitID sql.NullString
	var createdAtMs int64
	if err := s.Scan(&workspaceID, &branch, &commitID, &parentCommitID, &message, &body, &createdAtMs); err != nil {
		if err == sql.ErrNoRows {
			return nil, storeerr.New(storeerr.UnknownID, "commit not found")
		}
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "scan commit", err)
	}
	c, err := domain.NewThoughtCommit(workspaceID, branch, commitID, parentCommitID.String, message, body, createdAtMs)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "invalid commit row", err)
	}
	return c, nil
}
