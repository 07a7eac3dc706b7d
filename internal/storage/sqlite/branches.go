package sqlite

import (
	"context"
	"database/sql"

	"github.com/mindloom/mindloom/internal/domain"
	"github.com/mindloom/mindloom/internal/model"
	"github.com/mindloom/mindloom/internal/storeerr"
)

func (db *DB) EnsureWorkspace(ctx context.Context, workspaceID string, nowMs int64) (*model.Workspace, error) {
	_, err := db.sqldb.ExecContext(ctx,
		"INSERT OR IGNORE INTO workspaces (id, created_at_ms) VALUES (?, ?)", workspaceID, nowMs)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "ensure workspace", err)
	}
	_, err = db.sqldb.ExecContext(ctx,
		"INSERT OR IGNORE INTO workspace_seq (workspace, value) VALUES (?, 0)", workspaceID)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "ensure workspace sequence", err)
	}

	var ws model.Workspace
	var guard sql.NullString
	var rebound int
	row := db.sqldb.QueryRowContext(ctx,
		"SELECT id, created_at_ms, project_guard, guard_rebound FROM workspaces WHERE id = ?", workspaceID)
	if err := row.Scan(&ws.ID, &ws.CreatedAtMs, &guard, &rebound); err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "read workspace", err)
	}
	ws.ProjectGuard = guard.String
	ws.GuardRebound = rebound != 0
	return &ws, nil
}

// NextSeq hands out the next monotonic per-workspace sequence number, used for task
// and job ids, lease acquire/expire comparisons and the workspace event log; mesh
// publish advances the same counter inline. Job events and documents do not draw
// their seq from it.
func (db *DB) NextSeq(ctx context.Context, workspaceID string) (int64, error) {
	tx, err := db.sqldb.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeerr.Wrap(storeerr.StoreErrorCode, "begin next_seq", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO workspace_seq (workspace, value) VALUES (?, 0)", workspaceID); err != nil {
		return 0, storeerr.Wrap(storeerr.StoreErrorCode, "seed workspace sequence", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE workspace_seq SET value = value + 1 WHERE workspace = ?", workspaceID); err != nil {
		return 0, storeerr.Wrap(storeerr.StoreErrorCode, "advance workspace sequence", err)
	}
	var value int64
	if err := tx.QueryRowContext(ctx, "SELECT value FROM workspace_seq WHERE workspace = ?", workspaceID).Scan(&value); err != nil {
		return 0, storeerr.Wrap(storeerr.StoreErrorCode, "read workspace sequence", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, storeerr.Wrap(storeerr.StoreErrorCode, "commit next_seq", err)
	}
	return value, nil
}

func (db *DB) CreateBranch(ctx context.Context, b *domain.ThoughtBranch) error {
	tx, err := db.sqldb.BeginTx(ctx, nil)
	if err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "begin create_branch", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO workspaces (id, created_at_ms) VALUES (?, ?)", b.WorkspaceID, b.CreatedAtMs); err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "ensure workspace", err)
	}

	baseBranch := b.ParentBranchID
	if baseBranch == "" {
		baseBranch = b.BranchID
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO branches(workspace, name, base_branch, base_seq, created_at_ms, head_commit_id, updated_at_ms)
		 VALUES (?, ?, ?, 0, ?, ?, ?)`,
		b.WorkspaceID, b.BranchID, baseBranch, b.CreatedAtMs, nullableText(b.HeadCommitID), b.UpdatedAtMs)
	if err != nil {
		return mapConflict("branch", err)
	}
	if err := tx.Commit(); err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "commit create_branch", err)
	}
	return nil
}

func (db *DB) GetBranch(ctx context.Context, workspaceID, branchID string) (*domain.ThoughtBranch, error) {
	row := db.sqldb.QueryRowContext(ctx,
		`SELECT workspace, name, base_branch, head_commit_id, created_at_ms, updated_at_ms
		 FROM branches WHERE workspace = ? AND name = ?`, workspaceID, branchID)
	return scanBranch(row)
}

func (db *DB) ListBranches(ctx context.Context, workspaceID string) ([]*domain.ThoughtBranch, error) {
	rows, err := db.sqldb.QueryContext(ctx,
		`SELECT workspace, name, base_branch, head_commit_id, created_at_ms, updated_at_ms
		 FROM branches WHERE workspace = ? ORDER BY created_at_ms ASC, name ASC`, workspaceID)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "list branches", err)
	}
	defer rows.Close()

	var out []*domain.ThoughtBranch
	for rows.Next() {
		b, err := scanBranchRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (db *DB) TouchBranch(ctx context.Context, workspaceID, branchID, headCommitID string, updatedAtMs int64) error {
	res, err := db.sqldb.ExecContext(ctx,
		`UPDATE branches SET head_commit_id = ?, updated_at_ms = ? WHERE workspace = ? AND name = ?`,
		nullableText(headCommitID), updatedAtMs, workspaceID, branchID)
	if err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "touch branch", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storeerr.Newf(storeerr.UnknownID, "branch %q not found", branchID)
	}
	return nil
}

func (db *DB) DeleteBranch(ctx context.Context, workspaceID, branchID string) error {
	res, err := db.sqldb.ExecContext(ctx, "DELETE FROM branches WHERE workspace = ? AND name = ?", workspaceID, branchID)
	if err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "delete branch", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storeerr.Newf(storeerr.UnknownID, "branch %q not found", branchID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBranch(row *sql.Row) (*domain.ThoughtBranch, error) {
	return scanBranchGeneric(row)
}

func scanBranchRows(rows *sql.Rows) (*domain.ThoughtBranch, error) {
	return scanBranchGeneric(rows)
}

func scanBranchGeneric(s rowScanner) (*domain.ThoughtBranch, error) {
	var workspaceID, name, baseBranch string
	var headCommitID sql.NullString
	var createdAtMs, updatedAtMs int64
	if err := s.Scan(&workspaceID, &name, &baseBranch, &headCommitID, &createdAtMs, &updatedAtMs); err != nil {
		if err == sql.ErrNoRows {
			return nil, storeerr.New(storeerr.UnknownID, "branch not found")
		}
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "scan branch", err)
	}
	parent := baseBranch
	if baseBranch == name {
		parent = ""
	}
	b, err := domain.NewThoughtBranch(workspaceID, name, parent, headCommitID.String, createdAtMs, updatedAtMs)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "invalid branch row", err)
	}
	return b, nil
}

func nullableText(v string) any {
	if v == "" {
		return nil
	}
	return v
}
