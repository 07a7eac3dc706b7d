package sqlite

import (
	"context"
	"database/sql"

	"github.com/mindloom/mindloom/internal/domain"
	"github.com/mindloom/mindloom/internal/storeerr"
)

func (db *DB) RecordMerge(ctx context.Context, m *domain.MergeRecord) error {
	_, err := db.sqldb.ExecContext(ctx,
		`INSERT INTO merges(workspace, merge_id, source_branch, target_branch, synthesis_commit_id, strategy, summary, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.WorkspaceID, m.MergeID, m.SourceBranchID, m.TargetBranchID, m.SynthesisCommitID, m.Strategy, m.Summary, m.CreatedAtMs)
	if err != nil {
		return mapConflict("merge record", err)
	}
	return nil
}

func (db *DB) GetMerge(ctx context.Context, workspaceID, mergeID string) (*domain.MergeRecord, error) {
	row := db.sqldb.QueryRowContext(ctx,
		`SELECT workspace, merge_id, source_branch, target_branch, synthesis_commit_id, strategy, summary, created_at_ms
		 FROM merges WHERE workspace = ? AND merge_id = ?`, workspaceID, mergeID)

	var workspace, merge, source, target, synth, strategy, summary string
	var createdAtMs int64
	if err := row.Scan(&workspace, &merge, &source, &target, &synth, &strategy, &summary, &createdAtMs); err != nil {
		if err == sql.ErrNoRows {
			return nil, storeerr.New(storeerr.UnknownID, "merge record not found")
		}
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "scan merge record", err)
	}
	m, err := domain.NewMergeRecord(workspace, merge, source, target, synth, strategy, summary, createdAtMs)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "invalid merge row", err)
	}
	return m, nil
}
