package sqlite

import (
	"context"
	"database/sql"

	"github.com/mindloom/mindloom/internal/model"
	"github.com/mindloom/mindloom/internal/storeerr"
)

// AcquireStepLease claims exclusive ownership of a step. A live, unexpired lease held
// by a different agent fails with STEP_LEASE_HELD unless force is set, in which case
// the existing holder is evicted.
func (db *DB) AcquireStepLease(ctx context.Context, workspaceID, taskID, stepID, holderAgentID string, nowSeq, expiresSeq int64, force bool) (*model.StepLease, error) {
	tx, err := db.sqldb.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "begin acquire_lease", err)
	}
	defer func() { _ = tx.Rollback() }()

	var holder string
	var acquiredSeq, expiresAt int64
	err = tx.QueryRowContext(ctx,
		"SELECT holder_agent_id, acquired_seq, expires_seq FROM step_leases WHERE workspace = ? AND task_id = ? AND step_id = ?",
		workspaceID, taskID, stepID).Scan(&holder, &acquiredSeq, &expiresAt)

	if err != nil && err != sql.ErrNoRows {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "read step lease", err)
	}

	held := err == nil && expiresAt > nowSeq && holder != holderAgentID
	if held && !force {
		return nil, storeerr.Newf(storeerr.StepLeaseHeld, "step is leased by %s (step_id=%s, now_seq=%d, expires_seq=%d)", holder, stepID, nowSeq, expiresAt).
			WithRecovery("ask the holder to release the lease, wait for expiry, or take over explicitly (force=true)").
			WithData(&storeerr.StepLeaseHeldData{StepID: stepID, HolderAgentID: holder, NowSeq: nowSeq, ExpiresSeq: expiresAt})
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO step_leases(workspace, task_id, step_id, holder_agent_id, acquired_seq, expires_seq)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(workspace, task_id, step_id) DO UPDATE SET
			holder_agent_id = excluded.holder_agent_id, acquired_seq = excluded.acquired_seq, expires_seq = excluded.expires_seq`,
		workspaceID, taskID, stepID, holderAgentID, nowSeq, expiresSeq)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "write step lease", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "commit acquire_lease", err)
	}
	return &model.StepLease{StepID: stepID, HolderAgentID: holderAgentID, AcquiredSeq: nowSeq, ExpiresSeq: expiresSeq}, nil
}

func (db *DB) RenewStepLease(ctx context.Context, workspaceID, taskID, stepID, holderAgentID string, newExpiresSeq int64) (*model.StepLease, error) {
	lease, err := db.requireHeldLease(ctx, workspaceID, taskID, stepID, holderAgentID)
	if err != nil {
		return nil, err
	}
	_, err = db.sqldb.ExecContext(ctx,
		"UPDATE step_leases SET expires_seq = ? WHERE workspace = ? AND task_id = ? AND step_id = ?",
		newExpiresSeq, workspaceID, taskID, stepID)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "renew step lease", err)
	}
	lease.ExpiresSeq = newExpiresSeq
	return lease, nil
}

func (db *DB) ReleaseStepLease(ctx context.Context, workspaceID, taskID, stepID, holderAgentID string) error {
	if _, err := db.requireHeldLease(ctx, workspaceID, taskID, stepID, holderAgentID); err != nil {
		return err
	}
	_, err := db.sqldb.ExecContext(ctx,
		"DELETE FROM step_leases WHERE workspace = ? AND task_id = ? AND step_id = ?", workspaceID, taskID, stepID)
	if err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "release step lease", err)
	}
	return nil
}

func (db *DB) requireHeldLease(ctx context.Context, workspaceID, taskID, stepID, holderAgentID string) (*model.StepLease, error) {
	lease, err := db.GetStepLease(ctx, workspaceID, taskID, stepID)
	if err != nil {
		return nil, err
	}
	if lease == nil || lease.HolderAgentID != holderAgentID {
		holder := ""
		if lease != nil {
			holder = lease.HolderAgentID
		}
		return nil, storeerr.Newf(storeerr.StepLeaseNotHeld, "step %s is not leased by %s", stepID, holderAgentID).
			WithData(&storeerr.StepLeaseNotHeldData{StepID: stepID, HolderAgentID: holder})
	}
	return lease, nil
}

func (db *DB) GetStepLease(ctx context.Context, workspaceID, taskID, stepID string) (*model.StepLease, error) {
	var lease model.StepLease
	lease.StepID = stepID
	row := db.sqldb.QueryRowContext(ctx,
		"SELECT holder_agent_id, acquired_seq, expires_seq FROM step_leases WHERE workspace = ? AND task_id = ? AND step_id = ?",
		workspaceID, taskID, stepID)
	if err := row.Scan(&lease.HolderAgentID, &lease.AcquiredSeq, &lease.ExpiresSeq); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "read step lease", err)
	}
	return &lease, nil
}
