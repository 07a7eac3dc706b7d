package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mindloom/mindloom/internal/model"
	"github.com/mindloom/mindloom/internal/storeerr"
)

func (db *DB) UpsertStep(ctx context.Context, workspaceID string, s *model.Step) error {
	criteria, err := json.Marshal(s.SuccessCriteria)
	if err != nil {
		return storeerr.Wrap(storeerr.InvalidInput, "encode success_criteria", err)
	}
	tests, err := json.Marshal(s.Tests)
	if err != nil {
		return storeerr.Wrap(storeerr.InvalidInput, "encode tests", err)
	}
	blockers, err := json.Marshal(s.Blockers)
	if err != nil {
		return storeerr.Wrap(storeerr.InvalidInput, "encode blockers", err)
	}

	_, err = db.sqldb.ExecContext(ctx,
		`INSERT INTO steps(workspace, task_id, step_id, path, title, success_criteria_json, tests_json, blockers_json,
			completed, completed_at_ms, criteria_confirmed, tests_confirmed, security_confirmed, perf_confirmed, docs_confirmed,
			proof_tests_mode, proof_security_mode, proof_perf_mode, proof_docs_mode, blocked, block_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(workspace, task_id, step_id) DO UPDATE SET
			path = excluded.path, title = excluded.title,
			success_criteria_json = excluded.success_criteria_json, tests_json = excluded.tests_json, blockers_json = excluded.blockers_json,
			completed = excluded.completed, completed_at_ms = excluded.completed_at_ms,
			criteria_confirmed = excluded.criteria_confirmed, tests_confirmed = excluded.tests_confirmed,
			security_confirmed = excluded.security_confirmed, perf_confirmed = excluded.perf_confirmed, docs_confirmed = excluded.docs_confirmed,
			proof_tests_mode = excluded.proof_tests_mode, proof_security_mode = excluded.proof_security_mode,
			proof_perf_mode = excluded.proof_perf_mode, proof_docs_mode = excluded.proof_docs_mode,
			blocked = excluded.blocked, block_reason = excluded.block_reason`,
		workspaceID, s.TaskID, s.StepID, s.Path, s.Title, string(criteria), string(tests), string(blockers),
		boolToInt(s.Completed), nullableInt(s.CompletedAtMs),
		boolToInt(s.CriteriaConfirmed), boolToInt(s.TestsConfirmed), boolToInt(s.SecurityConfirmed), boolToInt(s.PerfConfirmed), boolToInt(s.DocsConfirmed),
		s.ProofTestsMode, s.ProofSecurityMode, s.ProofPerfMode, s.ProofDocsMode, boolToInt(s.Blocked), nullableText(s.BlockReason))
	if err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "upsert step", err)
	}
	return nil
}

func (db *DB) GetStep(ctx context.Context, workspaceID, taskID, stepID string) (*model.Step, error) {
	row := db.sqldb.QueryRowContext(ctx, stepSelectSQL+" WHERE workspace = ? AND task_id = ? AND step_id = ?", workspaceID, taskID, stepID)
	return scanStep(row)
}

func (db *DB) ListSteps(ctx context.Context, workspaceID, taskID string) ([]*model.Step, error) {
	rows, err := db.sqldb.QueryContext(ctx, stepSelectSQL+" WHERE workspace = ? AND task_id = ? ORDER BY path ASC", workspaceID, taskID)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "list steps", err)
	}
	defer rows.Close()

	var out []*model.Step
	for rows.Next() {
		s, err := scanStepRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const stepSelectSQL = `SELECT task_id, step_id, path, title, success_criteria_json, tests_json, blockers_json,
	completed, completed_at_ms, criteria_confirmed, tests_confirmed, security_confirmed, perf_confirmed, docs_confirmed,
	proof_tests_mode, proof_security_mode, proof_perf_mode, proof_docs_mode, blocked, block_reason
 FROM steps`

func scanStep(row *sql.Row) (*model.Step, error)     { return scanStepGeneric(row) }
func scanStepRows(rows *sql.Rows) (*model.Step, error) { return scanStepGeneric(rows) }

func scanStepGeneric(s rowScanner) (*model.Step, error) {
	var st model.Step
	var criteria, tests, blockers string
	var completed, criteriaOK, testsOK, securityOK, perfOK, docsOK, blocked int
	var completedAtMs sql.NullInt64
	var blockReason sql.NullString
	if err := s.Scan(&st.TaskID, &st.StepID, &st.Path, &st.Title, &criteria, &tests, &blockers,
		&completed, &completedAtMs, &criteriaOK, &testsOK, &securityOK, &perfOK, &docsOK,
		&st.ProofTestsMode, &st.ProofSecurityMode, &st.ProofPerfMode, &st.ProofDocsMode, &blocked, &blockReason); err != nil {
		if err == sql.ErrNoRows {
			return nil, storeerr.New(storeerr.UnknownID, "step not found")
		}
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "scan step", err)
	}
	_ = json.Unmarshal([]byte(criteria), &st.SuccessCriteria)
	_ = json.Unmarshal([]byte(tests), &st.Tests)
	_ = json.Unmarshal([]byte(blockers), &st.Blockers)
	st.Completed = completed != 0
	st.CompletedAtMs = completedAtMs.Int64
	st.CriteriaConfirmed = criteriaOK != 0
	st.TestsConfirmed = testsOK != 0
	st.SecurityConfirmed = securityOK != 0
	st.PerfConfirmed = perfOK != 0
	st.DocsConfirmed = docsOK != 0
	st.Blocked = blocked != 0
	st.BlockReason = blockReason.String
	return &st, nil
}
