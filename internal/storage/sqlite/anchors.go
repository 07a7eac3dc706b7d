package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/mindloom/mindloom/internal/model"
	"github.com/mindloom/mindloom/internal/storeerr"
)

func (db *DB) UpsertAnchor(ctx context.Context, workspaceID string, a *model.Anchor) error {
	refs, _ := json.Marshal(a.Refs)
	aliases, _ := json.Marshal(a.Aliases)
	dependsOn, _ := json.Marshal(a.DependsOn)

	tx, err := db.sqldb.BeginTx(ctx, nil)
	if err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "begin upsert_anchor", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO anchors(workspace, id, title, kind, status, description, refs_json, aliases_json,
			parent_id, depends_on_json, created_at_ms, updated_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(workspace, id) DO UPDATE SET
			title = excluded.title, kind = excluded.kind, status = excluded.status, description = excluded.description,
			refs_json = excluded.refs_json, aliases_json = excluded.aliases_json, parent_id = excluded.parent_id,
			depends_on_json = excluded.depends_on_json, updated_at_ms = excluded.updated_at_ms`,
		workspaceID, a.ID, a.Title, a.Kind, a.Status, a.Description, string(refs), string(aliases),
		nullableText(a.ParentID), string(dependsOn), a.CreatedAtMs, a.UpdatedAtMs)
	if err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "upsert anchor", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM anchor_aliases WHERE workspace = ? AND anchor_id = ?", workspaceID, a.ID); err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "clear anchor aliases", err)
	}
	for _, alias := range a.Aliases {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO anchor_aliases(workspace, alias, anchor_id) VALUES (?, ?, ?)", workspaceID, alias, a.ID); err != nil {
			return storeerr.Wrap(storeerr.StoreErrorCode, "write anchor alias", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "commit upsert_anchor", err)
	}
	return nil
}

func (db *DB) GetAnchor(ctx context.Context, workspaceID, anchorID string) (*model.Anchor, error) {
	row := db.sqldb.QueryRowContext(ctx, anchorSelectSQL+" WHERE workspace = ? AND id = ?", workspaceID, anchorID)
	return scanAnchor(row)
}

func (db *DB) ResolveAlias(ctx context.Context, workspaceID, alias string) (string, error) {
	var anchorID string
	err := db.sqldb.QueryRowContext(ctx,
		"SELECT anchor_id FROM anchor_aliases WHERE workspace = ? AND alias = ?", workspaceID, alias).Scan(&anchorID)
	if err == sql.ErrNoRows {
		return "", storeerr.Newf(storeerr.UnknownID, "alias %q not found", alias)
	}
	if err != nil {
		return "", storeerr.Wrap(storeerr.StoreErrorCode, "resolve alias", err)
	}
	return anchorID, nil
}

func (db *DB) ListAnchors(ctx context.Context, workspaceID string) ([]*model.Anchor, error) {
	rows, err := db.sqldb.QueryContext(ctx, anchorSelectSQL+" WHERE workspace = ? ORDER BY created_at_ms ASC", workspaceID)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "list anchors", err)
	}
	defer rows.Close()

	var out []*model.Anchor
	for rows.Next() {
		a, err := scanAnchorRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const anchorSelectSQL = `SELECT id, title, kind, status, description, refs_json, aliases_json, parent_id, depends_on_json, created_at_ms, updated_at_ms FROM anchors`

func scanAnchor(row *sql.Row) (*model.Anchor, error)     { return scanAnchorGeneric(row) }
func scanAnchorRows(rows *sql.Rows) (*model.Anchor, error) { return scanAnchorGeneric(rows) }

func scanAnchorGeneric(s rowScanner) (*model.Anchor, error) {
	var a model.Anchor
	var description sql.NullString
	var refs, aliases, dependsOn string
	var parentID sql.NullString
	if err := s.Scan(&a.ID, &a.Title, &a.Kind, &a.Status, &description, &refs, &aliases, &parentID, &dependsOn, &a.CreatedAtMs, &a.UpdatedAtMs); err != nil {
		if err == sql.ErrNoRows {
			return nil, storeerr.New(storeerr.UnknownID, "anchor not found")
		}
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "scan anchor", err)
	}
	a.Description = description.String
	a.ParentID = parentID.String
	_ = json.Unmarshal([]byte(refs), &a.Refs)
	_ = json.Unmarshal([]byte(aliases), &a.Aliases)
	_ = json.Unmarshal([]byte(dependsOn), &a.DependsOn)
	return &a, nil
}

// AppendKnowledgeKey records a new claim for an (anchor, key) pair without overwriting
// history: LatestKnowledgeKey always resolves to the highest-seq row, while older claims
// stay queryable through HistoryKnowledgeKey.
func (db *DB) AppendKnowledgeKey(ctx context.Context, workspaceID string, row model.KnowledgeKeyRow) error {
	var nextSeq int64
	err := db.sqldb.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM knowledge_keys WHERE workspace = ? AND anchor_id = ? AND key = ?",
		workspaceID, row.AnchorID, row.Key).Scan(&nextSeq)
	if err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "compute knowledge key seq", err)
	}
	_, err = db.sqldb.ExecContext(ctx,
		"INSERT INTO knowledge_keys(workspace, anchor_id, key, card_id, created_at_ms, seq) VALUES (?, ?, ?, ?, ?, ?)",
		workspaceID, row.AnchorID, row.Key, row.CardID, row.CreatedAtMs, nextSeq)
	if err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "append knowledge key", err)
	}
	return nil
}

func (db *DB) LatestKnowledgeKey(ctx context.Context, workspaceID, anchorID, key string) (*model.KnowledgeKeyRow, error) {
	var row model.KnowledgeKeyRow
	row.AnchorID = anchorID
	row.Key = key
	err := db.sqldb.QueryRowContext(ctx,
		`SELECT card_id, created_at_ms FROM knowledge_keys WHERE workspace = ? AND anchor_id = ? AND key = ?
		 ORDER BY seq DESC LIMIT 1`, workspaceID, anchorID, key).Scan(&row.CardID, &row.CreatedAtMs)
	if err == sql.ErrNoRows {
		return nil, storeerr.Newf(storeerr.UnknownID, "knowledge key %q on anchor %q not found", key, anchorID)
	}
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "read latest knowledge key", err)
	}
	return &row, nil
}

func (db *DB) HistoryKnowledgeKey(ctx context.Context, workspaceID, anchorID, key string) ([]model.KnowledgeKeyRow, error) {
	rows, err := db.sqldb.QueryContext(ctx,
		`SELECT card_id, created_at_ms FROM knowledge_keys WHERE workspace = ? AND anchor_id = ? AND key = ? ORDER BY seq ASC`,
		workspaceID, anchorID, key)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "history knowledge key", err)
	}
	defer rows.Close()

	var out []model.KnowledgeKeyRow
	for rows.Next() {
		var row model.KnowledgeKeyRow
		row.AnchorID = anchorID
		row.Key = key
		if err := rows.Scan(&row.CardID, &row.CreatedAtMs); err != nil {
			return nil, storeerr.Wrap(storeerr.StoreErrorCode, "scan knowledge key history", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ListKnowledgeKeys lists every (anchor,key) claim row, not just the latest per pair,
// across anchorIDs (all anchors when empty), ordered anchor_id,key,created_at_ms
// ascending and optionally capped at limit. Used by knowledge.lint's duplicate and
// overloaded-key analysis, which needs the full claim history to compare.
func (db *DB) ListKnowledgeKeys(ctx context.Context, workspaceID string, anchorIDs []string, limit int) ([]model.KnowledgeKeyRow, error) {
	query := "SELECT anchor_id, key, card_id, created_at_ms FROM knowledge_keys WHERE workspace = ?"
	args := []any{workspaceID}

	if len(anchorIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(anchorIDs)), ",")
		query += " AND anchor_id IN (" + placeholders + ")"
		for _, id := range anchorIDs {
			args = append(args, id)
		}
	}

	query += " ORDER BY anchor_id ASC, key ASC, created_at_ms ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.sqldb.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "list knowledge keys", err)
	}
	defer rows.Close()

	var out []model.KnowledgeKeyRow
	for rows.Next() {
		var row model.KnowledgeKeyRow
		if err := rows.Scan(&row.AnchorID, &row.Key, &row.CardID, &row.CreatedAtMs); err != nil {
			return nil, storeerr.Wrap(storeerr.StoreErrorCode, "scan knowledge key", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
