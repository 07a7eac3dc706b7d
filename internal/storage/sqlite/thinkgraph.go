package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mindloom/mindloom/internal/model"
	"github.com/mindloom/mindloom/internal/storeerr"
)

func (db *DB) UpsertThinkCard(ctx context.Context, c *model.ThinkCard) error {
	tags, _ := json.Marshal(c.Tags)
	_, err := db.sqldb.ExecContext(ctx,
		`INSERT INTO think_cards(workspace, id, branch, graph_doc, type, title, text, status, tags_json, meta_json, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(workspace, id) DO UPDATE SET
			title = excluded.title, text = excluded.text, status = excluded.status, tags_json = excluded.tags_json, meta_json = excluded.meta_json`,
		c.Workspace, c.ID, c.Branch, c.GraphDoc, c.Type, c.Title, c.Text, c.Status, string(tags), nullableText(c.MetaJSON), c.CreatedAtMs)
	if err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "upsert think card", err)
	}
	return nil
}

func (db *DB) GetThinkCard(ctx context.Context, workspaceID, cardID string) (*model.ThinkCard, error) {
	row := db.sqldb.QueryRowContext(ctx, thinkCardSelectSQL+" WHERE workspace = ? AND id = ?", workspaceID, cardID)
	return scanThinkCard(row)
}

func (db *DB) ListThinkCards(ctx context.Context, workspaceID, branch, graphDoc string) ([]*model.ThinkCard, error) {
	rows, err := db.sqldb.QueryContext(ctx,
		thinkCardSelectSQL+" WHERE workspace = ? AND branch = ? AND graph_doc = ? ORDER BY created_at_ms ASC", workspaceID, branch, graphDoc)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "list think cards", err)
	}
	defer rows.Close()

	var out []*model.ThinkCard
	for rows.Next() {
		c, err := scanThinkCardRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const thinkCardSelectSQL = `SELECT workspace, id, branch, graph_doc, type, title, text, status, tags_json, meta_json, created_at_ms FROM think_cards`

func scanThinkCard(row *sql.Row) (*model.ThinkCard, error)     { return scanThinkCardGeneric(row) }
func scanThinkCardRows(rows *sql.Rows) (*model.ThinkCard, error) { return scanThinkCardGeneric(rows) }

func scanThinkCardGeneric(s rowScanner) (*model.ThinkCard, error) {
	var c model.ThinkCard
	var tags string
	var metaJSON sql.NullString
	if err := s.Scan(&c.Workspace, &c.ID, &c.Branch, &c.GraphDoc, &c.Type, &c.Title, &c.Text, &c.Status, &tags, &metaJSON, &c.CreatedAtMs); err != nil {
		if err == sql.ErrNoRows {
			return nil, storeerr.New(storeerr.UnknownID, "think card not found")
		}
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "scan think card", err)
	}
	_ = json.Unmarshal([]byte(tags), &c.Tags)
	c.MetaJSON = metaJSON.String
	return &c, nil
}

func (db *DB) AddThinkEdge(ctx context.Context, e *model.ThinkEdge) error {
	_, err := db.sqldb.ExecContext(ctx,
		"INSERT OR IGNORE INTO think_edges(workspace, from_id, to_id, kind, created_at_ms) VALUES (?, ?, ?, ?, ?)",
		e.Workspace, e.FromID, e.ToID, e.Kind, e.CreatedAtMs)
	if err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "add think edge", err)
	}
	return nil
}

func (db *DB) ListThinkEdges(ctx context.Context, workspaceID, cardID string) ([]*model.ThinkEdge, error) {
	rows, err := db.sqldb.QueryContext(ctx,
		`SELECT workspace, from_id, to_id, kind, created_at_ms FROM think_edges
		 WHERE workspace = ? AND (from_id = ? OR to_id = ?) ORDER BY created_at_ms ASC`, workspaceID, cardID, cardID)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "list think edges", err)
	}
	defer rows.Close()

	var out []*model.ThinkEdge
	for rows.Next() {
		var e model.ThinkEdge
		if err := rows.Scan(&e.Workspace, &e.FromID, &e.ToID, &e.Kind, &e.CreatedAtMs); err != nil {
			return nil, storeerr.Wrap(storeerr.StoreErrorCode, "scan think edge", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
