// Package sqlite is the single persistence implementation of internal/storage.Store,
// backed by an embedded SQLite database (github.com/ncruces/go-sqlite3, a pure-Go
// driver with no cgo dependency).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/mindloom/mindloom/internal/storeerr"
)

// DB wraps the underlying *sql.DB with the schema-signature guard applied at Open.
type DB struct {
	sqldb *sql.DB
}

// Open creates (if absent) or opens the database at path, enforcing busy_timeout and
// foreign_keys pragmas, then runs the bootstrap migration and schema-signature check.
// A non-empty file whose schema_meta.signature does not match schemaSignature fails
// closed with RESET_REQUIRED rather than attempting an implicit migration.
func Open(ctx context.Context, path string, nowMs int64) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.StoreErrorCode, "open database", err)
	}
	sqldb.SetMaxOpenConns(1)

	db := &DB{sqldb: sqldb}
	if err := db.bootstrap(ctx, nowMs); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) Close() error { return db.sqldb.Close() }

func (db *DB) bootstrap(ctx context.Context, nowMs int64) error {
	if _, err := db.sqldb.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "acquire exclusive lock for bootstrap", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = db.sqldb.ExecContext(ctx, "ROLLBACK")
		}
	}()

	var tableCount, metaCount int
	if err := db.sqldb.QueryRowContext(ctx, "SELECT COUNT(*), COALESCE(SUM(name = 'schema_meta'), 0) FROM sqlite_master WHERE type = 'table'").Scan(&tableCount, &metaCount); err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "inspect existing schema", err)
	}
	if tableCount > 0 && metaCount == 0 {
		return storeerr.New(storeerr.ResetRequired, "database file holds tables but no schema_meta signature; back up the file and reinitialize").
			WithRecovery("move the database file aside and run init again to start a fresh store")
	}

	if _, err := db.sqldb.ExecContext(ctx, schemaDDL); err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "apply schema", err)
	}

	var signature string
	err := db.sqldb.QueryRowContext(ctx, "SELECT signature FROM schema_meta WHERE id = 1").Scan(&signature)
	switch {
	case err == sql.ErrNoRows:
		if _, err := db.sqldb.ExecContext(ctx, "INSERT INTO schema_meta (id, signature, created_at_ms) VALUES (1, ?, ?)", schemaSignature, nowMs); err != nil {
			return storeerr.Wrap(storeerr.StoreErrorCode, "record schema signature", err)
		}
	case err != nil:
		return storeerr.Wrap(storeerr.StoreErrorCode, "read schema signature", err)
	case signature != schemaSignature:
		return storeerr.Newf(storeerr.ResetRequired,
			"database schema signature %q does not match expected %q; back up the file and reinitialize", signature, schemaSignature).
			WithRecovery("move the database file aside and run init again to start a fresh store")
	}

	if _, err := db.sqldb.ExecContext(ctx, "COMMIT"); err != nil {
		return storeerr.Wrap(storeerr.StoreErrorCode, "commit bootstrap", err)
	}
	committed = true
	return nil
}

// mapConflict wraps any non-nil insert error as storeerr.Conflict ("<entity> already
// exists") without inspecting it, so callers never see the raw SQLite error text; it
// does not tell a constraint violation apart from other failures.
func mapConflict(entity string, err error) error {
	if err == nil {
		return nil
	}
	return storeerr.Wrap(storeerr.Conflict, fmt.Sprintf("%s already exists", entity), err)
}
