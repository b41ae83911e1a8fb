package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

//go:embed scripts/initdb.sql
var schemaFS embed.FS

const schemaVersion = 1

// ErrSchemaMismatch means existing tables lack columns the chunk store
// writes. initdb.sql only creates missing tables, so such tables need a
// manual migration.
var ErrSchemaMismatch = errors.New("chunk store schema mismatch")

// storeColumns lists, per table, the columns the client reads or writes.
var storeColumns = map[string][]string{
	"documents":       {"id", "source", "content_type", "status", "created_at", "updated_at"},
	"document_chunks": {"id", "document_id", "position", "text", "start_offset", "end_offset", "token_count", "embedding"},
}

// EnsureSchema applies scripts/initdb.sql when the recorded version is
// behind or a store column is missing, then checks the columns again.
func EnsureSchema(ctx context.Context, db *sql.DB, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	version, err := recordedVersion(ctx, db)
	if err != nil {
		return err
	}
	have, err := existingColumns(ctx, db)
	if err != nil {
		return err
	}
	missing := missingColumns(have)
	if version >= schemaVersion && len(missing) == 0 {
		log.Debug("chunk store schema up to date", zap.Int("version", version))
		return nil
	}

	log.Info("applying chunk store schema",
		zap.Int("from_version", version),
		zap.Int("to_version", schemaVersion),
		zap.Strings("missing_columns", missing),
	)
	if err := applySchema(ctx, db); err != nil {
		return err
	}

	if have, err = existingColumns(ctx, db); err != nil {
		return err
	}
	if missing := missingColumns(have); len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrSchemaMismatch, strings.Join(missing, ", "))
	}
	return nil
}

// recordedVersion is the highest applied version, 0 before the first run.
func recordedVersion(ctx context.Context, db *sql.DB) (int, error) {
	var present bool
	if err := db.QueryRowContext(ctx, `SELECT to_regclass('contexta_meta') IS NOT NULL`).Scan(&present); err != nil {
		return 0, fmt.Errorf("meta table check: %w", err)
	}
	if !present {
		return 0, nil
	}
	var version int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM contexta_meta`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// existingColumns returns the store tables' columns as "table.column".
func existingColumns(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	tables := make([]string, 0, len(storeColumns))
	for t := range storeColumns {
		tables = append(tables, t)
	}
	rows, err := db.QueryContext(ctx, `
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = ANY($1)`, tables)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	have := make(map[string]bool)
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		have[table+"."+column] = true
	}
	return have, rows.Err()
}

// missingColumns lists the store columns absent from have, sorted.
func missingColumns(have map[string]bool) []string {
	var missing []string
	for table, cols := range storeColumns {
		for _, c := range cols {
			if name := table + "." + c; !have[name] {
				missing = append(missing, name)
			}
		}
	}
	sort.Strings(missing)
	return missing
}

func applySchema(ctx context.Context, db *sql.DB) error {
	script, err := schemaFS.ReadFile("scripts/initdb.sql")
	if err != nil {
		return fmt.Errorf("read initdb.sql: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("apply schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}
