package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"
)

//go:embed scripts/initdb.sql
var bootstrapFS embed.FS

// schemaVersion is the run-store layout this binary reads and writes. Each
// applied layout leaves a row in extracta_meta. A binary that finds its own
// version there skips the script; an older or empty database gets
// scripts/initdb.sql replayed and the new version stamped. Upgrades are
// therefore additive: the script must only add tables, columns and indexes
// with IF NOT EXISTS, never rewrite what an earlier version created.
const schemaVersion = 1

// EnsureBootstrapped brings the run-store schema up to schemaVersion.
func EnsureBootstrapped(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	current, err := schemaCurrent(ctx, db)
	if err != nil {
		return err
	}
	if current {
		return nil
	}
	return applySchema(ctx, db)
}

func schemaCurrent(ctx context.Context, db *sql.DB) (bool, error) {
	var hasMeta bool
	if err := db.QueryRowContext(ctx, `SELECT to_regclass('extracta_meta') IS NOT NULL`).Scan(&hasMeta); err != nil {
		return false, fmt.Errorf("check schema meta table: %w", err)
	}
	if !hasMeta {
		return false, nil
	}
	var stamped bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM extracta_meta WHERE version = $1)`, schemaVersion).Scan(&stamped)
	if err != nil {
		return false, fmt.Errorf("check schema version %d: %w", schemaVersion, err)
	}
	return stamped, nil
}

// applySchema replays the script and stamps schemaVersion in one transaction,
// so a failed upgrade leaves the previous stamp in place.
func applySchema(ctx context.Context, db *sql.DB) error {
	script, err := bootstrapFS.ReadFile("scripts/initdb.sql")
	if err != nil {
		return fmt.Errorf("read initdb.sql: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO extracta_meta (version) VALUES ($1) ON CONFLICT (version) DO NOTHING`, schemaVersion); err != nil {
		return fmt.Errorf("stamp schema version %d: %w", schemaVersion, err)
	}
	return tx.Commit()
}
