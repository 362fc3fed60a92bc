package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one schema step, applied at most once.
type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{1, "create_mutation_log_table", createMutationLogTable},
	{2, "create_cache_entities_table", createCacheEntitiesTable},
	{3, "create_conflicts_table", createConflictsTable},
	{4, "create_sync_state_table", createSyncStateTable},
	{5, "create_cycle_records_table", createCycleRecordsTable},
	{6, "create_indices", createIndices},
}

// applyMigrations brings db up to the latest schema. Each migration runs
// in its own transaction together with its bookkeeping row.
func applyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("could not create migrations table: %w", err)
	}

	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
		return err
	}
	return tx.Commit()
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT MAX(version) FROM migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("could not read schema version: %w", err)
	}
	return int(v.Int64), nil
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// Migration SQL statements

// mutation_log is append-only between compactions. body holds the JSON
// encoded mutation for put records and is NULL for deletes.
const createMutationLogTable = `
CREATE TABLE mutation_log (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	body TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const createCacheEntitiesTable = `
CREATE TABLE cache_entities (
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	confirmed TEXT,
	overlay TEXT,
	version INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (entity_type, entity_id)
);
`

const createConflictsTable = `
CREATE TABLE conflicts (
	id TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	mutation_id TEXT,
	local_version TEXT,
	remote_version TEXT,
	remote_stamp INTEGER NOT NULL DEFAULT 0,
	base_version INTEGER NOT NULL DEFAULT 0,
	conflicting_fields TEXT,
	detected_at TIMESTAMP NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	resolved_at TIMESTAMP,
	resolution_choice TEXT
);
`

const createSyncStateTable = `
CREATE TABLE sync_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const createCycleRecordsTable = `
CREATE TABLE cycle_records (
	id TEXT PRIMARY KEY,
	cycle_trigger TEXT NOT NULL,
	outcome TEXT NOT NULL,
	attempted INTEGER DEFAULT 0,
	applied INTEGER DEFAULT 0,
	merged INTEGER DEFAULT 0,
	conflicted INTEGER DEFAULT 0,
	rejected INTEGER DEFAULT 0,
	deferred INTEGER DEFAULT 0,
	duration_ns INTEGER DEFAULT 0,
	started_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP NOT NULL,
	error_message TEXT,
	correlation_id TEXT
);
`

const createIndices = `
CREATE INDEX IF NOT EXISTS idx_mutation_log_entity ON mutation_log(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_cache_entities_type ON cache_entities(entity_type);
CREATE INDEX IF NOT EXISTS idx_conflicts_status ON conflicts(status);
CREATE INDEX IF NOT EXISTS idx_conflicts_detected ON conflicts(detected_at);
CREATE INDEX IF NOT EXISTS idx_conflicts_entity ON conflicts(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_cycle_records_started ON cycle_records(started_at);
CREATE INDEX IF NOT EXISTS idx_cycle_records_outcome ON cycle_records(outcome);
`
