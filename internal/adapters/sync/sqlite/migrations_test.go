package sqlite

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	db.SetMaxOpenConns(1)
	return db
}

func TestApplyMigrations(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := applyMigrations(context.Background(), db); err != nil {
		t.Fatalf("applyMigrations() error = %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM migrations").Scan(&count); err != nil {
		t.Fatalf("QueryRow() error = %v", err)
	}
	if count != len(migrations) {
		t.Errorf("migrations count = %d, want %d", count, len(migrations))
	}
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := applyMigrations(context.Background(), db); err != nil {
		t.Fatalf("first applyMigrations() error = %v", err)
	}
	if err := applyMigrations(context.Background(), db); err != nil {
		t.Fatalf("second applyMigrations() error = %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM migrations").Scan(&count); err != nil {
		t.Fatalf("QueryRow() error = %v", err)
	}
	if count != len(migrations) {
		t.Errorf("migrations count = %d after idempotent run, want %d", count, len(migrations))
	}
}

func TestApplyMigrations_FailedStepRollsBack(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	ctx := context.Background()

	if err := applyMigrations(ctx, db); err != nil {
		t.Fatalf("applyMigrations() error = %v", err)
	}
	latest := migrations[len(migrations)-1].version

	broken := migration{version: latest + 1, name: "broken", sql: "CREATE TABLE extra (id INTEGER); SELECT * FROM missing_table;"}
	if err := applyMigration(ctx, db, broken); err == nil {
		t.Fatal("applyMigration() should fail on a bad statement")
	}

	v, err := schemaVersion(ctx, db)
	if err != nil {
		t.Fatalf("schemaVersion() error = %v", err)
	}
	if v != latest {
		t.Errorf("schema version = %d, want %d", v, latest)
	}
	var name string
	if err := db.QueryRow("SELECT name FROM sqlite_master WHERE name = 'extra'").Scan(&name); err != sql.ErrNoRows {
		t.Errorf("table from failed migration survived: %v", err)
	}
}

func TestMigrations_Tables(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := applyMigrations(context.Background(), db); err != nil {
		t.Fatalf("applyMigrations() error = %v", err)
	}

	tables := []string{"mutation_log", "cache_entities", "conflicts", "sync_state", "cycle_records"}
	for _, table := range tables {
		t.Run(table, func(t *testing.T) {
			var name string
			err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
			if err != nil {
				t.Fatalf("table %s missing: %v", table, err)
			}
		})
	}
}

func TestMutationLogTable_SequenceKeepsGrowing(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := applyMigrations(context.Background(), db); err != nil {
		t.Fatalf("applyMigrations() error = %v", err)
	}

	insert := "INSERT INTO mutation_log (kind, entity_type, entity_id, body) VALUES ('put', 'task', 't1', '{}')"
	if _, err := db.Exec(insert); err != nil {
		t.Fatalf("insert error = %v", err)
	}
	if _, err := db.Exec("DELETE FROM mutation_log"); err != nil {
		t.Fatalf("delete error = %v", err)
	}
	res, err := db.Exec(insert)
	if err != nil {
		t.Fatalf("insert error = %v", err)
	}
	seq, _ := res.LastInsertId()
	if seq != 2 {
		t.Errorf("seq after delete = %d, want 2", seq)
	}
}

func TestCacheEntitiesTable_CompositeKey(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := applyMigrations(context.Background(), db); err != nil {
		t.Fatalf("applyMigrations() error = %v", err)
	}

	insert := "INSERT INTO cache_entities (entity_type, entity_id, confirmed, version, updated_at) VALUES (?, ?, '{}', 1, CURRENT_TIMESTAMP)"
	if _, err := db.Exec(insert, "task", "a"); err != nil {
		t.Fatalf("first insert error = %v", err)
	}
	if _, err := db.Exec(insert, "session", "a"); err != nil {
		t.Fatalf("same id, other type error = %v", err)
	}
	if _, err := db.Exec(insert, "task", "a"); err == nil {
		t.Error("duplicate key insert should fail")
	}
}
