// Package testutil provides testing helpers shared across tempo packages.
package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/jbctechsolutions/tempo/internal/adapters/sync/sqlite"
)

// OpenDB opens a migrated SQLite database in a temporary directory. The
// connection is closed when the test completes.
func OpenDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := sqlite.NewConnection(filepath.Join(t.TempDir(), sqlite.DatabaseFile))
	if err != nil {
		t.Fatalf("NewConnection() error = %v", err)
	}
	if err := conn.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	db, err := conn.DB()
	if err != nil {
		t.Fatalf("DB() error = %v", err)
	}
	return db
}
