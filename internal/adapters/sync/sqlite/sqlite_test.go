package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAccountPath(t *testing.T) {
	tests := []struct {
		name    string
		dataDir string
		userID  string
		want    string
		wantErr bool
	}{
		{name: "custom data dir", dataDir: "/var/lib/tempo", userID: "alice", want: "/var/lib/tempo/accounts/alice/tempo.db"},
		{name: "empty user", dataDir: "/tmp", userID: "", wantErr: true},
		{name: "path separator", dataDir: "/tmp", userID: "../bob", wantErr: true},
		{name: "dot dot", dataDir: "/tmp", userID: "..", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AccountPath(tt.dataDir, tt.userID)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AccountPath() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("AccountPath() = %q, want %q", got, tt.want)
			}
		})
	}

	t.Run("default data dir", func(t *testing.T) {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			t.Skip("no home directory")
		}
		got, err := AccountPath("", "alice")
		if err != nil {
			t.Fatalf("AccountPath() error = %v", err)
		}
		want := filepath.Join(homeDir, ".tempo", "accounts", "alice", DatabaseFile)
		if got != want {
			t.Errorf("AccountPath() = %q, want %q", got, want)
		}
	})
}

func TestNewConnection(t *testing.T) {
	conn, err := NewConnection("/tmp/test.db")
	if err != nil {
		t.Fatalf("NewConnection() error = %v", err)
	}
	if conn.Path() != "/tmp/test.db" {
		t.Errorf("Path() = %q, want %q", conn.Path(), "/tmp/test.db")
	}

	if _, err := NewConnection(""); err == nil {
		t.Error("NewConnection(\"\") should return error")
	}
}

func TestConnection_OpenClose(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "accounts", "alice", DatabaseFile)

	conn, err := NewConnection(dbPath)
	if err != nil {
		t.Fatalf("NewConnection() error = %v", err)
	}

	if _, err := conn.DB(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("DB() before Open() error = %v, want ErrNotOpen", err)
	}

	t.Run("open creates database and runs migrations", func(t *testing.T) {
		if err := conn.Open(ctx); err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("Open() did not create database file")
		}

		v, err := conn.SchemaVersion(ctx)
		if err != nil {
			t.Fatalf("SchemaVersion() error = %v", err)
		}
		if want := migrations[len(migrations)-1].version; v != want {
			t.Errorf("SchemaVersion() = %d, want %d", v, want)
		}
	})

	t.Run("open on already open connection returns error", func(t *testing.T) {
		if err := conn.Open(ctx); err == nil {
			t.Error("Open() on already open connection should return error")
		}
	})

	t.Run("close closes the connection", func(t *testing.T) {
		if err := conn.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		if _, err := conn.DB(); !errors.Is(err, ErrNotOpen) {
			t.Errorf("DB() after Close() error = %v, want ErrNotOpen", err)
		}
		if _, err := conn.SchemaVersion(ctx); err == nil {
			t.Error("SchemaVersion() after Close() should return error")
		}
	})

	t.Run("close twice is a no-op", func(t *testing.T) {
		if err := conn.Close(); err != nil {
			t.Errorf("second Close() error = %v", err)
		}
	})

	t.Run("reopen keeps existing data", func(t *testing.T) {
		if err := conn.Open(ctx); err != nil {
			t.Fatalf("reopen error = %v", err)
		}
		defer conn.Close()
		db, _ := conn.DB()
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM migrations").Scan(&count); err != nil {
			t.Fatalf("QueryRow() error = %v", err)
		}
		if count != len(migrations) {
			t.Errorf("migrations count = %d after reopen, want %d", count, len(migrations))
		}
	})
}
