// Package sqlite provides the SQLite database that holds a user's durable
// sync state: the mutation log, the cache snapshot, conflicts and cycle
// history.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DatabaseFile is the file name of the per-account database.
const DatabaseFile = "tempo.db"

// dsnOptions keeps writers from failing fast while another process (a CLI
// command next to the daemon) holds the lock.
const dsnOptions = "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate"

// ErrNotOpen is returned when the database is used before Open or after Close.
var ErrNotOpen = errors.New("database not open")

// Connection owns the database of one account.
type Connection struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// AccountPath returns the database path for userID under dataDir. Each
// account gets its own database so switching users starts from an empty
// queue and cache. An empty dataDir means ~/.tempo.
func AccountPath(dataDir, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user ID is required")
	}
	if strings.ContainsAny(userID, `/\`) || userID == "." || userID == ".." {
		return "", fmt.Errorf("invalid user ID %q", userID)
	}
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not determine home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".tempo")
	}
	return filepath.Join(dataDir, "accounts", userID, DatabaseFile), nil
}

// NewConnection creates an unopened connection for path.
func NewConnection(path string) (*Connection, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &Connection{path: path}, nil
}

// Open creates the account directory if needed, opens the database and
// brings its schema up to date.
func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return fmt.Errorf("database already open")
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("could not create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", c.path+dsnOptions)
	if err != nil {
		return fmt.Errorf("could not open database: %w", err)
	}
	// One connection serializes writers inside this process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("could not open %s: %w", c.path, err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("could not migrate %s: %w", c.path, err)
	}

	c.db = db
	return nil
}

// Close closes the database. Closing twice is a no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	if err != nil {
		return fmt.Errorf("could not close database: %w", err)
	}
	return nil
}

// DB returns the open database handle.
func (c *Connection) DB() (*sql.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return nil, ErrNotOpen
	}
	return c.db, nil
}

// Path returns the database file path.
func (c *Connection) Path() string {
	return c.path
}

// SchemaVersion returns the highest applied migration.
func (c *Connection) SchemaVersion(ctx context.Context) (int, error) {
	db, err := c.DB()
	if err != nil {
		return 0, err
	}
	return schemaVersion(ctx, db)
}
