package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jbctechsolutions/tempo/internal/application/ports"
)

const keyLastSyncTime = "last_sync_time"

// SyncStateRepository implements ports.SyncStatePort using SQLite.
type SyncStateRepository struct {
	db *sql.DB
}

// NewSyncStateRepository creates a new SyncStateRepository.
func NewSyncStateRepository(db *sql.DB) *SyncStateRepository {
	return &SyncStateRepository{db: db}
}

// LastSyncTime returns the time of the last successful cycle, or nil if no
// cycle has completed yet.
func (r *SyncStateRepository) LastSyncTime(ctx context.Context) (*time.Time, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, keyLastSyncTime).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last sync time: %w", err)
	}

	t, err := parseTime(value)
	if err != nil {
		return nil, fmt.Errorf("failed to parse last sync time %q: %w", value, err)
	}
	return &t, nil
}

// SetLastSyncTime records the time of a successful cycle.
func (r *SyncStateRepository) SetLastSyncTime(ctx context.Context, t time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, keyLastSyncTime, formatTime(t))
	if err != nil {
		return fmt.Errorf("failed to save last sync time: %w", err)
	}
	return nil
}

// Ensure SyncStateRepository implements SyncStatePort.
var _ ports.SyncStatePort = (*SyncStateRepository)(nil)
