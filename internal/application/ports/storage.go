// Package ports defines the application layer port interfaces following hexagonal architecture.
// Ports are abstractions that allow the sync engine core to interact with external systems
// (adapters) without knowing their implementation details.
package ports

import (
	"context"
	"time"

	"github.com/jbctechsolutions/tempo/internal/domain/conflict"
	"github.com/jbctechsolutions/tempo/internal/domain/entity"
	"github.com/jbctechsolutions/tempo/internal/domain/metrics"
	"github.com/jbctechsolutions/tempo/internal/domain/mutation"
)

// LogKind is the kind of a durable mutation log record.
type LogKind string

const (
	LogPut    LogKind = "put"    // Full snapshot of a live queue entry
	LogDelete LogKind = "delete" // Queue entry removed
)

// LogRecord is one append to the durable mutation log.
type LogRecord struct {
	Kind     LogKind
	Ref      entity.Ref
	Mutation *mutation.Mutation // Nil for LogDelete
}

// LogEntry is a record read back from the durable log during replay. Err is
// set when the record could not be decoded; the caller skips such entries.
type LogEntry struct {
	Seq      int64
	Kind     LogKind
	Ref      entity.Ref
	Mutation *mutation.Mutation
	Err      error
}

// MutationLogPort is the durable, append-only log behind the mutation queue.
type MutationLogPort interface {
	// Append writes a record at the end of the log.
	Append(ctx context.Context, rec LogRecord) error

	// Replay returns every record in append order. Undecodable records are
	// returned with Err set instead of failing the whole replay.
	Replay(ctx context.Context) ([]LogEntry, error)

	// Compact atomically replaces the log with one put record per live entry.
	Compact(ctx context.Context, live []*mutation.Mutation) error
}

// CachedRecord is the persisted form of a local cache entry.
type CachedRecord struct {
	Ref       entity.Ref
	Confirmed entity.Fields  // Last remotely confirmed fields
	Overlay   entity.Fields  // Optimistic local fields not yet confirmed
	Version   entity.Version // Last applied remote version
	UpdatedAt time.Time
}

// CacheSnapshotPort persists the local cache so it survives restarts.
type CacheSnapshotPort interface {
	// SaveEntity inserts or replaces one cache entry.
	SaveEntity(ctx context.Context, rec CachedRecord) error

	// DeleteEntity removes one cache entry. Deleting a missing entry is not an error.
	DeleteEntity(ctx context.Context, ref entity.Ref) error

	// LoadEntities returns every persisted cache entry.
	LoadEntities(ctx context.Context) ([]CachedRecord, error)
}

// ConflictStoragePort persists conflicts so unresolved ones survive restarts.
type ConflictStoragePort interface {
	// SaveConflict inserts or replaces a conflict by ID.
	SaveConflict(ctx context.Context, c *conflict.Conflict) error

	// ListConflicts returns conflicts with the given status ordered by
	// detection time. An empty status returns every conflict.
	ListConflicts(ctx context.Context, status conflict.Status) ([]*conflict.Conflict, error)
}

// SyncStatePort stores small pieces of engine state.
type SyncStatePort interface {
	// LastSyncTime returns the time of the last successful cycle, or nil.
	LastSyncTime(ctx context.Context) (*time.Time, error)

	// SetLastSyncTime records the time of a successful cycle.
	SetLastSyncTime(ctx context.Context, t time.Time) error
}

// CycleStoragePort defines the interface for storing and retrieving sync cycle history.
type CycleStoragePort interface {
	// SaveCycle persists a cycle record.
	SaveCycle(ctx context.Context, rec *metrics.CycleRecord) error

	// GetCycles retrieves cycle records matching the filter, most recent first.
	GetCycles(ctx context.Context, filter metrics.CycleFilter) ([]metrics.CycleRecord, error)

	// GetSummary aggregates cycle records matching the filter.
	GetSummary(ctx context.Context, filter metrics.CycleFilter) (*metrics.CycleSummary, error)
}
