package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jbctechsolutions/tempo/internal/application/ports"
	"github.com/jbctechsolutions/tempo/internal/domain/conflict"
	"github.com/jbctechsolutions/tempo/internal/domain/entity"
)

// ConflictRepository implements ports.ConflictStoragePort using SQLite.
type ConflictRepository struct {
	db *sql.DB
}

// NewConflictRepository creates a new ConflictRepository.
func NewConflictRepository(db *sql.DB) *ConflictRepository {
	return &ConflictRepository{db: db}
}

// SaveConflict inserts or replaces a conflict by ID.
func (r *ConflictRepository) SaveConflict(ctx context.Context, c *conflict.Conflict) error {
	if c == nil {
		return fmt.Errorf("conflict is nil")
	}

	local, err := encodeFields(c.LocalVersion)
	if err != nil {
		return err
	}
	remote, err := encodeFields(c.RemoteVersion)
	if err != nil {
		return err
	}
	fields, err := json.Marshal(c.ConflictingFields)
	if err != nil {
		return fmt.Errorf("failed to encode conflicting fields: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO conflicts (
			id, entity_type, entity_id, mutation_id, local_version, remote_version,
			remote_stamp, base_version, conflicting_fields, detected_at, status,
			resolved_at, resolution_choice
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		c.ID,
		string(c.Ref.Type),
		c.Ref.ID,
		c.MutationID,
		local,
		remote,
		int64(c.RemoteStamp),
		int64(c.BaseVersion),
		string(fields),
		formatTime(c.DetectedAt),
		string(c.Status),
		nullTime(c.ResolvedAt),
		string(c.ResolutionChoice),
	)
	if err != nil {
		return fmt.Errorf("failed to save conflict %s: %w", c.ID, err)
	}
	return nil
}

// ListConflicts returns conflicts with the given status ordered by detection
// time. An empty status returns every conflict.
func (r *ConflictRepository) ListConflicts(ctx context.Context, status conflict.Status) ([]*conflict.Conflict, error) {
	query := `
		SELECT id, entity_type, entity_id, mutation_id, local_version, remote_version,
			remote_stamp, base_version, conflicting_fields, detected_at, status,
			resolved_at, resolution_choice
		FROM conflicts
	`
	args := make([]any, 0, 1)
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY detected_at, id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*conflict.Conflict
	for rows.Next() {
		var (
			c                  conflict.Conflict
			entityType         string
			mutationID, choice sql.NullString
			local, remote      sql.NullString
			remoteStamp, base  int64
			fields             sql.NullString
			detectedAt, st     string
			resolvedAt         sql.NullString
		)
		err := rows.Scan(
			&c.ID, &entityType, &c.Ref.ID, &mutationID, &local, &remote,
			&remoteStamp, &base, &fields, &detectedAt, &st,
			&resolvedAt, &choice,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}

		c.Ref.Type = entity.Type(entityType)
		c.MutationID = mutationID.String
		c.RemoteStamp = entity.Version(remoteStamp)
		c.BaseVersion = entity.Version(base)
		c.Status = conflict.Status(st)
		c.ResolutionChoice = conflict.Choice(choice.String)
		c.DetectedAt, _ = parseTime(detectedAt)
		if resolvedAt.Valid {
			if t, err := parseTime(resolvedAt.String); err == nil {
				c.ResolvedAt = &t
			}
		}
		if c.LocalVersion, err = decodeFields(local); err != nil {
			return nil, fmt.Errorf("conflict %s: %w", c.ID, err)
		}
		if c.RemoteVersion, err = decodeFields(remote); err != nil {
			return nil, fmt.Errorf("conflict %s: %w", c.ID, err)
		}
		if fields.Valid && fields.String != "" {
			if err := json.Unmarshal([]byte(fields.String), &c.ConflictingFields); err != nil {
				return nil, fmt.Errorf("conflict %s: failed to decode conflicting fields: %w", c.ID, err)
			}
		}
		conflicts = append(conflicts, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}
	return conflicts, nil
}

// Ensure ConflictRepository implements ConflictStoragePort.
var _ ports.ConflictStoragePort = (*ConflictRepository)(nil)
