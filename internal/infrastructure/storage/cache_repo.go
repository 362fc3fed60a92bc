package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jbctechsolutions/tempo/internal/application/ports"
	"github.com/jbctechsolutions/tempo/internal/domain/entity"
)

// CacheSnapshotRepository implements ports.CacheSnapshotPort using SQLite.
type CacheSnapshotRepository struct {
	db *sql.DB
}

// NewCacheSnapshotRepository creates a new CacheSnapshotRepository.
func NewCacheSnapshotRepository(db *sql.DB) *CacheSnapshotRepository {
	return &CacheSnapshotRepository{db: db}
}

// SaveEntity inserts or replaces one cache entry.
func (r *CacheSnapshotRepository) SaveEntity(ctx context.Context, rec ports.CachedRecord) error {
	confirmed, err := encodeFields(rec.Confirmed)
	if err != nil {
		return err
	}
	overlay, err := encodeFields(rec.Overlay)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO cache_entities (entity_type, entity_id, confirmed, overlay, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			confirmed = excluded.confirmed,
			overlay = excluded.overlay,
			version = excluded.version,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		string(rec.Ref.Type),
		rec.Ref.ID,
		confirmed,
		overlay,
		int64(rec.Version),
		formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save cache entity %s: %w", rec.Ref, err)
	}
	return nil
}

// DeleteEntity removes one cache entry.
func (r *CacheSnapshotRepository) DeleteEntity(ctx context.Context, ref entity.Ref) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM cache_entities WHERE entity_type = ? AND entity_id = ?`,
		string(ref.Type), ref.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete cache entity %s: %w", ref, err)
	}
	return nil
}

// LoadEntities returns every persisted cache entry.
func (r *CacheSnapshotRepository) LoadEntities(ctx context.Context) ([]ports.CachedRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT entity_type, entity_id, confirmed, overlay, version, updated_at
		FROM cache_entities
		ORDER BY entity_type, entity_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache entities: %w", err)
	}
	defer rows.Close()

	var records []ports.CachedRecord
	for rows.Next() {
		var (
			rec                ports.CachedRecord
			entityType         string
			confirmed, overlay sql.NullString
			version            int64
			updatedAt          string
		)
		if err := rows.Scan(&entityType, &rec.Ref.ID, &confirmed, &overlay, &version, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cache entity: %w", err)
		}
		rec.Ref.Type = entity.Type(entityType)
		rec.Version = entity.Version(version)
		rec.UpdatedAt, _ = parseTime(updatedAt)

		if rec.Confirmed, err = decodeFields(confirmed); err != nil {
			return nil, fmt.Errorf("cache entity %s: %w", rec.Ref, err)
		}
		if rec.Overlay, err = decodeFields(overlay); err != nil {
			return nil, fmt.Errorf("cache entity %s: %w", rec.Ref, err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cache entities: %w", err)
	}
	return records, nil
}

// Ensure CacheSnapshotRepository implements CacheSnapshotPort.
var _ ports.CacheSnapshotPort = (*CacheSnapshotRepository)(nil)
