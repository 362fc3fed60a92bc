package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jbctechsolutions/tempo/internal/application/ports"
	"github.com/jbctechsolutions/tempo/internal/domain/entity"
	"github.com/jbctechsolutions/tempo/internal/domain/mutation"
)

// mutationRecord is the JSON body of a put record.
type mutationRecord struct {
	ID          string         `json:"id"`
	Op          mutation.Op    `json:"op"`
	Payload     entity.Fields  `json:"payload"`
	BaseVersion entity.Version `json:"base_version"`
	BaseFields  entity.Fields  `json:"base_fields,omitempty"`
	EnqueuedAt  time.Time      `json:"enqueued_at"`
	Seq         int64          `json:"seq"`
	Revision    int            `json:"revision"`
	RetryCount  int            `json:"retry_count"`
}

func encodeMutation(m *mutation.Mutation) (string, error) {
	b, err := json.Marshal(mutationRecord{
		ID:          m.ID,
		Op:          m.Op,
		Payload:     m.Payload,
		BaseVersion: m.BaseVersion,
		BaseFields:  m.BaseFields,
		EnqueuedAt:  m.EnqueuedAt,
		Seq:         m.Seq,
		Revision:    m.Revision,
		RetryCount:  m.RetryCount,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode mutation: %w", err)
	}
	return string(b), nil
}

func decodeMutation(ref entity.Ref, body string) (*mutation.Mutation, error) {
	var rec mutationRecord
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode mutation: %w", err)
	}
	if rec.ID == "" || !rec.Op.IsValid() || len(rec.Payload) == 0 {
		return nil, fmt.Errorf("incomplete mutation record for %s", ref)
	}
	return &mutation.Mutation{
		ID:          rec.ID,
		Ref:         ref,
		Op:          rec.Op,
		Payload:     rec.Payload,
		BaseVersion: rec.BaseVersion,
		BaseFields:  rec.BaseFields,
		EnqueuedAt:  rec.EnqueuedAt,
		Seq:         rec.Seq,
		Revision:    rec.Revision,
		RetryCount:  rec.RetryCount,
	}, nil
}

// MutationLogRepository implements ports.MutationLogPort using SQLite.
type MutationLogRepository struct {
	db *sql.DB
}

// NewMutationLogRepository creates a new MutationLogRepository.
func NewMutationLogRepository(db *sql.DB) *MutationLogRepository {
	return &MutationLogRepository{db: db}
}

// Append writes a record at the end of the log.
func (r *MutationLogRepository) Append(ctx context.Context, rec ports.LogRecord) error {
	var body sql.NullString
	if rec.Kind == ports.LogPut {
		if rec.Mutation == nil {
			return fmt.Errorf("put record for %s has no mutation", rec.Ref)
		}
		s, err := encodeMutation(rec.Mutation)
		if err != nil {
			return err
		}
		body = sql.NullString{String: s, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO mutation_log (kind, entity_type, entity_id, body) VALUES (?, ?, ?, ?)`,
		string(rec.Kind), string(rec.Ref.Type), rec.Ref.ID, body,
	)
	if err != nil {
		return fmt.Errorf("failed to append mutation log record: %w", err)
	}
	return nil
}

// Replay returns every record in append order. Records whose body cannot be
// decoded are returned with Err set.
func (r *MutationLogRepository) Replay(ctx context.Context) ([]ports.LogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, kind, entity_type, entity_id, body FROM mutation_log ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query mutation log: %w", err)
	}
	defer rows.Close()

	var entries []ports.LogEntry
	for rows.Next() {
		var (
			entry      ports.LogEntry
			kind       string
			entityType string
			body       sql.NullString
		)
		if err := rows.Scan(&entry.Seq, &kind, &entityType, &entry.Ref.ID, &body); err != nil {
			return nil, fmt.Errorf("failed to scan mutation log record: %w", err)
		}
		entry.Kind = ports.LogKind(kind)
		entry.Ref.Type = entity.Type(entityType)

		switch {
		case entry.Kind == ports.LogDelete:
		case entry.Kind != ports.LogPut:
			entry.Err = fmt.Errorf("unknown record kind %q", kind)
		case !body.Valid:
			entry.Err = fmt.Errorf("put record %d has no body", entry.Seq)
		default:
			entry.Mutation, entry.Err = decodeMutation(entry.Ref, body.String)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mutation log: %w", err)
	}
	return entries, nil
}

// Compact atomically replaces the log with one put record per live entry.
func (r *MutationLogRepository) Compact(ctx context.Context, live []*mutation.Mutation) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM mutation_log`); err != nil {
		return fmt.Errorf("failed to clear mutation log: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO mutation_log (kind, entity_type, entity_id, body) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare compaction insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range live {
		body, err := encodeMutation(m)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, string(ports.LogPut), string(m.Ref.Type), m.Ref.ID, body); err != nil {
			return fmt.Errorf("failed to write compacted record for %s: %w", m.Ref, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit compaction: %w", err)
	}
	return nil
}

// Ensure MutationLogRepository implements MutationLogPort.
var _ ports.MutationLogPort = (*MutationLogRepository)(nil)
