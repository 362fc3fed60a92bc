package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jbctechsolutions/tempo/internal/application/ports"
	"github.com/jbctechsolutions/tempo/internal/domain/metrics"
)

// CycleRepository implements ports.CycleStoragePort using SQLite.
type CycleRepository struct {
	db *sql.DB
}

// NewCycleRepository creates a new CycleRepository.
func NewCycleRepository(db *sql.DB) *CycleRepository {
	return &CycleRepository{db: db}
}

// SaveCycle persists a cycle record to the database.
func (r *CycleRepository) SaveCycle(ctx context.Context, rec *metrics.CycleRecord) error {
	if rec == nil {
		return fmt.Errorf("cycle record is nil")
	}

	query := `
		INSERT OR REPLACE INTO cycle_records (
			id, cycle_trigger, outcome, attempted, applied, merged, conflicted,
			rejected, deferred, duration_ns, started_at, completed_at,
			error_message, correlation_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		string(rec.Trigger),
		string(rec.Outcome),
		rec.Attempted,
		rec.Applied,
		rec.Merged,
		rec.Conflicted,
		rec.Rejected,
		rec.Deferred,
		rec.Duration.Nanoseconds(),
		formatTime(rec.StartedAt),
		formatTime(rec.CompletedAt),
		rec.ErrorMessage,
		rec.CorrelationID,
	)
	if err != nil {
		return fmt.Errorf("failed to save cycle record: %w", err)
	}

	return nil
}

// where builds the shared WHERE clause for a filter.
func (r *CycleRepository) where(filter metrics.CycleFilter) (string, []any) {
	clause := " WHERE 1=1"
	args := make([]any, 0, 3)

	if filter.Outcome != "" {
		clause += " AND outcome = ?"
		args = append(args, string(filter.Outcome))
	}
	if !filter.StartDate.IsZero() {
		clause += " AND started_at >= ?"
		args = append(args, formatTime(filter.StartDate))
	}
	if !filter.EndDate.IsZero() {
		clause += " AND started_at <= ?"
		args = append(args, formatTime(filter.EndDate))
	}
	return clause, args
}

// GetCycles retrieves cycle records matching the filter, most recent first.
func (r *CycleRepository) GetCycles(ctx context.Context, filter metrics.CycleFilter) ([]metrics.CycleRecord, error) {
	query := `
		SELECT id, cycle_trigger, outcome, attempted, applied, merged, conflicted,
			rejected, deferred, duration_ns, started_at, completed_at,
			error_message, correlation_id
		FROM cycle_records
	`
	clause, args := r.where(filter)
	query += clause + " ORDER BY started_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	var cycles []metrics.CycleRecord
	for rows.Next() {
		var rec metrics.CycleRecord
		var trigger, outcome string
		var durationNs int64
		var startedAt, completedAt string
		var errorMessage, correlationID sql.NullString

		err := rows.Scan(
			&rec.ID,
			&trigger,
			&outcome,
			&rec.Attempted,
			&rec.Applied,
			&rec.Merged,
			&rec.Conflicted,
			&rec.Rejected,
			&rec.Deferred,
			&durationNs,
			&startedAt,
			&completedAt,
			&errorMessage,
			&correlationID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cycle record: %w", err)
		}

		rec.Trigger = metrics.Trigger(trigger)
		rec.Outcome = metrics.Outcome(outcome)
		rec.Duration = time.Duration(durationNs)
		rec.StartedAt, _ = parseTime(startedAt)
		rec.CompletedAt, _ = parseTime(completedAt)
		rec.ErrorMessage = errorMessage.String
		rec.CorrelationID = correlationID.String

		cycles = append(cycles, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cycle records: %w", err)
	}

	return cycles, nil
}

// GetSummary aggregates the cycles matching the filter. The period defaults
// to the last 24 hours.
func (r *CycleRepository) GetSummary(ctx context.Context, filter metrics.CycleFilter) (*metrics.CycleSummary, error) {
	period := metrics.TimePeriod{Start: filter.StartDate, End: filter.EndDate}
	if period.End.IsZero() {
		period.End = time.Now()
	}
	if period.Start.IsZero() {
		period.Start = period.End.Add(-24 * time.Hour)
	}
	filter.StartDate, filter.EndDate = period.Start, period.End

	summary := metrics.NewCycleSummary(period)
	clause, args := r.where(filter)

	totalsQuery := `
		SELECT
			COUNT(*) as total,
			COALESCE(SUM(applied + merged), 0) as synced,
			COALESCE(SUM(conflicted), 0) as conflicted,
			COALESCE(SUM(rejected), 0) as rejected,
			COALESCE(AVG(duration_ns), 0) as avg_duration
		FROM cycle_records
	` + clause

	var avgDurationNs float64
	err := r.db.QueryRowContext(ctx, totalsQuery, args...).Scan(
		&summary.TotalCycles,
		&summary.Synced,
		&summary.Conflicted,
		&summary.Rejected,
		&avgDurationNs,
	)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query cycle totals: %w", err)
	}
	summary.AvgDuration = time.Duration(avgDurationNs)

	outcomeQuery := `SELECT outcome, COUNT(*) FROM cycle_records` + clause + ` GROUP BY outcome`
	rows, err := r.db.QueryContext(ctx, outcomeQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles by outcome: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		summary.ByOutcome[metrics.Outcome(outcome)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcome counts: %w", err)
	}

	if summary.TotalCycles > 0 {
		summary.AbortRate = float64(summary.ByOutcome[metrics.OutcomeAborted]) / float64(summary.TotalCycles)
	}

	abortedQuery := `SELECT MAX(started_at) FROM cycle_records` + clause + ` AND outcome = ?`
	var lastAborted sql.NullString
	if err := r.db.QueryRowContext(ctx, abortedQuery, append(args, string(metrics.OutcomeAborted))...).Scan(&lastAborted); err != nil {
		return nil, fmt.Errorf("failed to query last aborted cycle: %w", err)
	}
	if lastAborted.Valid {
		if t, err := parseTime(lastAborted.String); err == nil {
			summary.LastAborted = &t
		}
	}

	return summary, nil
}

// Ensure CycleRepository implements CycleStoragePort.
var _ ports.CycleStoragePort = (*CycleRepository)(nil)
