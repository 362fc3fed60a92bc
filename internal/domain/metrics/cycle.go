// Package metrics provides domain types for sync cycle history and observability.
package metrics

import (
	"time"
)

// Outcome is how a sync cycle ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed" // Every queued mutation was handled
	OutcomeNoop      Outcome = "noop"      // Nothing was queued
	OutcomeAborted   Outcome = "aborted"   // A transient error stopped the cycle
	OutcomeSkipped   Outcome = "skipped"   // The cycle did not start, e.g. offline
)

// Trigger is what started a sync cycle.
type Trigger string

const (
	TriggerOnline   Trigger = "online"   // Connectivity regained
	TriggerInterval Trigger = "interval" // Periodic timer
	TriggerForce    Trigger = "force"    // Explicit ForceSync call
	TriggerRetry    Trigger = "retry"    // Backoff retry after an aborted cycle
	TriggerStartup  Trigger = "startup"  // Engine start
)

// CycleRecord represents a single sync cycle.
type CycleRecord struct {
	ID            string        // Unique cycle ID
	Trigger       Trigger       // What started the cycle
	Outcome       Outcome       // How the cycle ended
	Attempted     int           // Mutations looked at
	Applied       int           // Mutations applied on the fast path
	Merged        int           // Mutations applied by three-way merge
	Conflicted    int           // Mutations moved to the conflict queue
	Rejected      int           // Mutations refused by the remote store
	Deferred      int           // Mutations left for a later cycle
	Duration      time.Duration // Total cycle duration
	StartedAt     time.Time     // When the cycle started
	CompletedAt   time.Time     // When the cycle finished
	ErrorMessage  string        // Abort reason, if any
	CorrelationID string        // Correlation ID for tracing
}

// Synced returns the number of mutations confirmed by the remote store.
func (r *CycleRecord) Synced() int {
	return r.Applied + r.Merged
}

// TimePeriod represents a time period for metrics aggregation.
type TimePeriod struct {
	Start time.Time
	End   time.Time
}

// Duration returns the duration of the time period.
func (p TimePeriod) Duration() time.Duration {
	return p.End.Sub(p.Start)
}

// CycleSummary aggregates cycle records over a period.
type CycleSummary struct {
	Period      TimePeriod        // Time period for this summary
	TotalCycles int64             // Cycles run
	ByOutcome   map[Outcome]int64 // Cycle count per outcome
	Synced      int64             // Mutations confirmed
	Conflicted  int64             // Conflicts raised
	Rejected    int64             // Mutations rejected
	AvgDuration time.Duration     // Average cycle duration
	AbortRate   float64           // Aborted cycles / total (0.0 to 1.0)
	LastAborted *time.Time        // Start of the most recent aborted cycle
}

// NewCycleSummary creates a new initialized CycleSummary.
func NewCycleSummary(period TimePeriod) *CycleSummary {
	return &CycleSummary{
		Period:    period,
		ByOutcome: make(map[Outcome]int64),
	}
}

// Add folds a record into the summary.
func (s *CycleSummary) Add(r CycleRecord) {
	total := time.Duration(s.TotalCycles)*s.AvgDuration + r.Duration
	s.TotalCycles++
	s.AvgDuration = total / time.Duration(s.TotalCycles)
	s.ByOutcome[r.Outcome]++
	s.Synced += int64(r.Synced())
	s.Conflicted += int64(r.Conflicted)
	s.Rejected += int64(r.Rejected)
	s.AbortRate = float64(s.ByOutcome[OutcomeAborted]) / float64(s.TotalCycles)
	if r.Outcome == OutcomeAborted && (s.LastAborted == nil || r.StartedAt.After(*s.LastAborted)) {
		started := r.StartedAt
		s.LastAborted = &started
	}
}

// CycleFilter defines criteria for querying cycle history.
type CycleFilter struct {
	Outcome   Outcome   // Filter by outcome (empty for all)
	StartDate time.Time // Include cycles from this date (zero for no lower bound)
	EndDate   time.Time // Include cycles until this date (zero for no upper bound)
	Limit     int       // Maximum number of records (0 for no limit)
	Offset    int       // Offset for pagination
}

// DefaultFilter returns a CycleFilter with sensible defaults.
func DefaultFilter() CycleFilter {
	return CycleFilter{
		StartDate: time.Now().Add(-24 * time.Hour),
		EndDate:   time.Now(),
		Limit:     100,
	}
}

// WithPeriod sets the time period for the filter.
func (f CycleFilter) WithPeriod(start, end time.Time) CycleFilter {
	f.StartDate = start
	f.EndDate = end
	return f
}

// WithOutcome sets the outcome filter.
func (f CycleFilter) WithOutcome(o Outcome) CycleFilter {
	f.Outcome = o
	return f
}

// Last24Hours returns a filter for the last 24 hours.
func Last24Hours() CycleFilter {
	now := time.Now()
	return CycleFilter{
		StartDate: now.Add(-24 * time.Hour),
		EndDate:   now,
	}
}

// Last7Days returns a filter for the last 7 days.
func Last7Days() CycleFilter {
	now := time.Now()
	return CycleFilter{
		StartDate: now.Add(-7 * 24 * time.Hour),
		EndDate:   now,
	}
}
