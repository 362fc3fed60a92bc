// Package observability ties structured logging, tracing, Prometheus metrics
// and persisted cycle history into the sync pipeline.
package observability

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jbctechsolutions/tempo/internal/application/ports"
	"github.com/jbctechsolutions/tempo/internal/domain/conflict"
	"github.com/jbctechsolutions/tempo/internal/domain/metrics"
	"github.com/jbctechsolutions/tempo/internal/domain/mutation"
	telemetry "github.com/jbctechsolutions/tempo/internal/infrastructure/metrics"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/logging"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/tracing"
)

// Service provides observability for sync cycles and conflict resolution.
type Service struct {
	logger  *logging.Logger
	tracer  *tracing.Tracer
	metrics *telemetry.Metrics
	cycles  ports.CycleStoragePort
	now     func() time.Time
}

// ServiceConfig holds configuration for the observability service. Every
// field is optional.
type ServiceConfig struct {
	Logger       *logging.Logger
	Tracer       *tracing.Tracer
	Metrics      *telemetry.Metrics
	CycleStorage ports.CycleStoragePort
	Now          func() time.Time
}

// NewService creates a new observability service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = tracing.Noop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logger:  logger,
		tracer:  tracer,
		metrics: cfg.Metrics,
		cycles:  cfg.CycleStorage,
		now:     now,
	}
}

// Logger returns the service logger.
func (s *Service) Logger() *logging.Logger {
	return s.logger
}

// Metrics returns the Prometheus collectors, or nil when metrics are off.
func (s *Service) Metrics() *telemetry.Metrics {
	return s.metrics
}

// CycleObserver observes a single sync cycle. It is not safe for
// concurrent use; a cycle runs on one goroutine.
type CycleObserver struct {
	service *Service
	record  metrics.CycleRecord
	span    *tracing.CycleSpan
}

// StartCycle begins observing a sync cycle and returns a context carrying
// the cycle and correlation IDs.
func (s *Service) StartCycle(ctx context.Context, trigger metrics.Trigger, pending int) (context.Context, *CycleObserver) {
	cycleID := uuid.New().String()
	correlationID := logging.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = uuid.New().String()
		ctx = logging.WithCorrelationID(ctx, correlationID)
	}
	ctx = logging.WithCycleID(ctx, cycleID)

	logging.LogCycleStart(ctx, s.logger, string(trigger), pending)
	ctx, span := s.tracer.StartCycleSpan(ctx, cycleID, string(trigger), pending)

	return ctx, &CycleObserver{
		service: s,
		span:    span,
		record: metrics.CycleRecord{
			ID:            cycleID,
			Trigger:       trigger,
			StartedAt:     s.now(),
			CorrelationID: correlationID,
		},
	}
}

// ID returns the cycle ID.
func (co *CycleObserver) ID() string {
	return co.record.ID
}

// EntityObserver observes the sync of one queued mutation.
type EntityObserver struct {
	cycle *CycleObserver
	span  *tracing.EntitySpan
}

// StartEntity begins observing the sync of m against backend.
func (co *CycleObserver) StartEntity(ctx context.Context, m *mutation.Mutation, backend string) (context.Context, *EntityObserver) {
	co.record.Attempted++
	ctx = logging.WithEntity(ctx, string(m.Ref.Type), m.Ref.ID)
	ctx, span := co.service.tracer.StartEntitySpan(ctx, string(m.Ref.Type), m.Ref.ID, string(m.Op), backend)
	return ctx, &EntityObserver{cycle: co, span: span}
}

// Applied records a mutation confirmed through the fast path or a merge.
func (eo *EntityObserver) Applied(ctx context.Context, kind conflict.Kind, version int64) {
	if kind == conflict.KindAutoMerge {
		eo.cycle.record.Merged++
	} else {
		eo.cycle.record.Applied++
	}
	s := eo.cycle.service
	logging.LogMutationApplied(ctx, s.logger, string(kind), version)
	if s.metrics != nil {
		s.metrics.RecordApplied(string(kind))
	}
	eo.span.End(string(kind), version)
}

// Conflicted records a mutation moved to the conflict queue.
func (eo *EntityObserver) Conflicted(ctx context.Context, c *conflict.Conflict) {
	eo.cycle.record.Conflicted++
	s := eo.cycle.service
	logging.LogConflictDetected(ctx, s.logger, c.ID, c.ConflictingFields)
	if s.metrics != nil {
		s.metrics.ConflictsTotal.Inc()
	}
	eo.span.Conflict(c.ID, c.ConflictingFields)
	eo.span.End(string(conflict.KindConflicting), 0)
}

// Rejected records a mutation the remote store refused.
func (eo *EntityObserver) Rejected(ctx context.Context, mutationID string, err error) {
	eo.cycle.record.Rejected++
	s := eo.cycle.service
	logging.LogMutationRejected(ctx, s.logger, mutationID, err)
	if s.metrics != nil {
		s.metrics.RejectionsTotal.Inc()
	}
	eo.span.EndWithError(err)
}

// Deferred records a mutation left for a later cycle.
func (eo *EntityObserver) Deferred(ctx context.Context, reason string) {
	eo.cycle.record.Deferred++
	eo.cycle.service.logger.DebugContext(ctx, "mutation deferred", "reason", reason)
	eo.span.End("deferred", 0)
}

// Failed records a transient failure that aborts the cycle.
func (eo *EntityObserver) Failed(err error) {
	eo.span.EndWithError(err)
}

// Complete ends the cycle successfully and persists its record.
func (co *CycleObserver) Complete(ctx context.Context) metrics.CycleRecord {
	outcome := metrics.OutcomeCompleted
	if co.record.Attempted == 0 {
		outcome = metrics.OutcomeNoop
	}
	co.finish(ctx, outcome, nil)

	r := co.record
	logging.LogCycleComplete(ctx, co.service.logger, r.Synced(), r.Conflicted, r.Rejected, r.Duration)
	co.span.SetCounts(r.Applied, r.Merged, r.Conflicted, r.Rejected, r.Deferred)
	co.span.End(string(outcome))
	return r
}

// Abort ends the cycle after a transient failure and persists its record.
func (co *CycleObserver) Abort(ctx context.Context, err error, retryIn time.Duration) metrics.CycleRecord {
	co.finish(ctx, metrics.OutcomeAborted, err)

	r := co.record
	logging.LogCycleAborted(ctx, co.service.logger, err, retryIn)
	co.span.SetCounts(r.Applied, r.Merged, r.Conflicted, r.Rejected, r.Deferred)
	co.span.EndWithError(err)
	return r
}

func (co *CycleObserver) finish(ctx context.Context, outcome metrics.Outcome, err error) {
	s := co.service
	co.record.Outcome = outcome
	co.record.CompletedAt = s.now()
	co.record.Duration = co.record.CompletedAt.Sub(co.record.StartedAt)
	if err != nil {
		co.record.ErrorMessage = err.Error()
	}

	if s.metrics != nil {
		s.metrics.RecordCycle(string(co.record.Trigger), string(outcome), co.record.Duration)
	}
	if s.cycles != nil {
		rec := co.record
		if saveErr := s.cycles.SaveCycle(context.WithoutCancel(ctx), &rec); saveErr != nil {
			s.logger.ErrorContext(ctx, "failed to save cycle record",
				"error", saveErr,
				"cycle_id", co.record.ID,
			)
		}
	}
}

// StartResolution begins observing a manual conflict resolution. The
// returned function ends the observation with the resolution result.
func (s *Service) StartResolution(ctx context.Context, conflictID string, choice conflict.Choice) (context.Context, func(error)) {
	ctx, span := s.tracer.StartResolveSpan(ctx, conflictID, string(choice))
	return ctx, func(err error) {
		if err == nil {
			logging.LogConflictResolved(ctx, s.logger, conflictID, string(choice))
		} else {
			s.logger.WarnContext(ctx, "conflict resolution failed",
				"conflict_id", conflictID,
				"choice", string(choice),
				"error", err.Error(),
			)
		}
		if s.metrics != nil {
			s.metrics.RecordResolution(string(choice), err)
		}
		tracing.EndSpan(span, err)
	}
}
