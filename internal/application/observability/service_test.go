package observability

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jbctechsolutions/tempo/internal/domain/conflict"
	"github.com/jbctechsolutions/tempo/internal/domain/entity"
	"github.com/jbctechsolutions/tempo/internal/domain/metrics"
	"github.com/jbctechsolutions/tempo/internal/domain/mutation"
	telemetry "github.com/jbctechsolutions/tempo/internal/infrastructure/metrics"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/logging"
)

// mockCycleStorage implements ports.CycleStoragePort for testing.
type mockCycleStorage struct {
	cycles []metrics.CycleRecord
	err    error
}

func (m *mockCycleStorage) SaveCycle(_ context.Context, rec *metrics.CycleRecord) error {
	if m.err != nil {
		return m.err
	}
	m.cycles = append(m.cycles, *rec)
	return nil
}

func (m *mockCycleStorage) GetCycles(_ context.Context, _ metrics.CycleFilter) ([]metrics.CycleRecord, error) {
	return m.cycles, nil
}

func (m *mockCycleStorage) GetSummary(_ context.Context, _ metrics.CycleFilter) (*metrics.CycleSummary, error) {
	return nil, nil
}

func testMutation(t *testing.T) *mutation.Mutation {
	t.Helper()
	ref := entity.Ref{Type: entity.TypeTask, ID: "t1"}
	m, err := mutation.New(ref, mutation.OpUpdate, entity.Fields{"title": "x"}, 10, entity.Fields{"title": "a"}, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return m
}

func TestNewService(t *testing.T) {
	service := NewService(ServiceConfig{})

	if service == nil {
		t.Fatal("expected non-nil service")
	}
	if service.logger == nil {
		t.Error("expected non-nil logger")
	}
	if service.tracer == nil {
		t.Error("expected non-nil tracer")
	}
	if service.Metrics() != nil {
		t.Error("expected metrics to be optional")
	}
}

func TestCycleObserver_Complete(t *testing.T) {
	ctx := context.Background()
	logBuf := &bytes.Buffer{}
	logger := logging.New(logging.Config{
		Level:  logging.LevelDebug,
		Format: logging.FormatText,
		Output: logBuf,
	})
	store := &mockCycleStorage{}
	prom := telemetry.New()

	clock := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	service := NewService(ServiceConfig{
		Logger:       logger,
		Metrics:      prom,
		CycleStorage: store,
		Now: func() time.Time {
			clock = clock.Add(50 * time.Millisecond)
			return clock
		},
	})

	cctx, co := service.StartCycle(ctx, metrics.TriggerForce, 3)
	if logging.CycleID(cctx) != co.ID() {
		t.Errorf("expected cycle id in context")
	}
	if logging.CorrelationID(cctx) == "" {
		t.Error("expected correlation id in context")
	}

	m := testMutation(t)
	ectx, eo := co.StartEntity(cctx, m, "memory")
	eo.Applied(ectx, conflict.KindFastPath, 42)

	_, eo = co.StartEntity(cctx, m, "memory")
	eo.Applied(ectx, conflict.KindAutoMerge, 43)

	_, eo = co.StartEntity(cctx, m, "memory")
	eo.Conflicted(ectx, &conflict.Conflict{ID: "c1", ConflictingFields: []string{"title"}})

	rec := co.Complete(cctx)

	if rec.Outcome != metrics.OutcomeCompleted {
		t.Errorf("got outcome %s, want completed", rec.Outcome)
	}
	if rec.Attempted != 3 || rec.Applied != 1 || rec.Merged != 1 || rec.Conflicted != 1 {
		t.Errorf("unexpected counts: %+v", rec)
	}
	if rec.Duration <= 0 {
		t.Error("expected positive duration")
	}
	if len(store.cycles) != 1 || store.cycles[0].ID != co.ID() {
		t.Fatalf("expected one persisted cycle, got %d", len(store.cycles))
	}

	if got := testutil.ToFloat64(prom.CyclesTotal.WithLabelValues("force", "completed")); got != 1 {
		t.Errorf("got %v completed cycles, want 1", got)
	}
	if got := testutil.ToFloat64(prom.ConflictsTotal); got != 1 {
		t.Errorf("got %v conflicts, want 1", got)
	}

	out := logBuf.String()
	for _, want := range []string{"sync cycle started", "conflict detected", "sync cycle completed"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected log to contain %q", want)
		}
	}
}

func TestCycleObserver_Noop(t *testing.T) {
	service := NewService(ServiceConfig{Logger: logging.Discard()})
	ctx, co := service.StartCycle(context.Background(), metrics.TriggerInterval, 0)

	rec := co.Complete(ctx)
	if rec.Outcome != metrics.OutcomeNoop {
		t.Errorf("got outcome %s, want noop", rec.Outcome)
	}
}

func TestCycleObserver_Abort(t *testing.T) {
	store := &mockCycleStorage{}
	service := NewService(ServiceConfig{Logger: logging.Discard(), CycleStorage: store})

	ctx, co := service.StartCycle(context.Background(), metrics.TriggerRetry, 2)
	m := testMutation(t)
	_, eo := co.StartEntity(ctx, m, "http")
	eo.Rejected(ctx, m.ID, errors.New("invalid"))
	_, eo = co.StartEntity(ctx, m, "http")
	eo.Failed(errors.New("timeout"))

	rec := co.Abort(ctx, errors.New("timeout"), time.Second)

	if rec.Outcome != metrics.OutcomeAborted {
		t.Errorf("got outcome %s, want aborted", rec.Outcome)
	}
	if rec.ErrorMessage != "timeout" {
		t.Errorf("got error %q, want timeout", rec.ErrorMessage)
	}
	if rec.Rejected != 1 {
		t.Errorf("got %d rejected, want 1", rec.Rejected)
	}
	if len(store.cycles) != 1 {
		t.Errorf("expected aborted cycle to be persisted")
	}
}

func TestCycleObserver_SaveFailureIsLogged(t *testing.T) {
	logBuf := &bytes.Buffer{}
	logger := logging.New(logging.Config{Level: logging.LevelInfo, Format: logging.FormatText, Output: logBuf})
	store := &mockCycleStorage{err: errors.New("disk full")}
	service := NewService(ServiceConfig{Logger: logger, CycleStorage: store})

	ctx, co := service.StartCycle(context.Background(), metrics.TriggerForce, 0)
	co.Complete(ctx)

	if !strings.Contains(logBuf.String(), "failed to save cycle record") {
		t.Error("expected save failure to be logged")
	}
}

func TestStartResolution(t *testing.T) {
	prom := telemetry.New()
	service := NewService(ServiceConfig{Logger: logging.Discard(), Metrics: prom})

	_, done := service.StartResolution(context.Background(), "c1", conflict.ChoiceLocal)
	done(nil)
	_, done = service.StartResolution(context.Background(), "c1", conflict.ChoiceRemote)
	done(errors.New("superseded"))

	if got := testutil.ToFloat64(prom.ResolutionsTotal.WithLabelValues("local", "ok")); got != 1 {
		t.Errorf("got %v, want 1", got)
	}
	if got := testutil.ToFloat64(prom.ResolutionsTotal.WithLabelValues("remote", "error")); got != 1 {
		t.Errorf("got %v, want 1", got)
	}
}
