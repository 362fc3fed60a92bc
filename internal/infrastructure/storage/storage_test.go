package storage

import (
	"context"
	"database/sql"
	"reflect"
	"testing"
	"time"

	"github.com/jbctechsolutions/tempo/internal/application/ports"
	"github.com/jbctechsolutions/tempo/internal/domain/conflict"
	"github.com/jbctechsolutions/tempo/internal/domain/entity"
	"github.com/jbctechsolutions/tempo/internal/domain/metrics"
	"github.com/jbctechsolutions/tempo/internal/domain/mutation"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/testutil"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	return testutil.OpenDB(t)
}

func testMutation(t *testing.T, id string, seq int64) *mutation.Mutation {
	t.Helper()
	m := testutil.NewMutation(t, testutil.TaskRef(id),
		entity.Fields{"title": "Write report", "pomodoros": float64(2)},
		1700000000000,
		entity.Fields{"title": "Draft"},
	)
	m.Seq = seq
	return m
}

func TestMutationLogRepository_AppendReplay(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMutationLogRepository(db)
	ctx := context.Background()

	m := testMutation(t, "t1", 1)
	if err := repo.Append(ctx, ports.LogRecord{Kind: ports.LogPut, Ref: m.Ref, Mutation: m}); err != nil {
		t.Fatalf("Append(put) error = %v", err)
	}
	if err := repo.Append(ctx, ports.LogRecord{Kind: ports.LogDelete, Ref: m.Ref}); err != nil {
		t.Fatalf("Append(delete) error = %v", err)
	}

	entries, err := repo.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Replay() returned %d entries, want 2", len(entries))
	}

	put := entries[0]
	if put.Err != nil {
		t.Fatalf("put entry error = %v", put.Err)
	}
	if put.Kind != ports.LogPut || put.Ref != m.Ref {
		t.Errorf("put entry = %+v", put)
	}
	if !reflect.DeepEqual(put.Mutation, m) {
		t.Errorf("replayed mutation = %+v, want %+v", put.Mutation, m)
	}

	del := entries[1]
	if del.Kind != ports.LogDelete || del.Mutation != nil || del.Err != nil {
		t.Errorf("delete entry = %+v", del)
	}
	if del.Seq <= put.Seq {
		t.Errorf("seq not increasing: %d then %d", put.Seq, del.Seq)
	}
}

func TestMutationLogRepository_PutWithoutMutation(t *testing.T) {
	repo := NewMutationLogRepository(setupTestDB(t))

	err := repo.Append(context.Background(), ports.LogRecord{Kind: ports.LogPut, Ref: entity.Ref{Type: entity.TypeTask, ID: "t1"}})
	if err == nil {
		t.Error("expected error for put without mutation")
	}
}

func TestMutationLogRepository_ReplaySkipsCorruptRecords(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMutationLogRepository(db)
	ctx := context.Background()

	rows := []struct {
		kind string
		body any
	}{
		{"put", "{not json"},
		{"put", nil},
		{"mystery", "{}"},
		{"put", `{"id":"m1","op":"update","payload":{}}`},
	}
	for _, r := range rows {
		if _, err := db.Exec(`INSERT INTO mutation_log (kind, entity_type, entity_id, body) VALUES (?, 'task', 't1', ?)`, r.kind, r.body); err != nil {
			t.Fatalf("insert error = %v", err)
		}
	}

	entries, err := repo.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if len(entries) != len(rows) {
		t.Fatalf("Replay() returned %d entries, want %d", len(entries), len(rows))
	}
	for i, e := range entries {
		if e.Err == nil {
			t.Errorf("entry %d: expected decode error", i)
		}
	}
}

func TestMutationLogRepository_Compact(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMutationLogRepository(db)
	ctx := context.Background()

	first := testMutation(t, "t1", 1)
	second := testMutation(t, "t2", 2)
	for _, m := range []*mutation.Mutation{first, second} {
		if err := repo.Append(ctx, ports.LogRecord{Kind: ports.LogPut, Ref: m.Ref, Mutation: m}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := repo.Append(ctx, ports.LogRecord{Kind: ports.LogDelete, Ref: first.Ref}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if err := repo.Compact(ctx, []*mutation.Mutation{second}); err != nil {
		t.Fatalf("Compact() error = %v", err)
	}

	entries, err := repo.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries after compaction = %d, want 1", len(entries))
	}
	if entries[0].Ref != second.Ref || entries[0].Mutation.ID != second.ID {
		t.Errorf("compacted entry = %+v", entries[0])
	}
}

func TestCacheSnapshotRepository(t *testing.T) {
	repo := NewCacheSnapshotRepository(setupTestDB(t))
	ctx := context.Background()

	updated := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	confirmedOnly := ports.CachedRecord{
		Ref:       testutil.TaskRef("t1"),
		Confirmed: entity.Fields{"title": "Plan", "done": false},
		Version:   1700000000000,
		UpdatedAt: updated,
	}
	provisional := ports.CachedRecord{
		Ref:       testutil.SessionRef("s1"),
		Overlay:   entity.Fields{"minutes": float64(25)},
		UpdatedAt: updated,
	}

	for _, rec := range []ports.CachedRecord{confirmedOnly, provisional} {
		if err := repo.SaveEntity(ctx, rec); err != nil {
			t.Fatalf("SaveEntity(%s) error = %v", rec.Ref, err)
		}
	}

	confirmedOnly.Overlay = entity.Fields{"done": true}
	if err := repo.SaveEntity(ctx, confirmedOnly); err != nil {
		t.Fatalf("SaveEntity() upsert error = %v", err)
	}

	records, err := repo.LoadEntities(ctx)
	if err != nil {
		t.Fatalf("LoadEntities() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("LoadEntities() returned %d records, want 2", len(records))
	}

	// Ordered by type then ID.
	if !reflect.DeepEqual(records[0], provisional) {
		t.Errorf("records[0] = %+v, want %+v", records[0], provisional)
	}
	if !reflect.DeepEqual(records[1], confirmedOnly) {
		t.Errorf("records[1] = %+v, want %+v", records[1], confirmedOnly)
	}

	if err := repo.DeleteEntity(ctx, provisional.Ref); err != nil {
		t.Fatalf("DeleteEntity() error = %v", err)
	}
	if err := repo.DeleteEntity(ctx, provisional.Ref); err != nil {
		t.Fatalf("DeleteEntity() on missing entry error = %v", err)
	}
	records, _ = repo.LoadEntities(ctx)
	if len(records) != 1 {
		t.Errorf("records after delete = %d, want 1", len(records))
	}
}

func TestConflictRepository(t *testing.T) {
	repo := NewConflictRepository(setupTestDB(t))
	ctx := context.Background()

	older := testutil.NewConflict("c1", testutil.TaskRef("t1"))
	base := older.DetectedAt
	newer := older.Clone()
	newer.ID = "c2"
	newer.Ref.ID = "t2"
	newer.DetectedAt = base.Add(time.Millisecond)

	for _, c := range []*conflict.Conflict{newer, older} {
		if err := repo.SaveConflict(ctx, c); err != nil {
			t.Fatalf("SaveConflict(%s) error = %v", c.ID, err)
		}
	}

	pending, err := repo.ListConflicts(ctx, conflict.StatusPending)
	if err != nil {
		t.Fatalf("ListConflicts() error = %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "c1" || pending[1].ID != "c2" {
		t.Fatalf("pending conflicts not ordered by detection time: %+v", pending)
	}
	if !reflect.DeepEqual(pending[0], older) {
		t.Errorf("round trip = %+v, want %+v", pending[0], older)
	}

	resolved := older.Clone()
	resolved.Resolve(conflict.ChoiceLocal, base.Add(time.Minute))
	if err := repo.SaveConflict(ctx, resolved); err != nil {
		t.Fatalf("SaveConflict(resolved) error = %v", err)
	}

	pending, _ = repo.ListConflicts(ctx, conflict.StatusPending)
	if len(pending) != 1 || pending[0].ID != "c2" {
		t.Errorf("pending after resolve = %+v", pending)
	}

	all, _ := repo.ListConflicts(ctx, "")
	if len(all) != 2 {
		t.Fatalf("all conflicts = %d, want 2", len(all))
	}
	if all[0].ResolvedAt == nil || !all[0].ResolvedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("ResolvedAt = %v", all[0].ResolvedAt)
	}
	if all[0].ResolutionChoice != conflict.ChoiceLocal {
		t.Errorf("ResolutionChoice = %q", all[0].ResolutionChoice)
	}

	if err := repo.SaveConflict(ctx, nil); err == nil {
		t.Error("expected error for nil conflict")
	}
}

func TestSyncStateRepository(t *testing.T) {
	repo := NewSyncStateRepository(setupTestDB(t))
	ctx := context.Background()

	got, err := repo.LastSyncTime(ctx)
	if err != nil {
		t.Fatalf("LastSyncTime() error = %v", err)
	}
	if got != nil {
		t.Errorf("LastSyncTime() = %v before any sync, want nil", got)
	}

	first := time.Date(2026, 3, 1, 9, 0, 0, 123456789, time.UTC)
	second := first.Add(time.Hour)
	for _, ts := range []time.Time{first, second} {
		if err := repo.SetLastSyncTime(ctx, ts); err != nil {
			t.Fatalf("SetLastSyncTime() error = %v", err)
		}
	}

	got, err = repo.LastSyncTime(ctx)
	if err != nil {
		t.Fatalf("LastSyncTime() error = %v", err)
	}
	if got == nil || !got.Equal(second) {
		t.Errorf("LastSyncTime() = %v, want %v", got, second)
	}
}

func TestCycleRepository_SaveAndQuery(t *testing.T) {
	repo := NewCycleRepository(setupTestDB(t))
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	records := []metrics.CycleRecord{
		{ID: "c1", Trigger: metrics.TriggerStartup, Outcome: metrics.OutcomeCompleted, Attempted: 3, Applied: 2, Merged: 1, Duration: 200 * time.Millisecond, StartedAt: now.Add(-3 * time.Hour), CompletedAt: now.Add(-3 * time.Hour)},
		{ID: "c2", Trigger: metrics.TriggerInterval, Outcome: metrics.OutcomeAborted, Attempted: 1, Duration: 100 * time.Millisecond, StartedAt: now.Add(-2 * time.Hour), CompletedAt: now.Add(-2 * time.Hour), ErrorMessage: "connection reset"},
		{ID: "c3", Trigger: metrics.TriggerRetry, Outcome: metrics.OutcomeCompleted, Attempted: 2, Applied: 1, Conflicted: 1, Duration: 300 * time.Millisecond, StartedAt: now.Add(-time.Hour), CompletedAt: now.Add(-time.Hour), CorrelationID: "corr-1"},
		{ID: "old", Trigger: metrics.TriggerForce, Outcome: metrics.OutcomeNoop, StartedAt: now.Add(-72 * time.Hour), CompletedAt: now.Add(-72 * time.Hour)},
	}
	for i := range records {
		if err := repo.SaveCycle(ctx, &records[i]); err != nil {
			t.Fatalf("SaveCycle(%s) error = %v", records[i].ID, err)
		}
	}

	t.Run("most recent first", func(t *testing.T) {
		got, err := repo.GetCycles(ctx, metrics.CycleFilter{})
		if err != nil {
			t.Fatalf("GetCycles() error = %v", err)
		}
		if len(got) != 4 || got[0].ID != "c3" || got[3].ID != "old" {
			t.Fatalf("GetCycles() order = %v", ids(got))
		}
		if !reflect.DeepEqual(got[0], records[2]) {
			t.Errorf("round trip = %+v, want %+v", got[0], records[2])
		}
	})

	t.Run("filter by outcome", func(t *testing.T) {
		got, err := repo.GetCycles(ctx, metrics.CycleFilter{}.WithOutcome(metrics.OutcomeAborted))
		if err != nil {
			t.Fatalf("GetCycles() error = %v", err)
		}
		if len(got) != 1 || got[0].ErrorMessage != "connection reset" {
			t.Errorf("aborted cycles = %+v", got)
		}
	})

	t.Run("limit and offset", func(t *testing.T) {
		got, err := repo.GetCycles(ctx, metrics.CycleFilter{Limit: 2, Offset: 1})
		if err != nil {
			t.Fatalf("GetCycles() error = %v", err)
		}
		if len(got) != 2 || got[0].ID != "c2" {
			t.Errorf("page = %v", ids(got))
		}
	})

	t.Run("summary over last day", func(t *testing.T) {
		summary, err := repo.GetSummary(ctx, metrics.Last24Hours())
		if err != nil {
			t.Fatalf("GetSummary() error = %v", err)
		}
		if summary.TotalCycles != 3 {
			t.Errorf("TotalCycles = %d, want 3", summary.TotalCycles)
		}
		if summary.Synced != 4 {
			t.Errorf("Synced = %d, want 4", summary.Synced)
		}
		if summary.Conflicted != 1 {
			t.Errorf("Conflicted = %d, want 1", summary.Conflicted)
		}
		if summary.ByOutcome[metrics.OutcomeCompleted] != 2 || summary.ByOutcome[metrics.OutcomeAborted] != 1 {
			t.Errorf("ByOutcome = %v", summary.ByOutcome)
		}
		if summary.AvgDuration != 200*time.Millisecond {
			t.Errorf("AvgDuration = %v, want 200ms", summary.AvgDuration)
		}
		if summary.LastAborted == nil || !summary.LastAborted.Equal(records[1].StartedAt) {
			t.Errorf("LastAborted = %v, want %v", summary.LastAborted, records[1].StartedAt)
		}
	})

	t.Run("nil record", func(t *testing.T) {
		if err := repo.SaveCycle(ctx, nil); err == nil {
			t.Error("expected error for nil record")
		}
	})
}

func ids(records []metrics.CycleRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
