package mutation

import (
	"errors"
	"testing"
	"time"

	"github.com/jbctechsolutions/tempo/internal/domain/entity"
	domainErrors "github.com/jbctechsolutions/tempo/internal/domain/errors"
)

var testRef = entity.Ref{Type: entity.TypeTask, ID: "t-1"}

func TestNew(t *testing.T) {
	now := time.Now()

	m, err := New(testRef, OpUpdate, entity.Fields{"title": "x"}, 10, entity.Fields{"title": "a"}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ID == "" || m.Revision != 1 || !m.EnqueuedAt.Equal(now) {
		t.Errorf("unexpected mutation: %+v", m)
	}
	if m.BaseVersion != 10 {
		t.Errorf("got base %d, want 10", m.BaseVersion)
	}

	create, err := New(testRef, OpCreate, entity.Fields{"title": "x"}, 10, entity.Fields{"a": 1}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if create.BaseVersion != 0 || create.BaseFields != nil {
		t.Error("create must not carry a base")
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		ref     entity.Ref
		op      Op
		payload entity.Fields
		wantErr error
	}{
		{"empty payload", testRef, OpUpdate, entity.Fields{}, domainErrors.ErrEmptyPayload},
		{"missing id", entity.Ref{Type: entity.TypeTask}, OpUpdate, entity.Fields{"a": 1}, domainErrors.ErrEntityIDRequired},
		{"bad op", testRef, Op("delete"), entity.Fields{"a": 1}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.ref, tt.op, tt.payload, 0, nil, time.Now())
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCoalesce(t *testing.T) {
	now := time.Now()
	m, _ := New(testRef, OpCreate, entity.Fields{"title": "a", "notes": "n"}, 0, nil, now)

	m.Coalesce(entity.Fields{"title": "b"})
	m.Coalesce(entity.Fields{"done": true})

	want := entity.Fields{"title": "b", "notes": "n", "done": true}
	if !m.Payload.Equal(want) {
		t.Errorf("got %v, want %v", m.Payload, want)
	}
	if m.Op != OpCreate {
		t.Errorf("coalesced create changed op to %s", m.Op)
	}
	if m.Revision != 3 {
		t.Errorf("got revision %d, want 3", m.Revision)
	}
	if !m.EnqueuedAt.Equal(now) {
		t.Error("coalescing moved the enqueue time")
	}
}

func TestRebase(t *testing.T) {
	m, _ := New(testRef, OpCreate, entity.Fields{"title": "a", "notes": "late"}, 0, nil, time.Now())
	m.Rebase(42, entity.Fields{"title": "a"})

	if m.Op != OpUpdate || m.BaseVersion != 42 || m.BaseFields["title"] != "a" {
		t.Errorf("unexpected rebased mutation: %+v", m)
	}
	if !m.Payload.Equal(entity.Fields{"notes": "late"}) {
		t.Errorf("Payload = %v, want only the unconfirmed field", m.Payload)
	}
}

func TestRebase_KeepsFieldsThatStillDiffer(t *testing.T) {
	tests := []struct {
		name      string
		payload   entity.Fields
		confirmed entity.Fields
		want      entity.Fields
	}{
		{"overwritten after send", entity.Fields{"title": "b"}, entity.Fields{"title": "a"}, entity.Fields{"title": "b"}},
		{"numeric forms match", entity.Fields{"pomodoros": 3}, entity.Fields{"pomodoros": float64(3)}, entity.Fields{}},
		{"absent remotely", entity.Fields{"done": true}, entity.Fields{"title": "a"}, entity.Fields{"done": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := New(testRef, OpUpdate, tt.payload, 1, entity.Fields{"title": "z"}, time.Now())
			m.Rebase(2, tt.confirmed)
			if !m.Payload.Equal(tt.want) {
				t.Errorf("Payload = %v, want %v", m.Payload, tt.want)
			}
		})
	}
}

func TestClone(t *testing.T) {
	m, _ := New(testRef, OpUpdate, entity.Fields{"title": "a"}, 1, entity.Fields{"title": "z"}, time.Now())
	cp := m.Clone()
	cp.Payload["title"] = "changed"

	if m.Payload["title"] != "a" {
		t.Error("Clone shared the payload")
	}
	var nilMutation *Mutation
	if nilMutation.Clone() != nil {
		t.Error("expected nil clone")
	}
}
