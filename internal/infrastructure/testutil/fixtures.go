package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/jbctechsolutions/tempo/internal/domain/conflict"
	"github.com/jbctechsolutions/tempo/internal/domain/entity"
	"github.com/jbctechsolutions/tempo/internal/domain/mutation"
)

// Epoch is the fixed start time used by fixtures.
var Epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// TaskRef returns a task reference.
func TaskRef(id string) entity.Ref {
	return entity.Ref{Type: entity.TypeTask, ID: id}
}

// SessionRef returns a session reference.
func SessionRef(id string) entity.Ref {
	return entity.Ref{Type: entity.TypeSession, ID: id}
}

// TaskFields returns typical task fields in normalized form.
func TaskFields(title string) entity.Fields {
	return entity.Fields{"title": title, "pomodoros": float64(0), "done": false}
}

// NewMutation creates an update mutation against base, or a create when
// base is zero.
func NewMutation(t *testing.T, ref entity.Ref, payload entity.Fields, base entity.Version, baseFields entity.Fields) *mutation.Mutation {
	t.Helper()
	op := mutation.OpUpdate
	if base.IsZero() {
		op = mutation.OpCreate
	}
	m, err := mutation.New(ref, op, payload, base, baseFields, Epoch)
	if err != nil {
		t.Fatalf("mutation.New() error = %v", err)
	}
	return m
}

// NewConflict creates a pending conflict on the title field.
func NewConflict(id string, ref entity.Ref) *conflict.Conflict {
	return &conflict.Conflict{
		ID:                id,
		Ref:               ref,
		MutationID:        "mut-" + id,
		LocalVersion:      entity.Fields{"title": "local title"},
		RemoteVersion:     entity.Fields{"title": "remote title"},
		RemoteStamp:       entity.VersionAt(Epoch.Add(time.Minute)),
		BaseVersion:       entity.VersionAt(Epoch),
		ConflictingFields: []string{"title"},
		DetectedAt:        Epoch.Add(2 * time.Minute),
		Status:            conflict.StatusPending,
	}
}

// Clock is a manually advanced clock safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock set to Epoch.
func NewClock() *Clock {
	return &Clock{now: Epoch}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
