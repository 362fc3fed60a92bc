package testutil

import (
	"testing"
	"time"

	"github.com/jbctechsolutions/tempo/internal/domain/mutation"
)

func TestOpenDB_Migrated(t *testing.T) {
	db := OpenDB(t)

	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'mutation_log'`).Scan(&n)
	if err != nil {
		t.Fatalf("query error = %v", err)
	}
	if n != 1 {
		t.Errorf("mutation_log table count = %d, want 1", n)
	}
}

func TestNewMutation_OpFollowsBase(t *testing.T) {
	create := NewMutation(t, TaskRef("t1"), TaskFields("Plan"), 0, nil)
	if create.Op != mutation.OpCreate {
		t.Errorf("Op = %q, want %q", create.Op, mutation.OpCreate)
	}

	update := NewMutation(t, TaskRef("t1"), TaskFields("Plan"), 5, TaskFields("Draft"))
	if update.Op != mutation.OpUpdate || update.BaseVersion != 5 {
		t.Errorf("update = %+v", update)
	}
}

func TestNewConflict(t *testing.T) {
	c := NewConflict("c1", SessionRef("s1"))
	if !c.IsPending() {
		t.Error("fixture conflict should be pending")
	}
	if len(c.ConflictingFields) != 1 || c.ConflictingFields[0] != "title" {
		t.Errorf("ConflictingFields = %v", c.ConflictingFields)
	}
}

func TestClock(t *testing.T) {
	c := NewClock()
	if !c.Now().Equal(Epoch) {
		t.Fatalf("Now() = %v, want %v", c.Now(), Epoch)
	}
	c.Advance(time.Minute)
	if got := c.Now(); !got.Equal(Epoch.Add(time.Minute)) {
		t.Errorf("Now() after Advance = %v", got)
	}
}
