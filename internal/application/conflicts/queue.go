// Package conflicts holds unresolved conflicts until a caller decides how to
// resolve them.
package conflicts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jbctechsolutions/tempo/internal/application/ports"
	"github.com/jbctechsolutions/tempo/internal/domain/conflict"
	"github.com/jbctechsolutions/tempo/internal/domain/entity"
	domainErrors "github.com/jbctechsolutions/tempo/internal/domain/errors"
)

// Queue is the set of pending conflicts, at most one per entity.
type Queue struct {
	mu     sync.RWMutex
	active map[string]*conflict.Conflict
	byRef  map[entity.Ref]string
	store  ports.ConflictStoragePort
	now    func() time.Time
}

// New creates an empty conflict queue backed by store. store may be nil.
func New(store ports.ConflictStoragePort, now func() time.Time) *Queue {
	if now == nil {
		now = time.Now
	}
	return &Queue{
		active: make(map[string]*conflict.Conflict),
		byRef:  make(map[entity.Ref]string),
		store:  store,
		now:    now,
	}
}

// Load restores pending conflicts from storage.
func (q *Queue) Load(ctx context.Context) error {
	if q.store == nil {
		return nil
	}
	pending, err := q.store.ListConflicts(ctx, conflict.StatusPending)
	if err != nil {
		return fmt.Errorf("could not load conflicts: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.active = make(map[string]*conflict.Conflict, len(pending))
	q.byRef = make(map[entity.Ref]string, len(pending))
	for _, c := range pending {
		q.active[c.ID] = c
		q.byRef[c.Ref] = c.ID
	}
	return nil
}

// List returns copies of the pending conflicts ordered by detection time.
func (q *Queue) List() []conflict.Conflict {
	q.mu.RLock()
	out := make([]conflict.Conflict, 0, len(q.active))
	for _, c := range q.active {
		out = append(out, *c.Clone())
	}
	q.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DetectedAt.Before(out[j].DetectedAt)
	})
	return out
}

// Get returns a copy of the pending conflict with the given ID.
func (q *Queue) Get(id string) (*conflict.Conflict, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	c, ok := q.active[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// HasPending reports whether ref has an unresolved conflict.
func (q *Queue) HasPending(ref entity.Ref) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, ok := q.byRef[ref]
	return ok
}

// Len returns the number of pending conflicts.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.active)
}

// Add persists and inserts a new pending conflict.
func (q *Queue) Add(ctx context.Context, c *conflict.Conflict) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.byRef[c.Ref]; ok && existing != c.ID {
		return fmt.Errorf("%w: %s already has conflict %s", domainErrors.ErrConflictPending, c.Ref, existing)
	}
	return q.putLocked(ctx, c)
}

// Replace persists an updated version of a pending conflict.
func (q *Queue) Replace(ctx context.Context, c *conflict.Conflict) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.active[c.ID]; !ok {
		return domainErrors.ErrConflictNotFound
	}
	return q.putLocked(ctx, c)
}

// MarkResolved records the resolution and removes the conflict from the
// pending set, making the entity writable again.
func (q *Queue) MarkResolved(ctx context.Context, id string, choice conflict.Choice) (*conflict.Conflict, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	c, ok := q.active[id]
	if !ok {
		return nil, domainErrors.ErrConflictNotFound
	}

	resolved := c.Clone()
	resolved.Resolve(choice, q.now())
	if q.store != nil {
		if err := q.store.SaveConflict(ctx, resolved); err != nil {
			return nil, domainErrors.NewError(domainErrors.CodeStorage, "could not persist resolution", err)
		}
	}
	delete(q.active, id)
	delete(q.byRef, c.Ref)
	return resolved.Clone(), nil
}

func (q *Queue) putLocked(ctx context.Context, c *conflict.Conflict) error {
	stored := c.Clone()
	if q.store != nil {
		if err := q.store.SaveConflict(ctx, stored); err != nil {
			return domainErrors.NewError(domainErrors.CodeStorage, "could not persist conflict", err)
		}
	}
	q.active[stored.ID] = stored
	q.byRef[stored.Ref] = stored.ID
	return nil
}
