package conflicts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbctechsolutions/tempo/internal/domain/conflict"
	"github.com/jbctechsolutions/tempo/internal/domain/entity"
	domainErrors "github.com/jbctechsolutions/tempo/internal/domain/errors"
)

type memStore struct {
	mu   sync.Mutex
	rows map[string]*conflict.Conflict
	fail error
}

func (s *memStore) SaveConflict(_ context.Context, c *conflict.Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if s.rows == nil {
		s.rows = make(map[string]*conflict.Conflict)
	}
	s.rows[c.ID] = c.Clone()
	return nil
}

func (s *memStore) ListConflicts(_ context.Context, status conflict.Status) ([]*conflict.Conflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*conflict.Conflict, 0)
	for _, c := range s.rows {
		if status == "" || c.Status == status {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

func newConflict(id, entityID string, at time.Time) *conflict.Conflict {
	return &conflict.Conflict{
		ID:                id,
		Ref:               entity.Ref{Type: entity.TypeTask, ID: entityID},
		LocalVersion:      entity.Fields{"title": "local"},
		RemoteVersion:     entity.Fields{"title": "remote"},
		ConflictingFields: []string{"title"},
		DetectedAt:        at,
		Status:            conflict.StatusPending,
	}
}

func TestList_OrderedByDetectedAt(t *testing.T) {
	ctx := context.Background()
	q := New(nil, nil)
	t0 := time.Now()

	require.NoError(t, q.Add(ctx, newConflict("c3", "z", t0.Add(2*time.Second))))
	require.NoError(t, q.Add(ctx, newConflict("c1", "x", t0)))
	require.NoError(t, q.Add(ctx, newConflict("c2", "y", t0.Add(time.Second))))

	ids := make([]string, 0)
	for _, c := range q.List() {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"c1", "c2", "c3"}, ids)
	assert.Equal(t, 3, q.Len())
}

func TestAdd_OnePendingConflictPerEntity(t *testing.T) {
	ctx := context.Background()
	q := New(nil, nil)

	require.NoError(t, q.Add(ctx, newConflict("c1", "x", time.Now())))
	err := q.Add(ctx, newConflict("c2", "x", time.Now()))

	assert.True(t, errors.Is(err, domainErrors.ErrConflictPending))
	assert.True(t, q.HasPending(entity.Ref{Type: entity.TypeTask, ID: "x"}))
}

func TestMarkResolved(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	resolvedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	q := New(store, func() time.Time { return resolvedAt })
	c := newConflict("c1", "x", time.Now())
	require.NoError(t, q.Add(ctx, c))

	resolved, err := q.MarkResolved(ctx, "c1", conflict.ChoiceLocal)
	require.NoError(t, err)

	assert.Equal(t, conflict.StatusResolved, resolved.Status)
	assert.Equal(t, resolvedAt, *resolved.ResolvedAt)
	assert.False(t, q.HasPending(c.Ref))
	assert.Empty(t, q.List())
	assert.Equal(t, conflict.StatusResolved, store.rows["c1"].Status)

	_, err = q.MarkResolved(ctx, "c1", conflict.ChoiceLocal)
	assert.True(t, errors.Is(err, domainErrors.ErrConflictNotFound))
}

func TestReplace(t *testing.T) {
	ctx := context.Background()
	q := New(nil, nil)
	c := newConflict("c1", "x", time.Now())
	require.NoError(t, q.Add(ctx, c))

	c.RemoteVersion = entity.Fields{"title": "newer"}
	require.NoError(t, q.Replace(ctx, c))
	got, ok := q.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "newer", got.RemoteVersion["title"])

	assert.True(t, errors.Is(q.Replace(ctx, newConflict("nope", "y", time.Now())), domainErrors.ErrConflictNotFound))
}

func TestLoad_RestoresOnlyPending(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	first := New(store, nil)
	require.NoError(t, first.Add(ctx, newConflict("c1", "x", time.Now())))
	require.NoError(t, first.Add(ctx, newConflict("c2", "y", time.Now())))
	_, err := first.MarkResolved(ctx, "c2", conflict.ChoiceRemote)
	require.NoError(t, err)

	second := New(store, nil)
	require.NoError(t, second.Load(ctx))

	assert.Equal(t, 1, second.Len())
	assert.True(t, second.HasPending(entity.Ref{Type: entity.TypeTask, ID: "x"}))
	assert.False(t, second.HasPending(entity.Ref{Type: entity.TypeTask, ID: "y"}))
}

func TestAdd_StorageFailureKeepsQueueUnchanged(t *testing.T) {
	q := New(&memStore{fail: errors.New("locked")}, nil)

	err := q.Add(context.Background(), newConflict("c1", "x", time.Now()))

	assert.Equal(t, domainErrors.CodeStorage, domainErrors.CodeOf(err))
	assert.Zero(t, q.Len())
}
