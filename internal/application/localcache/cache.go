// Package localcache holds the materialized, read-optimized copy of domain
// entities that the UI renders from while offline.
package localcache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jbctechsolutions/tempo/internal/application/ports"
	"github.com/jbctechsolutions/tempo/internal/domain/entity"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/logging"
)

// Entity is the cached view of one domain record.
type Entity struct {
	Ref       entity.Ref
	Fields    entity.Fields  // Confirmed fields with pending local fields on top
	Confirmed entity.Fields  // Fields last confirmed by the remote store
	Version   entity.Version // Last applied remote version
	Pending   bool           // Local fields are waiting to sync
	UpdatedAt time.Time
}

type record struct {
	confirmed entity.Fields
	overlay   entity.Fields
	version   entity.Version
	updatedAt time.Time
}

func (r *record) view(ref entity.Ref) Entity {
	return Entity{
		Ref:       ref,
		Fields:    r.confirmed.Merge(r.overlay),
		Confirmed: r.confirmed.Clone(),
		Version:   r.version,
		Pending:   len(r.overlay) > 0,
		UpdatedAt: r.updatedAt,
	}
}

// Config holds the cache's collaborators.
type Config struct {
	Store  ports.CacheSnapshotPort
	Logger *logging.Logger
	Now    func() time.Time
}

// Cache is safe for concurrent use. Reads take a read lock and never touch
// storage; writes are persisted to the snapshot store after the in-memory
// update, serialized in write order.
type Cache struct {
	mu        sync.RWMutex
	persistMu sync.Mutex
	items     map[entity.Ref]*record
	store     ports.CacheSnapshotPort
	logger    *logging.Logger
	now       func() time.Time
}

// New creates an empty cache. Call Load to restore the persisted snapshot.
func New(cfg Config) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		items:  make(map[entity.Ref]*record),
		store:  cfg.Store,
		logger: logger.With("component", "localcache"),
		now:    now,
	}
}

// Load restores the persisted snapshot, replacing the in-memory contents.
func (c *Cache) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	records, err := c.store.LoadEntities(ctx)
	if err != nil {
		return err
	}

	items := make(map[entity.Ref]*record, len(records))
	for _, rec := range records {
		items[rec.Ref] = &record{
			confirmed: rec.Confirmed,
			overlay:   rec.Overlay,
			version:   rec.Version,
			updatedAt: rec.UpdatedAt,
		}
	}

	c.mu.Lock()
	c.items = items
	c.mu.Unlock()
	return nil
}

// Get returns the cached entity for ref.
func (c *Cache) Get(ref entity.Ref) (Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.items[ref]
	if !ok {
		return Entity{}, false
	}
	return r.view(ref), true
}

// GetAll returns every cached entity of type t ordered by ID.
func (c *Cache) GetAll(t entity.Type) []Entity {
	c.mu.RLock()
	out := make([]Entity, 0)
	for ref, r := range c.items {
		if ref.Type == t {
			out = append(out, r.view(ref))
		}
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Ref.ID < out[j].Ref.ID
	})
	return out
}

// Len returns the number of cached entities.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Apply records a remotely confirmed state. An apply whose version is not
// newer than the cached one is ignored and false is returned. Any optimistic
// local fields are dropped.
func (c *Cache) Apply(ctx context.Context, ref entity.Ref, fields entity.Fields, version entity.Version) bool {
	return c.ApplyWithPending(ctx, ref, fields, version, nil)
}

// ApplyWithPending records a remotely confirmed state and keeps pending on
// top of it as the optimistic view, atomically for readers.
func (c *Cache) ApplyWithPending(ctx context.Context, ref entity.Ref, fields entity.Fields, version entity.Version, pending entity.Fields) bool {
	return c.write(ctx, ref, func(r *record, exists bool) (bool, bool) {
		if exists && version <= r.version {
			return false, false
		}
		r.confirmed = fields.Clone()
		r.overlay = pending.Clone()
		r.version = version
		return true, false
	})
}

// Stage merges locally written fields on top of the entity as an optimistic
// overlay, creating the entity if it has never been seen.
func (c *Cache) Stage(ctx context.Context, ref entity.Ref, payload entity.Fields) Entity {
	var view Entity
	c.write(ctx, ref, func(r *record, _ bool) (bool, bool) {
		r.overlay = r.overlay.Merge(payload)
		view = r.view(ref)
		return true, false
	})
	return view
}

// Discard drops the optimistic overlay of ref. An entity that was never
// confirmed remotely is removed entirely.
func (c *Cache) Discard(ctx context.Context, ref entity.Ref) {
	c.write(ctx, ref, func(r *record, exists bool) (bool, bool) {
		if !exists {
			return false, false
		}
		if r.version.IsZero() {
			return true, true
		}
		r.overlay = nil
		return true, false
	})
}

// write runs mutate on the record for ref under the write lock and persists
// the outcome. mutate reports whether it changed anything and whether the
// record should be removed.
func (c *Cache) write(ctx context.Context, ref entity.Ref, mutate func(r *record, exists bool) (changed, remove bool)) bool {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	r, exists := c.items[ref]
	if !exists {
		r = &record{}
	}
	changed, remove := mutate(r, exists)
	if !changed {
		c.mu.Unlock()
		return false
	}
	r.updatedAt = c.now()
	if remove {
		delete(c.items, ref)
	} else {
		c.items[ref] = r
	}
	snapshot := ports.CachedRecord{
		Ref:       ref,
		Confirmed: r.confirmed.Clone(),
		Overlay:   r.overlay.Clone(),
		Version:   r.version,
		UpdatedAt: r.updatedAt,
	}
	c.mu.Unlock()

	c.persist(ctx, snapshot, remove)
	return true
}

func (c *Cache) persist(ctx context.Context, rec ports.CachedRecord, remove bool) {
	if c.store == nil {
		return
	}
	var err error
	if remove {
		err = c.store.DeleteEntity(ctx, rec.Ref)
	} else {
		err = c.store.SaveEntity(ctx, rec)
	}
	if err != nil {
		c.logger.WarnContext(ctx, "could not persist cache entry",
			"entity", rec.Ref.String(),
			"error", err.Error(),
		)
	}
}
