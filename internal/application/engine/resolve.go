package engine

import (
	"context"

	"github.com/jbctechsolutions/tempo/internal/application/localcache"
	"github.com/jbctechsolutions/tempo/internal/domain/conflict"
	domainErrors "github.com/jbctechsolutions/tempo/internal/domain/errors"
)

// ResolveConflictManually writes the chosen side of a conflict to the remote
// store, based on the remote version the conflict was detected against.
//
// If the remote changed again in the meantime the conflict is refreshed
// against the newer state, stays pending, and an error wrapping
// ErrConflictSuperseded is returned so the user can decide again.
func (e *Engine) ResolveConflictManually(ctx context.Context, id string, res conflict.Resolution) (ent localcache.Entity, err error) {
	if e.closed.Load() {
		return localcache.Entity{}, domainErrors.ErrEngineClosed
	}
	if err := res.Validate(); err != nil {
		return localcache.Entity{}, domainErrors.NewError(domainErrors.CodeValidation, "invalid resolution", err)
	}
	if len(res.Merged) > 0 {
		merged, err := res.Merged.Normalize()
		if err != nil {
			return localcache.Entity{}, domainErrors.NewError(domainErrors.CodeValidation, "invalid merged fields", err)
		}
		res.Merged = merged
	}

	e.resolveMu.Lock()
	defer e.resolveMu.Unlock()

	c, ok := e.conflicts.Get(id)
	if !ok {
		return localcache.Entity{}, domainErrors.WithContext(
			domainErrors.NewError(domainErrors.CodeNotFound, "cannot resolve conflict", domainErrors.ErrConflictNotFound),
			"conflict_id", id,
		)
	}

	ctx, end := e.obs.StartResolution(ctx, id, res.Choice)
	defer func() { end(err) }()

	if !e.monitor.IsOnline() {
		return localcache.Entity{}, domainErrors.ErrOffline
	}

	fields, err := c.Chosen(res)
	if err != nil {
		return localcache.Entity{}, domainErrors.NewError(domainErrors.CodeValidation, "invalid resolution", err)
	}

	written, err := e.remote.Update(ctx, c.Ref, fields, c.RemoteStamp)
	if domainErrors.Is(err, domainErrors.ErrRemoteNotFound) {
		written, err = e.remote.Create(ctx, c.Ref, fields)
	}
	switch {
	case domainErrors.Is(err, domainErrors.ErrVersionMismatch):
		return localcache.Entity{}, e.supersede(ctx, c)
	case err != nil:
		return localcache.Entity{}, err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if _, err := e.conflicts.MarkResolved(ctx, id, res.Choice); err != nil {
		return localcache.Entity{}, err
	}
	// The consumed mutation is normally gone already; it survives only when
	// the process stopped between recording the conflict and dequeuing it.
	if m, ok := e.queue.Get(c.Ref); ok && m.ID == c.MutationID {
		if err := e.queue.Dequeue(ctx, c.Ref); err != nil {
			e.logger.WarnContext(ctx, "could not drop consumed mutation",
				"mutation_id", m.ID,
				"error", err,
			)
		}
	}
	e.cache.Apply(ctx, c.Ref, written.Fields, written.Version)
	e.refreshStatus(nil)

	ent, _ = e.cache.Get(c.Ref)
	return ent, nil
}

// supersede rebases a pending conflict on the current remote state after a
// resolution lost the race against another remote write.
func (e *Engine) supersede(ctx context.Context, c *conflict.Conflict) error {
	remote, err := e.remote.Fetch(ctx, c.Ref)
	if err != nil {
		return domainErrors.Transient("could not refresh superseded conflict", err)
	}

	c.Refresh(*remote, e.now())
	if err := e.conflicts.Replace(ctx, c); err != nil {
		return domainErrors.NewError(domainErrors.CodeStorage, "could not update conflict", err)
	}
	e.refreshStatus(nil)

	return domainErrors.WithContext(
		domainErrors.NewError(domainErrors.CodeConflictPending, "remote changed while resolving", domainErrors.ErrConflictSuperseded),
		"conflict_id", c.ID,
	)
}
