package engine

import (
	"context"

	"github.com/jbctechsolutions/tempo/internal/application/observability"
	"github.com/jbctechsolutions/tempo/internal/domain/conflict"
	"github.com/jbctechsolutions/tempo/internal/domain/entity"
	domainErrors "github.com/jbctechsolutions/tempo/internal/domain/errors"
	"github.com/jbctechsolutions/tempo/internal/domain/metrics"
	"github.com/jbctechsolutions/tempo/internal/domain/mutation"
	"github.com/jbctechsolutions/tempo/internal/domain/status"
)

// runCycle drains the queue once, in first-enqueue order. A transient
// failure aborts the cycle, leaves the remaining mutations queued and arms
// the retry timer.
func (e *Engine) runCycle(ctx context.Context, trigger metrics.Trigger) error {
	if ctx.Err() != nil {
		return domainErrors.ErrEngineClosed
	}
	if !e.monitor.IsOnline() {
		e.logger.DebugContext(ctx, "skipping sync cycle while offline", "trigger", string(trigger))
		return domainErrors.ErrOffline
	}

	pending := e.queue.PeekAll()
	e.status.Update(func(s *status.Snapshot) { s.IsSyncing = true })
	defer e.refreshStatus(func(s *status.Snapshot) { s.IsSyncing = false })

	ctx, co := e.obs.StartCycle(ctx, trigger, len(pending))
	for _, m := range pending {
		if ctx.Err() != nil {
			co.Abort(ctx, domainErrors.ErrEngineClosed, 0)
			return domainErrors.ErrEngineClosed
		}
		if e.conflicts.HasPending(m.Ref) {
			continue
		}

		if err := e.syncOne(ctx, co, m); err != nil {
			if ctx.Err() != nil {
				co.Abort(ctx, domainErrors.ErrEngineClosed, 0)
				return domainErrors.ErrEngineClosed
			}
			if markErr := e.queue.MarkAttempt(ctx, m.Ref); markErr != nil {
				e.logger.WarnContext(ctx, "could not record sync attempt",
					"entity", m.Ref.String(),
					"error", markErr,
				)
			}
			retryIn := e.coord.scheduleRetry()
			co.Abort(ctx, err, retryIn)
			return err
		}
	}

	co.Complete(ctx)
	e.coord.resetBackoff()
	e.markSynced(ctx)
	return nil
}

// syncOne reconciles one queued mutation with the remote store. It returns
// an error only for failures worth retrying; rejections and conflicts are
// terminal outcomes for the mutation and return nil.
func (e *Engine) syncOne(ctx context.Context, co *observability.CycleObserver, m *mutation.Mutation) error {
	ctx, eo := co.StartEntity(ctx, m, e.remote.Name())

	remote, err := e.remote.Fetch(ctx, m.Ref)
	switch {
	case domainErrors.Is(err, domainErrors.ErrRemoteNotFound):
		remote = nil
	case domainErrors.IsRejected(err):
		return e.reject(ctx, eo, m, err)
	case err != nil:
		eo.Failed(err)
		return err
	}

	var cached entity.Fields
	if ent, ok := e.cache.Get(m.Ref); ok {
		cached = ent.Fields
	}

	d := conflict.Detect(m, remote, cached, e.now())
	switch d.Kind {
	case conflict.KindMissing:
		return e.reject(ctx, eo, m, domainErrors.Rejected("entity no longer exists remotely", domainErrors.ErrRemoteNotFound))
	case conflict.KindConflicting:
		return e.recordConflict(ctx, eo, m, d.Conflict)
	}

	var written *entity.Remote
	if remote == nil {
		written, err = e.remote.Create(ctx, m.Ref, d.Write)
	} else {
		written, err = e.remote.Update(ctx, m.Ref, d.Write, remote.Version)
	}
	if err != nil {
		if domainErrors.IsRejected(err) {
			return e.reject(ctx, eo, m, err)
		}
		eo.Failed(err)
		return err
	}

	if err := e.ack(ctx, m, written); err != nil {
		eo.Failed(err)
		return err
	}
	eo.Applied(ctx, d.Kind, int64(written.Version))
	return nil
}

// ack records a confirmed write. Fields coalesced in while the write was in
// flight stay queued and visible on top of the confirmed state.
func (e *Engine) ack(ctx context.Context, m *mutation.Mutation, written *entity.Remote) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	rest, err := e.queue.Ack(ctx, m.Ref, m.Revision, written.Version, written.Fields)
	if err != nil {
		return domainErrors.NewError(domainErrors.CodeStorage, "could not acknowledge mutation", err)
	}

	var pending entity.Fields
	if rest != nil {
		pending = rest.Payload
	}
	if !e.cache.ApplyWithPending(ctx, m.Ref, written.Fields, written.Version, pending) && rest == nil {
		e.cache.Discard(ctx, m.Ref)
	}
	e.refreshStatus(nil)
	return nil
}

// recordConflict moves m into the conflict queue. A mutation that received
// more writes while it was being checked is left for the next cycle so the
// conflict shows every local field.
func (e *Engine) recordConflict(ctx context.Context, eo *observability.EntityObserver, m *mutation.Mutation, c *conflict.Conflict) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if cur, ok := e.queue.Get(m.Ref); !ok || cur.Revision != m.Revision {
		eo.Deferred(ctx, "mutation changed during sync")
		return nil
	}

	if err := e.conflicts.Add(ctx, c); err != nil {
		eo.Failed(err)
		return domainErrors.NewError(domainErrors.CodeStorage, "could not record conflict", err)
	}
	if err := e.queue.Dequeue(ctx, m.Ref); err != nil {
		eo.Failed(err)
		return domainErrors.NewError(domainErrors.CodeStorage, "could not dequeue conflicted mutation", err)
	}
	eo.Conflicted(ctx, c)
	e.refreshStatus(nil)
	return nil
}

// reject drops m after a permanent refusal and reports it to rejection
// subscribers.
func (e *Engine) reject(ctx context.Context, eo *observability.EntityObserver, m *mutation.Mutation, cause error) error {
	e.writeMu.Lock()
	if cur, ok := e.queue.Get(m.Ref); !ok || cur.Revision != m.Revision {
		e.writeMu.Unlock()
		eo.Deferred(ctx, "mutation changed during sync")
		return nil
	}
	if err := e.queue.Dequeue(ctx, m.Ref); err != nil {
		e.writeMu.Unlock()
		eo.Failed(err)
		return domainErrors.NewError(domainErrors.CodeStorage, "could not dequeue rejected mutation", err)
	}
	e.cache.Discard(ctx, m.Ref)
	e.refreshStatus(nil)
	e.writeMu.Unlock()

	eo.Rejected(ctx, m.ID, cause)
	e.rejects.add(Rejection{
		MutationID: m.ID,
		Ref:        m.Ref,
		Op:         m.Op,
		Payload:    m.Payload.Clone(),
		Reason:     cause.Error(),
		RejectedAt: e.now(),
	})
	return nil
}

func (e *Engine) markSynced(ctx context.Context) {
	at := e.now()
	if e.syncState != nil {
		if err := e.syncState.SetLastSyncTime(context.WithoutCancel(ctx), at); err != nil {
			e.logger.WarnContext(ctx, "could not persist last sync time", "error", err)
		}
	}
	e.status.Update(func(s *status.Snapshot) {
		t := at
		s.LastSyncTime = &t
	})
}
