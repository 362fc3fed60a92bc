// Package outbox implements the durable mutation queue: local writes that
// the remote store has not confirmed yet.
package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jbctechsolutions/tempo/internal/application/ports"
	"github.com/jbctechsolutions/tempo/internal/domain/entity"
	domainErrors "github.com/jbctechsolutions/tempo/internal/domain/errors"
	"github.com/jbctechsolutions/tempo/internal/domain/mutation"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/logging"
)

// ConflictChecker reports whether an entity has an unresolved conflict.
type ConflictChecker interface {
	HasPending(ref entity.Ref) bool
}

// Config holds the queue's collaborators.
type Config struct {
	Log       ports.MutationLogPort
	Conflicts ConflictChecker
	Logger    *logging.Logger
	Now       func() time.Time
}

// ReplayStats summarizes a startup replay.
type ReplayStats struct {
	Records int // Records read from the log
	Skipped int // Corrupt records skipped
	Live    int // Entries left after compaction
}

// Queue holds at most one pending mutation per entity, ordered by first
// enqueue. Every change is appended to the durable log before it becomes
// visible in memory.
type Queue struct {
	mu        sync.Mutex
	entries   map[entity.Ref]*mutation.Mutation
	nextSeq   int64
	log       ports.MutationLogPort
	conflicts ConflictChecker
	logger    *logging.Logger
	now       func() time.Time
}

// New creates an empty queue. Call Open to rebuild it from the durable log.
func New(cfg Config) *Queue {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Queue{
		entries:   make(map[entity.Ref]*mutation.Mutation),
		nextSeq:   1,
		log:       cfg.Log,
		conflicts: cfg.Conflicts,
		logger:    logger.With("component", "outbox"),
		now:       now,
	}
}

// Open replays the durable log into memory and compacts it. Records that
// cannot be decoded are logged and skipped.
func (q *Queue) Open(ctx context.Context) (ReplayStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var stats ReplayStats
	if q.log == nil {
		return stats, nil
	}

	records, err := q.log.Replay(ctx)
	if err != nil {
		return stats, fmt.Errorf("could not replay mutation log: %w", err)
	}

	entries := make(map[entity.Ref]*mutation.Mutation)
	var maxSeq int64
	for _, rec := range records {
		stats.Records++
		if rec.Err != nil {
			stats.Skipped++
			logging.LogReplaySkipped(ctx, q.logger, rec.Seq, rec.Err)
			continue
		}
		switch rec.Kind {
		case ports.LogPut:
			if rec.Mutation == nil {
				stats.Skipped++
				logging.LogReplaySkipped(ctx, q.logger, rec.Seq, fmt.Errorf("put record without mutation"))
				continue
			}
			entries[rec.Ref] = rec.Mutation
			if rec.Mutation.Seq > maxSeq {
				maxSeq = rec.Mutation.Seq
			}
		case ports.LogDelete:
			delete(entries, rec.Ref)
		default:
			stats.Skipped++
			logging.LogReplaySkipped(ctx, q.logger, rec.Seq, fmt.Errorf("unknown record kind %q", rec.Kind))
		}
	}

	q.entries = entries
	q.nextSeq = maxSeq + 1

	if err := q.log.Compact(ctx, q.sortedLocked()); err != nil {
		return stats, fmt.Errorf("could not compact mutation log: %w", err)
	}
	stats.Live = len(entries)

	q.logger.InfoContext(ctx, "mutation queue restored",
		"records", stats.Records,
		"skipped", stats.Skipped,
		"live", stats.Live,
	)
	return stats, nil
}

// Enqueue records a local write. A write to an entity that already has a
// queued mutation is coalesced into it. Writes to an entity with an
// unresolved conflict are rejected with ErrConflictPending.
func (q *Queue) Enqueue(ctx context.Context, ref entity.Ref, op mutation.Op, payload entity.Fields, base entity.Version, baseFields entity.Fields) (*mutation.Mutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.conflicts != nil && q.conflicts.HasPending(ref) {
		return nil, domainErrors.WithContext(
			domainErrors.NewError(domainErrors.CodeConflictPending, "cannot write "+ref.String(), domainErrors.ErrConflictPending),
			"entity", ref.String(),
		)
	}

	var next *mutation.Mutation
	if existing, ok := q.entries[ref]; ok {
		if len(payload) == 0 {
			return nil, domainErrors.ErrEmptyPayload
		}
		next = existing.Clone()
		next.Coalesce(payload)
	} else {
		m, err := mutation.New(ref, op, payload, base, baseFields, q.now())
		if err != nil {
			return nil, err
		}
		m.Seq = q.nextSeq
		next = m
	}

	if err := q.appendLocked(ctx, ports.LogRecord{Kind: ports.LogPut, Ref: ref, Mutation: next}); err != nil {
		return nil, err
	}
	if next.Seq == q.nextSeq {
		q.nextSeq++
	}
	q.entries[ref] = next
	return next.Clone(), nil
}

// Dequeue removes the entry for ref. Removing a missing entry is a no-op.
func (q *Queue) Dequeue(ctx context.Context, ref entity.Ref) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[ref]; !ok {
		return nil
	}
	if err := q.appendLocked(ctx, ports.LogRecord{Kind: ports.LogDelete, Ref: ref}); err != nil {
		return err
	}
	delete(q.entries, ref)
	return nil
}

// Ack confirms that the entry for ref, as it was at revision, has been
// applied remotely at version with the resulting fields. If no write was
// coalesced in since, or the later writes only repeat confirmed values, the
// entry is dequeued and nil is returned. Otherwise the entry is rebased onto
// the applied state and the remaining entry is returned so the caller can
// keep the newer local fields visible.
func (q *Queue) Ack(ctx context.Context, ref entity.Ref, revision int, version entity.Version, fields entity.Fields) (*mutation.Mutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, ok := q.entries[ref]
	if !ok {
		return nil, nil
	}

	var rebased *mutation.Mutation
	if current.Revision != revision {
		rebased = current.Clone()
		rebased.Rebase(version, fields)
	}

	if rebased == nil || len(rebased.Payload) == 0 {
		if err := q.appendLocked(ctx, ports.LogRecord{Kind: ports.LogDelete, Ref: ref}); err != nil {
			return nil, err
		}
		delete(q.entries, ref)
		return nil, nil
	}

	if err := q.appendLocked(ctx, ports.LogRecord{Kind: ports.LogPut, Ref: ref, Mutation: rebased}); err != nil {
		return nil, err
	}
	q.entries[ref] = rebased
	return rebased.Clone(), nil
}

// MarkAttempt records a transient failure for the entry of ref.
func (q *Queue) MarkAttempt(ctx context.Context, ref entity.Ref) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, ok := q.entries[ref]
	if !ok {
		return nil
	}
	next := current.Clone()
	next.RetryCount++
	if err := q.appendLocked(ctx, ports.LogRecord{Kind: ports.LogPut, Ref: ref, Mutation: next}); err != nil {
		return err
	}
	q.entries[ref] = next
	return nil
}

// PeekAll returns copies of all entries in first-enqueue order.
func (q *Queue) PeekAll() []*mutation.Mutation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sortedLocked()
}

// Get returns a copy of the entry for ref.
func (q *Queue) Get(ref entity.Ref) (*mutation.Mutation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, ok := q.entries[ref]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Queue) appendLocked(ctx context.Context, rec ports.LogRecord) error {
	if q.log == nil {
		return nil
	}
	if err := q.log.Append(ctx, rec); err != nil {
		return domainErrors.NewError(domainErrors.CodeStorage, "could not append to mutation log", err)
	}
	return nil
}

func (q *Queue) sortedLocked() []*mutation.Mutation {
	out := make([]*mutation.Mutation, 0, len(q.entries))
	for _, m := range q.entries {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Seq < out[j].Seq
	})
	return out
}
