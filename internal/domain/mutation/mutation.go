// Package mutation defines pending local writes held in the outbox until the
// remote store confirms them.
package mutation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jbctechsolutions/tempo/internal/domain/entity"
	domainErrors "github.com/jbctechsolutions/tempo/internal/domain/errors"
)

// Op is the kind of write a mutation carries.
type Op string

const (
	OpCreate Op = "create" // Payload is the full initial field set
	OpUpdate Op = "update" // Payload is a partial field set
)

// IsValid reports whether o is a known operation.
func (o Op) IsValid() bool {
	return o == OpCreate || o == OpUpdate
}

// Mutation is a not-yet-confirmed local write to a single entity.
type Mutation struct {
	ID          string         // Unique mutation ID
	Ref         entity.Ref     // Target entity
	Op          Op             // Create or update
	Payload     entity.Fields  // Fields written locally, merged across coalesced writes
	BaseVersion entity.Version // Remote version the first write was based on, zero for create
	BaseFields  entity.Fields  // Confirmed field values at BaseVersion
	EnqueuedAt  time.Time      // Time of the first write, unchanged by coalescing
	Seq         int64          // FIFO position, fixed at first enqueue
	Revision    int            // Bumped every time another write is coalesced in
	RetryCount  int            // Transient failures observed while syncing
}

// New creates a mutation for a first write to ref.
func New(ref entity.Ref, op Op, payload entity.Fields, base entity.Version, baseFields entity.Fields, now time.Time) (*Mutation, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if !op.IsValid() {
		return nil, fmt.Errorf("invalid operation %q", op)
	}
	if len(payload) == 0 {
		return nil, domainErrors.ErrEmptyPayload
	}
	if op == OpCreate {
		base = 0
		baseFields = nil
	}
	return &Mutation{
		ID:          uuid.New().String(),
		Ref:         ref,
		Op:          op,
		Payload:     payload.Clone(),
		BaseVersion: base,
		BaseFields:  baseFields.Clone(),
		EnqueuedAt:  now,
		Revision:    1,
	}, nil
}

// IsCreate reports whether the mutation creates its entity.
func (m *Mutation) IsCreate() bool {
	return m.Op == OpCreate
}

// Coalesce merges a later write into m. Field values in payload win over
// earlier ones. The enqueue time, FIFO position and base version stay put,
// and a pending create remains a create.
func (m *Mutation) Coalesce(payload entity.Fields) {
	m.Payload = m.Payload.Merge(payload)
	m.Revision++
}

// Rebase moves m onto a newly confirmed remote state after part of its
// payload has been applied. Payload fields already equal to the confirmed
// values are dropped, so only fields that still differ count as local edits.
// An empty payload afterwards means nothing is left to sync.
func (m *Mutation) Rebase(version entity.Version, fields entity.Fields) {
	for k, v := range m.Payload {
		if cur, ok := fields[k]; ok && entity.ValueEqual(cur, v) {
			delete(m.Payload, k)
		}
	}
	m.Op = OpUpdate
	m.BaseVersion = version
	m.BaseFields = fields.Clone()
	m.Revision++
}

// Clone returns a deep copy of m.
func (m *Mutation) Clone() *Mutation {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Payload = m.Payload.Clone()
	cp.BaseFields = m.BaseFields.Clone()
	return &cp
}
