package conflict

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jbctechsolutions/tempo/internal/domain/entity"
	"github.com/jbctechsolutions/tempo/internal/domain/mutation"
)

// Kind classifies a pending mutation against the remote state.
type Kind string

const (
	KindFastPath    Kind = "fast_path"   // Remote unchanged since the base, apply directly
	KindAutoMerge   Kind = "auto_merge"  // Remote changed disjoint fields, apply on top
	KindConflicting Kind = "conflicting" // Same field changed on both sides
	KindMissing     Kind = "missing"     // Update target no longer exists remotely
)

// Decision is the detector's verdict for one mutation.
type Decision struct {
	Kind     Kind
	Write    entity.Fields // Fields to send to the remote store for FastPath/AutoMerge
	Conflict *Conflict     // Set for KindConflicting
}

// Detect classifies m against the remote entity state. remote is nil when the
// entity does not exist remotely. cached holds the locally materialized
// fields and may be nil.
//
// A create, or a mutation based on the current remote version, is a fast
// path. Otherwise fields changed remotely since the base are intersected with
// the payload fields whose values differ from the remote; an empty
// intersection is a three-way auto-merge and a non-empty one is a conflict.
func Detect(m *mutation.Mutation, remote *entity.Remote, cached entity.Fields, now time.Time) Decision {
	if remote == nil {
		if m.IsCreate() {
			return Decision{Kind: KindFastPath, Write: m.Payload.Clone()}
		}
		return Decision{Kind: KindMissing}
	}

	if m.BaseVersion.IsZero() || m.BaseVersion == remote.Version {
		return Decision{Kind: KindFastPath, Write: m.Payload.Clone()}
	}

	contended := ContendedFields(m, remote)
	if len(contended) == 0 {
		return Decision{Kind: KindAutoMerge, Write: remote.Fields.Merge(m.Payload)}
	}

	local := cached
	if local == nil {
		local = m.BaseFields
	}

	return Decision{
		Kind: KindConflicting,
		Conflict: &Conflict{
			ID:                uuid.New().String(),
			Ref:               m.Ref,
			MutationID:        m.ID,
			LocalVersion:      local.Merge(m.Payload),
			RemoteVersion:     remote.Fields.Clone(),
			RemoteStamp:       remote.Version,
			BaseVersion:       m.BaseVersion,
			ConflictingFields: contended,
			DetectedAt:        now,
			Status:            StatusPending,
		},
	}
}

// ContendedFields returns the sorted payload fields that also changed
// remotely since the mutation's base and now hold a different value.
// Without a base snapshot every remote field counts as changed.
func ContendedFields(m *mutation.Mutation, remote *entity.Remote) []string {
	remoteChanged := make(map[string]struct{})
	if m.BaseFields == nil {
		for k := range remote.Fields {
			remoteChanged[k] = struct{}{}
		}
	} else {
		for _, k := range entity.ChangedKeys(m.BaseFields, remote.Fields) {
			remoteChanged[k] = struct{}{}
		}
	}

	contended := make([]string, 0)
	for k, v := range m.Payload {
		if _, changed := remoteChanged[k]; !changed {
			continue
		}
		if !entity.ValueEqual(v, remote.Fields[k]) {
			contended = append(contended, k)
		}
	}
	sort.Strings(contended)
	return contended
}
