// Package conflict defines divergence records between local and remote state
// and the detector that classifies a pending mutation against the remote.
package conflict

import (
	"fmt"
	"sort"
	"time"

	"github.com/jbctechsolutions/tempo/internal/domain/entity"
	domainErrors "github.com/jbctechsolutions/tempo/internal/domain/errors"
)

// Status is the resolution state of a conflict.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
)

// Choice selects which side wins a manual resolution.
type Choice string

const (
	ChoiceLocal  Choice = "local"  // Keep the local version
	ChoiceRemote Choice = "remote" // Keep the remote version
	ChoiceMerged Choice = "merged" // Use caller-supplied fields on top of the remote version
)

// ParseChoice converts s into a Choice.
func ParseChoice(s string) (Choice, error) {
	c := Choice(s)
	switch c {
	case ChoiceLocal, ChoiceRemote, ChoiceMerged:
		return c, nil
	}
	return "", fmt.Errorf("%w: unknown choice %q", domainErrors.ErrInvalidResolution, s)
}

// Resolution is a caller's decision for a conflict.
type Resolution struct {
	Choice Choice
	Merged entity.Fields // Only for ChoiceMerged
}

// Local returns a resolution keeping the local version.
func Local() Resolution { return Resolution{Choice: ChoiceLocal} }

// Remote returns a resolution keeping the remote version.
func Remote() Resolution { return Resolution{Choice: ChoiceRemote} }

// Merged returns a resolution that writes fields on top of the remote version.
func Merged(fields entity.Fields) Resolution {
	return Resolution{Choice: ChoiceMerged, Merged: fields}
}

// Validate checks that the resolution is well formed.
func (r Resolution) Validate() error {
	switch r.Choice {
	case ChoiceLocal, ChoiceRemote:
		return nil
	case ChoiceMerged:
		if len(r.Merged) == 0 {
			return fmt.Errorf("%w: merged resolution requires fields", domainErrors.ErrInvalidResolution)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown choice %q", domainErrors.ErrInvalidResolution, r.Choice)
}

// Conflict records a local mutation that could not be applied because the
// same fields changed remotely since the mutation's base version.
type Conflict struct {
	ID                string         // Unique conflict ID
	Ref               entity.Ref     // Conflicted entity
	MutationID        string         // Mutation consumed into this conflict
	LocalVersion      entity.Fields  // Cached entity with the mutation payload merged on top
	RemoteVersion     entity.Fields  // Remote state when the conflict was detected
	RemoteStamp       entity.Version // Remote version timestamp of RemoteVersion
	BaseVersion       entity.Version // Version the local edit was based on
	ConflictingFields []string       // Sorted fields changed on both sides to different values
	DetectedAt        time.Time      // When the conflict was detected
	Status            Status         // pending or resolved
	ResolvedAt        *time.Time     // When the conflict was resolved
	ResolutionChoice  Choice         // Choice applied on resolution
}

// IsPending reports whether the conflict still needs a decision.
func (c *Conflict) IsPending() bool {
	return c.Status == StatusPending
}

// Chosen returns the fields a resolution writes to the remote store.
//
// ChoiceLocal writes the whole LocalVersion, which was built from the cached
// fields when the conflict was detected. Remote edits made since the base to
// fields outside ConflictingFields are overwritten too, so the entity ends up
// exactly as LocalVersion. Use a merged resolution to keep them.
func (c *Conflict) Chosen(r Resolution) (entity.Fields, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	switch r.Choice {
	case ChoiceLocal:
		return c.LocalVersion.Clone(), nil
	case ChoiceRemote:
		return c.RemoteVersion.Clone(), nil
	default:
		return c.RemoteVersion.Merge(r.Merged), nil
	}
}

// Resolve marks the conflict resolved.
func (c *Conflict) Resolve(choice Choice, at time.Time) {
	c.Status = StatusResolved
	c.ResolvedAt = &at
	c.ResolutionChoice = choice
}

// Refresh rebases a pending conflict on a newer remote state after the
// remote changed again. Fields stay contended when they were already
// contended or changed in the newer remote state, and the local version
// still disagrees with the remote.
func (c *Conflict) Refresh(remote entity.Remote, at time.Time) {
	candidates := make(map[string]struct{})
	for _, k := range c.ConflictingFields {
		candidates[k] = struct{}{}
	}
	for _, k := range entity.ChangedKeys(c.RemoteVersion, remote.Fields) {
		candidates[k] = struct{}{}
	}

	contended := make([]string, 0, len(candidates))
	for k := range candidates {
		lv, inLocal := c.LocalVersion[k]
		rv := remote.Fields[k]
		if inLocal && !entity.ValueEqual(lv, rv) {
			contended = append(contended, k)
		}
	}
	sort.Strings(contended)

	c.BaseVersion = c.RemoteStamp
	c.RemoteVersion = remote.Fields.Clone()
	c.RemoteStamp = remote.Version
	c.ConflictingFields = contended
	c.DetectedAt = at
	c.Status = StatusPending
}

// Clone returns a deep copy of c.
func (c *Conflict) Clone() *Conflict {
	if c == nil {
		return nil
	}
	cp := *c
	cp.LocalVersion = c.LocalVersion.Clone()
	cp.RemoteVersion = c.RemoteVersion.Clone()
	cp.ConflictingFields = append([]string(nil), c.ConflictingFields...)
	if c.ResolvedAt != nil {
		at := *c.ResolvedAt
		cp.ResolvedAt = &at
	}
	return &cp
}
