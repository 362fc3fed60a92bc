// Package entity defines the typed references and field sets of the domain
// records that the sync engine moves between the local cache and the remote
// store.
package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	domainErrors "github.com/jbctechsolutions/tempo/internal/domain/errors"
)

// Type identifies a kind of domain record.
type Type string

const (
	TypeTask    Type = "task"    // A to-do item
	TypeSession Type = "session" // A recorded focus session
)

// Types returns every known entity type.
func Types() []Type {
	return []Type{TypeTask, TypeSession}
}

// ParseType converts s into a Type, rejecting unknown names.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q", domainErrors.ErrInvalidEntityType, s)
	}
	return t, nil
}

// IsValid reports whether t is a known entity type.
func (t Type) IsValid() bool {
	switch t {
	case TypeTask, TypeSession:
		return true
	}
	return false
}

// Ref is the strongly typed identity of a domain record.
type Ref struct {
	Type Type   `json:"type"` // Entity type
	ID   string `json:"id"`   // Entity identifier, provisional until confirmed remotely
}

// NewRef builds a validated Ref.
func NewRef(t Type, id string) (Ref, error) {
	ref := Ref{Type: t, ID: id}
	return ref, ref.Validate()
}

// Validate checks that the reference names a known type and a non-empty ID.
func (r Ref) Validate() error {
	if !r.Type.IsValid() {
		return fmt.Errorf("%w: %q", domainErrors.ErrInvalidEntityType, r.Type)
	}
	if r.ID == "" {
		return domainErrors.ErrEntityIDRequired
	}
	return nil
}

// String renders the reference as type/id.
func (r Ref) String() string {
	return string(r.Type) + "/" + r.ID
}

// Version is a remote version timestamp in unix milliseconds. The zero value
// means the record has never been confirmed by the remote store.
type Version int64

// VersionAt converts t into a Version.
func VersionAt(t time.Time) Version {
	return Version(t.UnixMilli())
}

// IsZero reports whether v is unset.
func (v Version) IsZero() bool {
	return v == 0
}

// Time returns v as a UTC time.
func (v Version) Time() time.Time {
	return time.UnixMilli(int64(v)).UTC()
}

// Remote is the authoritative state of an entity as reported by the remote store.
type Remote struct {
	Ref     Ref
	Fields  Fields
	Version Version
}

// Fields is a set of JSON-compatible field values.
type Fields map[string]any

// Normalize returns a copy of f whose values have been round-tripped through
// JSON, so numbers become float64 and nested values become maps and slices.
func (f Fields) Normalize() (Fields, error) {
	if f == nil {
		return Fields{}, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("fields are not JSON encodable: %w", err)
	}
	out := Fields{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("could not decode fields: %w", err)
	}
	return out, nil
}

// Clone returns a deep copy of f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge returns a new field set with overlay applied on top of f.
func (f Fields) Merge(overlay Fields) Fields {
	out := f.Clone()
	if out == nil {
		out = make(Fields, len(overlay))
	}
	for k, v := range overlay {
		out[k] = cloneValue(v)
	}
	return out
}

// Keys returns the field names in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether f and other hold the same keys with equal values.
func (f Fields) Equal(other Fields) bool {
	if len(f) != len(other) {
		return false
	}
	for k, v := range f {
		ov, ok := other[k]
		if !ok || !ValueEqual(v, ov) {
			return false
		}
	}
	return true
}

// ChangedKeys returns the sorted names of fields that differ between base
// and next, including fields present in only one of them.
func ChangedKeys(base, next Fields) []string {
	changed := make([]string, 0)
	for k, v := range next {
		bv, ok := base[k]
		if !ok || !ValueEqual(bv, v) {
			changed = append(changed, k)
		}
	}
	for k := range base {
		if _, ok := next[k]; !ok {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

// ValueEqual compares two field values by their JSON encoding, so 5 and 5.0
// are equal and map key order is irrelevant.
func ValueEqual(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return bytes.Equal(ab, bb)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case Fields:
		return val.Clone()
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}
