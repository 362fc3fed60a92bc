package entity

import (
	"errors"
	"reflect"
	"testing"
	"time"

	domainErrors "github.com/jbctechsolutions/tempo/internal/domain/errors"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		input   string
		want    Type
		wantErr bool
	}{
		{"task", TypeTask, false},
		{"session", TypeSession, false},
		{"project", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseType(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseType(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, domainErrors.ErrInvalidEntityType) {
				t.Errorf("expected ErrInvalidEntityType, got %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRef_Validate(t *testing.T) {
	if _, err := NewRef(TypeTask, "t-1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := NewRef(TypeTask, ""); !errors.Is(err, domainErrors.ErrEntityIDRequired) {
		t.Errorf("expected ErrEntityIDRequired, got %v", err)
	}
	if _, err := NewRef("bogus", "x"); !errors.Is(err, domainErrors.ErrInvalidEntityType) {
		t.Errorf("expected ErrInvalidEntityType, got %v", err)
	}
	if got := (Ref{Type: TypeSession, ID: "s"}).String(); got != "session/s" {
		t.Errorf("got %q", got)
	}
}

func TestVersion(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := VersionAt(at)
	if !v.Time().Equal(at) {
		t.Errorf("round trip: got %v, want %v", v.Time(), at)
	}
	if v.IsZero() {
		t.Error("expected non-zero version")
	}
	if !Version(0).IsZero() {
		t.Error("expected zero version")
	}
}

func TestFields_Merge(t *testing.T) {
	base := Fields{"title": "Draft", "priority": 1.0}
	merged := base.Merge(Fields{"title": "Final", "done": true})

	want := Fields{"title": "Final", "priority": 1.0, "done": true}
	if !merged.Equal(want) {
		t.Errorf("got %v, want %v", merged, want)
	}
	if base["title"] != "Draft" {
		t.Error("Merge modified the receiver")
	}

	var nilFields Fields
	if got := nilFields.Merge(Fields{"a": 1}); len(got) != 1 {
		t.Errorf("merge onto nil: got %v", got)
	}
}

func TestFields_CloneIsDeep(t *testing.T) {
	orig := Fields{"tags": []any{"a"}, "meta": map[string]any{"k": "v"}}
	cp := orig.Clone()
	cp["tags"].([]any)[0] = "changed"
	cp["meta"].(map[string]any)["k"] = "changed"

	if orig["tags"].([]any)[0] != "a" || orig["meta"].(map[string]any)["k"] != "v" {
		t.Error("Clone shared nested values with the original")
	}
}

func TestFields_Normalize(t *testing.T) {
	got, err := Fields{"count": 3, "nested": map[string]int{"x": 1}}.Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := got["count"].(float64); !ok {
		t.Errorf("expected float64 count, got %T", got["count"])
	}
	if _, ok := got["nested"].(map[string]any); !ok {
		t.Errorf("expected map nested value, got %T", got["nested"])
	}

	if _, err := (Fields{"bad": make(chan int)}).Normalize(); err == nil {
		t.Error("expected error for non-JSON value")
	}
}

func TestChangedKeys(t *testing.T) {
	tests := []struct {
		name string
		base Fields
		next Fields
		want []string
	}{
		{"identical", Fields{"a": 1}, Fields{"a": 1.0}, []string{}},
		{"modified", Fields{"a": 1, "b": "x"}, Fields{"a": 2, "b": "x"}, []string{"a"}},
		{"added and removed", Fields{"a": 1}, Fields{"b": 1}, []string{"a", "b"}},
		{"nil base", nil, Fields{"z": 1, "y": 2}, []string{"y", "z"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ChangedKeys(tt.base, tt.next); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValueEqual(t *testing.T) {
	if !ValueEqual(map[string]any{"a": 1, "b": 2}, map[string]any{"b": 2.0, "a": 1.0}) {
		t.Error("expected maps with same content to be equal")
	}
	if ValueEqual("1", 1) {
		t.Error("expected string and number to differ")
	}
	if !ValueEqual(nil, nil) {
		t.Error("expected nil values to be equal")
	}
}
