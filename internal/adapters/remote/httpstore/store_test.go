package httpstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jbctechsolutions/tempo/internal/domain/entity"
	domainErrors "github.com/jbctechsolutions/tempo/internal/domain/errors"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/logging"
)

func newTestStore(t *testing.T, handler http.HandlerFunc, opts ...Option) *Store {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	s, err := New(server.URL, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func writeEntity(w http.ResponseWriter, status int, resp EntityResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func TestNew_InvalidURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "/relative"} {
		if _, err := New(raw); err == nil {
			t.Errorf("New(%q) expected error", raw)
		}
	}
}

func TestStore_Name(t *testing.T) {
	s, err := New("http://localhost:1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Name() != Backend {
		t.Errorf("Name() = %q, want %q", s.Name(), Backend)
	}
	if s.BreakerState() != "closed" {
		t.Errorf("BreakerState() = %q, want closed", s.BreakerState())
	}
}

func TestStore_Fetch(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.URL.EscapedPath() != "/v1/entities/task/a%2Fb" {
			t.Errorf("path = %s", r.URL.EscapedPath())
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		writeEntity(w, http.StatusOK, EntityResponse{
			Type:    entity.TypeTask,
			ID:      "a/b",
			Fields:  entity.Fields{"title": "Write report", "estimate": 3},
			Version: 42,
		})
	}, WithToken("secret"))

	remote, err := s.Fetch(context.Background(), entity.Ref{Type: entity.TypeTask, ID: "a/b"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if remote.Version != 42 {
		t.Errorf("Version = %d, want 42", remote.Version)
	}
	if remote.Ref.ID != "a/b" || remote.Ref.Type != entity.TypeTask {
		t.Errorf("Ref = %v", remote.Ref)
	}
	if remote.Fields["title"] != "Write report" {
		t.Errorf("title = %v", remote.Fields["title"])
	}
	if remote.Fields["estimate"] != float64(3) {
		t.Errorf("estimate = %#v, want float64(3)", remote.Fields["estimate"])
	}
}

func TestStore_Create(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/entities/session" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.ID != "s1" || req.Fields["minutes"] != float64(25) {
			t.Errorf("request = %+v", req)
		}
		writeEntity(w, http.StatusCreated, EntityResponse{
			Type: entity.TypeSession, ID: req.ID, Fields: req.Fields, Version: 7,
		})
	})

	remote, err := s.Create(context.Background(),
		entity.Ref{Type: entity.TypeSession, ID: "s1"}, entity.Fields{"minutes": 25})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if remote.Version != 7 {
		t.Errorf("Version = %d, want 7", remote.Version)
	}
}

func TestStore_UpdateSendsBaseVersion(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s, want PATCH", r.Method)
		}
		if got := r.Header.Get(HeaderIfMatch); got != "1700000000000" {
			t.Errorf("If-Match = %q", got)
		}
		var req UpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		writeEntity(w, http.StatusOK, EntityResponse{
			Type: entity.TypeTask, ID: "t1", Fields: req.Fields, Version: 1700000000001,
		})
	})

	remote, err := s.Update(context.Background(),
		entity.Ref{Type: entity.TypeTask, ID: "t1"}, entity.Fields{"done": true}, 1700000000000)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if remote.Fields["done"] != true {
		t.Errorf("done = %v", remote.Fields["done"])
	}
}

func TestStore_ErrorMapping(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantSentinel  error
		wantRejected  bool
		wantTransient bool
	}{
		{"not found", http.StatusNotFound, `{"error":"missing"}`, domainErrors.ErrRemoteNotFound, true, false},
		{"exists", http.StatusConflict, "", domainErrors.ErrRemoteExists, false, true},
		{"version mismatch", http.StatusPreconditionFailed, "", domainErrors.ErrVersionMismatch, false, true},
		{"bad request", http.StatusBadRequest, `{"error":"invalid","message":"title too long"}`, domainErrors.ErrRemoteRejected, true, false},
		{"unprocessable", http.StatusUnprocessableEntity, "nope", domainErrors.ErrRemoteRejected, true, false},
		{"unauthorized", http.StatusUnauthorized, "", domainErrors.ErrRemoteUnavailable, false, true},
		{"rate limited", http.StatusTooManyRequests, "", domainErrors.ErrRemoteUnavailable, false, true},
		{"server error", http.StatusInternalServerError, "boom", domainErrors.ErrRemoteUnavailable, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := s.Fetch(context.Background(), entity.Ref{Type: entity.TypeTask, ID: "t1"})
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, tt.wantSentinel) {
				t.Errorf("error %v does not wrap %v", err, tt.wantSentinel)
			}
			if got := domainErrors.IsRejected(err); got != tt.wantRejected {
				t.Errorf("IsRejected() = %v, want %v", got, tt.wantRejected)
			}
			if got := domainErrors.IsTransient(err); got != tt.wantTransient {
				t.Errorf("IsTransient() = %v, want %v", got, tt.wantTransient)
			}
		})
	}
}

func TestParseError_UsesErrorBody(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid","message":"title too long"}`))
	})

	_, err := s.Fetch(context.Background(), entity.Ref{Type: entity.TypeTask, ID: "t1"})
	want := "[REJECTED] status 400: invalid: title too long: remote rejected mutation"
	if err == nil || err.Error() != want {
		t.Errorf("error = %v, want %q", err, want)
	}
}

func TestStore_MalformedResponseIsTransient(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	})

	_, err := s.Fetch(context.Background(), entity.Ref{Type: entity.TypeTask, ID: "t1"})
	if !domainErrors.IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestStore_BreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, WithBreaker(BreakerConfig{FailureThreshold: 2, Timeout: time.Hour}))

	ref := entity.Ref{Type: entity.TypeTask, ID: "t1"}
	for i := 0; i < 2; i++ {
		if _, err := s.Fetch(context.Background(), ref); err == nil {
			t.Fatal("expected error")
		}
	}
	if s.BreakerState() != "open" {
		t.Fatalf("BreakerState() = %q, want open", s.BreakerState())
	}

	_, err := s.Fetch(context.Background(), ref)
	if !errors.Is(err, domainErrors.ErrRemoteUnavailable) || !domainErrors.IsTransient(err) {
		t.Errorf("open breaker error = %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("server hits = %d, want 2", got)
	}
}

func TestStore_BreakerIgnoresDomainOutcomes(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	}, WithBreaker(BreakerConfig{FailureThreshold: 1, Timeout: time.Hour}))

	ref := entity.Ref{Type: entity.TypeTask, ID: "t1"}
	for i := 0; i < 3; i++ {
		_, err := s.Update(context.Background(), ref, entity.Fields{"a": 1}, 1)
		if !errors.Is(err, domainErrors.ErrVersionMismatch) {
			t.Fatalf("attempt %d: error = %v", i, err)
		}
	}
	if s.BreakerState() != "closed" {
		t.Errorf("BreakerState() = %q, want closed", s.BreakerState())
	}
}

func TestStore_TransportErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	s, err := New(url, WithTimeout(time.Second), WithLogger(logging.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Fetch(context.Background(), entity.Ref{Type: entity.TypeTask, ID: "t1"})
	if !domainErrors.IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}
