package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jbctechsolutions/tempo/internal/infrastructure/logging"
)

type recorder struct {
	mu      sync.Mutex
	reports []bool
}

func (r *recorder) Report(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, online)
}

func (r *recorder) all() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.reports...)
}

func TestNewProber_Validation(t *testing.T) {
	if _, err := NewProber(Config{}, &recorder{}); err == nil {
		t.Error("expected error for missing URL")
	}
	if _, err := NewProber(Config{URL: "http://x"}, nil); err == nil {
		t.Error("expected error for missing reporter")
	}
}

func TestProbe_StatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"ok", http.StatusOK, true},
		{"unauthorized still reachable", http.StatusUnauthorized, true},
		{"not found still reachable", http.StatusNotFound, true},
		{"server error", http.StatusInternalServerError, false},
		{"unavailable", http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			rec := &recorder{}
			p, err := NewProber(Config{URL: server.URL, Logger: logging.Discard()}, rec)
			if err != nil {
				t.Fatal(err)
			}

			if got := p.Probe(context.Background()); got != tt.want {
				t.Errorf("Probe() = %v, want %v", got, tt.want)
			}
			if got := rec.all(); len(got) != 1 || got[0] != tt.want {
				t.Errorf("reports = %v", got)
			}
		})
	}
}

func TestProbe_UnreachableIsOffline(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	rec := &recorder{}
	p, err := NewProber(Config{URL: url, Timeout: time.Second, Logger: logging.Discard()}, rec)
	if err != nil {
		t.Fatal(err)
	}
	if p.Probe(context.Background()) {
		t.Error("expected offline")
	}
	if got := rec.all(); len(got) != 1 || got[0] {
		t.Errorf("reports = %v", got)
	}
}

func TestProbe_CancelledContextDoesNotReport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	rec := &recorder{}
	p, err := NewProber(Config{URL: server.URL, Logger: logging.Discard()}, rec)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Probe(ctx)
	if got := rec.all(); len(got) != 0 {
		t.Errorf("reports = %v, want none", got)
	}
}

func TestRun_ProbesUntilCancelled(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	rec := &recorder{}
	p, err := NewProber(Config{URL: server.URL, Interval: 10 * time.Millisecond, Logger: logging.Discard()}, rec)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for hits.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d probes", hits.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	for _, online := range rec.all() {
		if !online {
			t.Error("unexpected offline report")
		}
	}
}
