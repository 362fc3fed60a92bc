package tracing

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func stdoutTracer(t *testing.T, buf *bytes.Buffer) *Tracer {
	t.Helper()
	tracer, err := New(context.Background(), Config{
		Enabled:      true,
		ExporterType: ExporterStdout,
		ServiceName:  "test-service",
		Environment:  "test",
		SampleRate:   1.0,
		Output:       buf,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tracer
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Enabled {
		t.Error("expected tracing to be disabled by default")
	}
	if cfg.ExporterType != ExporterNone {
		t.Errorf("expected exporter type 'none', got %s", cfg.ExporterType)
	}
	if cfg.ServiceName != "tempo" {
		t.Errorf("expected service name 'tempo', got %s", cfg.ServiceName)
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("expected sample rate 1.0, got %f", cfg.SampleRate)
	}
}

func TestNew_Disabled(t *testing.T) {
	ctx := context.Background()

	tracer, err := New(ctx, Config{Enabled: false, ExporterType: ExporterNone})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tracer.Enabled() {
		t.Error("expected disabled tracer")
	}

	// Spans still work when disabled
	_, cs := tracer.StartCycleSpan(ctx, "c1", "force", 2)
	cs.SetCounts(1, 0, 1, 0, 0)
	cs.End("completed")
}

func TestNew_UnsupportedExporter(t *testing.T) {
	_, err := New(context.Background(), Config{Enabled: true, ExporterType: "jaeger"})
	if err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
}

func TestCycleSpan(t *testing.T) {
	ctx := context.Background()
	buf := &bytes.Buffer{}
	tracer := stdoutTracer(t, buf)

	ctx, cs := tracer.StartCycleSpan(ctx, "cycle-1", "online", 3)
	_, es := tracer.StartEntitySpan(ctx, "task", "t1", "update", "memory")
	es.End("auto_merge", 42)
	cs.SetCounts(1, 1, 0, 0, 0)
	cs.End("completed")

	if err := tracer.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"sync.cycle", "sync.entity", "auto_merge", "entity.version"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected trace output to contain %q", want)
		}
	}
}

func TestCycleSpan_Error(t *testing.T) {
	ctx := context.Background()
	buf := &bytes.Buffer{}
	tracer := stdoutTracer(t, buf)

	_, cs := tracer.StartCycleSpan(ctx, "cycle-2", "retry", 1)
	cs.EndWithError(errors.New("remote unavailable"))
	tracer.Shutdown(ctx)

	if !strings.Contains(buf.String(), "remote unavailable") {
		t.Error("expected error to be recorded in trace output")
	}
}

func TestResolveSpan(t *testing.T) {
	ctx := context.Background()
	buf := &bytes.Buffer{}
	tracer := stdoutTracer(t, buf)

	_, span := tracer.StartResolveSpan(ctx, "conf-1", "local")
	EndSpan(span, nil)
	tracer.Shutdown(ctx)

	if !strings.Contains(buf.String(), "sync.resolve") {
		t.Error("expected resolve span in trace output")
	}
}

func TestEntitySpan_Conflict(t *testing.T) {
	ctx := context.Background()
	buf := &bytes.Buffer{}
	tracer := stdoutTracer(t, buf)

	_, es := tracer.StartEntitySpan(ctx, "task", "t1", "update", "http")
	es.Conflict("conf-9", []string{"title", "done"})
	es.End("conflicting", 0)
	tracer.Shutdown(ctx)

	out := buf.String()
	for _, want := range []string{"conflict.detected", "conf-9", "title", "done"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected trace output to contain %q", want)
		}
	}
	if strings.Contains(out, "entity.version") {
		t.Error("unwritten mutation should not record a version")
	}
}

func TestSamplers(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate float64
	}{
		{"always sample", 1.0},
		{"never sample", 0.0},
		{"ratio sample", 0.5},
		{"above max", 1.5},
		{"below min", -0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if samplerFor(tt.sampleRate) == nil {
				t.Fatal("expected sampler")
			}
		})
	}
}
