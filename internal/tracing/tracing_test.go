package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDisabledProvider(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	ctx, span := p.StartSpan(context.Background(), "noop")
	defer span.End()

	if ctx == nil {
		t.Fatal("StartSpan returned nil context")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestSyncSpansExported(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	p, err := NewProvider(context.Background(), Config{Enabled: true, Exporter: exporter})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	ctx, run := TraceSync(context.Background(), p.Tracer(), "run-1", "openclaw-2026-10-14.log")
	_, deliver := TraceDelivery(ctx, p.Tracer(), "http", "tool", "start")
	RecordError(ctx, errors.New("boom"))
	SetAttributes(ctx, attribute.Int("sync.lines", 3))
	deliver.End()
	run.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("Expected 2 spans, got %d", len(spans))
	}

	names := map[string]bool{}
	for _, s := range spans {
		names[s.Name] = true
	}
	if !names["sync.run"] || !names["sink.deliver"] {
		t.Errorf("unexpected span names: %v", names)
	}
}

func TestTraceRequestName(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	p, err := NewProvider(context.Background(), Config{Enabled: true, Exporter: exporter})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	_, span := TraceRequest(context.Background(), p.Tracer(), "/api/logs", "POST")
	span.End()
	_ = p.Shutdown(context.Background())

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "api.POST" {
		t.Fatalf("unexpected spans: %+v", spans)
	}
}
