package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	const traceparent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	ctx := ContextWithTraceContext(context.Background(), traceparent, "")

	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || sc.TraceID().String() != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected extracted span context, got %+v", sc)
	}

	gotParent, _ := TraceContextStrings(ctx)
	if gotParent != traceparent {
		t.Fatalf("expected %s, got %s", traceparent, gotParent)
	}
}

func TestContextWithTraceContext_EmptyIsNoop(t *testing.T) {
	ctx := context.Background()
	if got := ContextWithTraceContext(ctx, "", ""); got != ctx {
		t.Fatal("expected the same context back")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_SAMPLING_RATIO", "2")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg := ConfigFromEnv("booking-service")
	if !cfg.Enabled || cfg.OTLPEndpoint != "collector:4317" || cfg.ServiceName != "booking-service" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.SampleRatio != 1 {
		t.Fatalf("out-of-range ratio should fall back to 1, got %v", cfg.SampleRatio)
	}
}

func TestTraceContextStrings_NoSpan(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	parent, state := TraceContextStrings(context.Background())
	if parent != "" || state != "" {
		t.Fatalf("expected empty strings, got %q %q", parent, state)
	}
}

func TestContextWithTraceContext_TracestateAloneIsNoop(t *testing.T) {
	ctx := context.Background()
	if got := ContextWithTraceContext(ctx, "", "vendor=abc"); got != ctx {
		t.Fatal("expected the same context back")
	}
}

func TestContextWithTraceContext_KeepsTracestate(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	ctx := ContextWithTraceContext(context.Background(), "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", "vendor=abc")
	if _, state := TraceContextStrings(ctx); state != "vendor=abc" {
		t.Fatalf("expected tracestate to survive, got %q", state)
	}
}
