package tracing_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/perfwatch/internal/config"
	"github.com/torosent/perfwatch/internal/tracing"
)

func recorder(t *testing.T) (*tracetest.InMemoryExporter, trace.Tracer) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, tp.Tracer("perfwatch-test")
}

func attrs(span tracetest.SpanStub) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(span.Attributes))
	for _, kv := range span.Attributes {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestInit(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	off := false

	tests := []struct {
		name          string
		cfg           config.TracingConfig
		wantErr       bool
		wantPropagate bool
	}{
		{name: "no endpoint", cfg: config.TracingConfig{}},
		{
			name:          "grpc collector",
			cfg:           config.TracingConfig{Endpoint: "localhost:4317", Protocol: "grpc", Insecure: true, SampleRate: 1},
			wantPropagate: true,
		},
		{
			name:          "http collector",
			cfg:           config.TracingConfig{Endpoint: "localhost:4318", Protocol: "HTTP", Insecure: true, SampleRate: 0.25},
			wantPropagate: true,
		},
		{
			name: "propagation switched off",
			cfg:  config.TracingConfig{Endpoint: "localhost:4317", Insecure: true, Propagate: &off},
		},
		{name: "unknown protocol", cfg: config.TracingConfig{Endpoint: "localhost:4317", Protocol: "zipkin"}, wantErr: true},
		{name: "sample rate above one", cfg: config.TracingConfig{Endpoint: "localhost:4317", SampleRate: 1.5}, wantErr: true},
		{name: "negative sample rate", cfg: config.TracingConfig{Endpoint: "localhost:4317", SampleRate: -0.1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tracing.Init(context.Background(), tt.cfg, tracing.Process{Command: "run", Host: "cdp"})
			if tt.wantErr {
				if err == nil {
					t.Fatal("Init() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

			if got := p.ShouldPropagate(); got != tt.wantPropagate {
				t.Errorf("ShouldPropagate() = %v, want %v", got, tt.wantPropagate)
			}
		})
	}
}

func TestDisabledProviderIsNoop(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	p, err := tracing.Init(context.Background(), config.TracingConfig{}, tracing.Process{})
	if err != nil {
		t.Fatal(err)
	}
	_, span := p.Tracer().Start(context.Background(), "export")
	span.End()
	if span.SpanContext().IsValid() {
		t.Error("disabled provider produced a recording span")
	}

	var nilProvider *tracing.Provider
	if nilProvider.ShouldPropagate() {
		t.Error("nil provider propagates")
	}
	if err := nilProvider.Shutdown(context.Background()); err != nil {
		t.Errorf("nil provider Shutdown() = %v", err)
	}
	_, span = nilProvider.Tracer().Start(context.Background(), "export")
	span.End()
}

func TestExportSpan(t *testing.T) {
	exporter, tracer := recorder(t)

	_, span := tracing.StartExportSpan(context.Background(), tracer, "01J9SESSION", "async", "https://collector.example/collect")
	tracing.EndSpan(span, nil, attribute.Int("perfwatch.export.bytes", 512))

	_, span = tracing.StartExportSpan(context.Background(), tracer, "", "teardown", "")
	tracing.EndSpan(span, errors.New("connection refused"))

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}

	async := spans[0]
	if async.Name != "perfwatch.export async" || async.SpanKind != trace.SpanKindClient {
		t.Errorf("async span = %q kind %v", async.Name, async.SpanKind)
	}
	a := attrs(async)
	if a["perfwatch.export.mode"].AsString() != "async" ||
		a["perfwatch.export.destination"].AsString() != "https://collector.example/collect" ||
		a["perfwatch.export.bytes"].AsInt64() != 512 ||
		a["perfwatch.session.id"].AsString() != "01J9SESSION" {
		t.Errorf("async attributes = %v", async.Attributes)
	}
	if async.Status.Code != codes.Ok {
		t.Errorf("async status = %v, want Ok", async.Status.Code)
	}

	teardown := spans[1]
	if _, ok := attrs(teardown)["perfwatch.export.destination"]; ok {
		t.Error("teardown span without destination carries one")
	}
	if _, ok := attrs(teardown)["perfwatch.session.id"]; ok {
		t.Error("teardown span without session carries one")
	}
	if teardown.Status.Code != codes.Error || teardown.Status.Description != "connection refused" {
		t.Errorf("teardown status = %+v", teardown.Status)
	}
	if len(teardown.Events) == 0 || teardown.Events[0].Name != "exception" {
		t.Error("error was not recorded as an event")
	}
}

func TestCollectSpanContinuesExportTrace(t *testing.T) {
	exporter, tracer := recorder(t)

	ctx, export := tracing.StartExportSpan(context.Background(), tracer, "", "teardown", "")
	headers := make(http.Header)
	tracing.InjectHTTPHeaders(ctx, headers)
	export.End()

	if len(headers.Get("Traceparent")) != 55 {
		t.Fatalf("traceparent = %q", headers.Get("Traceparent"))
	}

	_, collect := tracing.StartCollectSpan(context.Background(), tracer, headers)
	collect.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[1].Name != "perfwatch.collect" || spans[1].SpanKind != trace.SpanKindServer {
		t.Errorf("collect span = %q kind %v", spans[1].Name, spans[1].SpanKind)
	}
	if spans[1].Parent.SpanID() != spans[0].SpanContext.SpanID() {
		t.Error("collect span is not a child of the export span")
	}
}

func TestInjectWithoutSpanLeavesHeadersEmpty(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	headers := make(http.Header)
	tracing.InjectHTTPHeaders(context.Background(), headers)
	if got := headers.Get("Traceparent"); got != "" {
		t.Errorf("traceparent = %q, want empty", got)
	}

	// A collect span without incoming context starts a new root.
	_, tracer := recorder(t)
	_, span := tracing.StartCollectSpan(context.Background(), tracer, headers)
	defer span.End()
	if !span.SpanContext().IsValid() {
		t.Error("collect span without parent is not recorded")
	}
}
