package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumFor(t *testing.T, data metricdata.Aggregation, key, want string) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("aggregation is %T, want Sum[int64]", data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if key != "" {
			v, ok := dp.Attributes.Value(attribute.Key(key))
			if !ok || v.AsString() != want {
				continue
			}
		}
		total += dp.Value
	}
	return total
}

func TestFrameCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCaptured(ctx)
	m.RecordCaptured(ctx)
	m.RecordDelivered(ctx, 4096, 3*time.Millisecond)
	m.RecordDropped(ctx)

	got := collect(t, reader)
	if n := sumFor(t, got["capture.frames.captured"], "", ""); n != 2 {
		t.Fatalf("captured = %d, want 2", n)
	}
	if n := sumFor(t, got["capture.frames.delivered"], "", ""); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	if n := sumFor(t, got["capture.frames.dropped"], "", ""); n != 1 {
		t.Fatalf("dropped = %d, want 1", n)
	}

	hist, ok := got["capture.frame.size"].(metricdata.Histogram[int64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Sum != 4096 {
		t.Fatalf("frame size histogram = %+v", got["capture.frame.size"])
	}
}

func TestErrorAndSessionAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordError(ctx, StageCapture)
	m.RecordError(ctx, StageCapture)
	m.RecordError(ctx, StageDeliver)
	m.RecordSession(ctx, "started")
	m.RecordInput(ctx, "MouseMove", true)
	m.RecordInput(ctx, "KeyPress", false)

	got := collect(t, reader)
	if n := sumFor(t, got["capture.errors"], "stage", StageCapture); n != 2 {
		t.Fatalf("capture stage errors = %d, want 2", n)
	}
	if n := sumFor(t, got["capture.errors"], "stage", StageDeliver); n != 1 {
		t.Fatalf("deliver stage errors = %d, want 1", n)
	}
	if n := sumFor(t, got["capture.sessions"], "outcome", "started"); n != 1 {
		t.Fatalf("started sessions = %d, want 1", n)
	}
	if n := sumFor(t, got["input.events"], "result", "error"); n != 1 {
		t.Fatalf("failed input events = %d, want 1", n)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordCaptured(ctx)
	m.RecordDelivered(ctx, 1, time.Millisecond)
	m.RecordDropped(ctx)
	m.RecordError(ctx, StageEncode)
	m.RecordSession(ctx, "stopped")
	m.RecordInput(ctx, "MouseClick", true)
}

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	tel, err := Init(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if tel.Enabled() {
		t.Fatal("telemetry should be disabled without an endpoint")
	}
	if tel.Tracer == nil || tel.Metrics == nil {
		t.Fatal("tracer and metrics must be usable without an endpoint")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
