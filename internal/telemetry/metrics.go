package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/breeze-rmm/deskbridge"

// Failure stages for capture.errors.
const (
	StageCapture = "capture"
	StageEncode  = "encode"
	StageDeliver = "deliver"
)

// Metrics holds the instruments for the capture pipeline and input path.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	FramesCaptured  metric.Int64Counter
	FramesDelivered metric.Int64Counter
	FramesDropped   metric.Int64Counter
	CaptureErrors   metric.Int64Counter
	Sessions        metric.Int64Counter
	InputEvents     metric.Int64Counter

	FrameBytes     metric.Int64Histogram
	EncodeDuration metric.Float64Histogram
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.FramesCaptured, err = meter.Int64Counter("capture.frames.captured",
		metric.WithDescription("Raw frames grabbed from the display"),
		metric.WithUnit("{frame}"))
	if err != nil {
		return nil, err
	}

	m.FramesDelivered, err = meter.Int64Counter("capture.frames.delivered",
		metric.WithDescription("Encoded frames accepted by the delivery sink"),
		metric.WithUnit("{frame}"))
	if err != nil {
		return nil, err
	}

	m.FramesDropped, err = meter.Int64Counter("capture.frames.dropped",
		metric.WithDescription("Encoded frames the delivery sink refused"),
		metric.WithUnit("{frame}"))
	if err != nil {
		return nil, err
	}

	m.CaptureErrors, err = meter.Int64Counter("capture.errors",
		metric.WithDescription("Transient pipeline failures partitioned by stage (capture, encode, deliver)"))
	if err != nil {
		return nil, err
	}

	m.Sessions, err = meter.Int64Counter("capture.sessions",
		metric.WithDescription("Capture sessions partitioned by lifecycle outcome (started, stopped, error)"))
	if err != nil {
		return nil, err
	}

	m.InputEvents, err = meter.Int64Counter("input.events",
		metric.WithDescription("Synthesized input events partitioned by type and result"))
	if err != nil {
		return nil, err
	}

	m.FrameBytes, err = meter.Int64Histogram("capture.frame.size",
		metric.WithDescription("Compressed frame size before base64"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}

	m.EncodeDuration, err = meter.Float64Histogram("capture.frame.encode.duration",
		metric.WithDescription("Time spent scaling and compressing one frame"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) RecordCaptured(ctx context.Context) {
	if m == nil {
		return
	}
	m.FramesCaptured.Add(ctx, 1)
}

// RecordDelivered records one delivered frame with its compressed size and
// the time it took to encode.
func (m *Metrics) RecordDelivered(ctx context.Context, size int, encode time.Duration) {
	if m == nil {
		return
	}
	m.FramesDelivered.Add(ctx, 1)
	m.FrameBytes.Record(ctx, int64(size))
	m.EncodeDuration.Record(ctx, float64(encode.Microseconds())/1000)
}

func (m *Metrics) RecordDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.FramesDropped.Add(ctx, 1)
}

func (m *Metrics) RecordError(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.CaptureErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordSession counts a session lifecycle transition: "started",
// "stopped" or "error".
func (m *Metrics) RecordSession(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordInput(ctx context.Context, kind string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.InputEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("input.type", kind),
		attribute.String("result", result),
	))
}
