package desktop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/breeze-rmm/deskbridge/internal/health"
	"github.com/breeze-rmm/deskbridge/internal/logging"
	"github.com/breeze-rmm/deskbridge/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// session is the loop-side view of one capture session. Only the loop
// goroutine touches seq and failures.
type session struct {
	id        string
	monitorID int
	cfg       StreamConfig
	done      chan struct{}
	metrics   *StreamMetrics

	seq      uint64
	failures int
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, s *session) {
	defer close(s.done)
	defer c.finished(s.id)
	defer cancel()

	logger := logging.WithSession(log, s.id, s.monitorID)
	ctx, span := c.tracer.Start(ctx, "capture.session", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.Int("monitor.id", s.monitorID),
		attribute.Int("capture.fps", s.cfg.FPS),
		attribute.Int("capture.quality", s.cfg.Quality),
	))
	defer span.End()

	c.metrics.RecordSession(ctx, "started")
	logger.Info("capture session started",
		"fps", s.cfg.FPS,
		"quality", s.cfg.Quality,
		"targetWidth", s.cfg.TargetWidth,
		"targetHeight", s.cfg.TargetHeight,
		"scaleMode", string(s.cfg.ScaleMode),
	)

	err := c.loop(ctx, s, logger)
	if err != nil && !c.clearIfCurrent(s.id) {
		// Stop already ended this session and a newer one owns the state
		// and the capture health check.
		logger.Debug("superseded session ended with error", logging.KeyError, err)
		err = nil
	}

	// ctx is usually cancelled by now; the final notification must still go out.
	nctx := context.WithoutCancel(ctx)
	stopped := CaptureStopped{
		SessionID: s.id,
		MonitorID: s.monitorID,
		Reason:    StopReasonStopped,
		Frames:    s.seq,
	}
	snap := s.metrics.Snapshot()
	if err != nil {
		stopped.Reason = StopReasonError
		stopped.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.RecordSession(nctx, "error")
		c.setHealth(health.Unhealthy, err.Error())
		logger.Error("capture session ended", logging.KeyError, err, "sent", snap.FramesSent)
	} else {
		c.metrics.RecordSession(nctx, "stopped")
		logger.Info("capture session stopped",
			"captured", snap.FramesCaptured,
			"sent", snap.FramesSent,
			"dropped", snap.FramesDropped,
			"avgBandwidthKBps", fmt.Sprintf("%.1f", snap.BandwidthKBps),
			"uptime", snap.Uptime.Round(time.Second),
		)
	}
	if nerr := c.sink.Notify(nctx, Notification{Event: EventCaptureStopped, Payload: stopped}); nerr != nil {
		logger.Debug("capture-stopped not delivered", logging.KeyError, nerr)
	}
}

// loop resolves the monitor then runs iterations until ctx is cancelled.
// A non-nil return means the session ended on its own.
func (c *Controller) loop(ctx context.Context, s *session, logger *slog.Logger) error {
	monitors, err := c.enum.Enumerate()
	if err != nil {
		return fmt.Errorf("resolve monitor %d: %w", s.monitorID, err)
	}
	mon, ok := findMonitor(monitors, s.monitorID)
	if !ok {
		return fmt.Errorf("monitor %d: %w", s.monitorID, ErrDisplayNotFound)
	}

	info := MonitorInfo{
		SessionID: s.id,
		MonitorID: mon.ID,
		Name:      mon.Name,
		Width:     mon.Width,
		Height:    mon.Height,
		FPS:       s.cfg.FPS,
		Quality:   s.cfg.Quality,
	}
	if err := c.sink.Notify(ctx, Notification{Event: EventMonitorInfo, Payload: info}); err != nil {
		logger.Debug("monitor-info not delivered", logging.KeyError, err)
	}
	c.setHealth(health.Healthy, "")

	mctx, stopMetrics := context.WithCancel(ctx)
	metricsDone := make(chan struct{})
	go func() {
		defer close(metricsDone)
		s.metrics.logEvery(mctx, logger, c.metricsInterval)
	}()
	defer func() {
		stopMetrics()
		<-metricsDone
	}()

	enc := NewFrameEncoder(s.cfg)
	pacer := NewPacer(s.cfg.FPS)
	for ctx.Err() == nil {
		pacer.Mark()
		stage, err := c.step(ctx, s, mon, enc, logger)
		if errors.Is(err, ErrDisplayNotFound) {
			return err
		}
		c.afterStep(ctx, s, stage, err, logger)
		if pacer.Wait(ctx) != nil {
			break
		}
	}
	return nil
}

// step runs one capture, encode and delivery. It reports the stage it
// reached; stage is empty when the session was stopped mid-step.
func (c *Controller) step(ctx context.Context, s *session, mon MonitorDescriptor, enc *FrameEncoder, logger *slog.Logger) (stage string, err error) {
	stage = telemetry.StageCapture
	defer func() {
		if r := recover(); r != nil {
			logger.Error("capture step panicked", "stage", stage, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic during %s: %v", stage, r)
		}
	}()

	t0 := time.Now()
	raw, err := c.source.Capture(mon)
	if err != nil {
		return stage, err
	}
	if raw == nil || raw.Image == nil {
		return stage, errors.New("frame source returned no image")
	}
	s.metrics.RecordCapture(time.Since(t0))
	c.metrics.RecordCaptured(ctx)

	stage = telemetry.StageEncode
	out, err := enc.Encode(raw.Image)
	if err != nil {
		return stage, err
	}
	s.metrics.RecordEncode(out)

	if ctx.Err() != nil {
		return "", nil
	}

	stage = telemetry.StageDeliver
	frame := &EncodedFrame{
		SessionID:  s.id,
		Seq:        s.seq + 1,
		MonitorID:  mon.ID,
		Width:      out.Width,
		Height:     out.Height,
		Quality:    s.cfg.Quality,
		Size:       out.Size,
		Data:       out.Data,
		CapturedAt: raw.CapturedAt,
	}
	if err := c.sink.DeliverFrame(ctx, frame); err != nil {
		return stage, err
	}
	s.seq++
	s.metrics.RecordSend(out.Size)
	c.metrics.RecordDelivered(ctx, out.Size, out.ScaleTime+out.EncodeTime)
	return stage, nil
}

// afterStep applies the failure policy. Capture and encode failures count
// toward a streak: the first one is pushed to the UI and a long streak
// degrades the capture health check. Delivery failures are only counted.
func (c *Controller) afterStep(ctx context.Context, s *session, stage string, err error, logger *slog.Logger) {
	if err == nil || stage == telemetry.StageDeliver {
		if s.failures > 0 {
			logger.Info("capture recovered", "afterFailures", s.failures)
			if s.failures >= c.degradedAfter {
				c.setHealth(health.Healthy, "")
			}
			s.failures = 0
		}
		if err != nil {
			s.metrics.RecordDrop()
			c.metrics.RecordDropped(ctx)
			c.metrics.RecordError(ctx, stage)
			logger.Debug("frame not delivered", "seq", s.seq+1, logging.KeyError, err)
		}
		return
	}

	s.failures++
	s.metrics.RecordFailure(stage)
	c.metrics.RecordError(ctx, stage)

	if s.failures == 1 {
		logger.Warn("frame pipeline failed", "stage", stage, logging.KeyError, err)
		n := Notification{Event: EventCaptureError, Payload: CaptureError{
			SessionID: s.id,
			Stage:     stage,
			Error:     err.Error(),
		}}
		if nerr := c.sink.Notify(ctx, n); nerr != nil {
			logger.Debug("capture-error not delivered", logging.KeyError, nerr)
		}
	} else {
		logger.Debug("frame pipeline failed", "stage", stage, "consecutive", s.failures, logging.KeyError, err)
	}
	if s.failures == c.degradedAfter {
		msg := fmt.Sprintf("%d consecutive %s failures", s.failures, stage)
		logger.Warn("capture degraded", "reason", msg)
		c.setHealth(health.Degraded, msg)
	}
}
