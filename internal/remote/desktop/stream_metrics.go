package desktop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/breeze-rmm/deskbridge/internal/telemetry"
	"github.com/shirou/gopsutil/v3/cpu"
)

// StreamMetrics accumulates per-session pipeline counters for the periodic
// metrics log line. Exported telemetry is recorded separately.
type StreamMetrics struct {
	mu sync.Mutex

	framesCaptured uint64
	framesSent     uint64
	framesDropped  uint64
	captureErrors  uint64
	encodeErrors   uint64

	lastCapture   time.Duration
	lastScale     time.Duration
	lastEncode    time.Duration
	lastFrameSize int
	bytesSent     uint64

	started time.Time
	now     func() time.Time
}

func newStreamMetrics(now func() time.Time) *StreamMetrics {
	return &StreamMetrics{started: now(), now: now}
}

func (m *StreamMetrics) RecordCapture(d time.Duration) {
	m.mu.Lock()
	m.framesCaptured++
	m.lastCapture = d
	m.mu.Unlock()
}

func (m *StreamMetrics) RecordEncode(e Encoded) {
	m.mu.Lock()
	m.lastScale = e.ScaleTime
	m.lastEncode = e.EncodeTime
	m.lastFrameSize = e.Size
	m.mu.Unlock()
}

func (m *StreamMetrics) RecordSend(size int) {
	m.mu.Lock()
	m.framesSent++
	m.bytesSent += uint64(size)
	m.mu.Unlock()
}

func (m *StreamMetrics) RecordDrop() {
	m.mu.Lock()
	m.framesDropped++
	m.mu.Unlock()
}

func (m *StreamMetrics) RecordFailure(stage string) {
	m.mu.Lock()
	if stage == telemetry.StageEncode {
		m.encodeErrors++
	} else {
		m.captureErrors++
	}
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time copy for logging.
type MetricsSnapshot struct {
	FramesCaptured uint64
	FramesSent     uint64
	FramesDropped  uint64
	CaptureErrors  uint64
	EncodeErrors   uint64
	CaptureMs      float64
	ScaleMs        float64
	EncodeMs       float64
	LastFrameSize  int
	BandwidthKBps  float64
	Uptime         time.Duration
}

func (m *StreamMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	uptime := m.now().Sub(m.started)
	var bw float64
	if uptime > 0 {
		bw = float64(m.bytesSent) / uptime.Seconds() / 1024
	}
	return MetricsSnapshot{
		FramesCaptured: m.framesCaptured,
		FramesSent:     m.framesSent,
		FramesDropped:  m.framesDropped,
		CaptureErrors:  m.captureErrors,
		EncodeErrors:   m.encodeErrors,
		CaptureMs:      ms(m.lastCapture),
		ScaleMs:        ms(m.lastScale),
		EncodeMs:       ms(m.lastEncode),
		LastFrameSize:  m.lastFrameSize,
		BandwidthKBps:  bw,
		Uptime:         uptime,
	}
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// logEvery writes a metrics line with a host CPU sample each interval
// until ctx is done.
func (m *StreamMetrics) logEvery(ctx context.Context, logger *slog.Logger, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Prime the CPU counter so the first tick reports a real delta.
	_, _ = cpu.Percent(0, false)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := m.Snapshot()
			attrs := []any{
				"captured", snap.FramesCaptured,
				"sent", snap.FramesSent,
				"dropped", snap.FramesDropped,
				"captureErrors", snap.CaptureErrors,
				"encodeErrors", snap.EncodeErrors,
				"captureMs", fmt.Sprintf("%.1f", snap.CaptureMs),
				"scaleMs", fmt.Sprintf("%.1f", snap.ScaleMs),
				"encodeMs", fmt.Sprintf("%.1f", snap.EncodeMs),
				"frameBytes", snap.LastFrameSize,
				"bandwidthKBps", fmt.Sprintf("%.1f", snap.BandwidthKBps),
				"uptime", snap.Uptime.Round(time.Second),
			}
			if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
				attrs = append(attrs, "hostCpuPct", fmt.Sprintf("%.1f", pct[0]))
			}
			logger.Info("capture stream metrics", attrs...)
		}
	}
}
