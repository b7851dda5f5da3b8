package desktop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/breeze-rmm/deskbridge/internal/health"
	"github.com/breeze-rmm/deskbridge/internal/logging"
	"github.com/breeze-rmm/deskbridge/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var log = logging.L("capture")

// SessionState is a snapshot of the controller. ActiveMonitor is non-nil
// exactly when Capturing is true.
type SessionState struct {
	Capturing     bool      `json:"capturing"`
	ActiveMonitor *int      `json:"activeMonitor"`
	SessionID     string    `json:"sessionId,omitempty"`
	StartedAt     time.Time `json:"startedAt,omitzero"`
}

type Options struct {
	Enumerator MonitorEnumerator // defaults to ScreenEnumerator
	Source     FrameSource       // defaults to ScreenSource
	Sink       Sink              // nil discards everything

	// Config is the default for sessions started without an override.
	Config StreamConfig

	Health  *health.Monitor
	Metrics *telemetry.Metrics
	Tracer  trace.Tracer

	// DegradedAfter consecutive capture/encode failures mark the capture
	// health check degraded. Defaults to 10.
	DegradedAfter int
	// MetricsInterval between per-session metrics log lines. Zero disables.
	MetricsInterval time.Duration
}

// Controller gates capture so that at most one session runs at a time.
// Start and Stop only flip state under the lock; all capture work happens
// on the session's own goroutine.
type Controller struct {
	enum            MonitorEnumerator
	source          FrameSource
	sink            Sink
	health          *health.Monitor
	metrics         *telemetry.Metrics
	tracer          trace.Tracer
	degradedAfter   int
	metricsInterval time.Duration

	base       context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	cfg     StreamConfig
	state   SessionState
	cancel  context.CancelFunc
	running map[string]chan struct{}
	closed  bool
}

func NewController(opts Options) *Controller {
	if opts.Enumerator == nil {
		opts.Enumerator = ScreenEnumerator{}
	}
	if opts.Source == nil {
		opts.Source = ScreenSource{}
	}
	if opts.Sink == nil {
		opts.Sink = discardSink{}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(telemetry.ServiceName)
	}
	if opts.DegradedAfter < 1 {
		opts.DegradedAfter = 10
	}
	if opts.Config == (StreamConfig{}) {
		opts.Config = DefaultStreamConfig()
	}

	base, cancel := context.WithCancel(context.Background())
	return &Controller{
		enum:            opts.Enumerator,
		source:          opts.Source,
		sink:            opts.Sink,
		health:          opts.Health,
		metrics:         opts.Metrics,
		tracer:          opts.Tracer,
		degradedAfter:   opts.DegradedAfter,
		metricsInterval: opts.MetricsInterval,
		base:            base,
		baseCancel:      cancel,
		cfg:             opts.Config.Normalized(),
		running:         make(map[string]chan struct{}),
	}
}

// Monitors enumerates the attached displays. Failures are always an
// *EnumerationError.
func (c *Controller) Monitors() ([]MonitorDescriptor, error) {
	monitors, err := c.enum.Enumerate()
	if err != nil {
		var ee *EnumerationError
		if !errors.As(err, &ee) {
			err = &EnumerationError{Reason: "enumerator failed", Err: err}
		}
		return nil, err
	}
	return monitors, nil
}

// Config returns the default stream configuration for new sessions.
func (c *Controller) Config() StreamConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// SetConfig replaces the default for sessions started afterwards. A running
// session keeps the configuration it started with.
func (c *Controller) SetConfig(cfg StreamConfig) {
	c.mu.Lock()
	c.cfg = cfg.Normalized()
	c.mu.Unlock()
}

// Start begins capturing monitorID with the default configuration.
func (c *Controller) Start(monitorID int) (string, error) {
	return c.StartWithConfig(monitorID, c.Config())
}

// StartWithConfig begins a session and returns its ID without waiting for
// the first frame. While a session is active it fails with
// ErrAlreadyCapturing and leaves that session untouched. The monitor is
// resolved by the session itself; an unknown ID ends the session with a
// capture-stopped notification.
func (c *Controller) StartWithConfig(monitorID int, cfg StreamConfig) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrControllerClosed
	}
	if c.state.Capturing {
		return "", ErrAlreadyCapturing
	}

	ctx, cancel := context.WithCancel(c.base)
	s := &session{
		id:        uuid.NewString(),
		monitorID: monitorID,
		cfg:       cfg.Normalized(),
		done:      make(chan struct{}),
		metrics:   newStreamMetrics(time.Now),
	}
	mon := monitorID
	c.state = SessionState{
		Capturing:     true,
		ActiveMonitor: &mon,
		SessionID:     s.id,
		StartedAt:     time.Now(),
	}
	c.cancel = cancel
	c.running[s.id] = s.done

	go c.run(ctx, cancel, s)
	return s.id, nil
}

// Stop ends the current session, if any. It does not wait for the loop to
// exit; use Wait for that.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	id := c.state.SessionID
	c.state = SessionState{}
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		log.Info("capture stop requested", logging.KeySessionID, id)
	}
}

// State returns a copy of the current session state.
func (c *Controller) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state
	if st.ActiveMonitor != nil {
		mon := *st.ActiveMonitor
		st.ActiveMonitor = &mon
	}
	return st
}

// Wait blocks until every session loop started so far has exited.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	pending := make([]chan struct{}, 0, len(c.running))
	for _, done := range c.running {
		pending = append(pending, done)
	}
	c.mu.Unlock()

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops any session, rejects further starts and waits for loops to
// exit or ctx to expire.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.Stop()
	c.baseCancel()
	return c.Wait(ctx)
}

// clearIfCurrent resets the state on behalf of a loop that ended on its own,
// unless a newer session has replaced it.
func (c *Controller) clearIfCurrent(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.SessionID != id {
		return false
	}
	c.state = SessionState{}
	c.cancel = nil
	return true
}

func (c *Controller) finished(id string) {
	c.mu.Lock()
	delete(c.running, id)
	c.mu.Unlock()
}

func (c *Controller) setHealth(status health.Status, msg string) {
	if c.health != nil {
		c.health.Update(health.Capture, status, msg)
	}
}
