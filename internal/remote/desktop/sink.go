package desktop

import "context"

// Event names pushed to the UI.
const (
	EventFrame          = "frame"
	EventMonitorInfo    = "monitor-info"
	EventCaptureError   = "capture-error"
	EventCaptureStopped = "capture-stopped"
)

// Reasons carried by a capture-stopped notification.
const (
	StopReasonStopped = "stopped"
	StopReasonError   = "error"
)

// Sink receives everything a capture session emits. Implementations must
// not block for long: the capture loop calls them inline.
type Sink interface {
	DeliverFrame(ctx context.Context, f *EncodedFrame) error
	Notify(ctx context.Context, n Notification) error
}

// Notification is a named non-frame event.
type Notification struct {
	Event   string
	Payload any
}

// MonitorInfo is sent once when a session has resolved its monitor.
type MonitorInfo struct {
	SessionID string `json:"sessionId"`
	MonitorID int    `json:"monitorId"`
	Name      string `json:"name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	FPS       int    `json:"fps"`
	Quality   int    `json:"quality"`
}

// CaptureError is sent on the first failure of a run of consecutive
// capture or encode failures.
type CaptureError struct {
	SessionID string `json:"sessionId"`
	Stage     string `json:"stage"`
	Error     string `json:"error"`
}

// CaptureStopped is sent whenever a session's loop exits.
type CaptureStopped struct {
	SessionID string `json:"sessionId"`
	MonitorID int    `json:"monitorId"`
	Reason    string `json:"reason"`
	Error     string `json:"error,omitempty"`
	Frames    uint64 `json:"frames"`
}

type discardSink struct{}

func (discardSink) DeliverFrame(context.Context, *EncodedFrame) error { return nil }
func (discardSink) Notify(context.Context, Notification) error { return nil }
