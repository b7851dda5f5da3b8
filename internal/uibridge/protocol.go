package uibridge

import (
	"encoding/json"

	"github.com/breeze-rmm/deskbridge/internal/remote/desktop"
	"github.com/breeze-rmm/deskbridge/internal/remote/input"
)

// Commands accepted from the UI.
const (
	CmdEnumerateMonitors = "enumerate_monitors"
	CmdStartCapture      = "start_capture"
	CmdStopCapture       = "stop_capture"
	CmdSimulateInput     = "simulate_input"
	CmdCaptureState      = "capture_state"
)

// Stable error codes carried in failed responses.
const (
	CodeAlreadyCapturing  = "already_capturing"
	CodeEnumerationFailed = "enumeration_failed"
	CodeBadRequest        = "bad_request"
	CodeUnknownCommand    = "unknown_command"
	CodeInternal          = "internal"
)

const (
	msgTypeResponse = "response"
	msgTypeEvent    = "event"
)

// Request is one UI command. ID is echoed in the response.
type Request struct {
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

type Response struct {
	Type   string     `json:"type"`
	ID     string     `json:"id"`
	OK     bool       `json:"ok"`
	Result any        `json:"result,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventMessage is a server push: frame, monitor-info, capture-error or
// capture-stopped.
type EventMessage struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type startArgs struct {
	MonitorID *int            `json:"monitorId"`
	Config    *streamOverride `json:"config,omitempty"`
}

// streamOverride carries the optional per-session settings of a
// start_capture request. Absent fields keep the configured default.
type streamOverride struct {
	FPS          *int    `json:"fps,omitempty"`
	Quality      *int    `json:"quality,omitempty"`
	TargetWidth  *int    `json:"targetWidth,omitempty"`
	TargetHeight *int    `json:"targetHeight,omitempty"`
	ScaleMode    *string `json:"scaleMode,omitempty"`
}

func (o *streamOverride) apply(cfg desktop.StreamConfig) desktop.StreamConfig {
	if o == nil {
		return cfg
	}
	if o.FPS != nil {
		cfg.FPS = *o.FPS
	}
	if o.Quality != nil {
		cfg.Quality = *o.Quality
	}
	if o.TargetWidth != nil {
		cfg.TargetWidth = *o.TargetWidth
	}
	if o.TargetHeight != nil {
		cfg.TargetHeight = *o.TargetHeight
	}
	if o.ScaleMode != nil {
		cfg.ScaleMode = desktop.ScaleMode(*o.ScaleMode)
	}
	return cfg.Normalized()
}

type startResult struct {
	SessionID string `json:"sessionId"`
}

type simulateArgs struct {
	Event json.RawMessage `json:"event"`
}

func decodeEvent(raw json.RawMessage) (input.Event, error) {
	var ev input.Event
	err := json.Unmarshal(raw, &ev)
	return ev, err
}
