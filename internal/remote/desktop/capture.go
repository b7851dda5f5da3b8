package desktop

import (
	"errors"
	"fmt"
	"image"
	"time"
)

var (
	// ErrAlreadyCapturing is returned by Start while a session is active.
	ErrAlreadyCapturing = errors.New("capture already in progress")

	// ErrDisplayNotFound means the session's monitor is gone or no longer
	// matches the geometry it had at session start. It ends the session.
	ErrDisplayNotFound = errors.New("display not found")

	// ErrControllerClosed is returned by Start after Close.
	ErrControllerClosed = errors.New("capture controller closed")
)

// RawFrame is one grab of a monitor's pixels. It is owned by whichever
// pipeline step holds it and is never shared.
type RawFrame struct {
	Image      *image.RGBA
	CapturedAt time.Time
}

// FrameSource grabs the current pixels of a monitor.
type FrameSource interface {
	Capture(m MonitorDescriptor) (*RawFrame, error)
}

// FrameSourceFunc adapts a function to FrameSource.
type FrameSourceFunc func(m MonitorDescriptor) (*RawFrame, error)

func (f FrameSourceFunc) Capture(m MonitorDescriptor) (*RawFrame, error) {
	return f(m)
}

// EncodedFrame is the transport-ready form of one captured frame.
// Seq starts at 1 for each session and grows by one per delivered frame.
type EncodedFrame struct {
	SessionID  string    `json:"sessionId"`
	Seq        uint64    `json:"seq"`
	MonitorID  int       `json:"monitorId"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Quality    int       `json:"quality"`
	Size       int       `json:"size"`
	Data       string    `json:"data"`
	CapturedAt time.Time `json:"capturedAt"`
}

// EnumerationError reports that the displays could not be listed.
type EnumerationError struct {
	Reason string
	Err    error
}

func (e *EnumerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("enumerate monitors: %s: %v", e.Reason, e.Err)
	}
	return "enumerate monitors: " + e.Reason
}

func (e *EnumerationError) Unwrap() error {
	return e.Err
}
