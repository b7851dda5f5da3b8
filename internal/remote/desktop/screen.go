package desktop

import (
	"fmt"
	"image"
	"time"

	"github.com/kbinani/screenshot"
)

// ScreenEnumerator lists displays through the OS screenshot facility.
type ScreenEnumerator struct{}

func (ScreenEnumerator) Enumerate() (monitors []MonitorDescriptor, err error) {
	defer func() {
		if r := recover(); r != nil {
			monitors, err = nil, &EnumerationError{Reason: fmt.Sprintf("display query panicked: %v", r)}
		}
	}()

	n := screenshot.NumActiveDisplays()
	if n <= 0 {
		return nil, &EnumerationError{Reason: "no active displays"}
	}

	monitors = make([]MonitorDescriptor, 0, n)
	primary := -1
	for i := 0; i < n; i++ {
		b := screenshot.GetDisplayBounds(i)
		if b.Empty() {
			continue
		}
		if primary < 0 && b.Min == (image.Point{}) {
			primary = len(monitors)
		}
		monitors = append(monitors, MonitorDescriptor{
			ID:     i,
			Name:   fmt.Sprintf("Display %d", i+1),
			Width:  b.Dx(),
			Height: b.Dy(),
			X:      b.Min.X,
			Y:      b.Min.Y,
		})
	}
	if len(monitors) == 0 {
		return nil, &EnumerationError{Reason: "all displays report empty bounds"}
	}
	if primary < 0 {
		primary = 0
	}
	monitors[primary].IsPrimary = true
	return monitors, nil
}

// ScreenSource captures display pixels through the OS screenshot facility.
type ScreenSource struct{}

// Capture grabs m's rectangle of the virtual desktop. If the display index
// no longer exists, or now has a different geometry, it returns
// ErrDisplayNotFound.
func (ScreenSource) Capture(m MonitorDescriptor) (*RawFrame, error) {
	if m.ID < 0 || m.ID >= screenshot.NumActiveDisplays() {
		return nil, fmt.Errorf("monitor %d: %w", m.ID, ErrDisplayNotFound)
	}
	b := screenshot.GetDisplayBounds(m.ID)
	if b.Dx() != m.Width || b.Dy() != m.Height || b.Min.X != m.X || b.Min.Y != m.Y {
		return nil, fmt.Errorf("monitor %d geometry changed to %v: %w", m.ID, b, ErrDisplayNotFound)
	}

	img, err := screenshot.CaptureRect(b)
	if err != nil {
		return nil, fmt.Errorf("capture monitor %d: %w", m.ID, err)
	}
	return &RawFrame{Image: img, CapturedAt: time.Now()}, nil
}
