package desktop

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"
)

var primaryOnly = []MonitorDescriptor{
	{ID: 0, Name: "Primary", Width: 1920, Height: 1080, IsPrimary: true},
}

func staticEnumerator(monitors []MonitorDescriptor) MonitorEnumerator {
	return MonitorEnumeratorFunc(func() ([]MonitorDescriptor, error) {
		out := make([]MonitorDescriptor, len(monitors))
		copy(out, monitors)
		return out, nil
	})
}

// scriptedSource returns a small solid frame per call. fail, when set,
// can replace the result of a given call (1-based).
type scriptedSource struct {
	mu    sync.Mutex
	calls int
	fail  func(call int) error
}

func (s *scriptedSource) Capture(MonitorDescriptor) (*RawFrame, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	fail := s.fail
	s.mu.Unlock()

	if fail != nil {
		if err := fail(call); err != nil {
			return nil, err
		}
	}
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	for i := range img.Pix {
		img.Pix[i] = byte(call)
	}
	img.Set(0, 0, color.RGBA{R: 200, A: 128})
	return &RawFrame{Image: img, CapturedAt: time.Now()}, nil
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingSink struct {
	mu          sync.Mutex
	frames      []*EncodedFrame
	received    []time.Time
	notes       []Notification
	deliverErr  func(n int) error
	deliverCall int
}

func (r *recordingSink) DeliverFrame(_ context.Context, f *EncodedFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliverCall++
	if r.deliverErr != nil {
		if err := r.deliverErr(r.deliverCall); err != nil {
			return err
		}
	}
	r.frames = append(r.frames, f)
	r.received = append(r.received, time.Now())
	return nil
}

func (r *recordingSink) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recordingSink) Frames() []*EncodedFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*EncodedFrame(nil), r.frames...)
}

func (r *recordingSink) Received() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.received...)
}

func (r *recordingSink) Events(name string) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.notes {
		if n.Event == name {
			out = append(out, n)
		}
	}
	return out
}

var errFlaky = errors.New("flaky grab")

func newTestController(t *testing.T, src FrameSource, sink Sink, fps int) *Controller {
	t.Helper()
	c := NewController(Options{
		Enumerator: staticEnumerator(primaryOnly),
		Source:     src,
		Sink:       sink,
		Config:     StreamConfig{FPS: fps, Quality: 50},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.Close(ctx); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitIdle(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}
