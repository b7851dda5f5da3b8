package uibridge

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/breeze-rmm/deskbridge/internal/health"
	"github.com/breeze-rmm/deskbridge/internal/remote/desktop"
	"github.com/breeze-rmm/deskbridge/internal/remote/input"
	"github.com/gorilla/websocket"
)

var testMonitors = []desktop.MonitorDescriptor{
	{ID: 0, Name: "Display 1", Width: 64, Height: 32, IsPrimary: true},
	{ID: 1, Name: "Display 2", Width: 32, Height: 32, X: 64},
}

func solidSource(m desktop.MonitorDescriptor) (*desktop.RawFrame, error) {
	img := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	return &desktop.RawFrame{Image: img, CapturedAt: time.Now()}, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []input.Event
	err    error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, ev input.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return d.err
}

func (d *recordingDispatcher) Events() []input.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]input.Event(nil), d.events...)
}

type bridgeFixture struct {
	srv    *Server
	ctrl   *desktop.Controller
	hub    *Hub
	health *health.Monitor
	input  *recordingDispatcher
	ts     *httptest.Server
}

func newFixture(t *testing.T, enum desktop.MonitorEnumerator, opts Options) *bridgeFixture {
	t.Helper()
	if enum == nil {
		enum = desktop.MonitorEnumeratorFunc(func() ([]desktop.MonitorDescriptor, error) {
			return append([]desktop.MonitorDescriptor(nil), testMonitors...), nil
		})
	}

	hub := NewHub()
	mon := health.NewMonitor()
	ctrl := desktop.NewController(desktop.Options{
		Enumerator: enum,
		Source:     desktop.FrameSourceFunc(solidSource),
		Sink:       hub,
		Config:     desktop.StreamConfig{FPS: 30, Quality: 50},
		Health:     mon,
	})
	disp := &recordingDispatcher{}

	opts.ListenAddr = "127.0.0.1:0"
	opts.Controller = ctrl
	opts.Input = disp
	opts.Hub = hub
	opts.Health = mon
	srv, err := NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		ts.Close()
		if err := ctrl.Close(ctx); err != nil {
			t.Errorf("controller Close: %v", err)
		}
	})
	return &bridgeFixture{srv: srv, ctrl: ctrl, hub: hub, health: mon, input: disp, ts: ts}
}

func (f *bridgeFixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
}

func (f *bridgeFixture) dial(t *testing.T) *testConn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testConn{Conn: conn}
}

// testConn keeps messages skipped while looking for another one, since a
// response and the events it triggers can arrive in either order.
type testConn struct {
	*websocket.Conn
	pending []wireMessage
}

// wireMessage covers both responses and events.
type wireMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Result  json.RawMessage `json:"result"`
	Error   *ErrorBody      `json:"error"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func send(t *testing.T, conn *testConn, id, command string, args any) {
	t.Helper()
	req := map[string]any{"id": id, "command": command}
	if args != nil {
		req["args"] = args
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write %s: %v", command, err)
	}
}

// next returns the first message, buffered or new, that matches.
func next(t *testing.T, conn *testConn, match func(wireMessage) bool) wireMessage {
	t.Helper()
	for i, msg := range conn.pending {
		if match(msg) {
			conn.pending = append(conn.pending[:i], conn.pending[i+1:]...)
			return msg
		}
	}
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if match(msg) {
			return msg
		}
		if msg.Event != desktop.EventFrame {
			conn.pending = append(conn.pending, msg)
		}
	}
}

func response(t *testing.T, conn *testConn, id string) wireMessage {
	t.Helper()
	return next(t, conn, func(m wireMessage) bool { return m.Type == "response" && m.ID == id })
}

func event(t *testing.T, conn *testConn, name string) wireMessage {
	t.Helper()
	return next(t, conn, func(m wireMessage) bool { return m.Type == "event" && m.Event == name })
}

func call(t *testing.T, conn *testConn, id, command string, args any) wireMessage {
	t.Helper()
	send(t, conn, id, command, args)
	return response(t, conn, id)
}

func TestNewServerRejectsPublicAddress(t *testing.T) {
	_, err := NewServer(Options{ListenAddr: "0.0.0.0:47831", Controller: desktop.NewController(desktop.Options{})})
	if err == nil {
		t.Fatal("expected error for non-loopback listen address")
	}
}

func TestEnumerateMonitors(t *testing.T) {
	f := newFixture(t, nil, Options{})
	conn := f.dial(t)

	resp := call(t, conn, "1", CmdEnumerateMonitors, nil)
	if !resp.OK {
		t.Fatalf("enumerate failed: %+v", resp.Error)
	}
	var monitors []desktop.MonitorDescriptor
	if err := json.Unmarshal(resp.Result, &monitors); err != nil {
		t.Fatalf("unmarshal monitors: %v", err)
	}
	if len(monitors) != 2 || monitors[1].Name != "Display 2" || !monitors[0].IsPrimary {
		t.Fatalf("monitors = %+v", monitors)
	}
}

func TestEnumerateMonitorsFailure(t *testing.T) {
	enum := desktop.MonitorEnumeratorFunc(func() ([]desktop.MonitorDescriptor, error) {
		return nil, errors.New("no display server")
	})
	f := newFixture(t, enum, Options{})
	conn := f.dial(t)

	resp := call(t, conn, "1", CmdEnumerateMonitors, nil)
	if resp.OK || resp.Error == nil || resp.Error.Code != CodeEnumerationFailed {
		t.Fatalf("response = %+v, want enumeration_failed", resp)
	}
	if !strings.Contains(resp.Error.Message, "no display server") {
		t.Fatalf("message %q lost the cause", resp.Error.Message)
	}
}

func TestCaptureRoundTrip(t *testing.T) {
	f := newFixture(t, nil, Options{})
	conn := f.dial(t)

	resp := call(t, conn, "start", CmdStartCapture, map[string]any{"monitorId": 1, "config": map[string]any{"quality": 40}})
	if !resp.OK {
		t.Fatalf("start failed: %+v", resp.Error)
	}
	var started startResult
	if err := json.Unmarshal(resp.Result, &started); err != nil || started.SessionID == "" {
		t.Fatalf("start result %s: %v", resp.Result, err)
	}

	info := event(t, conn, desktop.EventMonitorInfo)
	var mi desktop.MonitorInfo
	if err := json.Unmarshal(info.Payload, &mi); err != nil {
		t.Fatalf("unmarshal monitor-info: %v", err)
	}
	if mi.MonitorID != 1 || mi.Width != 32 || mi.Quality != 40 || mi.SessionID != started.SessionID {
		t.Fatalf("monitor-info = %+v", mi)
	}

	var last uint64
	for i := 0; i < 3; i++ {
		msg := event(t, conn, desktop.EventFrame)
		var frame desktop.EncodedFrame
		if err := json.Unmarshal(msg.Payload, &frame); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		if frame.SessionID != started.SessionID || frame.MonitorID != 1 || frame.Data == "" {
			t.Fatalf("frame = %+v", frame)
		}
		if frame.Seq <= last {
			t.Fatalf("frame seq %d after %d", frame.Seq, last)
		}
		last = frame.Seq
	}

	resp = call(t, conn, "again", CmdStartCapture, map[string]any{"monitorId": 0})
	if resp.OK || resp.Error.Code != CodeAlreadyCapturing {
		t.Fatalf("second start = %+v, want already_capturing", resp)
	}

	resp = call(t, conn, "state", CmdCaptureState, nil)
	var st desktop.SessionState
	if err := json.Unmarshal(resp.Result, &st); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if !st.Capturing || st.ActiveMonitor == nil || *st.ActiveMonitor != 1 {
		t.Fatalf("state = %+v", st)
	}

	if resp := call(t, conn, "stop", CmdStopCapture, nil); !resp.OK {
		t.Fatalf("stop failed: %+v", resp.Error)
	}
	stopped := event(t, conn, desktop.EventCaptureStopped)
	var cs desktop.CaptureStopped
	if err := json.Unmarshal(stopped.Payload, &cs); err != nil {
		t.Fatalf("unmarshal capture-stopped: %v", err)
	}
	if cs.Reason != desktop.StopReasonStopped || cs.SessionID != started.SessionID {
		t.Fatalf("capture-stopped = %+v", cs)
	}

	if resp := call(t, conn, "stop2", CmdStopCapture, nil); !resp.OK {
		t.Fatal("second stop should succeed")
	}
}

func TestStartCaptureBadRequest(t *testing.T) {
	f := newFixture(t, nil, Options{})
	conn := f.dial(t)

	tests := []struct {
		name string
		args any
	}{
		{"no args", nil},
		{"missing monitor", map[string]any{"config": map[string]any{"fps": 5}}},
		{"wrong type", map[string]any{"monitorId": "zero"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, conn, tt.name, CmdStartCapture, tt.args)
			if resp.OK || resp.Error == nil || resp.Error.Code != CodeBadRequest {
				t.Fatalf("response = %+v, want bad_request", resp)
			}
		})
	}
	if f.ctrl.State().Capturing {
		t.Fatal("bad request started a session")
	}
}

func TestUnknownCommandAndMalformedRequest(t *testing.T) {
	f := newFixture(t, nil, Options{})
	conn := f.dial(t)

	resp := call(t, conn, "x", "reboot", nil)
	if resp.OK || resp.Error.Code != CodeUnknownCommand {
		t.Fatalf("response = %+v, want unknown_command", resp)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := next(t, conn, func(m wireMessage) bool { return m.Type == "response" })
	if msg.OK || msg.Error == nil || msg.Error.Code != CodeBadRequest {
		t.Fatalf("response = %+v, want bad_request", msg)
	}
}

func TestSimulateInputInOrder(t *testing.T) {
	f := newFixture(t, nil, Options{})
	conn := f.dial(t)

	events := []string{
		`{"type":"MouseMove","payload":{"x":10,"y":20}}`,
		`{"type":"MouseClick","payload":{"button":"left"}}`,
		`{"type":"Scroll","payload":{}}`,
		`{"type":"KeyPress","payload":{"key":"hi"}}`,
	}
	for i, raw := range events {
		resp := call(t, conn, string(rune('a'+i)), CmdSimulateInput, map[string]any{"event": json.RawMessage(raw)})
		if !resp.OK {
			t.Fatalf("simulate_input %d not acknowledged: %+v", i, resp.Error)
		}
	}

	var got []input.Event
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got = f.input.Events(); len(got) == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(got) != 3 {
		t.Fatalf("dispatched %d events, want 3 (unknown type dropped)", len(got))
	}
	if got[0].Type != input.MouseMove || got[0].X != 10 || got[0].Y != 20 {
		t.Fatalf("event 0 = %+v", got[0])
	}
	if got[1].Type != input.MouseClick || got[1].Button != input.ButtonLeft {
		t.Fatalf("event 1 = %+v", got[1])
	}
	if got[2].Type != input.KeyPress || got[2].Text != "hi" {
		t.Fatalf("event 2 = %+v", got[2])
	}
}

func TestSimulateInputFailureMarksHealth(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.input.err = input.ErrNotSupported
	conn := f.dial(t)

	resp := call(t, conn, "1", CmdSimulateInput, map[string]any{"event": json.RawMessage(`{"type":"MouseMove","payload":{"x":1,"y":1}}`)})
	if !resp.OK {
		t.Fatal("failed injection must still be acknowledged")
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c, ok := f.health.Get(health.Input); ok {
			if c.Status != health.Unhealthy {
				t.Fatalf("input health = %s, want unhealthy", c.Status)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("input health never reported")
}

func TestOriginCheck(t *testing.T) {
	f := newFixture(t, nil, Options{MaxClients: 16, AllowedOrigins: []string{"https://ui.example.test"}})

	tests := []struct {
		origin string
		ok     bool
	}{
		{"", true},
		{"http://localhost:1420", true},
		{"tauri://localhost", true},
		{"http://127.0.0.1:5173", true},
		{"https://ui.example.test", true},
		{"https://evil.example.test", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			h := http.Header{}
			if tt.origin != "" {
				h.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL(), h)
			if tt.ok {
				if err != nil {
					t.Fatalf("dial with origin %q: %v", tt.origin, err)
				}
				conn.Close()
				return
			}
			if err == nil {
				conn.Close()
				t.Fatalf("origin %q was accepted", tt.origin)
			}
			if resp == nil || resp.StatusCode != http.StatusForbidden {
				t.Fatalf("origin %q: resp = %v, want 403", tt.origin, resp)
			}
		})
	}
}

func TestMaxClients(t *testing.T) {
	f := newFixture(t, nil, Options{MaxClients: 1})
	f.dial(t)

	deadline := time.Now().Add(3 * time.Second)
	for f.hub.Count() != 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL(), nil)
	if err == nil {
		t.Fatal("second client accepted past the limit")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("resp = %v, want 503", resp)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.health.Update(health.Bridge, health.Healthy, "")

	resp, err := http.Get(f.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Status     health.Status            `json:"status"`
		Components map[string]health.Status `json:"components"`
		Clients    int                      `json:"clients"`
		Capture    desktop.SessionState     `json:"capture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != health.Healthy || body.Components[health.Bridge] != health.Healthy {
		t.Fatalf("body = %+v", body)
	}
	if body.Capture.Capturing {
		t.Fatal("idle bridge reports capturing")
	}

	f.health.Update(health.Capture, health.Unhealthy, "display lost")
	resp2, err := http.Get(f.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when unhealthy", resp2.StatusCode)
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	ctrl := desktop.NewController(desktop.Options{
		Enumerator: desktop.MonitorEnumeratorFunc(func() ([]desktop.MonitorDescriptor, error) { return testMonitors, nil }),
		Source:     desktop.FrameSourceFunc(solidSource),
	})
	t.Cleanup(func() { ctrl.Close(context.Background()) })

	mon := health.NewMonitor()
	srv, err := NewServer(Options{ListenAddr: "127.0.0.1:0", Controller: ctrl, Health: mon})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for srv.Addr() == nil && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if srv.Addr() == nil {
		t.Fatal("server never bound")
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr().String()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("ListenAndServe: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return after cancel")
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("client connection survived shutdown")
	}
	if c, _ := mon.Get(health.Bridge); c.Status != health.Unhealthy {
		t.Fatalf("bridge health = %s after shutdown", c.Status)
	}
}
