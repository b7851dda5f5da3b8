// Package uibridge exposes the capture controller and input dispatcher to a
// local UI over a loopback websocket.
package uibridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/breeze-rmm/deskbridge/internal/config"
	"github.com/breeze-rmm/deskbridge/internal/health"
	"github.com/breeze-rmm/deskbridge/internal/logging"
	"github.com/breeze-rmm/deskbridge/internal/remote/desktop"
	"github.com/breeze-rmm/deskbridge/internal/remote/input"
	"github.com/breeze-rmm/deskbridge/internal/workerpool"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"
)

var log = logging.L("uibridge")

const shutdownTimeout = 5 * time.Second

// CaptureController is the part of desktop.Controller the bridge drives.
type CaptureController interface {
	Monitors() ([]desktop.MonitorDescriptor, error)
	Config() desktop.StreamConfig
	StartWithConfig(monitorID int, cfg desktop.StreamConfig) (string, error)
	Stop()
	State() desktop.SessionState
}

// InputDispatcher performs one input event.
type InputDispatcher interface {
	Dispatch(ctx context.Context, ev input.Event) error
}

type Options struct {
	ListenAddr      string
	MaxClients      int
	ClientQueueSize int
	InputQueueSize  int
	AllowedOrigins  []string

	Controller CaptureController
	Input      InputDispatcher // nil drops input events
	Hub        *Hub            // defaults to a new hub
	Health     *health.Monitor
}

type Server struct {
	opts     Options
	hub      *Hub
	health   *health.Monitor
	upgrader websocket.Upgrader
	inputs   *workerpool.Pool
	httpSrv  *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewServer validates opts and builds a server. It refuses to listen on
// anything but a loopback address.
func NewServer(opts Options) (*Server, error) {
	if opts.Controller == nil {
		return nil, errors.New("uibridge: controller is required")
	}
	if !config.IsLoopbackAddr(opts.ListenAddr) {
		return nil, fmt.Errorf("uibridge: listen address %q is not loopback", opts.ListenAddr)
	}
	if opts.MaxClients < 1 {
		opts.MaxClients = 4
	}
	if opts.ClientQueueSize < 1 {
		opts.ClientQueueSize = 2
	}
	if opts.InputQueueSize < 1 {
		opts.InputQueueSize = 256
	}
	if opts.Hub == nil {
		opts.Hub = NewHub()
	}

	s := &Server{
		opts:   opts,
		hub:    opts.Hub,
		health: opts.Health,
		// One worker keeps injected events in arrival order.
		inputs: workerpool.New("input", 1, opts.InputQueueSize),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 32 * 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the HTTP routes: /ws for the UI and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

// Listen binds the configured address. The listener accepts at most twice
// MaxClients connections at once so /healthz probes still get through.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.opts.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.opts.ListenAddr, err)
	}
	return netutil.LimitListener(ln, s.opts.MaxClients*2), nil
}

// ListenAndServe serves until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		s.setHealth(health.Unhealthy, err.Error())
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	log.Info("ui bridge listening", "addr", ln.Addr().String())
	s.setHealth(health.Healthy, "listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.setHealth(health.Unhealthy, err.Error())
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Addr is the bound address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting connections, disconnects every client and
// drains queued input events.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	s.hub.closeAll()
	s.inputs.Shutdown(ctx)
	s.setHealth(health.Unhealthy, "stopped")
	log.Info("ui bridge stopped")
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub.Count() >= s.opts.MaxClients {
		log.Warn("rejecting ui client, limit reached", "remote", r.RemoteAddr, "maxClients", s.opts.MaxClients)
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, logging.KeyError, err)
		return
	}

	c := newClient(uuid.NewString(), conn, s, s.opts.ClientQueueSize)
	if err := s.hub.add(c, s.opts.MaxClients); err != nil {
		code, reason := websocket.CloseGoingAway, "shutting down"
		if errors.Is(err, ErrTooManyClients) {
			// Lost a race with another upgrade for the last slot.
			log.Warn("rejecting ui client, limit reached", "remote", r.RemoteAddr, "maxClients", s.opts.MaxClients)
			code, reason = websocket.CloseTryAgainLater, "too many clients"
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	log.Info("ui client connected", logging.KeyClientID, c.id, "remote", r.RemoteAddr, "clients", s.hub.Count())

	go c.writePump()
	c.readPump()

	s.hub.remove(c)
	log.Info("ui client disconnected", logging.KeyClientID, c.id, "clients", s.hub.Count())
}

// healthzBody extends the health report with bridge state.
type healthzBody struct {
	health.Report
	Clients int                  `json:"clients"`
	Capture desktop.SessionState `json:"capture"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	report := health.Report{Status: health.Unknown}
	if s.health != nil {
		report = s.health.Summary()
	}
	body := healthzBody{
		Report:  report,
		Clients: s.hub.Count(),
		Capture: s.opts.Controller.State(),
	}

	w.Header().Set("Content-Type", "application/json")
	if report.Status == health.Unhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug("failed to write healthz", logging.KeyError, err)
	}
}

// checkOrigin admits requests without an Origin header (native clients),
// origins on a loopback host and explicitly allowed origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.opts.AllowedOrigins, strings.TrimSuffix(origin, "/")) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true
	}
	log.Warn("rejecting websocket origin", "origin", origin)
	return false
}

func (s *Server) setHealth(status health.Status, msg string) {
	if s.health != nil {
		s.health.Update(health.Bridge, status, msg)
	}
}
