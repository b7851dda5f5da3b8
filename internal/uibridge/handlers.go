package uibridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/breeze-rmm/deskbridge/internal/health"
	"github.com/breeze-rmm/deskbridge/internal/logging"
	"github.com/breeze-rmm/deskbridge/internal/remote/desktop"
	"github.com/breeze-rmm/deskbridge/internal/remote/input"
	"github.com/breeze-rmm/deskbridge/internal/workerpool"
)

// handle runs one request on the client's read goroutine and queues the
// response. Every request gets exactly one response.
func (s *Server) handle(c *client, req Request) {
	switch req.Command {
	case CmdEnumerateMonitors:
		s.enumerateMonitors(c, req)
	case CmdStartCapture:
		s.startCapture(c, req)
	case CmdStopCapture:
		s.opts.Controller.Stop()
		c.reply(ok(req.ID, nil))
	case CmdCaptureState:
		c.reply(ok(req.ID, s.opts.Controller.State()))
	case CmdSimulateInput:
		s.simulateInput(c, req)
	default:
		log.Warn("unknown command", logging.KeyClientID, c.id, "command", req.Command)
		c.reply(fail(req.ID, CodeUnknownCommand, fmt.Sprintf("unknown command %q", req.Command)))
	}
}

func (s *Server) enumerateMonitors(c *client, req Request) {
	monitors, err := s.opts.Controller.Monitors()
	if err != nil {
		log.Warn("monitor enumeration failed", logging.KeyClientID, c.id, logging.KeyError, err)
		c.reply(fail(req.ID, CodeEnumerationFailed, err.Error()))
		return
	}
	if monitors == nil {
		monitors = []desktop.MonitorDescriptor{}
	}
	c.reply(ok(req.ID, monitors))
}

func (s *Server) startCapture(c *client, req Request) {
	var args startArgs
	if len(req.Args) > 0 {
		if err := json.Unmarshal(req.Args, &args); err != nil {
			c.reply(fail(req.ID, CodeBadRequest, "invalid start_capture args: "+err.Error()))
			return
		}
	}
	if args.MonitorID == nil {
		c.reply(fail(req.ID, CodeBadRequest, "monitorId is required"))
		return
	}

	cfg := args.Config.apply(s.opts.Controller.Config())
	id, err := s.opts.Controller.StartWithConfig(*args.MonitorID, cfg)
	switch {
	case errors.Is(err, desktop.ErrAlreadyCapturing):
		c.reply(fail(req.ID, CodeAlreadyCapturing, err.Error()))
	case err != nil:
		log.Error("start capture failed", logging.KeyClientID, c.id, logging.KeyError, err)
		c.reply(fail(req.ID, CodeInternal, err.Error()))
	default:
		log.Info("capture started", logging.KeyClientID, c.id, logging.KeySessionID, id,
			logging.KeyMonitorID, *args.MonitorID, "fps", cfg.FPS, "quality", cfg.Quality)
		c.reply(ok(req.ID, startResult{SessionID: id}))
	}
}

// simulateInput queues the event and acknowledges immediately. Decode and
// injection failures are logged, never returned to the UI.
func (s *Server) simulateInput(c *client, req Request) {
	defer c.reply(ok(req.ID, nil))

	var args simulateArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		log.Warn("dropping input with malformed args", logging.KeyClientID, c.id, logging.KeyError, err)
		return
	}
	ev, err := decodeEvent(args.Event)
	if err != nil {
		log.Warn("dropping undecodable input event", logging.KeyClientID, c.id, logging.KeyError, err)
		return
	}
	if s.opts.Input == nil {
		log.Debug("no input dispatcher, dropping event", "type", string(ev.Type))
		return
	}

	err = s.inputs.Submit(func(ctx context.Context) {
		s.dispatch(ctx, ev)
	})
	switch {
	case errors.Is(err, workerpool.ErrQueueFull):
		log.Warn("input queue full, dropping event", logging.KeyClientID, c.id, "type", string(ev.Type))
	case err != nil:
		log.Debug("input pool stopped, dropping event", "type", string(ev.Type))
	}
}

func (s *Server) dispatch(ctx context.Context, ev input.Event) {
	err := s.opts.Input.Dispatch(ctx, ev)
	switch {
	case err == nil:
		s.setInputHealth(health.Healthy, "")
	case input.IsUnsupported(err):
		log.Warn("input injection unavailable", logging.KeyError, err)
		s.setInputHealth(health.Unhealthy, err.Error())
	default:
		log.Warn("input injection failed", "type", string(ev.Type), logging.KeyError, err)
		s.setInputHealth(health.Degraded, err.Error())
	}
}

func (s *Server) setInputHealth(status health.Status, msg string) {
	if s.health != nil {
		s.health.Update(health.Input, status, msg)
	}
}

func ok(id string, result any) Response {
	return Response{ID: id, OK: true, Result: result}
}

func fail(id, code, msg string) Response {
	return Response{ID: id, OK: false, Error: &ErrorBody{Code: code, Message: msg}}
}
