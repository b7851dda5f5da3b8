package input

import (
	"context"
	"errors"
	"fmt"

	"github.com/breeze-rmm/deskbridge/internal/logging"
	"github.com/breeze-rmm/deskbridge/internal/telemetry"
)

var log = logging.L("input")

// Dispatcher translates events into Injector calls. It holds no state
// between events.
type Dispatcher struct {
	inj     Injector
	metrics *telemetry.Metrics
}

func NewDispatcher(inj Injector, metrics *telemetry.Metrics) *Dispatcher {
	return &Dispatcher{inj: inj, metrics: metrics}
}

// Dispatch performs ev synchronously. An unrecognized mouse button is
// ignored without error so a malformed client payload cannot disturb a
// live session. Injection failures are returned for the caller to log.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	if d.inj == nil {
		return ErrNotSupported
	}

	var err error
	switch ev.Type {
	case MouseMove:
		err = d.inj.MoveMouse(ev.X, ev.Y)
	case MouseClick:
		if !ev.Button.Known() {
			log.Debug("ignoring click with unknown button", "button", string(ev.Button))
			return nil
		}
		err = d.inj.Click(ev.Button)
	case KeyPress:
		err = d.typeText(ctx, ev.Text)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}

	d.metrics.RecordInput(ctx, string(ev.Type), err == nil)
	if err != nil {
		return fmt.Errorf("%s: %w", ev.Type, err)
	}
	return nil
}

// typeText sends one keystroke per rune, in order. It stops at the first
// failure or when ctx is cancelled.
func (d *Dispatcher) typeText(ctx context.Context, text string) error {
	for i, r := range text {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.inj.TypeRune(r); err != nil {
			return fmt.Errorf("type rune %q at offset %d: %w", r, i, err)
		}
	}
	return nil
}

// IsUnsupported reports whether err means input synthesis is unavailable.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrNotSupported)
}
