package input

import (
	"encoding/json"
	"errors"
	"fmt"
)

type EventType string

const (
	MouseMove  EventType = "MouseMove"
	MouseClick EventType = "MouseClick"
	KeyPress   EventType = "KeyPress"
)

type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonRight  MouseButton = "right"
	ButtonMiddle MouseButton = "middle"
)

// Known reports whether b is one of the three supported buttons.
func (b MouseButton) Known() bool {
	switch b {
	case ButtonLeft, ButtonRight, ButtonMiddle:
		return true
	}
	return false
}

// ErrUnknownEvent is returned when decoding an event with an unsupported type.
var ErrUnknownEvent = errors.New("unknown input event type")

// Event is one synthesized input action. Which fields are meaningful
// depends on Type: X/Y for MouseMove, Button for MouseClick, Text for
// KeyPress.
//
// On the wire it is {"type": "...", "payload": {...}}.
type Event struct {
	Type   EventType
	X, Y   int
	Button MouseButton
	Text   string
}

type wireEvent struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type movePayload struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type clickPayload struct {
	Button MouseButton `json:"button"`
}

type keyPayload struct {
	Text string `json:"text,omitempty"`
	Key  string `json:"key,omitempty"`
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode input event: %w", err)
	}
	payload := w.Payload
	if len(payload) == 0 || string(payload) == "null" {
		payload = []byte("{}")
	}

	switch w.Type {
	case MouseMove:
		var p movePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", w.Type, err)
		}
		*e = Event{Type: MouseMove, X: p.X, Y: p.Y}
	case MouseClick:
		var p clickPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", w.Type, err)
		}
		*e = Event{Type: MouseClick, Button: p.Button}
	case KeyPress:
		var p keyPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", w.Type, err)
		}
		text := p.Text
		if text == "" {
			text = p.Key
		}
		*e = Event{Type: KeyPress, Text: text}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, w.Type)
	}
	return nil
}

func (e Event) MarshalJSON() ([]byte, error) {
	var payload any
	switch e.Type {
	case MouseMove:
		payload = movePayload{X: e.X, Y: e.Y}
	case MouseClick:
		payload = clickPayload{Button: e.Button}
	case KeyPress:
		payload = keyPayload{Text: e.Text}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{Type: e.Type, Payload: raw})
}
