//go:build cgo

package input

import (
	"fmt"

	"github.com/go-vgo/robotgo"
)

// NewInjector returns the robotgo-backed injector.
func NewInjector() (Injector, error) {
	return robotgoInjector{}, nil
}

type robotgoInjector struct{}

func (robotgoInjector) MoveMouse(x, y int) error {
	robotgo.Move(x, y)
	return nil
}

func (robotgoInjector) Click(b MouseButton) error {
	switch b {
	case ButtonLeft:
		robotgo.Click("left")
	case ButtonRight:
		robotgo.Click("right")
	case ButtonMiddle:
		robotgo.Click("center")
	default:
		return fmt.Errorf("unsupported button %q", b)
	}
	return nil
}

// Control characters are sent as key taps; TypeStr only handles printable
// text reliably across platforms.
var controlKeys = map[rune]string{
	'\n': "enter",
	'\r': "enter",
	'\t': "tab",
	'\b': "backspace",
	0x1b: "esc",
}

func (robotgoInjector) TypeRune(r rune) error {
	if key, ok := controlKeys[r]; ok {
		if err := robotgo.KeyTap(key); err != nil {
			return fmt.Errorf("key tap %s: %w", key, err)
		}
		return nil
	}
	robotgo.TypeStr(string(r))
	return nil
}
