package input

import "errors"

// ErrNotSupported is returned by NewInjector when this build cannot
// synthesize input.
var ErrNotSupported = errors.New("input injection not supported in this build")

// Injector performs OS-level input synthesis. Coordinates are absolute in
// the virtual desktop space.
type Injector interface {
	MoveMouse(x, y int) error
	// Click presses and releases b.
	Click(b MouseButton) error
	// TypeRune synthesizes the keystrokes that produce r.
	TypeRune(r rune) error
}
