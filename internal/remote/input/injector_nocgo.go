//go:build !cgo

package input

// NewInjector fails in builds without cgo; robotgo needs it.
func NewInjector() (Injector, error) {
	return nil, ErrNotSupported
}
