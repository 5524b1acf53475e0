package common

import "errors"

// ErrModulePaused is returned by Guard when the named module is suspended by
// operator configuration.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the operator pause switches to native module engines. The
// node wires the campaign's pause state in here so engines stay decoupled
// from where the flags live.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the module is paused. A nil view or empty
// module name leaves the call unguarded.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
