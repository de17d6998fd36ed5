package common

import "errors"

// ErrModulePaused is returned by Guard when operators have paused a module.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the operator pause switches consulted before every
// mutating module operation.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the operation when the module is paused. A nil view or empty
// module name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// StaticPauses is a PauseView backed by a fixed map, typically loaded from
// node configuration at boot.
type StaticPauses map[string]bool

// IsPaused implements PauseView.
func (s StaticPauses) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	return s[module]
}
