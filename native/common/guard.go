package common

import "errors"

// ErrModulePaused is returned when an operation targets a paused module.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the operator pause switches to native modules.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the named module is paused. A nil view or an
// empty module name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Pauses is a static PauseView backed by a set of module names, typically
// populated from configuration.
type Pauses struct {
	paused map[string]struct{}
}

// NewPauses builds a pause set from the supplied module names.
func NewPauses(modules ...string) *Pauses {
	set := make(map[string]struct{}, len(modules))
	for _, m := range modules {
		if m == "" {
			continue
		}
		set[m] = struct{}{}
	}
	return &Pauses{paused: set}
}

// IsPaused implements PauseView.
func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	_, ok := p.paused[module]
	return ok
}
