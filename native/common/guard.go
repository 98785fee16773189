package common

import "errors"

var ErrFlowPaused = errors.New("pool flow paused")

// PauseView reports whether a named flow has been administratively halted.
type PauseView interface {
	IsPaused(flow string) bool
}

// Guard rejects the operation when the named flow is paused. A nil view or
// empty flow name disables the check.
func Guard(p PauseView, flow string) error {
	if p == nil || flow == "" {
		return nil
	}
	if p.IsPaused(flow) {
		return ErrFlowPaused
	}
	return nil
}
