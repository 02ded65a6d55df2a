// Package clicker holds the click-timing control loop: it turns hotkey
// edges into an active state and emits clicks at a fixed cadence while
// that state is set.
package clicker

import "github.com/bnema/wl-clicker/internal/input"

// Policy decides how hotkey edges change the active state
type Policy int

const (
	// Hold clicks while the hotkey is held down
	Hold Policy = iota
	// Toggle flips clicking on every hotkey press
	Toggle
)

func (p Policy) String() string {
	if p == Toggle {
		return "toggle"
	}
	return "hold"
}

// Next returns the active state after edge
func (p Policy) Next(active bool, edge input.Edge) bool {
	switch edge {
	case input.EdgePress:
		if p == Toggle {
			return !active
		}
		return true
	case input.EdgeRelease:
		if p == Toggle {
			return active
		}
		return false
	default:
		return active
	}
}
