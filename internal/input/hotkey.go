package input

import (
	"github.com/holoplot/go-evdev"
)

// Hotkey is the key that drives the clicker
const Hotkey = uint16(evdev.KEY_F8)

// Key event values reported by evdev
const (
	keyReleased = 0
	keyPressed  = 1
	keyRepeated = 2
)

// Edge is a hotkey state transition
type Edge int

const (
	EdgeNone Edge = iota
	EdgePress
	EdgeRelease
)

func (e Edge) String() string {
	switch e {
	case EdgePress:
		return "press"
	case EdgeRelease:
		return "release"
	default:
		return "none"
	}
}

// KeyFilter turns raw key events into hotkey edges. Auto-repeat and
// duplicate reports never produce an edge, so presses and releases
// strictly alternate.
type KeyFilter struct {
	code uint16
	down bool
}

// NewKeyFilter creates a filter for the given key code
func NewKeyFilter(code uint16) *KeyFilter {
	return &KeyFilter{code: code}
}

// Filter returns the edge carried by ev, if any
func (f *KeyFilter) Filter(ev evdev.InputEvent) Edge {
	if ev.Type != evdev.EV_KEY || uint16(ev.Code) != f.code {
		return EdgeNone
	}

	switch ev.Value {
	case keyPressed:
		if f.down {
			return EdgeNone
		}
		f.down = true
		return EdgePress
	case keyReleased:
		if !f.down {
			return EdgeNone
		}
		f.down = false
		return EdgeRelease
	case keyRepeated:
		return EdgeNone
	default:
		return EdgeNone
	}
}
