package clicker

import (
	"fmt"
	"time"

	"github.com/bnema/wl-clicker/internal/protocols"
	"github.com/holoplot/go-evdev"
)

// Pointer is the virtual pointer a click is sent through
type Pointer interface {
	Button(time, button, state uint32) error
	Frame() error
	Flush() error
}

// ButtonFromSelector maps the command-line button selector to an evdev
// button code. Unknown selectors fall back to the left button.
func ButtonFromSelector(n int) uint32 {
	switch n {
	case 1:
		return uint32(evdev.BTN_RIGHT)
	case 2:
		return uint32(evdev.BTN_MIDDLE)
	default:
		return uint32(evdev.BTN_LEFT)
	}
}

// Emitter sends complete clicks
type Emitter struct {
	pointer Pointer
	button  uint32
	clock   Clock
}

// NewEmitter creates an emitter clicking button on pointer
func NewEmitter(pointer Pointer, button uint32, clock Clock) *Emitter {
	return &Emitter{pointer: pointer, button: button, clock: clock}
}

// Click sends a press and a release of the configured button. Each half
// is framed and flushed, and the release carries a fresh timestamp.
func (e *Emitter) Click(now time.Duration) error {
	if err := e.send(Millis(now), protocols.ButtonStatePressed); err != nil {
		return fmt.Errorf("failed to press button: %w", err)
	}
	if err := e.send(Millis(e.clock.Now()), protocols.ButtonStateReleased); err != nil {
		return fmt.Errorf("failed to release button: %w", err)
	}
	return nil
}

func (e *Emitter) send(ms, state uint32) error {
	if err := e.pointer.Button(ms, e.button, state); err != nil {
		return err
	}
	if err := e.pointer.Frame(); err != nil {
		return err
	}
	return e.pointer.Flush()
}
