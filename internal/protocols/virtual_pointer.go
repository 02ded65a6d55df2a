package protocols

import (
	"errors"

	"github.com/bnema/wl-clicker/internal/wayland"
)

// Protocol interface names
const (
	VirtualPointerManagerInterface = "zwlr_virtual_pointer_manager_v1"
	VirtualPointerInterface        = "zwlr_virtual_pointer_v1"
)

// VirtualPointerManagerVersion is the manager version bound
const VirtualPointerManagerVersion = 1

// Button states
const (
	ButtonStateReleased = 0
	ButtonStatePressed  = 1
)

// ErrUnsupported is returned when the compositor lacks the virtual pointer protocol
var ErrUnsupported = errors.New("compositor does not support " + VirtualPointerManagerInterface)

// VirtualPointerManager manages virtual pointer objects
type VirtualPointerManager struct {
	wayland.BaseProxy
}

// BindVirtualPointerManager binds the manager global advertised by the compositor
func BindVirtualPointerManager(client *wayland.Client) (*VirtualPointerManager, error) {
	global, ok := client.Registry().Find(VirtualPointerManagerInterface)
	if !ok {
		return nil, ErrUnsupported
	}

	manager := &VirtualPointerManager{}
	if err := client.Registry().Bind(global, VirtualPointerManagerVersion, manager); err != nil {
		return nil, err
	}
	return manager, nil
}

// CreateVirtualPointer creates a new virtual pointer. A zero seat lets the
// compositor pick its default seat.
func (m *VirtualPointerManager) CreateVirtualPointer(seat wayland.ObjectID) (*VirtualPointer, error) {
	pointer := &VirtualPointer{}
	m.Client().Register(pointer)

	// Opcode 0: create_virtual_pointer
	const opcode = 0

	err := m.Client().SendRequest(m, opcode, seat, pointer)
	if err != nil {
		m.Client().Unregister(pointer)
		return nil, err
	}

	return pointer, nil
}

// Destroy destroys the virtual pointer manager
func (m *VirtualPointerManager) Destroy() error {
	// Opcode 1: destroy
	const opcode = 1

	err := m.Client().SendRequest(m, opcode)
	m.Client().Unregister(m)
	return err
}

// Dispatch handles incoming events (virtual pointer manager has no events)
func (m *VirtualPointerManager) Dispatch(_ *wayland.Event) {}

// VirtualPointer represents a virtual pointer device
type VirtualPointer struct {
	wayland.BaseProxy
}

// Button sends a button press/release event
func (p *VirtualPointer) Button(time, button, state uint32) error {
	// Opcode 2: button
	const opcode = 2
	return p.Client().SendRequest(p, opcode, time, button, state)
}

// Frame indicates the end of a pointer event sequence
func (p *VirtualPointer) Frame() error {
	// Opcode 4: frame
	const opcode = 4
	return p.Client().SendRequest(p, opcode)
}

// Flush pushes queued events to the compositor
func (p *VirtualPointer) Flush() error {
	return p.Client().Flush()
}

// Destroy destroys the virtual pointer
func (p *VirtualPointer) Destroy() error {
	// Opcode 8: destroy
	const opcode = 8
	err := p.Client().SendRequest(p, opcode)
	p.Client().Unregister(p)
	return err
}

// Dispatch handles incoming events (virtual pointer has no events)
func (p *VirtualPointer) Dispatch(_ *wayland.Event) {}
