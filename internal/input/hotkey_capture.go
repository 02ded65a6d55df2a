package input

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/holoplot/go-evdev"
	"golang.org/x/sys/unix"
)

// ErrDeviceGone is returned once the keyboard has been unplugged
var ErrDeviceGone = errors.New("input device is gone")

// eventSize is the size of one kernel input_event record
var eventSize = binary.Size(evdev.InputEvent{})

// Device reads hotkey edges from a keyboard event node without blocking
type Device struct {
	path   string
	fd     int
	filter *KeyFilter
	buf    []byte
}

// OpenDevice opens the event node at path in non-blocking mode
func OpenDevice(path string, hotkey uint16) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.EACCES) {
			return nil, fmt.Errorf("cannot open %s: %w. Ensure the user is in the 'input' group", path, err)
		}
		return nil, fmt.Errorf("failed to open input device %s: %w", path, err)
	}
	return NewDevice(fd, path, hotkey), nil
}

// NewDevice wraps an already open, non-blocking descriptor
func NewDevice(fd int, path string, hotkey uint16) *Device {
	return &Device{
		path:   path,
		fd:     fd,
		filter: NewKeyFilter(hotkey),
		buf:    make([]byte, eventSize),
	}
}

// Path returns the event node the device was opened from
func (d *Device) Path() string {
	return d.path
}

// Fd returns the descriptor to wait on
func (d *Device) Fd() int {
	return d.fd
}

// ReadEdge drains pending records until it finds a hotkey edge or the
// device has nothing more to give. It never blocks.
func (d *Device) ReadEdge() (Edge, error) {
	for {
		ev, ok, err := d.readEvent()
		if err != nil || !ok {
			return EdgeNone, err
		}
		if edge := d.filter.Filter(ev); edge != EdgeNone {
			return edge, nil
		}
	}
}

func (d *Device) readEvent() (evdev.InputEvent, bool, error) {
	var ev evdev.InputEvent

	n, err := unix.Read(d.fd, d.buf)
	switch {
	case err == nil:
	case isWouldBlock(err), errors.Is(err, unix.EINTR):
		return ev, false, nil
	case errors.Is(err, unix.ENODEV):
		return ev, false, fmt.Errorf("%s: %w", d.path, ErrDeviceGone)
	default:
		return ev, false, fmt.Errorf("failed to read from %s: %w", d.path, err)
	}

	if n == 0 {
		return ev, false, fmt.Errorf("%s: %w", d.path, ErrDeviceGone)
	}
	if n < eventSize {
		return ev, false, fmt.Errorf("short read from %s: %d of %d bytes", d.path, n, eventSize)
	}

	if err := binary.Read(bytes.NewReader(d.buf[:n]), binary.NativeEndian, &ev); err != nil {
		return ev, false, fmt.Errorf("failed to decode event from %s: %w", d.path, err)
	}
	return ev, true, nil
}

// Close releases the descriptor. Calling it twice is harmless.
func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
