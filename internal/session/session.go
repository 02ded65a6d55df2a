// Package session sets up everything the clicker talks to and tears it
// down again in a fixed order.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bnema/wl-clicker/internal/input"
	"github.com/bnema/wl-clicker/internal/protocols"
	"github.com/bnema/wl-clicker/internal/wayland"
	"github.com/charmbracelet/log"
)

// findKeyboard is replaced in tests
var findKeyboard = input.FindKeyboardDevice

// Options selects the devices a session opens
type Options struct {
	DevicePath string // keyboard event node, empty for discovery
	Display    string // Wayland display name, empty for $WAYLAND_DISPLAY
	Hotkey     uint16
}

// Session holds the keyboard, the compositor connection and the virtual
// pointer for the lifetime of the process
type Session struct {
	Device  *input.Device
	Client  *wayland.Client
	Manager *protocols.VirtualPointerManager
	Pointer *protocols.VirtualPointer

	logger    *log.Logger
	teardown  []step
	closeOnce sync.Once
	closeErr  error
}

type step struct {
	name string
	fn   func() error
}

// Open finds the keyboard, connects to the compositor and creates the
// virtual pointer. On failure everything opened so far is released.
func Open(ctx context.Context, opts Options, logger *log.Logger) (*Session, error) {
	path := opts.DevicePath
	if path == "" {
		found, err := findKeyboard()
		if err != nil {
			return nil, fmt.Errorf("failed to find keyboard device: %w", err)
		}
		path = found
		logger.Info("Found keyboard device", "path", path)
	} else {
		logger.Info("Using keyboard device", "path", path)
	}

	s := &Session{logger: logger}
	if err := s.open(ctx, opts, path); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) open(ctx context.Context, opts Options, path string) error {
	client, err := wayland.Connect(ctx, opts.Display)
	if err != nil {
		return fmt.Errorf("failed to connect to Wayland display: %w", err)
	}
	s.Client = client
	s.push("disconnect", client.Close)
	s.push("flush", client.Flush)

	manager, err := protocols.BindVirtualPointerManager(client)
	if err != nil {
		return err
	}
	s.Manager = manager
	s.push("destroy pointer manager", manager.Destroy)

	pointer, err := manager.CreateVirtualPointer(0)
	if err != nil {
		return fmt.Errorf("failed to create virtual pointer: %w", err)
	}
	s.Pointer = pointer
	s.push("destroy virtual pointer", pointer.Destroy)

	if err := client.Flush(); err != nil {
		return fmt.Errorf("failed to create virtual pointer: %w", err)
	}

	device, err := input.OpenDevice(path, opts.Hotkey)
	if err != nil {
		return err
	}
	s.Device = device
	s.push("close device", device.Close)

	return nil
}

// push registers a teardown step. Steps run in reverse order.
func (s *Session) push(name string, fn func() error) {
	s.teardown = append(s.teardown, step{name: name, fn: fn})
}

// Close releases the device, destroys the pointer and disconnects.
// Only the first call does anything; later calls return the same result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		for i := len(s.teardown) - 1; i >= 0; i-- {
			st := s.teardown[i]
			if err := st.fn(); err != nil {
				if s.logger != nil {
					s.logger.Debug("Teardown step failed", "step", st.name, "error", err)
				}
				errs = append(errs, fmt.Errorf("%s: %w", st.name, err))
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
