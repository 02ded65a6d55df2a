package clicker

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Readiness reports which sources have something to process
type Readiness struct {
	Display bool
	Device  bool
}

// Waiter blocks until a source is ready or the timeout passes
type Waiter interface {
	Wait(timeout time.Duration) (Readiness, error)
}

const (
	displaySlot = 0
	deviceSlot  = 1
)

// Poller waits on the display socket and the input device with one ppoll
type Poller struct {
	fds [2]unix.PollFd
}

// NewPoller creates a poller for the two descriptors
func NewPoller(displayFd, deviceFd int) *Poller {
	p := &Poller{}
	p.fds[displaySlot] = unix.PollFd{Fd: int32(displayFd), Events: unix.POLLIN}
	p.fds[deviceSlot] = unix.PollFd{Fd: int32(deviceFd), Events: unix.POLLIN}
	return p
}

// Wait blocks for at most timeout. A signal interrupting the wait is
// reported as an empty readiness.
func (p *Poller) Wait(timeout time.Duration) (Readiness, error) {
	if timeout < 0 {
		timeout = 0
	}
	ts := unix.NsecToTimespec(int64(timeout))
	for i := range p.fds {
		p.fds[i].Revents = 0
	}

	if _, err := unix.Ppoll(p.fds[:], &ts, nil); err != nil {
		if errors.Is(err, unix.EINTR) {
			return Readiness{}, nil
		}
		return Readiness{}, fmt.Errorf("ppoll failed: %w", err)
	}

	for _, fd := range p.fds {
		if fd.Revents&unix.POLLNVAL != 0 {
			return Readiness{}, fmt.Errorf("descriptor %d is not open", fd.Fd)
		}
	}

	return Readiness{
		Display: p.fds[displaySlot].Revents != 0,
		Device:  p.fds[deviceSlot].Revents != 0,
	}, nil
}
