package clicker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func pipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestPollerTimeout(t *testing.T) {
	display, _ := pipe(t)
	device, _ := pipe(t)
	p := NewPoller(display, device)

	start := time.Now()
	ready, err := p.Wait(20 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, Readiness{}, ready)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestPollerZeroTimeoutDoesNotBlock(t *testing.T) {
	display, _ := pipe(t)
	device, _ := pipe(t)
	p := NewPoller(display, device)

	start := time.Now()
	ready, err := p.Wait(0)
	require.NoError(t, err)
	assert.Equal(t, Readiness{}, ready)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	_, err = p.Wait(-time.Second)
	assert.NoError(t, err)
}

func TestPollerReadiness(t *testing.T) {
	display, displayW := pipe(t)
	device, deviceW := pipe(t)
	p := NewPoller(display, device)

	_, err := unix.Write(deviceW, []byte{1})
	require.NoError(t, err)

	ready, err := p.Wait(time.Second)
	require.NoError(t, err)
	assert.Equal(t, Readiness{Device: true}, ready)

	_, err = unix.Write(displayW, []byte{1})
	require.NoError(t, err)

	ready, err = p.Wait(time.Second)
	require.NoError(t, err)
	assert.Equal(t, Readiness{Display: true, Device: true}, ready)
}

func TestPollerInvalidDescriptor(t *testing.T) {
	display, _ := pipe(t)
	p := NewPoller(display, 1<<20)

	_, err := p.Wait(10 * time.Millisecond)
	assert.Error(t, err)
}
