package clicker

import (
	"time"

	"golang.org/x/sys/unix"
)

// Clock reads a monotonic time source
type Clock interface {
	Now() time.Duration
}

// MonotonicClock reads CLOCK_MONOTONIC, the clock the compositor stamps
// input events with.
type MonotonicClock struct{}

// Now returns the time since an arbitrary fixed point
func (MonotonicClock) Now() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// CLOCK_MONOTONIC is always available on Linux
		panic(err)
	}
	return time.Duration(ts.Nano())
}

// Millis converts a clock reading to a protocol timestamp. The value
// wraps around every 49.7 days.
func Millis(t time.Duration) uint32 {
	return uint32(t.Milliseconds())
}
