package clicker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bnema/wl-clicker/internal/input"
	"github.com/bnema/wl-clicker/internal/wayland"
	"github.com/charmbracelet/log"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ms = time.Millisecond

type fakeClock struct {
	now time.Duration
}

func (c *fakeClock) Now() time.Duration {
	return c.now
}

// happening is something the fake world delivers at a point in time
type happening struct {
	at       time.Duration
	edge     input.Edge
	readErr  error
	display  bool
	spurious bool
}

// world plays the display, the keyboard, the waiter and the pointer
// against a fake clock. Waits jump the clock forward instead of sleeping.
type world struct {
	t           *testing.T
	clock       *fakeClock
	script      []happening
	pending     *happening
	horizon     time.Duration
	cancel      context.CancelFunc
	oversleep   []time.Duration
	clickCost   time.Duration
	dispatchErr error
	clickErr    error
	waitErr     error
	logs        io.Writer

	waits      []time.Duration
	clicks     []time.Duration
	dispatches int
}

func (w *world) Wait(timeout time.Duration) (Readiness, error) {
	require.GreaterOrEqual(w.t, timeout, time.Duration(0), "negative wait budget")
	w.waits = append(w.waits, timeout)
	if w.waitErr != nil {
		return Readiness{}, w.waitErr
	}
	defer w.checkHorizon()

	if len(w.script) > 0 && w.script[0].at <= w.clock.now+timeout {
		h := w.script[0]
		w.script = w.script[1:]
		if h.at > w.clock.now {
			w.clock.now = h.at
		}
		switch {
		case h.spurious:
			return Readiness{}, nil
		case h.display:
			return Readiness{Display: true}, nil
		default:
			w.pending = &h
			return Readiness{Device: true}, nil
		}
	}

	w.clock.now += timeout
	if len(w.oversleep) > 0 {
		w.clock.now += w.oversleep[0]
		w.oversleep = w.oversleep[1:]
	}
	return Readiness{}, nil
}

func (w *world) checkHorizon() {
	if w.clock.now >= w.horizon {
		w.cancel()
	}
}

func (w *world) ReadEdge() (input.Edge, error) {
	if w.pending == nil {
		return input.EdgeNone, nil
	}
	h := w.pending
	w.pending = nil
	return h.edge, h.readErr
}

func (w *world) Dispatch() error {
	w.dispatches++
	return w.dispatchErr
}

func (w *world) Click(now time.Duration) error {
	if w.clickErr != nil {
		return w.clickErr
	}
	// the wake that crosses the horizon still clicks before Run sees
	// the cancellation; leave it out of the trace
	if now < w.horizon {
		w.clicks = append(w.clicks, now)
	}
	w.clock.now += w.clickCost
	return nil
}

func newWorld(t *testing.T, horizon time.Duration, script ...happening) *world {
	return &world{t: t, clock: &fakeClock{}, script: script, horizon: horizon}
}

func (w *world) run(t *testing.T, policy Policy, interval time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.cancel = cancel

	logs := w.logs
	if logs == nil {
		logs = io.Discard
	}
	s := NewScheduler(Config{
		Policy:      policy,
		Interval:    interval,
		IdleTimeout: time.Second,
	}, w, w, w, w, w.clock, log.New(logs))
	return s.Run(ctx)
}

func assertClicks(t *testing.T, want, got []time.Duration) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("click times mismatch (-want +got):\n%s", diff)
	}
}

func TestHoldScenario(t *testing.T) {
	w := newWorld(t, 3*time.Second,
		happening{at: 0, edge: input.EdgePress},
		happening{at: 1200 * ms, edge: input.EdgeRelease},
	)

	require.NoError(t, w.run(t, Hold, 500*ms))
	assertClicks(t, []time.Duration{0, 500 * ms, 1000 * ms}, w.clicks)
}

func TestToggleDoubleTap(t *testing.T) {
	w := newWorld(t, time.Second,
		happening{at: 0, edge: input.EdgePress},
		happening{at: 50 * ms, edge: input.EdgePress},
	)

	require.NoError(t, w.run(t, Toggle, 100*ms))
	assertClicks(t, []time.Duration{0}, w.clicks)
}

func TestToggleIgnoresRelease(t *testing.T) {
	w := newWorld(t, 350*ms,
		happening{at: 0, edge: input.EdgePress},
		happening{at: 20 * ms, edge: input.EdgeRelease},
	)

	require.NoError(t, w.run(t, Toggle, 100*ms))
	assertClicks(t, []time.Duration{0, 100 * ms, 200 * ms, 300 * ms}, w.clicks)
}

func TestReactivationKeepsCadence(t *testing.T) {
	w := newWorld(t, 300*ms,
		happening{at: 0, edge: input.EdgePress},
		happening{at: 10 * ms, edge: input.EdgeRelease},
		happening{at: 50 * ms, edge: input.EdgePress},
		happening{at: 250 * ms, edge: input.EdgeRelease},
	)

	require.NoError(t, w.run(t, Hold, 100*ms))
	assertClicks(t, []time.Duration{0, 100 * ms, 200 * ms}, w.clicks)
}

func TestCadenceLowerBound(t *testing.T) {
	const interval = 100 * ms
	w := newWorld(t, 3*time.Second, happening{at: 0, edge: input.EdgePress})
	w.clickCost = 3 * ms
	for i := 0; i < 40; i++ {
		w.oversleep = append(w.oversleep, time.Duration(i*7%11)*ms)
	}

	require.NoError(t, w.run(t, Hold, interval))
	require.Greater(t, len(w.clicks), 20)

	for i := 1; i < len(w.clicks); i++ {
		gap := w.clicks[i] - w.clicks[i-1]
		assert.GreaterOrEqual(t, gap, interval, "click %d came early", i)
		assert.LessOrEqual(t, gap, interval+w.clickCost+10*ms, "click %d came late", i)
	}
}

func TestOverdueClickFiresOnce(t *testing.T) {
	w := newWorld(t, 600*ms, happening{at: 0, edge: input.EdgePress})
	w.oversleep = []time.Duration{0, 250 * ms}

	require.NoError(t, w.run(t, Hold, 100*ms))
	assertClicks(t, []time.Duration{0, 100 * ms, 450 * ms, 550 * ms}, w.clicks)
}

func TestIdleEfficiency(t *testing.T) {
	w := newWorld(t, 5*time.Second)

	require.NoError(t, w.run(t, Hold, 10*ms))
	assert.Empty(t, w.clicks)
	assert.Zero(t, w.dispatches)
	require.Len(t, w.waits, 5)
	for _, d := range w.waits {
		assert.Equal(t, time.Second, d, "inactive waits use the idle timeout")
	}
}

func TestNoClicksWhileInactive(t *testing.T) {
	w := newWorld(t, 2*time.Second,
		happening{at: 100 * ms, edge: input.EdgeRelease},
		happening{at: 200 * ms, display: true},
		happening{at: 300 * ms, spurious: true},
		happening{at: 400 * ms, edge: input.EdgeNone},
	)

	require.NoError(t, w.run(t, Hold, 10*ms))
	assert.Empty(t, w.clicks)
	assert.Equal(t, 1, w.dispatches)
}

func TestSpuriousWake(t *testing.T) {
	w := newWorld(t, 150*ms,
		happening{at: 0, edge: input.EdgePress},
		happening{at: 30 * ms, spurious: true},
	)

	require.NoError(t, w.run(t, Hold, 100*ms))
	assertClicks(t, []time.Duration{0, 100 * ms}, w.clicks)
	assert.Contains(t, w.waits, 70*ms, "the budget is recomputed after a spurious wake")
}

func TestDisplayEventsAreDispatched(t *testing.T) {
	w := newWorld(t, 500*ms,
		happening{at: 0, edge: input.EdgePress},
		happening{at: 150 * ms, display: true},
	)

	require.NoError(t, w.run(t, Hold, 100*ms))
	assert.Equal(t, 1, w.dispatches)
	assertClicks(t, []time.Duration{0, 100 * ms, 200 * ms, 300 * ms, 400 * ms}, w.clicks)
}

func TestDisplayFailureIsFatal(t *testing.T) {
	w := newWorld(t, time.Hour, happening{at: 10 * ms, display: true})
	w.dispatchErr = wayland.ErrDisconnected

	err := w.run(t, Hold, 100*ms)
	assert.ErrorIs(t, err, wayland.ErrDisconnected)
}

func TestDeviceReadErrorIsNotFatal(t *testing.T) {
	w := newWorld(t, 150*ms,
		happening{at: 0, readErr: errors.New("input/output error")},
		happening{at: 100 * ms, edge: input.EdgePress},
	)

	require.NoError(t, w.run(t, Hold, 100*ms))
	assertClicks(t, []time.Duration{100 * ms}, w.clicks)
}

func readErrors(at time.Duration, n int) []happening {
	hs := make([]happening, n)
	for i := range hs {
		hs[i] = happening{at: at, readErr: errors.New("input/output error")}
	}
	return hs
}

func TestRepeatedDeviceReadErrorsAreFatal(t *testing.T) {
	w := newWorld(t, time.Hour, readErrors(10*ms, maxReadErrors)...)
	var logs strings.Builder
	w.logs = &logs

	err := w.run(t, Hold, 100*ms)
	assert.ErrorIs(t, err, input.ErrDeviceGone)
	assert.Contains(t, err.Error(), "input/output error")
	assert.Equal(t, 1, strings.Count(logs.String(), "Failed to read keyboard"), "warning is not repeated")
}

func TestDeviceReadErrorStreakResetsOnSuccess(t *testing.T) {
	script := readErrors(10*ms, maxReadErrors-1)
	script = append(script, happening{at: 20 * ms})
	script = append(script, readErrors(30*ms, maxReadErrors-1)...)
	script = append(script, happening{at: 100 * ms, edge: input.EdgePress})

	w := newWorld(t, 150*ms, script...)
	var logs strings.Builder
	w.logs = &logs

	require.NoError(t, w.run(t, Hold, 100*ms))
	assertClicks(t, []time.Duration{100 * ms}, w.clicks)
	assert.Equal(t, 2, strings.Count(logs.String(), "Failed to read keyboard"), "one warning per streak")
}

func TestDeviceGoneIsFatal(t *testing.T) {
	w := newWorld(t, time.Hour,
		happening{at: 10 * ms, readErr: fmt.Errorf("/dev/input/event3: %w", input.ErrDeviceGone)},
	)

	err := w.run(t, Hold, 100*ms)
	assert.ErrorIs(t, err, input.ErrDeviceGone)
}

func TestClickFailureIsFatal(t *testing.T) {
	w := newWorld(t, time.Hour, happening{at: 0, edge: input.EdgePress})
	w.clickErr = wayland.ErrDisconnected

	err := w.run(t, Hold, 100*ms)
	assert.ErrorIs(t, err, wayland.ErrDisconnected)
}

func TestWaitFailureIsFatal(t *testing.T) {
	w := newWorld(t, time.Hour)
	w.waitErr = errors.New("ppoll failed")

	assert.Error(t, w.run(t, Hold, 100*ms))
}

func TestRunReturnsWhenCancelled(t *testing.T) {
	w := newWorld(t, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewScheduler(Config{Policy: Hold, Interval: ms, IdleTimeout: time.Second}, w, w, w, w, w.clock, log.New(io.Discard))
	require.NoError(t, s.Run(ctx))
	assert.Empty(t, w.waits)
	assert.False(t, s.Active())
}

func TestBudget(t *testing.T) {
	s := NewScheduler(Config{Policy: Hold, Interval: 100 * ms, IdleTimeout: time.Second}, nil, nil, nil, nil, nil, log.New(io.Discard))

	assert.Equal(t, time.Second, s.budget(0), "inactive")

	s.active = true
	assert.Equal(t, time.Duration(0), s.budget(0), "first click is due immediately")

	s.clicked = true
	s.lastClick = 1000 * ms
	assert.Equal(t, 100*ms, s.budget(1000*ms))
	assert.Equal(t, 40*ms, s.budget(1060*ms))
	assert.Equal(t, time.Duration(0), s.budget(1300*ms), "overdue")
}
