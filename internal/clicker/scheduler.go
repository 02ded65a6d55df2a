package clicker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/wl-clicker/internal/input"
	"github.com/charmbracelet/log"
)

// Display is the compositor connection pumped by the loop
type Display interface {
	Dispatch() error
}

// EdgeSource yields hotkey edges without blocking
type EdgeSource interface {
	ReadEdge() (input.Edge, error)
}

// Clicker emits one click
type Clicker interface {
	Click(now time.Duration) error
}

// maxReadErrors is how many reads in a row may fail before the keyboard is
// treated as gone. A persistent error keeps the descriptor ready.
const maxReadErrors = 64

// Config holds the fixed parameters of a scheduler
type Config struct {
	Policy      Policy
	Interval    time.Duration
	IdleTimeout time.Duration
}

// Scheduler owns the active state and the click cadence. Everything runs
// on the goroutine calling Run; the only blocking point is the wait.
type Scheduler struct {
	cfg     Config
	display Display
	device  EdgeSource
	clicker Clicker
	waiter  Waiter
	clock   Clock
	logger  *log.Logger

	active    bool
	clicked   bool
	lastClick time.Duration
	burst     int

	readErrors int
}

// NewScheduler wires a scheduler to its collaborators
func NewScheduler(cfg Config, display Display, device EdgeSource, clicker Clicker, waiter Waiter, clock Clock, logger *log.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		display: display,
		device:  device,
		clicker: clicker,
		waiter:  waiter,
		clock:   clock,
		logger:  logger,
	}
}

// Active reports whether the scheduler is currently clicking
func (s *Scheduler) Active() bool {
	return s.active
}

// Run drives the loop until ctx is cancelled, which is not an error, or
// a fatal error occurs. Cancellation is noticed on the next wake-up.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Debug("Scheduler started", "policy", s.cfg.Policy, "interval", s.cfg.Interval)
	for ctx.Err() == nil {
		if err := s.step(); err != nil {
			return err
		}
	}
	s.logger.Debug("Scheduler stopped")
	return nil
}

// budget returns how long the next wait may block
func (s *Scheduler) budget(now time.Duration) time.Duration {
	if !s.active {
		return s.cfg.IdleTimeout
	}
	if !s.clicked {
		return 0
	}
	return max(0, s.cfg.Interval-(now-s.lastClick))
}

func (s *Scheduler) step() error {
	ready, err := s.waiter.Wait(s.budget(s.clock.Now()))
	if err != nil {
		return err
	}

	if ready.Display {
		if err := s.display.Dispatch(); err != nil {
			return fmt.Errorf("compositor connection failed: %w", err)
		}
	}

	if ready.Device {
		if err := s.readDevice(); err != nil {
			return err
		}
	}

	if !s.active {
		return nil
	}

	now := s.clock.Now()
	if s.clicked && now-s.lastClick < s.cfg.Interval {
		return nil
	}
	if err := s.clicker.Click(now); err != nil {
		return err
	}
	s.lastClick = s.clock.Now()
	s.clicked = true
	s.burst++
	return nil
}

func (s *Scheduler) readDevice() error {
	edge, err := s.device.ReadEdge()
	if err != nil {
		if errors.Is(err, input.ErrDeviceGone) {
			return err
		}
		s.readErrors++
		if s.readErrors >= maxReadErrors {
			return fmt.Errorf("%w: %d reads failed in a row: %v", input.ErrDeviceGone, s.readErrors, err)
		}
		if s.readErrors == 1 {
			s.logger.Warn("Failed to read keyboard", "error", err)
		} else {
			s.logger.Debug("Failed to read keyboard", "error", err, "attempt", s.readErrors)
		}
		return nil
	}
	if s.readErrors > 0 {
		s.logger.Debug("Keyboard readable again", "failures", s.readErrors)
		s.readErrors = 0
	}
	if edge == input.EdgeNone {
		return nil
	}

	active := s.cfg.Policy.Next(s.active, edge)
	if active == s.active {
		return nil
	}
	s.active = active
	if active {
		s.burst = 0
		s.logger.Debug("Clicking started", "edge", edge)
	} else {
		s.logger.Debug("Clicking stopped", "edge", edge, "clicks", s.burst)
	}
	return nil
}
