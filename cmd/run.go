package cmd

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/bnema/wl-clicker/internal/clicker"
	"github.com/bnema/wl-clicker/internal/config"
	"github.com/bnema/wl-clicker/internal/input"
	"github.com/bnema/wl-clicker/internal/logger"
	"github.com/bnema/wl-clicker/internal/session"
	"golang.org/x/sys/unix"
)

// connectTimeout bounds the initial exchange with the compositor
const connectTimeout = 5 * time.Second

func runClicker(ctx context.Context, cfg *config.Config) error {
	if cfg.LogLevel != "" {
		if err := logger.SetLevel(cfg.LogLevel); err != nil {
			return err
		}
	}

	// Timer slack is a per-thread setting, keep the loop on this thread
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := unix.Prctl(unix.PR_SET_TIMERSLACK, 1, 0, 0, 0); err != nil {
		logger.Warn("Failed to reduce timer slack", "error", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	sess, err := session.Open(openCtx, session.Options{DevicePath: cfg.Device, Hotkey: input.Hotkey}, logger.Logger)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Debug("Teardown incomplete", "error", err)
		}
	}()

	if cfg.Button < 0 || cfg.Button > 2 {
		logger.Warnf("Unknown button %d, clicking the left button", cfg.Button)
	}

	policy := clicker.Hold
	if cfg.Toggle {
		policy = clicker.Toggle
	}

	clock := clicker.MonotonicClock{}
	scheduler := clicker.NewScheduler(
		clicker.Config{
			Policy:      policy,
			Interval:    cfg.Interval(),
			IdleTimeout: config.IdleTimeout,
		},
		sess.Client,
		sess.Device,
		clicker.NewEmitter(sess.Pointer, clicker.ButtonFromSelector(cfg.Button), clock),
		clicker.NewPoller(sess.Client.Fd(), sess.Device.Fd()),
		clock,
		logger.Logger,
	)

	logger.Info("Ready", "cps", cfg.ClicksPerSecond, "mode", policy, "hotkey", "F8")
	if err := scheduler.Run(ctx); err != nil {
		return err
	}
	logger.Infof("Shutting down")
	return nil
}
