package engine

import (
	"context"
	"log/slog"
	"time"
)

// MonitorConfig wires a liveness monitor to its observation points. The
// monitor never mutates session state: escalations travel through the
// Fatal/VerifyTimeout sinks like every other event.
type MonitorConfig struct {
	Snapshot func() Status
	// LastLine and Lines come from the framer's counters.
	LastLine func() time.Time
	Lines    func() int64

	Fatal         func(err error)
	VerifyTimeout func()

	Timeouts Timeouts
	// Tick overrides the 1 s check interval in tests.
	Tick time.Duration
}

// Monitor watches for a wedged run: global inactivity, sustained silence
// after the device was talking, a lost autoboot race after reboot, and an
// overdue boot verification.
type Monitor struct {
	cfg MonitorConfig

	silenceWarnings  int
	lastSilenceCheck time.Time
	verifyFired      bool
}

// NewMonitor builds a Monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	cfg.Timeouts = cfg.Timeouts.withDefaults()
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	return &Monitor{cfg: cfg}
}

// Run ticks until the session reaches a terminal state or ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.check() {
				return
			}
		}
	}
}

// check runs one observation pass; it returns true when the monitor is
// done watching.
func (m *Monitor) check() bool {
	snap := m.cfg.Snapshot()
	if snap.State.Terminal() {
		return true
	}
	now := time.Now()

	// Global inactivity only counts once the device has said something;
	// before that the first-data timeout owns the diagnosis.
	if m.cfg.Lines() > 0 && now.Sub(snap.LastActivity) > m.cfg.Timeouts.Inactivity {
		m.cfg.Fatal(ErrInactivityTimeout)
		return true
	}

	if m.checkSilence(now) {
		return true
	}

	if !snap.RebootSentAt.IsZero() && !snap.Flags.PromptSeenAfterReboot &&
		now.Sub(snap.RebootSentAt) > m.cfg.Timeouts.UbootWatchdog {
		m.cfg.Fatal(ErrUbootWatchdog)
		return true
	}

	if snap.State == StateBootVerify && !m.verifyFired && !snap.FlashDoneAt.IsZero() &&
		now.Sub(snap.FlashDoneAt) > m.cfg.Timeouts.BootVerify {
		m.verifyFired = true
		m.cfg.VerifyTimeout()
	}

	return false
}

// checkSilence distinguishes "device stopped talking mid-session" from the
// generic inactivity timeout. Two consecutive spaced checks over the
// silence threshold escalate.
func (m *Monitor) checkSilence(now time.Time) bool {
	if now.Sub(m.lastSilenceCheck) < m.cfg.Timeouts.SilenceCheck {
		return false
	}
	m.lastSilenceCheck = now

	if m.cfg.Lines() == 0 {
		return false
	}
	last := m.cfg.LastLine()
	if last.IsZero() || now.Sub(last) <= m.cfg.Timeouts.SilenceWarn {
		m.silenceWarnings = 0
		return false
	}

	m.silenceWarnings++
	slog.Warn("console silent", "since", now.Sub(last).Round(time.Second), "warnings", m.silenceWarnings)
	if m.silenceWarnings >= 2 {
		m.cfg.Fatal(ErrSilenceTimeout)
		return true
	}
	return false
}
