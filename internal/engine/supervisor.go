package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/user/amlburn/internal/console"
)

// SupervisorConfig wires one full run: the opened device channel, the
// transient collaborators and the outer retry budget.
type SupervisorConfig struct {
	// Port is the exclusively owned duplex device channel.
	Port io.ReadWriter

	Timeouts     Timeouts
	Pacer        console.PacerConfig
	VerifyPolicy VerifyPolicy
	Hooks        Hooks
	RunID        string

	// StartFlash launches the flashing subprocess and reports through the
	// given sinks. Required.
	StartFlash func(ctx context.Context, onSuccess func(), onFailure func(error))

	// PowerCycle turns the device off and on again. Nil means no relay is
	// available and the supervisor falls back to the wake-up sequence.
	PowerCycle func(ctx context.Context) error
	// PowerCycleAttempts bounds the power-cycle-and-catch-autoboot retry.
	PowerCycleAttempts int
	// WakeWindow bounds how long each wake attempt keeps nudging the
	// console before giving up. Zero means the default window.
	WakeWindow time.Duration
}

const defaultPowerCycleAttempts = 2

// Wake-up sequence windows for a device without a power relay.
const (
	wakeSettle        = 3 * time.Second
	wakeEnterPeriod   = 500 * time.Millisecond
	wakeEnterWindow   = 10 * time.Second
	wakeInterruptReps = 2
)

// RunSession executes one complete burn run on an opened device channel:
// power-cycle or wake the board, then drive the engine to a terminal state
// while the framer and the liveness monitor run alongside. All background
// tasks are joined before it returns.
func RunSession(ctx context.Context, cfg SupervisorConfig) *Result {
	cfg.Timeouts = cfg.Timeouts.withDefaults()
	if cfg.PowerCycleAttempts <= 0 {
		cfg.PowerCycleAttempts = defaultPowerCycleAttempts
	}
	if cfg.WakeWindow <= 0 {
		cfg.WakeWindow = wakeEnterWindow
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pacer := console.NewPacer(cfg.Port, cfg.Pacer)

	var eng *Engine
	eng = New(Config{
		Pacer:        pacer,
		Timeouts:     cfg.Timeouts,
		VerifyPolicy: cfg.VerifyPolicy,
		Hooks:        cfg.Hooks,
		RunID:        cfg.RunID,
		StartFlash: func(fctx context.Context) {
			cfg.StartFlash(fctx, eng.FlashSucceeded, eng.FlashFailed)
		},
	})

	framer := console.NewFramer(cfg.Port, console.FramerConfig{
		FirstData: cfg.Timeouts.FirstData,
	}, eng.HandleLine, eng.Fatal)

	monitor := NewMonitor(MonitorConfig{
		Snapshot:      eng.Snapshot,
		LastLine:      framer.LastLineAt,
		Lines:         framer.Lines,
		Fatal:         eng.Fatal,
		VerifyTimeout: eng.VerifyTimeout,
		Timeouts:      cfg.Timeouts,
	})

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		framer.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		monitor.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		bringUp(runCtx, cfg, pacer, framer, eng)
	}()

	res := eng.Run(runCtx)
	cancel()
	// The port is handed to the next user (board-info collection) right
	// after this returns; no task may still be reading it or have a
	// keystroke in flight.
	wg.Wait()
	return res
}

// bringUp gets the board talking: power-cycle with bounded retries when a
// relay exists, otherwise the wake-up keystroke sequence. It runs
// concurrently with the engine so every console line it provokes is
// dispatched normally.
func bringUp(ctx context.Context, cfg SupervisorConfig, pacer *console.Pacer, framer *console.Framer, eng *Engine) {
	if cfg.PowerCycle == nil {
		wakeUp(ctx, pacer, framer, cfg.WakeWindow)
		return
	}

	for attempt := 1; attempt <= cfg.PowerCycleAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}
		slog.Info("power cycling device", "attempt", attempt, "max", cfg.PowerCycleAttempts)
		if err := cfg.PowerCycle(ctx); err != nil {
			eng.Fatal(err)
			return
		}
		if nudgeUntilAlive(ctx, pacer, framer, cfg.WakeWindow) {
			return
		}
		slog.Warn("no console activity after power cycle", "attempt", attempt)
	}
	eng.Fatal(ErrRaceLost)
}

// wakeUp pokes a board that is already powered: settle, then Enter presses,
// then interrupt bursts. Purely best-effort; the engine reacts to whatever
// the console shows.
func wakeUp(ctx context.Context, pacer *console.Pacer, framer *console.Framer, window time.Duration) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(wakeSettle):
	}
	if framer.Lines() > 0 {
		return
	}

	if nudgeUntilAlive(ctx, pacer, framer, window) {
		return
	}

	for i := 0; i < wakeInterruptReps; i++ {
		if ctx.Err() != nil {
			return
		}
		if err := pacer.SendInterrupt(); err != nil {
			return
		}
		if err := pacer.SendEnter(); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wakeEnterPeriod):
		}
	}
}

// nudgeUntilAlive presses Enter every half second for up to window,
// returning true as soon as the framer has seen a line.
func nudgeUntilAlive(ctx context.Context, pacer *console.Pacer, framer *console.Framer, window time.Duration) bool {
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if framer.Lines() > 0 {
			return true
		}
		if err := pacer.SendEnter(); err != nil {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wakeEnterPeriod):
		}
	}
	return framer.Lines() > 0
}
