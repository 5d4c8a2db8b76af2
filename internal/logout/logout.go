// Package logout returns a board's console to its login prompt, so the next
// operator does not inherit an open root shell.
package logout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/user/amlburn/internal/console"
	"github.com/user/amlburn/internal/pattern"
)

// ErrNoLoginPrompt means the shell was asked to exit but no login prompt
// followed within the wait window.
var ErrNoLoginPrompt = errors.New("logout: no login prompt after exit")

const (
	defaultWait = 10 * time.Second

	exitCommand = "exit"
)

// Config tunes the logout pass.
type Config struct {
	// Wait caps how long to watch for the login prompt.
	Wait time.Duration
	// Pacer tunes keystroke pacing on the wire.
	Pacer console.PacerConfig
}

// Run sends exit on the console and waits for the login prompt. A console
// already sitting at a login prompt succeeds immediately.
func Run(ctx context.Context, port io.ReadWriter, cfg Config) error {
	if cfg.Wait <= 0 {
		cfg.Wait = defaultWait
	}

	lines := make(chan string, 256)
	framer := console.NewFramer(port, console.FramerConfig{
		FirstData: cfg.Wait,
	}, func(line string) {
		select {
		case lines <- line:
		default:
		}
	}, func(err error) {})

	fctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go framer.Run(fctx)

	pacer := console.NewPacer(port, cfg.Pacer)
	if err := pacer.SendCommand(exitCommand); err != nil {
		return err
	}
	slog.Info("sent exit, waiting for login prompt", "wait", cfg.Wait)

	deadline := time.Now().Add(cfg.Wait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line := <-lines:
			switch pattern.Match(line).Kind {
			case pattern.KindLoginPrompt:
				slog.Info("console at login prompt")
				return nil
			case pattern.KindShellPrompt:
				// Nested shell; keep exiting.
				if err := pacer.SendCommand(exitCommand); err != nil {
					return err
				}
			}
		case <-time.After(time.Second):
			if err := pacer.SendEnter(); err != nil {
				return err
			}
		}
	}
	return ErrNoLoginPrompt
}
