package console

import (
	"context"
	"log/slog"
	"time"
)

const defaultKeepaliveInterval = 1 * time.Millisecond

// Keepalive hammers Enter at a fixed, very short interval to win the
// autoboot interrupt window. It is cancelled cooperatively: Stop signals the
// loop and waits (bounded) for the acknowledgment so no keystroke is in
// flight when the caller proceeds.
type Keepalive struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartKeepalive launches the racer. The first keystroke is the caller's
// responsibility (sent synchronously before starting); the racer only keeps
// the stream going. Lifetime is bounded by ctx and by Stop.
func StartKeepalive(ctx context.Context, pacer *Pacer, interval time.Duration) *Keepalive {
	if interval <= 0 {
		interval = defaultKeepaliveInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	k := &Keepalive{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(k.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
			if err := pacer.SendEnter(); err != nil {
				slog.Warn("keepalive keystroke failed", "error", err)
				return
			}
		}
	}()

	return k
}

// Stop cancels the racer and waits up to wait for it to acknowledge.
// It returns true if the racer confirmed shutdown within the bound.
func (k *Keepalive) Stop(wait time.Duration) bool {
	if k == nil {
		return true
	}
	k.cancel()
	select {
	case <-k.done:
		return true
	case <-time.After(wait):
		return false
	}
}

// Done exposes the completion observation point.
func (k *Keepalive) Done() <-chan struct{} {
	return k.done
}
