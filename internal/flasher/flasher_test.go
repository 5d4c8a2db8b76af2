package flasher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// scripted builds a Relay around test-owned channels, skipping the real
// subprocess spawn.
func scripted(cfg Config) *Relay {
	if cfg.StallWarn <= 0 {
		cfg.StallWarn = defaultStallWarn
	}
	if cfg.HardKill <= 0 {
		cfg.HardKill = defaultHardKill
	}
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	return &Relay{
		cfg:   cfg,
		lines: make(chan string, 64),
		exit:  make(chan error, 1),
		kill:  func() error { return nil },
	}
}

type verdict struct {
	mu      sync.Mutex
	success int
	failure []error
}

func (v *verdict) onSuccess() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.success++
}

func (v *verdict) onFailure(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failure = append(v.failure, err)
}

func TestRelaySuccessfulBurn(t *testing.T) {
	var progress []int
	r := scripted(Config{
		Image:      "/tmp/fw.img",
		OnProgress: func(pct int) { progress = append(progress, pct) },
	})
	v := &verdict{}

	r.lines <- "Downloading boot image"
	r.lines <- "%10..%20..%30.."
	r.lines <- "%30.." // repeated tick must not re-report
	r.lines <- "%100.."
	r.lines <- "Burn Successful!"
	close(r.lines)
	r.exit <- nil

	r.Run(context.Background(), v.onSuccess, v.onFailure)

	if v.success != 1 || len(v.failure) != 0 {
		t.Fatalf("verdict: success=%d failures=%v", v.success, v.failure)
	}
	want := []int{30, 100}
	if len(progress) != len(want) {
		t.Fatalf("progress ticks = %v, want %v", progress, want)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Fatalf("progress ticks = %v, want %v", progress, want)
		}
	}
	if r.Progress() != 100 {
		t.Fatalf("Progress() = %d, want 100", r.Progress())
	}
}

// The success verdict must land when the marker is printed, while the tool
// is still running, not when it eventually exits.
func TestRelaySuccessSignaledOnMarkerBeforeExit(t *testing.T) {
	r := scripted(Config{Image: "/tmp/fw.img"})
	v := &verdict{}

	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), v.onSuccess, v.onFailure)
		close(done)
	}()

	r.lines <- "burn Successful^_^"

	deadline := time.Now().Add(2 * time.Second)
	for {
		v.mu.Lock()
		n := v.success
		v.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("success not signaled while the tool was still running")
		}
		time.Sleep(time.Millisecond)
	}

	// Late output and the eventual exit change nothing.
	r.lines <- "cleaning up"
	close(r.lines)
	r.exit <- nil
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not finish after tool exit")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.success != 1 || len(v.failure) != 0 {
		t.Fatalf("verdict: success=%d failures=%v", v.success, v.failure)
	}
}

func TestRelayExitWithoutMarkerFails(t *testing.T) {
	r := scripted(Config{Image: "/tmp/fw.img"})
	v := &verdict{}

	r.lines <- "%10.."
	close(r.lines)
	r.exit <- errors.New("exit status 2")

	r.Run(context.Background(), v.onSuccess, v.onFailure)

	if v.success != 0 || len(v.failure) != 1 {
		t.Fatalf("verdict: success=%d failures=%v", v.success, v.failure)
	}
	if !strings.Contains(v.failure[0].Error(), "exit status 2") {
		t.Fatalf("failure = %v, want wrapped exit error", v.failure[0])
	}
}

func TestRelayCleanExitWithoutMarkerFails(t *testing.T) {
	r := scripted(Config{Image: "/tmp/fw.img"})
	v := &verdict{}

	close(r.lines)
	r.exit <- nil

	r.Run(context.Background(), v.onSuccess, v.onFailure)

	if len(v.failure) != 1 || !strings.Contains(v.failure[0].Error(), "without reporting success") {
		t.Fatalf("failures = %v, want clean-exit failure", v.failure)
	}
}

func TestRelayMarkerRacingExitStillWins(t *testing.T) {
	// The marker can land in the line buffer after Wait() already returned.
	// finish must drain the buffer before judging.
	r := scripted(Config{Image: "/tmp/fw.img"})
	v := &verdict{}

	r.lines <- "%100.."
	r.lines <- "burn successful"
	close(r.lines)

	r.finish(nil, v.onSuccess, v.onFailure)

	if v.success != 1 || len(v.failure) != 0 {
		t.Fatalf("verdict: success=%d failures=%v", v.success, v.failure)
	}
}

func TestRelayHardKillOnSilence(t *testing.T) {
	var killed bool
	r := scripted(Config{
		Image:     "/tmp/fw.img",
		StallWarn: 5 * time.Millisecond,
		HardKill:  10 * time.Millisecond,
	})
	r.kill = func() error {
		killed = true
		r.exit <- errors.New("signal: killed")
		return nil
	}
	v := &verdict{}

	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), v.onSuccess, v.onFailure)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not give up on a silent tool")
	}
	if !killed {
		t.Fatal("tool was not killed")
	}
	if len(v.failure) != 1 || !errors.Is(v.failure[0], ErrHardTimeout) {
		t.Fatalf("failures = %v, want hard timeout", v.failure)
	}
}

func TestRelayCancelKillsTool(t *testing.T) {
	r := scripted(Config{Image: "/tmp/fw.img"})
	r.kill = func() error {
		r.exit <- errors.New("signal: killed")
		return nil
	}
	v := &verdict{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx, v.onSuccess, v.onFailure)

	if len(v.failure) != 1 || !errors.Is(v.failure[0], context.Canceled) {
		t.Fatalf("failures = %v, want context.Canceled", v.failure)
	}
}

func TestRelayLineHookSeesCleanLines(t *testing.T) {
	var seen []string
	r := scripted(Config{
		Image:  "/tmp/fw.img",
		OnLine: func(line string) { seen = append(seen, line) },
	})
	v := &verdict{}

	r.lines <- "Burn Successful!"
	close(r.lines)
	r.exit <- nil
	r.Run(context.Background(), v.onSuccess, v.onFailure)

	if len(seen) != 1 || seen[0] != "Burn Successful!" {
		t.Fatalf("OnLine saw %v", seen)
	}
}
