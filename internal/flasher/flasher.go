// Package flasher runs the external burn tool as a supervised subprocess
// and reports the outcome of the firmware write.
//
// The tool is spawned under a PTY: it refuses to stream progress when its
// stdout is a pipe, and the PTY also keeps its output line-buffered enough
// for live relay to the run log and the event hub.
package flasher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	creackpty "github.com/creack/pty"

	"github.com/user/amlburn/internal/console"
)

// DefaultBinary is the burn tool expected on PATH.
const DefaultBinary = "adnl_burn_pkg"

const (
	defaultStallWarn = 60 * time.Second
	defaultHardKill  = 5 * time.Minute

	ptyCols = 120
	ptyRows = 30
)

// ErrHardTimeout marks a burn that produced no progress for the hard
// deadline and was killed.
var ErrHardTimeout = errors.New("flasher: burn tool killed after hard timeout")

// progressRe matches the tool's percentage ticks, e.g. "%42..".
var progressRe = regexp.MustCompile(`%(\d+)\.\.`)

// successMarker is the tool's completion line, matched case-insensitively.
const successMarker = "burn successful"

// Config describes one burn invocation.
type Config struct {
	// Binary is the burn tool executable. Empty means DefaultBinary.
	Binary string
	// Image is the firmware package path, passed as -p.
	Image string
	// Sudo prepends sudo to the command line. The tool needs raw USB
	// access, so this is on by default in the shipped config.
	Sudo bool

	// StallWarn is how long without output before a warning is logged.
	StallWarn time.Duration
	// HardKill is how long without output before the process is killed
	// and the burn declared failed.
	HardKill time.Duration

	// OnLine receives every cleaned output line, for the run log and hub.
	OnLine func(line string)
	// OnProgress receives percentage ticks as they are parsed.
	OnProgress func(pct int)
}

// Relay is one running burn subprocess.
type Relay struct {
	cfg Config

	lines chan string
	exit  chan error
	kill  func() error

	mu       sync.Mutex
	progress int
	marker   bool
}

// Start spawns the burn tool under a PTY and begins pumping its output.
// The caller must then drive Run to completion.
func Start(cfg Config) (*Relay, error) {
	if cfg.Image == "" {
		return nil, errors.New("flasher: image path is required")
	}
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.StallWarn <= 0 {
		cfg.StallWarn = defaultStallWarn
	}
	if cfg.HardKill <= 0 {
		cfg.HardKill = defaultHardKill
	}

	argv := []string{cfg.Binary, "-p", cfg.Image, "-r", "1"}
	if cfg.Sudo {
		argv = append([]string{"sudo"}, argv...)
	}
	cmd := exec.Command(argv[0], argv[1:]...)

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{
		Cols: ptyCols,
		Rows: ptyRows,
	})
	if err != nil {
		return nil, fmt.Errorf("flasher: start %s: %w", cfg.Binary, err)
	}

	r := &Relay{
		cfg:   cfg,
		lines: make(chan string, 256),
		exit:  make(chan error, 1),
		kill: func() error {
			if cmd.Process == nil {
				return nil
			}
			return cmd.Process.Signal(syscall.SIGKILL)
		},
	}

	go r.readPump(ptmx)
	go func() {
		err := cmd.Wait()
		_ = ptmx.Close()
		r.exit <- err
	}()

	slog.Info("burn tool started", "binary", cfg.Binary, "image", cfg.Image, "sudo", cfg.Sudo)
	return r, nil
}

// readPump reads raw PTY output, splits it into lines and feeds the line
// channel. Progress ticks arrive carriage-return separated, so both \n and
// \r act as line breaks. The channel is closed when the PTY dies.
func (r *Relay) readPump(ptmx *os.File) {
	defer close(r.lines)

	buf := make([]byte, 4096)
	var partial []byte
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			partial = append(partial, buf[:n]...)
			for {
				idx := bytes.IndexAny(partial, "\r\n")
				if idx < 0 {
					break
				}
				line := strings.TrimSpace(console.StripControl(string(partial[:idx])))
				partial = partial[idx+1:]
				if line != "" {
					r.lines <- line
				}
			}
		}
		if err != nil {
			if line := strings.TrimSpace(console.StripControl(string(partial))); line != "" {
				r.lines <- line
			}
			return
		}
	}
}

// Run consumes the subprocess output until exit or timeout and delivers
// exactly one of onSuccess / onFailure. Success is announced the moment the
// tool prints its completion marker: the board reboots right after the
// marker and the boot-verification window must open then, not when the
// lingering tool finally exits. Cancelling ctx kills the tool.
func (r *Relay) Run(ctx context.Context, onSuccess func(), onFailure func(err error)) {
	lastOutput := time.Now()
	stallWarned := false
	succeeded := false

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case line, ok := <-r.lines:
			if !ok {
				// PTY closed; the exit channel settles the verdict.
				r.lines = nil
				continue
			}
			lastOutput = time.Now()
			stallWarned = false
			r.handleLine(line)
			if !succeeded && r.markerSeen() {
				succeeded = true
				onSuccess()
			}

		case err := <-r.exit:
			if succeeded {
				// Verdict already delivered; drain what's left for the logs.
				r.drainLines()
				return
			}
			r.finish(err, onSuccess, onFailure)
			return

		case <-ticker.C:
			idle := time.Since(lastOutput)
			if idle >= r.cfg.HardKill {
				slog.Error("burn tool unresponsive, killing", "idle", idle.Round(time.Second))
				_ = r.kill()
				<-r.exit
				if !succeeded {
					onFailure(ErrHardTimeout)
				}
				return
			}
			if idle >= r.cfg.StallWarn && !stallWarned {
				slog.Warn("burn tool output stalled", "idle", idle.Round(time.Second), "progress", r.Progress())
				stallWarned = true
			}

		case <-ctx.Done():
			slog.Warn("burn cancelled, killing tool")
			_ = r.kill()
			<-r.exit
			if !succeeded {
				onFailure(ctx.Err())
			}
			return
		}
	}
}

func (r *Relay) handleLine(line string) {
	if r.cfg.OnLine != nil {
		r.cfg.OnLine(line)
	}

	if m := progressRe.FindAllStringSubmatch(line, -1); m != nil {
		pct, _ := strconv.Atoi(m[len(m)-1][1])
		r.mu.Lock()
		advanced := pct > r.progress
		if advanced {
			r.progress = pct
		}
		r.mu.Unlock()
		if advanced {
			slog.Info("burn progress", "pct", pct)
			if r.cfg.OnProgress != nil {
				r.cfg.OnProgress(pct)
			}
		}
	}

	if strings.Contains(strings.ToLower(line), successMarker) {
		r.mu.Lock()
		r.marker = true
		r.mu.Unlock()
		slog.Info("burn tool reported success")
	}
}

// finish maps process exit to the verdict: the success marker wins, any
// exit without it is a failure carrying the exit code.
func (r *Relay) finish(exitErr error, onSuccess func(), onFailure func(err error)) {
	// Drain any lines that raced with the exit notification.
	r.drainLines()

	if r.markerSeen() {
		onSuccess()
		return
	}

	var ee *exec.ExitError
	switch {
	case errors.As(exitErr, &ee):
		onFailure(fmt.Errorf("flasher: %s exited with code %d", r.cfg.Binary, ee.ExitCode()))
	case exitErr != nil:
		onFailure(fmt.Errorf("flasher: %s: %w", r.cfg.Binary, exitErr))
	default:
		onFailure(fmt.Errorf("flasher: %s exited cleanly without reporting success", r.cfg.Binary))
	}
}

// drainLines consumes the remainder of a closed line channel so late output
// still reaches the handlers. No-op once the channel has been retired.
func (r *Relay) drainLines() {
	if r.lines == nil {
		return
	}
	for line := range r.lines {
		r.handleLine(line)
	}
	r.lines = nil
}

func (r *Relay) markerSeen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.marker
}

// Progress returns the highest percentage seen so far.
func (r *Relay) Progress() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}
