package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// ErrFirstDataTimeout reports a device channel that never produced a single
// byte after open: no device, dead cable or no power.
var ErrFirstDataTimeout = errors.New("no console data received after open")

// FramerConfig tunes the line framer. Zero values fall back to the
// production defaults.
type FramerConfig struct {
	// FlushAfter bounds how long a partial line (no trailing newline) may
	// sit buffered before it is emitted as a synthetic line. Interactive
	// prompts are emitted without a newline and must still be observable.
	FlushAfter time.Duration
	// FirstData bounds the wait for the first byte after open.
	FirstData time.Duration
	// IdleDelay paces the read loop when the reader returns zero bytes
	// without error (a serial read timeout tick).
	IdleDelay time.Duration
}

const (
	defaultFlushAfter = 500 * time.Millisecond
	defaultFirstData  = 30 * time.Second
	defaultIdleDelay  = 10 * time.Millisecond
)

// Framer owns the read side of the device channel exclusively. It turns the
// raw byte stream into decoded, trimmed, control-stripped lines delivered in
// arrival order through the onLine callback. It never blocks without bound:
// the underlying port must be configured with a read timeout so the loop
// regularly observes cancellation.
type Framer struct {
	r       io.Reader
	onLine  func(line string)
	onFatal func(err error)
	cfg     FramerConfig

	lines    atomic.Int64
	lastLine atomic.Int64 // unix nanos of the last emitted line
}

// NewFramer wires a framer to its reader and sinks. onLine receives every
// decoded line; onFatal receives at most one unrecoverable error.
func NewFramer(r io.Reader, cfg FramerConfig, onLine func(string), onFatal func(error)) *Framer {
	if cfg.FlushAfter <= 0 {
		cfg.FlushAfter = defaultFlushAfter
	}
	if cfg.FirstData <= 0 {
		cfg.FirstData = defaultFirstData
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = defaultIdleDelay
	}
	return &Framer{r: r, onLine: onLine, onFatal: onFatal, cfg: cfg}
}

// Lines returns the monotonically increasing count of emitted lines.
func (f *Framer) Lines() int64 {
	return f.lines.Load()
}

// LastLineAt returns the time of the last emitted line, or the zero time
// when nothing has been emitted yet.
func (f *Framer) LastLineAt() time.Time {
	ns := f.lastLine.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Run drives the read loop until ctx is cancelled, the reader reports EOF,
// or a fatal condition is raised. It must be the only reader of f.r.
func (f *Framer) Run(ctx context.Context) {
	buf := make([]byte, 4096)
	var pending []byte
	opened := time.Now()
	gotData := false
	var lastByteAt time.Time

	for {
		if ctx.Err() != nil {
			return
		}

		n, err := f.r.Read(buf)
		if n > 0 {
			gotData = true
			lastByteAt = time.Now()
			pending = append(pending, buf[:n]...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				f.emit(pending[:i])
				pending = pending[i+1:]
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(pending) > 0 {
					f.emit(pending)
				}
				return
			}
			f.onFatal(fmt.Errorf("console read: %w", err))
			return
		}

		if n == 0 {
			// A zero-byte read is the port's read-timeout tick; use it to
			// service the two time-bounded obligations of this loop.
			if !gotData && time.Since(opened) > f.cfg.FirstData {
				f.onFatal(ErrFirstDataTimeout)
				return
			}
			if len(pending) > 0 && time.Since(lastByteAt) > f.cfg.FlushAfter {
				f.emit(pending)
				pending = pending[:0]
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(f.cfg.IdleDelay):
			}
		}
	}
}

func (f *Framer) emit(raw []byte) {
	line := strings.TrimSpace(StripControl(strings.TrimSuffix(string(raw), "\r")))
	if line == "" {
		return
	}
	f.lines.Add(1)
	f.lastLine.Store(time.Now().UnixNano())
	slog.Debug("console line", "text", line)
	f.onLine(line)
}
