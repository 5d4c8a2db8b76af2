package console

import (
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	interruptByte = 0x03 // Ctrl-C
	enterByte     = '\r'
)

// PacerConfig tunes keystroke pacing. Zero values fall back to the
// production defaults.
type PacerConfig struct {
	// InterChar is the delay between characters of a command. Slow UART
	// front-ends drop fast-typed input.
	InterChar time.Duration
	// InterruptPause is the delay between the interrupt byte and the first
	// command character.
	InterruptPause time.Duration
}

const (
	defaultInterChar      = 2 * time.Millisecond
	defaultInterruptPause = 100 * time.Millisecond
)

// Pacer owns the write side of the device channel exclusively. All command
// and keystroke traffic goes through it; the mutex makes interleaved writers
// (the keepalive racer, the engine) serialize at whole-keystroke granularity.
type Pacer struct {
	mu  sync.Mutex
	w   io.Writer
	cfg PacerConfig
}

// NewPacer wraps the write side of the device channel.
func NewPacer(w io.Writer, cfg PacerConfig) *Pacer {
	if cfg.InterChar <= 0 {
		cfg.InterChar = defaultInterChar
	}
	if cfg.InterruptPause <= 0 {
		cfg.InterruptPause = defaultInterruptPause
	}
	return &Pacer{w: w, cfg: cfg}
}

// SendCommand interrupts whatever the console is doing, then types cmd one
// character at a time followed by a carriage return.
func (p *Pacer) SendCommand(cmd string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.w.Write([]byte{interruptByte}); err != nil {
		return fmt.Errorf("send interrupt: %w", err)
	}
	time.Sleep(p.cfg.InterruptPause)

	for i := 0; i < len(cmd); i++ {
		if _, err := p.w.Write([]byte{cmd[i]}); err != nil {
			return fmt.Errorf("send command byte: %w", err)
		}
		time.Sleep(p.cfg.InterChar)
	}

	if _, err := p.w.Write([]byte{enterByte}); err != nil {
		return fmt.Errorf("send command terminator: %w", err)
	}
	return nil
}

// SendEnter fires a bare carriage return.
func (p *Pacer) SendEnter() error {
	return p.SendRaw([]byte{enterByte})
}

// SendInterrupt fires a bare Ctrl-C.
func (p *Pacer) SendInterrupt() error {
	return p.SendRaw([]byte{interruptByte})
}

// SendRaw writes bytes verbatim as one keystroke unit.
func (p *Pacer) SendRaw(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.w.Write(b); err != nil {
		return fmt.Errorf("send raw: %w", err)
	}
	return nil
}
