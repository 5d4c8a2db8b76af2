package console

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"
)

type recordingWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *recordingWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func fastPacer(w *recordingWriter) *Pacer {
	return NewPacer(w, PacerConfig{
		InterChar:      time.Microsecond,
		InterruptPause: time.Microsecond,
	})
}

func TestPacerSendCommandWireFormat(t *testing.T) {
	w := &recordingWriter{}
	p := fastPacer(w)

	if err := p.SendCommand("adnl"); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}

	want := "\x03adnl\r"
	if got := w.String(); got != want {
		t.Fatalf("wire bytes = %q, want %q", got, want)
	}
}

func TestPacerSendEnterAndInterrupt(t *testing.T) {
	w := &recordingWriter{}
	p := fastPacer(w)

	if err := p.SendEnter(); err != nil {
		t.Fatalf("SendEnter() error = %v", err)
	}
	if err := p.SendInterrupt(); err != nil {
		t.Fatalf("SendInterrupt() error = %v", err)
	}
	if got := w.String(); got != "\r\x03" {
		t.Fatalf("wire bytes = %q, want %q", got, "\r\x03")
	}
}

func TestKeepaliveStopIsBoundedAndAcknowledged(t *testing.T) {
	w := &recordingWriter{}
	p := fastPacer(w)

	k := StartKeepalive(context.Background(), p, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if !k.Stop(time.Second) {
		t.Fatal("keepalive did not acknowledge stop within the bound")
	}

	select {
	case <-k.Done():
	default:
		t.Fatal("Done() not closed after Stop")
	}

	// No keystrokes in flight after Stop returns.
	settled := w.String()
	time.Sleep(20 * time.Millisecond)
	if got := w.String(); got != settled {
		t.Fatalf("keystrokes still flowing after Stop: %q -> %q", settled, got)
	}
	if len(settled) == 0 {
		t.Fatal("keepalive never sent a keystroke")
	}
}

func TestKeepaliveStopOnNilIsNoop(t *testing.T) {
	var k *Keepalive
	if !k.Stop(time.Millisecond) {
		t.Fatal("Stop on nil keepalive should succeed")
	}
}
