package logout

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// echoPort replies to "exit" keystrokes with scripted console output.
type echoPort struct {
	mu     sync.Mutex
	toRead []byte
	wrote  []byte
	onExit func(n int) string
	exits  int
}

func (p *echoPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.toRead) == 0 {
		return 0, nil
	}
	n := copy(b, p.toRead)
	p.toRead = p.toRead[n:]
	return n, nil
}

func (p *echoPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wrote = append(p.wrote, b...)
	if strings.HasSuffix(string(p.wrote), "exit\r") && p.onExit != nil {
		p.exits++
		p.toRead = append(p.toRead, p.onExit(p.exits)...)
	}
	return len(b), nil
}

func fastConfig() Config {
	cfg := Config{Wait: time.Second}
	cfg.Pacer.InterChar = time.Microsecond
	cfg.Pacer.InterruptPause = time.Microsecond
	return cfg
}

func TestRunReachesLoginPrompt(t *testing.T) {
	port := &echoPort{
		onExit: func(int) string { return "logout\npolaris login:\n" },
	}
	if err := Run(context.Background(), port, fastConfig()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunExitsNestedShells(t *testing.T) {
	port := &echoPort{
		onExit: func(n int) string {
			if n == 1 {
				return "root@polaris:~#\n"
			}
			return "logout\npolaris login:\n"
		},
	}
	if err := Run(context.Background(), port, fastConfig()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	port.mu.Lock()
	defer port.mu.Unlock()
	if port.exits != 2 {
		t.Fatalf("exit sent %d times, want 2", port.exits)
	}
}

func TestRunTimesOutWithoutLoginPrompt(t *testing.T) {
	port := &echoPort{} // console stays silent
	cfg := fastConfig()
	cfg.Wait = 50 * time.Millisecond
	if err := Run(context.Background(), port, cfg); !errors.Is(err, ErrNoLoginPrompt) {
		t.Fatalf("Run = %v, want no-login-prompt", err)
	}
}
