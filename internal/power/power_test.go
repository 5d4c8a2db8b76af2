package power

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type plug struct {
	mu    sync.Mutex
	on    bool
	cmnds []string
}

func (p *plug) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cmnd := r.URL.Query().Get("cmnd")
		p.mu.Lock()
		p.cmnds = append(p.cmnds, cmnd)
		switch cmnd {
		case "Power OFF":
			p.on = false
		case "Power ON":
			p.on = true
		case "Power":
		default:
			p.mu.Unlock()
			http.Error(w, "unknown command", http.StatusBadRequest)
			return
		}
		state := "OFF"
		if p.on {
			state = "ON"
		}
		p.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"POWER":"` + state + `"}`))
	})
}

func TestRelayCycle(t *testing.T) {
	p := &plug{on: true}
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	r := New(srv.URL, WithDischarge(10*time.Millisecond))
	if err := r.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.cmnds) != 2 || p.cmnds[0] != "Power OFF" || p.cmnds[1] != "Power ON" {
		t.Fatalf("commands = %v, want off then on", p.cmnds)
	}
	if !p.on {
		t.Fatal("plug left off after cycle")
	}
}

func TestRelayStatus(t *testing.T) {
	p := &plug{on: true}
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	r := New(srv.URL)
	on, err := r.Status(context.Background())
	if err != nil || !on {
		t.Fatalf("Status = %v, %v; want on", on, err)
	}

	p.mu.Lock()
	p.on = false
	p.mu.Unlock()
	on, err = r.Status(context.Background())
	if err != nil || on {
		t.Fatalf("Status = %v, %v; want off", on, err)
	}
}

func TestRelayRejectsGarbageReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not a tasmota</html>"))
	}))
	defer srv.Close()

	r := New(srv.URL)
	if err := r.Probe(context.Background()); !errors.Is(err, ErrUnexpectedReply) {
		t.Fatalf("Probe = %v, want unexpected-reply", err)
	}
}

func TestRelayUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // immediately dead

	r := New(srv.URL)
	if err := r.Probe(context.Background()); err == nil {
		t.Fatal("Probe against a dead relay succeeded")
	}
}

func TestRelayCycleHonoursContext(t *testing.T) {
	p := &plug{on: true}
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	r := New(srv.URL, WithDischarge(time.Hour))
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if err := r.Cycle(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Cycle = %v, want context.Canceled", err)
	}
}

func TestNewAddsScheme(t *testing.T) {
	r := New("192.168.1.50")
	if r.base != "http://192.168.1.50" {
		t.Fatalf("base = %q", r.base)
	}
}
