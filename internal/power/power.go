// Package power controls the board's supply through a Tasmota smart plug
// over its local HTTP command interface.
package power

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultDischarge = 5 * time.Second
)

// ErrUnexpectedReply marks a relay answer that is not valid Tasmota JSON.
var ErrUnexpectedReply = errors.New("power: unexpected relay reply")

// Relay talks to one Tasmota plug.
type Relay struct {
	base      string
	client    *http.Client
	discharge time.Duration
}

// Option adjusts a Relay.
type Option func(*Relay)

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Relay) { r.client = c }
}

// WithDischarge sets how long the plug stays off during a cycle so the
// board's capacitors drain and it boots cold.
func WithDischarge(d time.Duration) Option {
	return func(r *Relay) { r.discharge = d }
}

// New builds a Relay for the plug at host, e.g. "192.168.1.50" or a full
// http URL.
func New(host string, opts ...Option) *Relay {
	base := host
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	r := &Relay{
		base:      strings.TrimRight(base, "/"),
		client:    &http.Client{Timeout: defaultTimeout},
		discharge: defaultDischarge,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// tasmotaReply is the subset of the /cm answer we care about.
type tasmotaReply struct {
	Power string `json:"POWER"`
}

func (r *Relay) command(ctx context.Context, cmnd string) (string, error) {
	u := r.base + "/cm?cmnd=" + url.QueryEscape(cmnd)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("power: relay request %q: %w", cmnd, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("power: relay request %q: %w: status %s", cmnd, ErrUnexpectedReply, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("power: relay request %q: %w", cmnd, err)
	}
	var reply tasmotaReply
	if err := json.Unmarshal(body, &reply); err != nil || reply.Power == "" {
		return "", fmt.Errorf("power: relay request %q: %w: body %q", cmnd, ErrUnexpectedReply, body)
	}
	return reply.Power, nil
}

// Status returns whether the plug currently delivers power.
func (r *Relay) Status(ctx context.Context) (bool, error) {
	state, err := r.command(ctx, "Power")
	if err != nil {
		return false, err
	}
	return state == "ON", nil
}

// Off cuts power.
func (r *Relay) Off(ctx context.Context) error {
	state, err := r.command(ctx, "Power OFF")
	if err != nil {
		return err
	}
	if state != "OFF" {
		return fmt.Errorf("power: plug reports %q after off command: %w", state, ErrUnexpectedReply)
	}
	return nil
}

// On restores power.
func (r *Relay) On(ctx context.Context) error {
	state, err := r.command(ctx, "Power ON")
	if err != nil {
		return err
	}
	if state != "ON" {
		return fmt.Errorf("power: plug reports %q after on command: %w", state, ErrUnexpectedReply)
	}
	return nil
}

// Cycle turns the board off, waits for the discharge window and turns it
// back on.
func (r *Relay) Cycle(ctx context.Context) error {
	slog.Info("power cycle", "discharge", r.discharge)
	if err := r.Off(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.discharge):
	}
	return r.On(ctx)
}

// Probe checks that the plug answers at all. Used during preflight so a
// dead relay fails the run before the board is touched.
func (r *Relay) Probe(ctx context.Context) error {
	_, err := r.Status(ctx)
	return err
}
