// Package boardinfo interrogates a booted board over its console and writes
// the answers as a Markdown document.
//
// Collection is a synchronous request/response pass: one command at a time,
// output captured until the shell prompt returns or the line flow dries up.
// It runs after a successful burn and its failure never changes the run
// outcome.
package boardinfo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/user/amlburn/internal/console"
	"github.com/user/amlburn/internal/pattern"
)

// ErrNoShell means the console never produced a shell prompt.
var ErrNoShell = errors.New("boardinfo: no shell prompt on console")

const (
	defaultCommandTimeout = 60 * time.Second
	defaultQuietWindow    = 3 * time.Second
	defaultPromptWait     = 10 * time.Second

	loginUser = "root"
)

// probe is one collection command.
type probe struct {
	section string
	title   string
	cmd     string
}

var probes = []probe{
	{"system", "Hostname", "hostname"},
	{"system", "OS Release Information", "cat /etc/os-release 2>/dev/null || echo 'Not available'"},
	{"system", "Version Information", "cat /etc/version 2>/dev/null || echo 'Not available'"},
	{"kernel", "Kernel Version", "uname -a"},
	{"kernel", "Loaded Kernel Modules", "lsmod"},
	{"hardware", "CPU Information", "cat /proc/cpuinfo"},
	{"hardware", "Memory Information", "cat /proc/meminfo"},
	{"hardware", "Device Tree Model", "cat /proc/device-tree/model 2>/dev/null; echo"},
	{"network", "Network Interfaces", "ip a"},
	{"storage", "Filesystem Usage", "df -h"},
	{"storage", "Mounted Filesystems", "mount"},
	{"storage", "Partition Table", "fdisk -l 2>/dev/null || echo 'fdisk not available'"},
}

var sectionOrder = []string{"system", "kernel", "hardware", "network", "storage"}

var sectionTitles = map[string]string{
	"system":   "System Information",
	"kernel":   "Kernel Information",
	"hardware": "Hardware Information",
	"network":  "Network Information",
	"storage":  "Storage Information",
}

// Entry is one command's captured output.
type Entry struct {
	Section string
	Title   string
	Command string
	Output  string
}

// Report is the result of one collection pass.
type Report struct {
	GeneratedAt time.Time
	Hostname    string
	Entries     []Entry
}

// Config tunes the collection pass. Zero values take defaults.
type Config struct {
	// CommandTimeout caps the wait for one command's full output.
	CommandTimeout time.Duration
	// QuietWindow ends a capture once output has flowed and then stopped
	// for this long without a prompt.
	QuietWindow time.Duration
	// PromptWait caps the wait for a shell prompt before and between
	// commands.
	PromptWait time.Duration
	// Pacer tunes keystroke pacing on the wire.
	Pacer console.PacerConfig
}

func (c Config) withDefaults() Config {
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = defaultCommandTimeout
	}
	if c.QuietWindow <= 0 {
		c.QuietWindow = defaultQuietWindow
	}
	if c.PromptWait <= 0 {
		c.PromptWait = defaultPromptWait
	}
	return c
}

// commandSink is the write half of the console the collector needs.
type commandSink interface {
	SendCommand(text string) error
	SendEnter() error
}

// collector drives the request/response pass over an already-framed
// line stream.
type collector struct {
	cfg   Config
	sink  commandSink
	lines <-chan string
}

// Collect runs the full pass over an exclusively owned console channel.
func Collect(ctx context.Context, port io.ReadWriter, cfg Config) (*Report, error) {
	cfg = cfg.withDefaults()

	lines := make(chan string, 1024)
	framer := console.NewFramer(port, console.FramerConfig{
		FirstData: cfg.CommandTimeout,
	}, func(line string) {
		select {
		case lines <- line:
		default: // collector fell behind; prompt detection still works on later lines
		}
	}, func(err error) {})

	fctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go framer.Run(fctx)

	c := &collector{
		cfg:   cfg,
		sink:  console.NewPacer(port, cfg.Pacer),
		lines: lines,
	}
	return c.run(ctx)
}

func (c *collector) run(ctx context.Context) (*Report, error) {
	if err := c.ensureShell(ctx); err != nil {
		return nil, err
	}

	report := &Report{GeneratedAt: time.Now()}
	for _, p := range probes {
		slog.Info("collecting", "title", p.title, "cmd", p.cmd)
		if err := c.sink.SendCommand(p.cmd); err != nil {
			return nil, fmt.Errorf("boardinfo: send %q: %w", p.cmd, err)
		}
		output, err := c.capture(ctx, p.cmd)
		if err != nil {
			return nil, err
		}
		report.Entries = append(report.Entries, Entry{
			Section: p.section,
			Title:   p.title,
			Command: p.cmd,
			Output:  output,
		})
		if p.title == "Hostname" {
			report.Hostname = strings.TrimSpace(output)
		}
	}
	return report, nil
}

// ensureShell nudges the console until a shell prompt appears, answering a
// login prompt on the way.
func (c *collector) ensureShell(ctx context.Context) error {
	deadline := time.Now().Add(c.cfg.PromptWait)
	if err := c.sink.SendEnter(); err != nil {
		return err
	}
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line := <-c.lines:
			switch pattern.Match(line).Kind {
			case pattern.KindShellPrompt:
				return nil
			case pattern.KindLoginPrompt:
				if err := c.sink.SendCommand(loginUser); err != nil {
					return err
				}
			}
		case <-time.After(time.Second):
			if err := c.sink.SendEnter(); err != nil {
				return err
			}
		}
	}
	return ErrNoShell
}

// capture reads one command's output. The capture ends at the next shell
// prompt, or after the quiet window once output has flowed, or at the hard
// command timeout.
func (c *collector) capture(ctx context.Context, cmd string) (string, error) {
	var out []string
	sawOutput := false
	lastLine := time.Now()
	deadline := time.Now().Add(c.cfg.CommandTimeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case line := <-c.lines:
			lastLine = time.Now()
			if pattern.Match(line).Kind == pattern.KindShellPrompt {
				return strings.Join(out, "\n"), nil
			}
			// The console echoes the keystrokes back; drop the echo.
			if strings.Contains(line, cmd) {
				continue
			}
			out = append(out, line)
			sawOutput = true
		case <-time.After(250 * time.Millisecond):
			if sawOutput && time.Since(lastLine) > c.cfg.QuietWindow {
				slog.Debug("command output went quiet, saving", "cmd", cmd, "lines", len(out))
				return strings.Join(out, "\n"), nil
			}
		}
	}
	slog.Warn("command capture hit hard timeout", "cmd", cmd, "lines", len(out))
	return strings.Join(out, "\n"), nil
}

// anchor turns a section title into a GitHub-style heading anchor.
func anchor(title string) string {
	a := strings.ToLower(title)
	a = strings.ReplaceAll(a, " ", "-")
	a = strings.ReplaceAll(a, "(", "")
	a = strings.ReplaceAll(a, ")", "")
	return a
}

// Render produces the Markdown document: header, table of contents, then
// one fenced block per command.
func (r *Report) Render() []byte {
	var b strings.Builder
	b.WriteString("# Board Information\n\n")
	if r.Hostname != "" {
		fmt.Fprintf(&b, "**Hostname:** `%s`\n\n", r.Hostname)
	}
	fmt.Fprintf(&b, "*Generated on: %s*\n\n", r.GeneratedAt.Format("2006-01-02 15:04:05"))

	bySection := make(map[string][]Entry)
	for _, e := range r.Entries {
		bySection[e.Section] = append(bySection[e.Section], e)
	}

	b.WriteString("## Table of Contents\n\n")
	for _, s := range sectionOrder {
		entries, ok := bySection[s]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- [%s](#%s-information)\n", sectionTitles[s], s)
		for _, e := range entries {
			fmt.Fprintf(&b, "  - [%s](#%s)\n", e.Title, anchor(e.Title))
		}
	}
	b.WriteString("\n---\n\n")

	for _, s := range sectionOrder {
		entries, ok := bySection[s]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n", sectionTitles[s])
		for _, e := range entries {
			fmt.Fprintf(&b, "### %s\n\n", e.Title)
			fmt.Fprintf(&b, "**Command:** `%s`\n\n", e.Command)
			fmt.Fprintf(&b, "```\n%s\n```\n\n", e.Output)
		}
		b.WriteString("---\n\n")
	}
	return []byte(b.String())
}

// Write renders the report to path.
func (r *Report) Write(path string) error {
	if err := os.WriteFile(path, r.Render(), 0o644); err != nil {
		return fmt.Errorf("boardinfo: write %s: %w", path, err)
	}
	return nil
}
