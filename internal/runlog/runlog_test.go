package runlog

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestLogWritesTimestampedFiles(t *testing.T) {
	base := t.TempDir()
	started := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)

	l, err := New(base, "3f2a9c11-aaaa-bbbb-cccc-000000000000", started)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.Console("U-Boot 2023.01")
	l.Console("s4_polaris#")
	l.Event("state", "init -> uboot")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	wantDir := filepath.Join(base, "run-20260825-103000-3f2a9c11")
	if l.Dir() != wantDir {
		t.Fatalf("Dir() = %q, want %q", l.Dir(), wantDir)
	}

	console, err := os.ReadFile(filepath.Join(wantDir, "console.log"))
	if err != nil {
		t.Fatalf("read console log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(console)), "\n")
	if len(lines) != 2 {
		t.Fatalf("console log has %d lines: %q", len(lines), console)
	}
	stamped := regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2}\.\d{3}\] `)
	for _, line := range lines {
		if !stamped.MatchString(line) {
			t.Fatalf("line missing millisecond timestamp: %q", line)
		}
	}

	events, err := os.ReadFile(filepath.Join(wantDir, "events.log"))
	if err != nil {
		t.Fatalf("read event log: %v", err)
	}
	if !strings.Contains(string(events), "init -> uboot") {
		t.Fatalf("event log missing transition: %q", events)
	}
}

func TestLogWriteAfterCloseIsDropped(t *testing.T) {
	l, err := New(t.TempDir(), "deadbeef", time.Now())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	l.Console("too late")
	l.Event("late", "too late")
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestLogShortRunIDKeptWhole(t *testing.T) {
	l, err := New(t.TempDir(), "ab12", time.Now())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()
	if !strings.HasSuffix(l.Dir(), "-ab12") {
		t.Fatalf("Dir() = %q, want -ab12 suffix", l.Dir())
	}
}
