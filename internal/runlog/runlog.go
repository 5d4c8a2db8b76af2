// Package runlog writes the per-run log files: a millisecond-timestamped
// console transcript and an event log of state transitions and pattern hits.
package runlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	consoleFile = "console.log"
	eventFile   = "events.log"

	dirLayout  = "20060102-150405"
	timeLayout = "15:04:05.000"
)

// Log owns one run's log directory and its open files.
type Log struct {
	dir string

	mu      sync.Mutex
	console *bufio.Writer
	events  *bufio.Writer
	files   []*os.File
	closed  bool
}

// New creates a fresh run directory under baseDir, named after the start
// time and the short run ID, and opens the log files inside it.
func New(baseDir, runID string, startedAt time.Time) (*Log, error) {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	dir := filepath.Join(baseDir, fmt.Sprintf("run-%s-%s", startedAt.Format(dirLayout), short))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("runlog: create %s: %w", dir, err)
	}

	l := &Log{dir: dir}
	for _, name := range []string{consoleFile, eventFile} {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("runlog: create %s: %w", name, err)
		}
		l.files = append(l.files, f)
	}
	l.console = bufio.NewWriter(l.files[0])
	l.events = bufio.NewWriter(l.files[1])
	return l, nil
}

// Dir returns the run's log directory, for collaborators that drop extra
// files next to the transcripts.
func (l *Log) Dir() string { return l.dir }

// Console appends one console line with a millisecond timestamp.
func (l *Log) Console(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	fmt.Fprintf(l.console, "[%s] %s\n", time.Now().Format(timeLayout), line)
}

// Event appends one event record, e.g. a state transition or pattern hit.
func (l *Log) Event(kind, detail string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	fmt.Fprintf(l.events, "[%s] %-16s %s\n", time.Now().Format(timeLayout), kind, detail)
}

// Close flushes and closes both files. Safe to call more than once; writes
// after Close are dropped.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var first error
	for _, w := range []*bufio.Writer{l.console, l.events} {
		if w == nil {
			continue
		}
		if err := w.Flush(); err != nil && first == nil {
			first = err
		}
	}
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
