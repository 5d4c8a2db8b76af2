package serialdev

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// minImageSize guards against handing the flasher a truncated package; a
// real firmware image for these boards is never smaller than this.
const minImageSize = 50 * 1024 * 1024

// terminalTools are the usual suspects for a held serial port.
var terminalTools = []string{"minicom", "screen", "picocom", "cu", "tio"}

// PreflightOptions selects which checks to run.
type PreflightOptions struct {
	Device     string
	Image      string // empty skips the image check (collect/logout runs)
	FlasherBin string // empty skips the PATH lookup
	// ProbeRelay checks the power relay; nil means no relay is configured.
	ProbeRelay func() error
}

// Preflight validates the run's external prerequisites before the engine
// starts. Failures here are setup failures: fatal, reported immediately,
// never retried.
func Preflight(opts PreflightOptions) error {
	if opts.Device == "" {
		return errors.New("no serial device configured")
	}
	if _, err := os.Stat(opts.Device); err != nil {
		return fmt.Errorf("serial device %s: %w", opts.Device, err)
	}

	if holders := scanPortHolders(opts.Device); len(holders) > 0 {
		return fmt.Errorf("%s appears held by %s: %w", opts.Device, strings.Join(holders, ", "), ErrPortBusy)
	}

	if opts.Image != "" {
		info, err := os.Stat(opts.Image)
		if err != nil {
			return fmt.Errorf("image file: %w", err)
		}
		if info.Size() < minImageSize {
			return fmt.Errorf("image file %s is %d bytes, below the %d byte minimum for a burn package",
				opts.Image, info.Size(), int64(minImageSize))
		}
	}

	if opts.FlasherBin != "" {
		if _, err := exec.LookPath(opts.FlasherBin); err != nil {
			return fmt.Errorf("flasher binary %q not found on PATH: %w", opts.FlasherBin, err)
		}
	}

	if opts.ProbeRelay != nil {
		if err := opts.ProbeRelay(); err != nil {
			return fmt.Errorf("power relay unreachable: %w", err)
		}
	}

	return nil
}

// scanPortHolders looks for terminal programs whose command line mentions
// the device node. Best effort: enumeration failures only log.
func scanPortHolders(device string) []string {
	procs, err := process.Processes()
	if err != nil {
		slog.Debug("process scan unavailable", "error", err)
		return nil
	}

	var holders []string
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		if !isTerminalTool(name) {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil {
			continue
		}
		if strings.Contains(cmdline, device) {
			holders = append(holders, fmt.Sprintf("%s (pid %d)", name, p.Pid))
		}
	}
	return holders
}

func isTerminalTool(name string) bool {
	for _, tool := range terminalTools {
		if name == tool {
			return true
		}
	}
	return false
}
