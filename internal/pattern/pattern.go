// Package pattern classifies console lines into symbolic boot-stage events.
// The table is fixed and ordered; a line maps to at most one event.
package pattern

import (
	"regexp"
	"strings"
)

// Kind identifies a boot-stage signature.
type Kind int

const (
	// KindNone is returned when no signature matches.
	KindNone Kind = iota
	KindAutobootBanner
	KindUbootPrompt
	KindLoginPrompt
	KindShellPrompt
	KindUbootBanner
	KindBootloaderStage
	KindBootRomBanner
	KindUsbResetActive
	KindRebootingBanner
	KindKernelVersion
)

func (k Kind) String() string {
	switch k {
	case KindAutobootBanner:
		return "autoboot_banner"
	case KindUbootPrompt:
		return "uboot_prompt"
	case KindLoginPrompt:
		return "login_prompt"
	case KindShellPrompt:
		return "shell_prompt"
	case KindUbootBanner:
		return "uboot_banner"
	case KindBootloaderStage:
		return "bootloader_stage"
	case KindBootRomBanner:
		return "bootrom_banner"
	case KindUsbResetActive:
		return "usb_reset"
	case KindRebootingBanner:
		return "rebooting"
	case KindKernelVersion:
		return "kernel_version"
	default:
		return "none"
	}
}

// Event is an immutable classification result: the matched kind plus the
// raw line it matched on.
type Event struct {
	Kind Kind
	Line string
}

type signature struct {
	kind Kind
	re   *regexp.Regexp
}

// Evaluation order matters: interactive prompts are checked before the
// looser banner signatures so a prompt embedded in boot noise cannot be
// misclassified. Prompt signatures are anchored to end of line; banner
// signatures are case-insensitive.
var signatures []signature

func init() {
	signatures = []signature{
		{KindAutobootBanner, regexp.MustCompile(`(?i)Hit any key to stop autoboot`)},
		{KindUbootPrompt, regexp.MustCompile(`(s4_polaris#|a4_mainstream#|a4_ba400#|=>|U-Boot>)\s*$`)},
		{KindShellPrompt, regexp.MustCompile(`root@.*?:~#\s*$`)},
		{KindLoginPrompt, regexp.MustCompile(`login:\s*$`)},
		{KindUbootBanner, regexp.MustCompile(`(?i)U-Boot\s+\d+\.\d+`)},
		{KindBootloaderStage, regexp.MustCompile(`(?i)BL2[EX]?\s+.*Built|BL31\s+.*Built|NOTICE:\s+BL31|BL3[23]|BL3-2`)},
		{KindBootRomBanner, regexp.MustCompile(`(?i)chip_family_id|ops_bining`)},
		{KindUsbResetActive, regexp.MustCompile(`(?i)USB RESET`)},
		{KindRebootingBanner, regexp.MustCompile(`(?i)Rebooting\.|Restarting system`)},
	}
}

var kernelVersionHints = []string{"#1", "SMP", "PREEMPT", "GNU/Linux"}

// Match returns the first signature matching line, or an Event with
// KindNone when nothing matches. It is a pure function with no side
// effects.
func Match(line string) Event {
	if line == "" {
		return Event{Kind: KindNone, Line: line}
	}
	for _, sig := range signatures {
		if sig.re.MatchString(line) {
			return Event{Kind: sig.kind, Line: line}
		}
	}
	if isKernelVersion(line) {
		return Event{Kind: KindKernelVersion, Line: line}
	}
	return Event{Kind: KindNone, Line: line}
}

// isKernelVersion detects a `uname -a` style line: it must name Linux and
// carry at least one kernel build marker.
func isKernelVersion(line string) bool {
	if !strings.Contains(line, "Linux") {
		return false
	}
	for _, hint := range kernelVersionHints {
		if strings.Contains(line, hint) {
			return true
		}
	}
	return false
}
