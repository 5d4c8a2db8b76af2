// Package engine drives a device's serial console through the boot, flash
// and verify cycle. It owns the single state variable and the session
// flags; every other task communicates with it by enqueuing events, never
// by touching state directly.
package engine

// State is the boot/flash orchestration state.
type State int

const (
	StateInit State = iota
	StateBootRom
	StateUboot
	StateDownload
	StateLinux
	StateLogin
	StateBootVerify
	StateComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateBootRom:
		return "bootrom"
	case StateUboot:
		return "uboot"
	case StateDownload:
		return "download"
	case StateLinux:
		return "linux"
	case StateLogin:
		return "login"
	case StateBootVerify:
		return "boot_verify"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether the run ends in this state.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateError
}
