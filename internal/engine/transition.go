package engine

import "github.com/user/amlburn/internal/pattern"

// Console commands issued by the engine.
const (
	CmdLogin    = "root"
	CmdReboot   = "reboot -f"
	CmdDownload = "adnl"
	CmdVerify   = "uname -a"
)

// Flags are the per-cycle one-shot markers of a Session. They travel by
// value through Transition so the transition function stays pure.
type Flags struct {
	LoginSent             bool
	DownloadEntered       bool
	RebootSent            bool
	PromptSeenAfterReboot bool
	VerifySent            bool
	// KeepaliveActive mirrors whether a keystroke racer is alive; the
	// engine keeps it in sync with the task handle. At most one racer
	// exists at a time.
	KeepaliveActive bool
}

// ResetCycle clears everything that belongs to one boot cycle. RebootSent
// stays: it is set in the same step that triggers the reset and marks that
// a reboot is now pending.
func (f *Flags) ResetCycle() {
	f.LoginSent = false
	f.DownloadEntered = false
	f.PromptSeenAfterReboot = false
	f.VerifySent = false
}

// ActionKind enumerates the externally visible effects a transition may
// request. Transitions never perform the effects themselves.
type ActionKind int

const (
	ActSendCommand ActionKind = iota
	ActSendEnter
	ActStartKeepalive
	ActStopKeepalive
	ActEnterDownload
	ActResetCycleFlags
)

func (k ActionKind) String() string {
	switch k {
	case ActSendCommand:
		return "send_command"
	case ActSendEnter:
		return "send_enter"
	case ActStartKeepalive:
		return "start_keepalive"
	case ActStopKeepalive:
		return "stop_keepalive"
	case ActEnterDownload:
		return "enter_download"
	case ActResetCycleFlags:
		return "reset_cycle_flags"
	default:
		return "unknown"
	}
}

// Action is one requested effect. Text carries the command for
// ActSendCommand.
type Action struct {
	Kind ActionKind
	Text string
}

func sendCmd(text string) Action { return Action{Kind: ActSendCommand, Text: text} }

// Transition is the pure transition function: given the current state, a
// console event and the cycle flags, it returns the next state, the updated
// flags and the actions to perform. Unlisted (state, event) pairs change
// nothing and request nothing. It never blocks.
func Transition(state State, ev pattern.Event, f Flags) (State, Flags, []Action) {
	switch state {
	case StateInit, StateBootRom:
		switch ev.Kind {
		case pattern.KindBootloaderStage, pattern.KindBootRomBanner:
			var acts []Action
			// After a reboot the autoboot window opens right after the
			// bootloader stages; fire one keystroke synchronously and let
			// the racer keep the stream going. Idempotent: a live racer
			// means no second start.
			if ev.Kind == pattern.KindBootloaderStage && f.RebootSent && !f.KeepaliveActive {
				f.KeepaliveActive = true
				acts = append(acts, Action{Kind: ActSendEnter}, Action{Kind: ActStartKeepalive})
			}
			return StateBootRom, f, acts
		case pattern.KindUbootBanner, pattern.KindUbootPrompt:
			return StateUboot, f, nil
		case pattern.KindLoginPrompt:
			if !f.LoginSent {
				f.LoginSent = true
				return StateLogin, f, []Action{sendCmd(CmdLogin)}
			}
		case pattern.KindShellPrompt:
			if !f.RebootSent {
				f.RebootSent = true
				f.ResetCycle()
				return state, f, []Action{sendCmd(CmdReboot), {Kind: ActResetCycleFlags}}
			}
		}

	case StateUboot:
		switch ev.Kind {
		case pattern.KindAutobootBanner:
			return StateUboot, f, []Action{{Kind: ActSendEnter}}
		case pattern.KindUbootPrompt:
			if f.RebootSent && !f.PromptSeenAfterReboot {
				// The race is won; the racer's job is done.
				f.PromptSeenAfterReboot = true
				var acts []Action
				if f.KeepaliveActive {
					f.KeepaliveActive = false
					acts = append(acts, Action{Kind: ActStopKeepalive})
				}
				return StateUboot, f, acts
			}
			if !f.DownloadEntered {
				f.DownloadEntered = true
				return StateDownload, f, []Action{sendCmd(CmdDownload), {Kind: ActEnterDownload}}
			}
		case pattern.KindLoginPrompt:
			// Autoboot slipped through and the system came up anyway.
			if !f.LoginSent {
				f.LoginSent = true
				return StateLogin, f, []Action{sendCmd(CmdLogin)}
			}
			return StateLinux, f, nil
		case pattern.KindShellPrompt:
			if !f.RebootSent {
				f.RebootSent = true
				f.ResetCycle()
				return StateInit, f, []Action{sendCmd(CmdReboot), {Kind: ActResetCycleFlags}}
			}
		}

	case StateDownload:
		// USB reset and reboot notices during flashing are expected
		// traffic; the only way out of Download is the flash relay.
		return StateDownload, f, nil

	case StateLinux, StateLogin:
		switch ev.Kind {
		case pattern.KindShellPrompt:
			if !f.RebootSent {
				f.RebootSent = true
				f.ResetCycle()
				return StateInit, f, []Action{sendCmd(CmdReboot), {Kind: ActResetCycleFlags}}
			}
		case pattern.KindLoginPrompt:
			if !f.LoginSent {
				f.LoginSent = true
				return StateLogin, f, []Action{sendCmd(CmdLogin)}
			}
		}

	case StateBootVerify:
		switch ev.Kind {
		case pattern.KindLoginPrompt:
			if !f.LoginSent {
				f.LoginSent = true
				return StateBootVerify, f, []Action{sendCmd(CmdLogin)}
			}
		case pattern.KindShellPrompt:
			if !f.VerifySent {
				f.VerifySent = true
				return StateBootVerify, f, []Action{sendCmd(CmdVerify)}
			}
		case pattern.KindKernelVersion:
			// The kernel's own boot banner matches this signature too;
			// only the uname reply after the verify command counts.
			if f.VerifySent {
				return StateComplete, f, nil
			}
		}
	}

	return state, f, nil
}
