package engine

import (
	"errors"
	"time"
)

// Failure taxonomy. The CLI boundary classifies with errors.Is; everything
// here funnels into the engine's single Error sink.
var (
	// ErrInactivityTimeout reports that the engine made no forward
	// progress for the global inactivity window.
	ErrInactivityTimeout = errors.New("no orchestration activity within the inactivity window")
	// ErrSilenceTimeout reports a device that was talking and then went
	// quiet for two consecutive silence checks: check power, cable and
	// baud rate.
	ErrSilenceTimeout = errors.New("console went silent mid-session")
	// ErrUbootWatchdog reports that the U-Boot prompt never reappeared
	// within its window after a reboot was issued: the autoboot race was
	// lost.
	ErrUbootWatchdog = errors.New("u-boot prompt not seen after reboot")
	// ErrFlashFailed reports a flashing subprocess failure.
	ErrFlashFailed = errors.New("flashing failed")
	// ErrRaceLost reports that power-cycle attempts were exhausted without
	// the console coming alive.
	ErrRaceLost = errors.New("autoboot race lost after all power-cycle attempts")
	// ErrVerifyTimeout reports that the verification shell never appeared
	// after a successful burn.
	ErrVerifyTimeout = errors.New("boot verification window elapsed")
)

// Outcome is the overall result surface of a run.
type Outcome int

const (
	OutcomeFailure Outcome = iota
	OutcomeSuccess
	// OutcomeSuccessUnverified means the image was written and the device
	// rebooted, but the verification shell never confirmed the new
	// kernel within its window.
	OutcomeSuccessUnverified
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeSuccessUnverified:
		return "success_unverified"
	default:
		return "failure"
	}
}

// Result is what a finished run reports to the caller.
type Result struct {
	RunID      string
	Outcome    Outcome
	FinalState State
	Reason     string
	Err        error
	Lines      int64
	StartedAt  time.Time
	Duration   time.Duration
}

// Failed reports whether the run ended in failure.
func (r *Result) Failed() bool {
	return r.Outcome == OutcomeFailure
}
