package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/user/amlburn/internal/console"
	"github.com/user/amlburn/internal/pattern"
)

// Timeouts are the timing windows of a run. Zero values fall back to the
// production defaults.
type Timeouts struct {
	FirstData         time.Duration
	Inactivity        time.Duration
	SilenceWarn       time.Duration
	SilenceCheck      time.Duration
	UbootWatchdog     time.Duration
	BootVerify        time.Duration
	FlashStall        time.Duration
	FlashHard         time.Duration
	KeepaliveInterval time.Duration
	KeepaliveStop     time.Duration
	DownloadSettle    time.Duration
}

// DefaultTimeouts returns the production timing windows.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		FirstData:         30 * time.Second,
		Inactivity:        300 * time.Second,
		SilenceWarn:       10 * time.Second,
		SilenceCheck:      5 * time.Second,
		UbootWatchdog:     30 * time.Second,
		BootVerify:        120 * time.Second,
		FlashStall:        60 * time.Second,
		FlashHard:         300 * time.Second,
		KeepaliveInterval: time.Millisecond,
		KeepaliveStop:     time.Second,
		DownloadSettle:    time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	def := DefaultTimeouts()
	if t.FirstData <= 0 {
		t.FirstData = def.FirstData
	}
	if t.Inactivity <= 0 {
		t.Inactivity = def.Inactivity
	}
	if t.SilenceWarn <= 0 {
		t.SilenceWarn = def.SilenceWarn
	}
	if t.SilenceCheck <= 0 {
		t.SilenceCheck = def.SilenceCheck
	}
	if t.UbootWatchdog <= 0 {
		t.UbootWatchdog = def.UbootWatchdog
	}
	if t.BootVerify <= 0 {
		t.BootVerify = def.BootVerify
	}
	if t.FlashStall <= 0 {
		t.FlashStall = def.FlashStall
	}
	if t.FlashHard <= 0 {
		t.FlashHard = def.FlashHard
	}
	if t.KeepaliveInterval <= 0 {
		t.KeepaliveInterval = def.KeepaliveInterval
	}
	if t.KeepaliveStop <= 0 {
		t.KeepaliveStop = def.KeepaliveStop
	}
	if t.DownloadSettle <= 0 {
		t.DownloadSettle = def.DownloadSettle
	}
	return t
}

// VerifyPolicy decides what a boot-verification timeout means. The burn
// itself succeeded either way.
type VerifyPolicy int

const (
	// VerifyDegrade reports the run as success with an unverified boot.
	VerifyDegrade VerifyPolicy = iota
	// VerifyFail reports the run as a failure.
	VerifyFail
)

// Hooks are optional observation points. All callbacks fire on the
// dispatch goroutine and must not block.
type Hooks struct {
	OnLine  func(text string)
	OnEvent func(kind string, line string)
	OnState func(from, to State)
}

// Config wires an Engine.
type Config struct {
	Pacer        *console.Pacer
	Timeouts     Timeouts
	VerifyPolicy VerifyPolicy
	// StartFlash launches the flash relay once the FSM enters Download.
	// Called on a fresh goroutine after the settle delay.
	StartFlash func(ctx context.Context)
	Hooks      Hooks
	RunID      string
}

type msgKind int

const (
	msgLine msgKind = iota
	msgFlashSuccess
	msgFlashFailed
	msgFatal
	msgVerifyTimeout
)

type message struct {
	kind msgKind
	line string
	err  error
}

// session is the single run's mutable context. Owned exclusively by the
// dispatch goroutine.
type session struct {
	state         State
	flags         Flags
	linesReceived int64
	lastActivity  time.Time
	rebootSentAt  time.Time
	flashDoneAt   time.Time
	failure       error
	unverified    bool
}

// Status is a read-only snapshot of the session for the liveness monitor
// and the status surface.
type Status struct {
	RunID         string
	State         State
	Flags         Flags
	LinesReceived int64
	LastActivity  time.Time
	RebootSentAt  time.Time
	FlashDoneAt   time.Time
}

// Engine is the boot/flash FSM plus its ordered event channel. One
// dispatch goroutine (Run) is the sole writer of the session.
type Engine struct {
	cfg  Config
	msgs chan message
	done chan struct{}

	sess      session
	keepalive *console.Keepalive
	runCtx    context.Context

	mu   sync.RWMutex
	snap Status
}

// New builds an Engine. cfg.Pacer is required.
func New(cfg Config) *Engine {
	cfg.Timeouts = cfg.Timeouts.withDefaults()
	e := &Engine{
		cfg:  cfg,
		msgs: make(chan message, 256),
		done: make(chan struct{}),
	}
	e.sess.state = StateInit
	e.sess.lastActivity = time.Now()
	e.publish()
	return e
}

// enqueue delivers a message unless the dispatch loop has already
// terminated; late producers must never block on a dead consumer.
func (e *Engine) enqueue(m message) {
	select {
	case <-e.done:
	case e.msgs <- m:
	}
}

// HandleLine enqueues one console line. This is the framer's sink; lines
// are processed strictly in arrival order.
func (e *Engine) HandleLine(line string) {
	e.enqueue(message{kind: msgLine, line: line})
}

// Fatal enqueues an unrecoverable error from any background task. The
// engine's Error state is the single terminal failure sink.
func (e *Engine) Fatal(err error) {
	e.enqueue(message{kind: msgFatal, err: err})
}

// FlashSucceeded enqueues the relay's success signal. It travels the same
// ordered channel as console lines, so it is observed before any
// post-reboot console traffic.
func (e *Engine) FlashSucceeded() {
	e.enqueue(message{kind: msgFlashSuccess})
}

// FlashFailed enqueues a relay failure with its exit context.
func (e *Engine) FlashFailed(err error) {
	e.enqueue(message{kind: msgFlashFailed, err: err})
}

// VerifyTimeout enqueues the boot-verification window expiry.
func (e *Engine) VerifyTimeout() {
	e.enqueue(message{kind: msgVerifyTimeout})
}

// Snapshot returns the current session status. Safe from any goroutine.
func (e *Engine) Snapshot() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

// Run drives the dispatch loop to a terminal state and returns the run's
// result. It is the session's only writer.
func (e *Engine) Run(ctx context.Context) *Result {
	e.runCtx = ctx
	started := time.Now()
	e.sess.lastActivity = started
	e.publish()

	for !e.sess.state.Terminal() {
		select {
		case <-ctx.Done():
			e.fail(ctx.Err())
		case m := <-e.msgs:
			e.dispatch(m)
		}
		e.publish()
	}

	close(e.done)

	// Join background keystrokes before releasing the session.
	if e.keepalive != nil {
		e.keepalive.Stop(e.cfg.Timeouts.KeepaliveStop)
		e.keepalive = nil
	}

	return e.buildResult(started)
}

func (e *Engine) dispatch(m message) {
	switch m.kind {
	case msgLine:
		e.handleLine(m.line)

	case msgFlashSuccess:
		if e.sess.state != StateDownload {
			slog.Warn("flash success signal outside download", "state", e.sess.state)
			return
		}
		e.sess.flashDoneAt = time.Now()
		e.sess.flags.LoginSent = false
		e.sess.flags.VerifySent = false
		e.setState(StateBootVerify)
		e.touch()

	case msgFlashFailed:
		e.fail(m.err)

	case msgFatal:
		e.fail(m.err)

	case msgVerifyTimeout:
		if e.sess.state != StateBootVerify {
			return
		}
		if e.cfg.VerifyPolicy == VerifyFail {
			e.fail(ErrVerifyTimeout)
			return
		}
		slog.Warn("boot not verified within window, completing unverified")
		e.sess.unverified = true
		e.setState(StateComplete)
	}
}

func (e *Engine) handleLine(line string) {
	e.sess.linesReceived++
	if e.cfg.Hooks.OnLine != nil {
		e.cfg.Hooks.OnLine(line)
	}

	ev := pattern.Match(line)
	if ev.Kind == pattern.KindNone {
		return
	}
	e.touch()
	slog.Debug("console event", "kind", ev.Kind.String(), "state", e.sess.state)
	if e.cfg.Hooks.OnEvent != nil {
		e.cfg.Hooks.OnEvent(ev.Kind.String(), line)
	}

	next, flags, acts := Transition(e.sess.state, ev, e.sess.flags)
	e.sess.flags = flags
	e.setState(next)
	for _, act := range acts {
		e.apply(act)
	}
}

func (e *Engine) apply(act Action) {
	switch act.Kind {
	case ActSendCommand:
		slog.Info("sending command", "command", act.Text, "state", e.sess.state)
		if err := e.cfg.Pacer.SendCommand(act.Text); err != nil {
			e.fail(err)
			return
		}
		if act.Text == CmdReboot {
			e.sess.rebootSentAt = time.Now()
		}

	case ActSendEnter:
		if err := e.cfg.Pacer.SendEnter(); err != nil {
			e.fail(err)
		}

	case ActStartKeepalive:
		if e.keepalive != nil {
			// Invariant: at most one racer; a second start is a no-op.
			return
		}
		slog.Info("starting autoboot keystroke race")
		e.keepalive = console.StartKeepalive(e.runCtx, e.cfg.Pacer, e.cfg.Timeouts.KeepaliveInterval)

	case ActStopKeepalive:
		if e.keepalive == nil {
			return
		}
		if !e.keepalive.Stop(e.cfg.Timeouts.KeepaliveStop) {
			slog.Warn("keepalive racer did not acknowledge stop in time")
		}
		e.keepalive = nil
		slog.Info("autoboot keystroke race stopped")

	case ActEnterDownload:
		slog.Info("entering download mode, scheduling flash relay")
		if e.cfg.StartFlash == nil {
			e.fail(ErrFlashFailed)
			return
		}
		ctx := e.runCtx
		settle := e.cfg.Timeouts.DownloadSettle
		start := e.cfg.StartFlash
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(settle):
			}
			start(ctx)
		}()

	case ActResetCycleFlags:
		slog.Debug("cycle flags reset")
	}
}

func (e *Engine) setState(next State) {
	if next == e.sess.state {
		return
	}
	from := e.sess.state
	e.sess.state = next
	slog.Info("state change", "from", from, "to", next)
	if e.cfg.Hooks.OnState != nil {
		e.cfg.Hooks.OnState(from, next)
	}
}

func (e *Engine) touch() {
	e.sess.lastActivity = time.Now()
}

func (e *Engine) fail(err error) {
	if e.sess.state == StateError {
		return
	}
	if e.sess.failure == nil {
		e.sess.failure = err
	}
	slog.Error("run failed", "error", err, "state", e.sess.state)
	e.setState(StateError)
}

func (e *Engine) publish() {
	e.mu.Lock()
	e.snap = Status{
		RunID:         e.cfg.RunID,
		State:         e.sess.state,
		Flags:         e.sess.flags,
		LinesReceived: e.sess.linesReceived,
		LastActivity:  e.sess.lastActivity,
		RebootSentAt:  e.sess.rebootSentAt,
		FlashDoneAt:   e.sess.flashDoneAt,
	}
	e.mu.Unlock()
}

func (e *Engine) buildResult(started time.Time) *Result {
	res := &Result{
		RunID:      e.cfg.RunID,
		FinalState: e.sess.state,
		Lines:      e.sess.linesReceived,
		StartedAt:  started,
		Duration:   time.Since(started),
	}
	switch {
	case e.sess.state == StateComplete && e.sess.unverified:
		res.Outcome = OutcomeSuccessUnverified
		res.Reason = "burn successful, boot unverified"
	case e.sess.state == StateComplete:
		res.Outcome = OutcomeSuccess
	default:
		res.Outcome = OutcomeFailure
		res.Err = e.sess.failure
		if e.sess.failure != nil {
			res.Reason = e.sess.failure.Error()
		} else {
			res.Reason = "run ended in error"
		}
	}
	return res
}
