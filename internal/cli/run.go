// run.go implements "amlburn run", the full burn orchestration.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/user/amlburn/internal/boardinfo"
	"github.com/user/amlburn/internal/config"
	"github.com/user/amlburn/internal/engine"
	"github.com/user/amlburn/internal/flasher"
	"github.com/user/amlburn/internal/history"
	"github.com/user/amlburn/internal/hub"
	"github.com/user/amlburn/internal/logout"
	"github.com/user/amlburn/internal/power"
	"github.com/user/amlburn/internal/runlog"
	"github.com/user/amlburn/internal/serialdev"
	"github.com/user/amlburn/internal/server"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Burn a firmware image and verify the reboot",
	Long: `Run the full orchestration: wake or power-cycle the board, catch the
bootloader, enter download mode, supervise the flashing tool and verify
that the board reboots into the new image.`,
	RunE: runRun,
}

var (
	imageFlag        string
	relayFlag        string
	logDirFlag       string
	listenFlag       string
	collectInfoFlag  bool
	verifyPolicyFlag string
)

func init() {
	runCmd.Flags().StringVar(&imageFlag, "image", "", "Firmware package to burn (required)")
	runCmd.Flags().StringVar(&relayFlag, "relay", "", "Tasmota power-relay host (overrides config)")
	runCmd.Flags().StringVar(&logDirFlag, "log-dir", "", "Directory for per-run logs (overrides config)")
	runCmd.Flags().StringVar(&listenFlag, "listen", "", "Live-monitor listen address, e.g. :8080 (overrides config)")
	runCmd.Flags().BoolVar(&collectInfoFlag, "collect-info", false, "Collect board information after a verified boot")
	runCmd.Flags().StringVar(&verifyPolicyFlag, "verify-policy", "", "What a missed boot verification means: degrade or fail")
	_ = runCmd.MarkFlagRequired("image")
}

// liveStatus is the /status snapshot, fed from the engine hooks.
type liveStatus struct {
	mu       sync.Mutex
	RunID    string `json:"run_id"`
	State    string `json:"state"`
	Lines    int64  `json:"lines"`
	Progress int    `json:"progress"`
}

func (s *liveStatus) snapshot() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return liveStatus{RunID: s.RunID, State: s.State, Lines: s.Lines, Progress: s.Progress}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if relayFlag != "" {
		cfg.Power.Relay = relayFlag
	}
	if logDirFlag != "" {
		cfg.LogDir = logDirFlag
	}
	if listenFlag != "" {
		cfg.Monitor.Listen = listenFlag
	}
	if verifyPolicyFlag != "" {
		cfg.VerifyPolicy = verifyPolicyFlag
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var relay *power.Relay
	if cfg.Power.Relay != "" {
		relay = power.New(cfg.Power.Relay, power.WithDischarge(cfg.DischargeDuration()))
	}

	preflight := serialdev.PreflightOptions{
		Device:     cfg.Device.Path,
		Image:      imageFlag,
		FlasherBin: cfg.Flasher.Binary,
	}
	if relay != nil {
		preflight.ProbeRelay = func() error { return relay.Probe(ctx) }
	}
	if err := serialdev.Preflight(preflight); err != nil {
		return err
	}

	port, err := serialdev.Open(cfg.Device.Path, cfg.Device.Baud)
	if err != nil {
		return err
	}
	defer port.Close()

	runID := uuid.NewString()
	startedAt := time.Now()
	rlog, err := runlog.New(cfg.LogDir, runID, startedAt)
	if err != nil {
		return err
	}
	defer rlog.Close()
	slog.Info("run starting", "run_id", runID, "device", cfg.Device.Path,
		"baud", cfg.Device.Baud, "image", imageFlag, "log_dir", rlog.Dir())

	status := &liveStatus{RunID: runID, State: engine.StateInit.String()}

	var h *hub.Hub
	if cfg.Monitor.Listen != "" {
		h = hub.New(cfg.Monitor.Token)
		go h.Run(ctx)
		srv := server.New(cfg.Monitor.Listen, h, status.snapshot)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("monitor server failed", "err", err)
			}
		}()
	}

	scfg := engine.SupervisorConfig{
		Port:         port,
		Timeouts:     cfg.EngineTimeouts(),
		VerifyPolicy: cfg.EngineVerifyPolicy(),
		RunID:        runID,
		Hooks: engine.Hooks{
			OnLine: func(text string) {
				rlog.Console(text)
				status.mu.Lock()
				status.Lines++
				status.mu.Unlock()
				if h != nil {
					h.BroadcastLine(runID, text)
				}
			},
			OnEvent: func(kind, line string) {
				rlog.Event(kind, line)
			},
			OnState: func(from, to engine.State) {
				rlog.Event("state", fmt.Sprintf("%s -> %s", from, to))
				status.mu.Lock()
				status.State = to.String()
				status.mu.Unlock()
				if h != nil {
					h.BroadcastState(runID, from.String(), to.String())
				}
			},
		},
		StartFlash: func(fctx context.Context, onSuccess func(), onFailure func(error)) {
			fr, err := flasher.Start(flasher.Config{
				Binary:    cfg.Flasher.Binary,
				Image:     imageFlag,
				Sudo:      cfg.Flasher.Sudo,
				StallWarn: cfg.EngineTimeouts().FlashStall,
				HardKill:  cfg.EngineTimeouts().FlashHard,
				OnLine: func(line string) {
					rlog.Event("flasher", line)
					if h != nil {
						h.BroadcastLine(runID, line)
					}
				},
				OnProgress: func(pct int) {
					status.mu.Lock()
					status.Progress = pct
					status.mu.Unlock()
					if h != nil {
						h.BroadcastProgress(runID, pct)
					}
				},
			})
			if err != nil {
				onFailure(err)
				return
			}
			fr.Run(fctx, onSuccess, onFailure)
		},
		PowerCycleAttempts: cfg.Power.CycleAttempts,
	}
	if relay != nil {
		scfg.PowerCycle = relay.Cycle
	}

	res := engine.RunSession(ctx, scfg)

	rlog.Event("result", fmt.Sprintf("%s (%s): %s", res.Outcome, res.FinalState, res.Reason))
	if h != nil {
		h.BroadcastResult(runID, res.Outcome.String(), res.FinalState.String(), res.Reason, res.Duration)
	}
	persistResult(ctx, cfg, res)

	if !res.Failed() && collectInfoFlag {
		collectAfterRun(ctx, port, rlog.Dir())
	}

	if res.Failed() {
		slog.Error("run failed", "run_id", runID, "state", res.FinalState, "reason", res.Reason)
		return fmt.Errorf("run %s failed in %s: %w", runID, res.FinalState, res.Err)
	}
	slog.Info("run finished", "run_id", runID, "outcome", res.Outcome.String(),
		"duration", res.Duration.Round(time.Second), "lines", res.Lines)
	return nil
}

// persistResult writes the run record to the history database. Best effort:
// a broken database must not change the run outcome.
func persistResult(ctx context.Context, cfg *config.Config, res *engine.Result) {
	store, err := history.Open(ctx, cfg.HistoryDB)
	if err != nil {
		slog.Warn("history database unavailable", "err", err)
		return
	}
	defer store.Close()

	rec := history.RunRecord{
		ID:         res.RunID,
		Device:     cfg.Device.Path,
		Image:      imageFlag,
		Outcome:    res.Outcome.String(),
		FinalState: res.FinalState.String(),
		Reason:     res.Reason,
		Lines:      res.Lines,
		Duration:   res.Duration,
		StartedAt:  res.StartedAt,
	}
	if err := store.Insert(ctx, rec); err != nil {
		slog.Warn("persist run record", "err", err)
	}
}

// collectAfterRun gathers board information and logs out. Failures here are
// logged and swallowed; the burn already succeeded.
func collectAfterRun(ctx context.Context, port *serialdev.Port, dir string) {
	report, err := boardinfo.Collect(ctx, port, boardinfo.Config{})
	if err != nil {
		slog.Warn("board info collection failed", "err", err)
		return
	}
	path := filepath.Join(dir, "board-info.md")
	if err := report.Write(path); err != nil {
		slog.Warn("board info write failed", "err", err)
		return
	}
	slog.Info("board info collected", "path", path)

	if err := logout.Run(ctx, port, logout.Config{}); err != nil {
		slog.Warn("logout failed", "err", err)
	}
}
