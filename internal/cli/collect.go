// collect.go implements "amlburn collect": board-info collection on an
// already-booted board.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/amlburn/internal/boardinfo"
	"github.com/user/amlburn/internal/serialdev"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect board information over the console",
	Long: `Interrogate a booted board over its serial console and write the
answers to board-info.md. The board must be at a shell or login prompt.`,
	RunE: runCollect,
}

var collectDirFlag string

func init() {
	collectCmd.Flags().StringVar(&collectDirFlag, "log-dir", ".", "Directory to write board-info.md into")
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := serialdev.Preflight(serialdev.PreflightOptions{Device: cfg.Device.Path}); err != nil {
		return err
	}
	port, err := serialdev.Open(cfg.Device.Path, cfg.Device.Baud)
	if err != nil {
		return err
	}
	defer port.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := boardinfo.Collect(ctx, port, boardinfo.Config{})
	if err != nil {
		return err
	}

	path := filepath.Join(collectDirFlag, "board-info.md")
	if err := report.Write(path); err != nil {
		return err
	}
	slog.Info("board info collected", "path", path, "entries", len(report.Entries))
	return nil
}
