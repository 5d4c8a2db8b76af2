// logout.go implements "amlburn logout": return the console to its login
// prompt.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/amlburn/internal/logout"
	"github.com/user/amlburn/internal/serialdev"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log the console session out to the login prompt",
	RunE:  runLogout,
}

func runLogout(cmd *cobra.Command, args []string) error {
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

	if err := logout.Run(ctx, port, logout.Config{}); err != nil {
		return err
	}
	slog.Info("console at login prompt", "device", cfg.Device.Path)
	return nil
}
