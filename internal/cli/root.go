// Package cli defines the Cobra commands for the amlburn tool.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/amlburn/internal/config"
)

var (
	configFlag string
	deviceFlag string
	baudFlag   int

	version = "dev" // set via ldflags at build time
)

var rootCmd = &cobra.Command{
	Use:   "amlburn",
	Short: "Serial boot and flash orchestrator for Amlogic boards",
	Long: `amlburn drives a board's serial console through a full firmware burn:
it catches the bootloader, drops into download mode, supervises the
external flashing tool and verifies the reboot into the new image.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	if deviceFlag != "" {
		cfg.Device.Path = deviceFlag
	}
	if baudFlag > 0 {
		cfg.Device.Baud = baudFlag
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to a config file overriding the built-in defaults")
	rootCmd.PersistentFlags().StringVar(&deviceFlag, "device", "", "Serial device node, e.g. /dev/ttyUSB0")
	rootCmd.PersistentFlags().IntVar(&baudFlag, "baud", 0, "Serial baud rate")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(historyCmd)
}
