// Package config handles the amlburn YAML configuration: the shipped
// defaults, an optional user config file and per-flag overrides on top.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/amlburn/configs"
	"github.com/user/amlburn/internal/engine"
)

// Config is the top-level structure of amlburn.yaml.
type Config struct {
	Device       DeviceConfig  `yaml:"device"`
	Flasher      FlasherConfig `yaml:"flasher"`
	Power        PowerConfig   `yaml:"power"`
	Timeouts     TimeoutConfig `yaml:"timeouts"`
	VerifyPolicy string        `yaml:"verify_policy"` // "degrade" | "fail"
	LogDir       string        `yaml:"log_dir"`
	HistoryDB    string        `yaml:"history_db"`
	Monitor      MonitorConfig `yaml:"monitor"`
}

// DeviceConfig names the serial console.
type DeviceConfig struct {
	Path string `yaml:"path"`
	Baud int    `yaml:"baud"`
}

// FlasherConfig controls the burn subprocess.
type FlasherConfig struct {
	Binary    string `yaml:"binary"`
	Sudo      bool   `yaml:"sudo"`
	StallWarn int    `yaml:"stall_warn"` // seconds
	HardKill  int    `yaml:"hard_kill"`  // seconds
}

// PowerConfig controls the smart-plug relay.
type PowerConfig struct {
	Relay         string `yaml:"relay"`
	Discharge     int    `yaml:"discharge"` // seconds
	CycleAttempts int    `yaml:"cycle_attempts"`
}

// TimeoutConfig holds the engine's timing windows, all in seconds.
type TimeoutConfig struct {
	FirstData     int `yaml:"first_data"`
	Inactivity    int `yaml:"inactivity"`
	SilenceWarn   int `yaml:"silence_warn"`
	SilenceCheck  int `yaml:"silence_check"`
	UbootWatchdog int `yaml:"uboot_watchdog"`
	BootVerify    int `yaml:"boot_verify"`
}

// MonitorConfig controls the live-monitor HTTP server.
type MonitorConfig struct {
	Listen string `yaml:"listen"`
	Token  string `yaml:"token"`
}

// Default returns the shipped default configuration.
func Default() *Config {
	var cfg Config
	// The embedded default ships with the binary; failing to parse it is a
	// build defect, not a runtime condition.
	if err := yaml.Unmarshal(configs.Default, &cfg); err != nil {
		panic(fmt.Sprintf("config: embedded default is invalid: %v", err))
	}
	return &cfg
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path loads just the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Device.Baud <= 0 {
		return fmt.Errorf("config: device.baud must be positive, got %d", c.Device.Baud)
	}
	switch c.VerifyPolicy {
	case "", "degrade", "fail":
	default:
		return fmt.Errorf("config: verify_policy must be degrade or fail, got %q", c.VerifyPolicy)
	}
	for name, v := range map[string]int{
		"timeouts.first_data":     c.Timeouts.FirstData,
		"timeouts.inactivity":     c.Timeouts.Inactivity,
		"timeouts.silence_warn":   c.Timeouts.SilenceWarn,
		"timeouts.silence_check":  c.Timeouts.SilenceCheck,
		"timeouts.uboot_watchdog": c.Timeouts.UbootWatchdog,
		"timeouts.boot_verify":    c.Timeouts.BootVerify,
		"flasher.stall_warn":      c.Flasher.StallWarn,
		"flasher.hard_kill":       c.Flasher.HardKill,
		"power.discharge":         c.Power.Discharge,
	} {
		if v < 0 {
			return fmt.Errorf("config: %s must not be negative, got %d", name, v)
		}
	}
	return nil
}

func seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}

// EngineTimeouts converts the configured windows to engine timeouts; zero
// fields fall back to the engine defaults.
func (c *Config) EngineTimeouts() engine.Timeouts {
	t := engine.DefaultTimeouts()
	if c.Timeouts.FirstData > 0 {
		t.FirstData = seconds(c.Timeouts.FirstData)
	}
	if c.Timeouts.Inactivity > 0 {
		t.Inactivity = seconds(c.Timeouts.Inactivity)
	}
	if c.Timeouts.SilenceWarn > 0 {
		t.SilenceWarn = seconds(c.Timeouts.SilenceWarn)
	}
	if c.Timeouts.SilenceCheck > 0 {
		t.SilenceCheck = seconds(c.Timeouts.SilenceCheck)
	}
	if c.Timeouts.UbootWatchdog > 0 {
		t.UbootWatchdog = seconds(c.Timeouts.UbootWatchdog)
	}
	if c.Timeouts.BootVerify > 0 {
		t.BootVerify = seconds(c.Timeouts.BootVerify)
	}
	if c.Flasher.StallWarn > 0 {
		t.FlashStall = seconds(c.Flasher.StallWarn)
	}
	if c.Flasher.HardKill > 0 {
		t.FlashHard = seconds(c.Flasher.HardKill)
	}
	return t
}

// EngineVerifyPolicy maps the configured policy string to the engine enum.
func (c *Config) EngineVerifyPolicy() engine.VerifyPolicy {
	if c.VerifyPolicy == "fail" {
		return engine.VerifyFail
	}
	return engine.VerifyDegrade
}

// DischargeDuration returns the power-cycle off window.
func (c *Config) DischargeDuration() time.Duration {
	return seconds(c.Power.Discharge)
}
