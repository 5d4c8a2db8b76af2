package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/amlburn/internal/engine"
)

func TestDefaultMatchesShippedValues(t *testing.T) {
	cfg := Default()

	if cfg.Device.Path != "/dev/ttyUSB0" {
		t.Errorf("device.path = %q", cfg.Device.Path)
	}
	if cfg.Device.Baud != 921600 {
		t.Errorf("device.baud = %d", cfg.Device.Baud)
	}
	if cfg.Flasher.Binary != "adnl_burn_pkg" || !cfg.Flasher.Sudo {
		t.Errorf("flasher = %+v", cfg.Flasher)
	}
	if cfg.Power.CycleAttempts != 2 || cfg.Power.Discharge != 5 {
		t.Errorf("power = %+v", cfg.Power)
	}
	if cfg.VerifyPolicy != "degrade" {
		t.Errorf("verify_policy = %q", cfg.VerifyPolicy)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("shipped defaults do not validate: %v", err)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amlburn.yaml")
	data := `
device:
  path: /dev/ttyACM3
timeouts:
  boot_verify: 240
verify_policy: fail
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device.Path != "/dev/ttyACM3" {
		t.Errorf("device.path = %q, want overlay value", cfg.Device.Path)
	}
	if cfg.Device.Baud != 921600 {
		t.Errorf("device.baud = %d, want default preserved", cfg.Device.Baud)
	}
	if cfg.Timeouts.BootVerify != 240 {
		t.Errorf("boot_verify = %d", cfg.Timeouts.BootVerify)
	}
	if cfg.EngineVerifyPolicy() != engine.VerifyFail {
		t.Errorf("verify policy not mapped to fail")
	}
}

func TestLoadRejectsBadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amlburn.yaml")
	if err := os.WriteFile(path, []byte("verify_policy: maybe\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "verify_policy") {
		t.Fatalf("Load = %v, want verify_policy error", err)
	}
}

func TestLoadRejectsNegativeTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amlburn.yaml")
	if err := os.WriteFile(path, []byte("timeouts:\n  inactivity: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted a negative timeout")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load accepted a missing file")
	}
}

func TestEngineTimeoutsConversion(t *testing.T) {
	cfg := Default()
	cfg.Timeouts.FirstData = 45
	cfg.Flasher.HardKill = 600

	tt := cfg.EngineTimeouts()
	if tt.FirstData != 45*time.Second {
		t.Errorf("FirstData = %v", tt.FirstData)
	}
	if tt.FlashHard != 600*time.Second {
		t.Errorf("FlashHard = %v", tt.FlashHard)
	}
	// Fields without a configured value keep the engine defaults.
	def := engine.DefaultTimeouts()
	if tt.KeepaliveInterval != def.KeepaliveInterval || tt.DownloadSettle != def.DownloadSettle {
		t.Errorf("sub-second defaults not preserved: %+v", tt)
	}
}
