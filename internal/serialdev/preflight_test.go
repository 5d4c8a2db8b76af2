package serialdev

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPreflightMissingDevice(t *testing.T) {
	err := Preflight(PreflightOptions{Device: filepath.Join(t.TempDir(), "ttyUSB9")})
	if err == nil {
		t.Fatal("Preflight() = nil for missing device node")
	}
}

func TestPreflightEmptyDevice(t *testing.T) {
	if err := Preflight(PreflightOptions{}); err == nil {
		t.Fatal("Preflight() = nil with no device configured")
	}
}

func TestPreflightRejectsUndersizedImage(t *testing.T) {
	dir := t.TempDir()
	dev := filepath.Join(dir, "ttyS0")
	if err := os.WriteFile(dev, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	img := filepath.Join(dir, "pkg.img")
	if err := os.WriteFile(img, []byte("tiny"), 0o600); err != nil {
		t.Fatal(err)
	}

	err := Preflight(PreflightOptions{Device: dev, Image: img})
	if err == nil {
		t.Fatal("Preflight() = nil for a 4 byte image")
	}
}

func TestPreflightMissingFlasherBinary(t *testing.T) {
	dir := t.TempDir()
	dev := filepath.Join(dir, "ttyS0")
	if err := os.WriteFile(dev, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	err := Preflight(PreflightOptions{Device: dev, FlasherBin: "definitely-not-a-real-flasher"})
	if err == nil {
		t.Fatal("Preflight() = nil for missing flasher binary")
	}
}

func TestPreflightRelayProbeFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	dev := filepath.Join(dir, "ttyS0")
	if err := os.WriteFile(dev, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	probeErr := errors.New("connection refused")
	err := Preflight(PreflightOptions{
		Device:     dev,
		ProbeRelay: func() error { return probeErr },
	})
	if !errors.Is(err, probeErr) {
		t.Fatalf("Preflight() = %v, want wrapped relay probe error", err)
	}
}
