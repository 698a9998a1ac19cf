package labkit

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPolicyFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := []byte(`
slack_warning_threshold: 4
alerts:
  deficit_restore_threshold: 25
  expiry_window_shrink_days: 1
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	file, err := LoadPolicyFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	cfg := DefaultEngineConfig()
	file.Apply(&cfg)

	if cfg.SlackWarningThreshold != 4 {
		t.Fatalf("slack threshold not applied, got %d", cfg.SlackWarningThreshold)
	}
	if cfg.Alerts.DeficitRestoreThreshold != 25 {
		t.Fatalf("deficit threshold not applied, got %d", cfg.Alerts.DeficitRestoreThreshold)
	}
	if cfg.Alerts.ExpiryWindowShrinkDays != 1 {
		t.Fatalf("shrink days not applied, got %d", cfg.Alerts.ExpiryWindowShrinkDays)
	}
	// Fields the overlay omits keep their defaults.
	if cfg.Alerts.DeficitRestoreMultiplier != 1.5 || cfg.Alerts.DefaultResurfaceDays != 7 {
		t.Fatalf("omitted fields lost their defaults: %+v", cfg.Alerts)
	}
}

func TestLoadPolicyFileEmptyPath(t *testing.T) {
	file, err := LoadPolicyFile("")
	if err != nil || file != nil {
		t.Fatalf("empty path should be a no-op, got %v %v", file, err)
	}
	// A nil overlay applies cleanly.
	cfg := DefaultEngineConfig()
	file.Apply(&cfg)
	if cfg.SlackWarningThreshold != 2 {
		t.Fatalf("nil overlay mutated config: %+v", cfg)
	}
}

func TestLoadPolicyFileMissing(t *testing.T) {
	if _, err := LoadPolicyFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
