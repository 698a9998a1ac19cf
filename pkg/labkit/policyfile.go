package labkit

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PolicyFile is the optional per-deployment overlay for alerting thresholds.
// Absent fields leave the configured defaults untouched.
type PolicyFile struct {
	SlackWarningThreshold *int `yaml:"slack_warning_threshold"`
	Alerts                struct {
		DefaultResurfaceDays     *int     `yaml:"default_resurface_days"`
		DeficitRestoreMultiplier *float64 `yaml:"deficit_restore_multiplier"`
		DeficitRestoreThreshold  *int     `yaml:"deficit_restore_threshold"`
		ExpiryCountMultiplier    *float64 `yaml:"expiry_count_multiplier"`
		ExpiryWindowShrinkDays   *int     `yaml:"expiry_window_shrink_days"`
	} `yaml:"alerts"`
}

func LoadPolicyFile(path string) (*PolicyFile, error) {
	if path == "" {
		return nil, nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read forecast policy file: %w", err)
	}

	var file PolicyFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("parse forecast policy file: %w", err)
	}
	return &file, nil
}

// Apply layers the overlay onto an engine config.
func (f *PolicyFile) Apply(cfg *EngineConfig) {
	if f == nil {
		return
	}
	if f.SlackWarningThreshold != nil {
		cfg.SlackWarningThreshold = *f.SlackWarningThreshold
	}
	if f.Alerts.DefaultResurfaceDays != nil {
		cfg.Alerts.DefaultResurfaceDays = *f.Alerts.DefaultResurfaceDays
	}
	if f.Alerts.DeficitRestoreMultiplier != nil {
		cfg.Alerts.DeficitRestoreMultiplier = *f.Alerts.DeficitRestoreMultiplier
	}
	if f.Alerts.DeficitRestoreThreshold != nil {
		cfg.Alerts.DeficitRestoreThreshold = *f.Alerts.DeficitRestoreThreshold
	}
	if f.Alerts.ExpiryCountMultiplier != nil {
		cfg.Alerts.ExpiryCountMultiplier = *f.Alerts.ExpiryCountMultiplier
	}
	if f.Alerts.ExpiryWindowShrinkDays != nil {
		cfg.Alerts.ExpiryWindowShrinkDays = *f.Alerts.ExpiryWindowShrinkDays
	}
}
