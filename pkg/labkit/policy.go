package labkit

import (
	"github.com/trialkit/platform/pkg/common/models"
)

// StudyPolicy holds the study-level forecasting defaults after clamping.
type StudyPolicy struct {
	InventoryBufferDays   int
	VisitWindowBufferDays int
	DeliveryDaysDefault   int
}

// KitPolicy is the effective policy for one forecast entry after per-kit-type
// overrides are layered over the study defaults.
type KitPolicy struct {
	SafetyDays   int
	MinCount     int
	DeliveryDays int
}

// PolicyLimits are the safe ranges buffer settings are clamped to before any
// forecast math runs.
type PolicyLimits struct {
	MaxInventoryBufferDays   int
	MaxVisitWindowBufferDays int
	MaxDeliveryDays          int
}

func DefaultPolicyLimits() PolicyLimits {
	return PolicyLimits{
		MaxInventoryBufferDays:   120,
		MaxVisitWindowBufferDays: 60,
		MaxDeliveryDays:          120,
	}
}

// ClampStudyPolicy bounds raw study settings to their safe ranges. Negative
// values collapse to zero rather than failing: a misconfigured study still
// forecasts, just without the bad buffer.
func ClampStudyPolicy(limits PolicyLimits, raw StudyPolicy) StudyPolicy {
	return StudyPolicy{
		InventoryBufferDays:   clampInt(raw.InventoryBufferDays, 0, limits.MaxInventoryBufferDays),
		VisitWindowBufferDays: clampInt(raw.VisitWindowBufferDays, 0, limits.MaxVisitWindowBufferDays),
		DeliveryDaysDefault:   clampInt(raw.DeliveryDaysDefault, 0, limits.MaxDeliveryDays),
	}
}

// resolveKitPolicy applies per-kit-type overrides field by field. A nil
// override field (genuinely absent, not zero) falls back to the study default.
func resolveKitPolicy(limits PolicyLimits, study StudyPolicy, kt *models.KitType) KitPolicy {
	policy := KitPolicy{
		SafetyDays:   study.InventoryBufferDays,
		MinCount:     0,
		DeliveryDays: study.DeliveryDaysDefault,
	}
	if kt == nil {
		return policy
	}
	if kt.BufferDays != nil {
		policy.SafetyDays = clampInt(*kt.BufferDays, 0, limits.MaxInventoryBufferDays)
	}
	if kt.BufferCount != nil {
		policy.MinCount = maxInt(*kt.BufferCount, 0)
	}
	if kt.DeliveryDays != nil {
		policy.DeliveryDays = clampInt(*kt.DeliveryDays, 0, limits.MaxDeliveryDays)
	}
	return policy
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
