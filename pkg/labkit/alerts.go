package labkit

import (
	"time"

	"github.com/trialkit/platform/pkg/common/models"
)

// Alert identifiers the dashboard can dismiss.
const (
	AlertSupplyDeficit = "supplyDeficit"
	AlertExpiringSoon  = "expiringSoon"
)

// Auto-restore rule tags stamped onto a dismissal when it is closed out.
const (
	RuleSnoozeExpired          = "snooze_expired"
	RuleSupplyDeficitIncrease  = "supply_deficit_increase"
	RuleSupplyDeficitThreshold = "supply_deficit_threshold"
	RuleExpiringCountIncrease  = "expiring_count_increase"
	RuleExpiringWindowShorter  = "expiring_window_shorter"
	RuleDefaultWindow          = "default_window"
)

// AlertPolicy holds the tunable knobs of the auto-restore heuristics.
type AlertPolicy struct {
	DefaultResurfaceDays     int
	DeficitRestoreMultiplier float64
	DeficitRestoreThreshold  int
	ExpiryCountMultiplier    float64
	ExpiryWindowShrinkDays   int
}

func DefaultAlertPolicy() AlertPolicy {
	return AlertPolicy{
		DefaultResurfaceDays:     7,
		DeficitRestoreMultiplier: 1.5,
		DeficitRestoreThreshold:  10,
		ExpiryCountMultiplier:    2.0,
		ExpiryWindowShrinkDays:   2,
	}
}

// RestoreDecision pairs a dismissal that should come back with the rule that
// fired.
type RestoreDecision struct {
	Dismissal models.AlertDismissal
	Rule      string
}

// EvaluateDismissals cross-references the user's active dismissals against
// the just-computed metrics. A snooze that has lapsed always restores;
// otherwise the alert-specific heuristic decides. Dismissals that survive are
// returned as still suppressed.
func EvaluateDismissals(policy AlertPolicy, dismissals []models.AlertDismissal, metrics models.AlertMetrics, now time.Time) (restored []RestoreDecision, active []models.AlertDismissal) {
	for _, dismissal := range dismissals {
		if rule := restoreRule(policy, dismissal, metrics, now); rule != "" {
			restored = append(restored, RestoreDecision{Dismissal: dismissal, Rule: rule})
			continue
		}
		active = append(active, dismissal)
	}
	return restored, active
}

func restoreRule(policy AlertPolicy, dismissal models.AlertDismissal, metrics models.AlertMetrics, now time.Time) string {
	// A snooze owns the dismissal's lifetime: lapsed restores it, still
	// running suppresses every metric heuristic.
	if dismissal.SnoozeUntil != nil {
		if now.After(*dismissal.SnoozeUntil) {
			return RuleSnoozeExpired
		}
		return ""
	}

	switch dismissal.AlertID {
	case AlertSupplyDeficit:
		return deficitRestoreRule(policy, dismissal.Conditions, metrics.SupplyDeficit)
	case AlertExpiringSoon:
		return expiryRestoreRule(policy, dismissal.Conditions, metrics.ExpiringSoon)
	default:
		// Unknown alerts resurface after a fixed window.
		if now.Sub(dismissal.DismissedAt) > time.Duration(policy.DefaultResurfaceDays)*24*time.Hour {
			return RuleDefaultWindow
		}
	}
	return ""
}

func deficitRestoreRule(policy AlertPolicy, conditions models.AlertConditions, current models.SupplyDeficitMetrics) string {
	recorded := 0.0
	if conditions.Deficit != nil {
		recorded = *conditions.Deficit
	}
	total := float64(current.TotalDeficit)

	// Crossing the absolute threshold outranks proportional growth: when a
	// small recorded deficit balloons past both bars, the threshold rule is
	// the one stamped.
	if current.TotalDeficit >= policy.DeficitRestoreThreshold && recorded < float64(policy.DeficitRestoreThreshold) {
		return RuleSupplyDeficitThreshold
	}
	if total >= recorded*policy.DeficitRestoreMultiplier && total > recorded {
		return RuleSupplyDeficitIncrease
	}
	return ""
}

func expiryRestoreRule(policy AlertPolicy, conditions models.AlertConditions, current models.ExpiringSoonMetrics) string {
	recorded := 0.0
	if conditions.ExpiringCount != nil {
		recorded = *conditions.ExpiringCount
	}
	count := float64(current.Count)

	if count >= recorded*policy.ExpiryCountMultiplier && count > recorded {
		return RuleExpiringCountIncrease
	}
	if conditions.EarliestExpiryDate != nil && current.EarliestExpiryDate != nil {
		shrink := conditions.EarliestExpiryDate.Sub(*current.EarliestExpiryDate)
		if shrink > time.Duration(policy.ExpiryWindowShrinkDays)*24*time.Hour {
			return RuleExpiringWindowShorter
		}
	}
	return ""
}
