package labkit

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/trialkit/platform/pkg/common/models"
)

var alertNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func floatPtr(v float64) *float64 { return &v }

func dismissal(alertID string, conditions models.AlertConditions) models.AlertDismissal {
	return models.AlertDismissal{
		ID:          uuid.New(),
		StudyID:     uuid.New(),
		UserID:      "coordinator@site-12.example",
		AlertID:     alertID,
		Conditions:  conditions,
		DismissedAt: alertNow.AddDate(0, 0, -1),
	}
}

func TestSnoozeExpiryBeatsEveryOtherRule(t *testing.T) {
	snoozed := dismissal(AlertSupplyDeficit, models.AlertConditions{Deficit: floatPtr(4)})
	past := alertNow.Add(-time.Hour)
	snoozed.SnoozeUntil = &past

	// Metrics that would also trip the deficit rules; the lapsed snooze
	// must win since it is checked first.
	metrics := models.AlertMetrics{SupplyDeficit: models.SupplyDeficitMetrics{TotalDeficit: 40}}

	restored, active := EvaluateDismissals(DefaultAlertPolicy(), []models.AlertDismissal{snoozed}, metrics, alertNow)
	if len(active) != 0 || len(restored) != 1 {
		t.Fatalf("expected one restore, got restored=%d active=%d", len(restored), len(active))
	}
	if restored[0].Rule != RuleSnoozeExpired {
		t.Fatalf("expected snooze rule, got %s", restored[0].Rule)
	}
}

func TestUnexpiredSnoozeSuppresses(t *testing.T) {
	snoozed := dismissal(AlertSupplyDeficit, models.AlertConditions{Deficit: floatPtr(4)})
	future := alertNow.AddDate(0, 0, 2)
	snoozed.SnoozeUntil = &future

	metrics := models.AlertMetrics{SupplyDeficit: models.SupplyDeficitMetrics{TotalDeficit: 40}}

	restored, active := EvaluateDismissals(DefaultAlertPolicy(), []models.AlertDismissal{snoozed}, metrics, alertNow)
	if len(restored) != 0 {
		t.Fatalf("snoozed dismissal restored via %s", restored[0].Rule)
	}
	if len(active) != 1 {
		t.Fatalf("expected dismissal to stay active, got %d", len(active))
	}
}

func TestDeficitRestoreRules(t *testing.T) {
	cases := []struct {
		name     string
		recorded *float64
		current  int
		wantRule string
	}{
		// Threshold crossing wins even when proportional growth also holds.
		{"small deficit balloons past the threshold", floatPtr(4), 12, RuleSupplyDeficitThreshold},
		{"crosses absolute threshold without doubling", floatPtr(8), 11, RuleSupplyDeficitThreshold},
		{"grows past multiplier below threshold", floatPtr(4), 7, RuleSupplyDeficitIncrease},
		{"grows past multiplier above threshold", floatPtr(12), 20, RuleSupplyDeficitIncrease},
		{"slight growth stays suppressed", floatPtr(8), 9, ""},
		{"unchanged stays suppressed", floatPtr(12), 12, ""},
		{"zero recorded zero current stays suppressed", floatPtr(0), 0, ""},
		{"no recorded conditions, deficit appears", nil, 3, RuleSupplyDeficitIncrease},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := dismissal(AlertSupplyDeficit, models.AlertConditions{Deficit: tc.recorded})
			metrics := models.AlertMetrics{SupplyDeficit: models.SupplyDeficitMetrics{TotalDeficit: tc.current}}

			restored, active := EvaluateDismissals(DefaultAlertPolicy(), []models.AlertDismissal{d}, metrics, alertNow)
			if tc.wantRule == "" {
				if len(restored) != 0 {
					t.Fatalf("unexpected restore via %s", restored[0].Rule)
				}
				if len(active) != 1 {
					t.Fatalf("expected dismissal to survive")
				}
				return
			}
			if len(restored) != 1 {
				t.Fatalf("expected restore via %s, got none", tc.wantRule)
			}
			if restored[0].Rule != tc.wantRule {
				t.Fatalf("expected %s, got %s", tc.wantRule, restored[0].Rule)
			}
		})
	}
}

func TestExpiryRestoreRules(t *testing.T) {
	day := func(offset int) *time.Time {
		d := utcDay(alertNow).AddDate(0, 0, offset)
		return &d
	}

	cases := []struct {
		name            string
		conditions      models.AlertConditions
		currentCount    int
		currentEarliest *time.Time
		wantRule        string
	}{
		{"count doubles", models.AlertConditions{ExpiringCount: floatPtr(2)}, 5, nil, RuleExpiringCountIncrease},
		{"window pulls in by three days", models.AlertConditions{ExpiringCount: floatPtr(4), EarliestExpiryDate: day(10)}, 5, day(7), RuleExpiringWindowShorter},
		{"window pulls in by two days only", models.AlertConditions{ExpiringCount: floatPtr(4), EarliestExpiryDate: day(10)}, 5, day(8), ""},
		{"count steady", models.AlertConditions{ExpiringCount: floatPtr(4)}, 4, nil, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := dismissal(AlertExpiringSoon, tc.conditions)
			metrics := models.AlertMetrics{ExpiringSoon: models.ExpiringSoonMetrics{
				Count:              tc.currentCount,
				EarliestExpiryDate: tc.currentEarliest,
			}}

			restored, _ := EvaluateDismissals(DefaultAlertPolicy(), []models.AlertDismissal{d}, metrics, alertNow)
			if tc.wantRule == "" {
				if len(restored) != 0 {
					t.Fatalf("unexpected restore via %s", restored[0].Rule)
				}
				return
			}
			if len(restored) != 1 || restored[0].Rule != tc.wantRule {
				t.Fatalf("expected %s, got %+v", tc.wantRule, restored)
			}
		})
	}
}

func TestUnknownAlertResurfacesAfterDefaultWindow(t *testing.T) {
	stale := dismissal("siteShipmentDelay", models.AlertConditions{})
	stale.DismissedAt = alertNow.AddDate(0, 0, -8)

	fresh := dismissal("siteShipmentDelay", models.AlertConditions{})
	fresh.DismissedAt = alertNow.AddDate(0, 0, -3)

	restored, active := EvaluateDismissals(DefaultAlertPolicy(), []models.AlertDismissal{stale, fresh}, models.AlertMetrics{}, alertNow)
	if len(restored) != 1 || restored[0].Rule != RuleDefaultWindow {
		t.Fatalf("expected the eight-day-old dismissal to resurface, got %+v", restored)
	}
	if len(active) != 1 || active[0].ID != fresh.ID {
		t.Fatalf("expected the three-day-old dismissal to survive")
	}
}
