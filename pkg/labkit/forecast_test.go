package labkit

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/trialkit/platform/pkg/common/models"
)

var testToday = time.Date(2026, 3, 2, 12, 30, 0, 0, time.UTC)

func datePtr(t time.Time) *time.Time { return &t }

func intPtr(v int) *int { return &v }

func scheduledVisits(scheduleID uuid.UUID, count int, day time.Time) []models.SubjectVisit {
	visits := make([]models.SubjectVisit, 0, count)
	for i := 0; i < count; i++ {
		visits = append(visits, models.SubjectVisit{
			ID:              uuid.New(),
			VisitScheduleID: scheduleID,
			SubjectNumber:   "S-001",
			VisitDate:       day,
			Status:          "scheduled",
		})
	}
	return visits
}

func availableKits(kitTypeID uuid.UUID, count int) []models.LabKit {
	kits := make([]models.LabKit, 0, count)
	for i := 0; i < count; i++ {
		id := kitTypeID
		kits = append(kits, models.LabKit{ID: uuid.New(), KitTypeID: &id, Status: "available"})
	}
	return kits
}

func TestComputeBufferAndDeficit(t *testing.T) {
	kitTypeID := uuid.New()
	scheduleID := uuid.New()

	in := Input{
		Policy: StudyPolicy{InventoryBufferDays: 5, DeliveryDaysDefault: 3},
		KitTypes: []models.KitType{
			{ID: kitTypeID, Name: "CBC Panel", Active: true},
		},
		Schedules: []models.VisitSchedule{{ID: scheduleID, Name: "Week 4"}},
		Requirements: []models.VisitRequirement{
			{ID: uuid.New(), VisitScheduleID: scheduleID, KitTypeID: &kitTypeID, QuantityPerVisit: 1},
		},
		Visits:    scheduledVisits(scheduleID, 20, testToday.AddDate(0, 0, 10)),
		Kits:      availableKits(kitTypeID, 20),
		DaysAhead: 30,
		Today:     testToday,
	}

	forecast, summary, _ := Compute(DefaultEngineConfig(), in)
	if len(forecast) != 1 {
		t.Fatalf("expected one forecast entry, got %d", len(forecast))
	}
	entry := forecast[0]

	if entry.KitsRequired != 20 {
		t.Fatalf("expected 20 kits required, got %d", entry.KitsRequired)
	}
	// burn 20/30; safety ceil(0.667*5)=4, lead ceil(0.667*3)=2
	if entry.BufferKitsNeeded != 6 {
		t.Fatalf("expected buffer of 6, got %d", entry.BufferKitsNeeded)
	}
	if entry.RequiredWithBuffer != 26 {
		t.Fatalf("expected required-with-buffer 26, got %d", entry.RequiredWithBuffer)
	}
	if entry.Deficit != 6 || entry.OriginalDeficit != 6 {
		t.Fatalf("expected deficit 6/6, got %d/%d", entry.Deficit, entry.OriginalDeficit)
	}
	if entry.RecommendedOrderQty != 6 {
		t.Fatalf("expected recommended order of 6, got %d", entry.RecommendedOrderQty)
	}
	if entry.Status != StatusCritical {
		t.Fatalf("expected critical status, got %s", entry.Status)
	}
	if entry.RiskLevel != RiskHigh {
		t.Fatalf("expected high risk, got %s", entry.RiskLevel)
	}
	if summary.CriticalCount != 1 || summary.TotalVisitsScheduled != 20 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.DaysAhead != 30 || summary.EffectiveDaysAhead != 30 {
		t.Fatalf("unexpected window: %+v", summary)
	}
}

func TestComputeDeficitInvariant(t *testing.T) {
	kitTypeID := uuid.New()
	scheduleID := uuid.New()

	in := Input{
		Policy:    StudyPolicy{InventoryBufferDays: 10, DeliveryDaysDefault: 14},
		KitTypes:  []models.KitType{{ID: kitTypeID, Name: "Chem Panel", Active: true}},
		Schedules: []models.VisitSchedule{{ID: scheduleID, Name: "Screening"}},
		Requirements: []models.VisitRequirement{
			{ID: uuid.New(), VisitScheduleID: scheduleID, KitTypeID: &kitTypeID, QuantityPerVisit: 2},
		},
		Visits: scheduledVisits(scheduleID, 7, testToday.AddDate(0, 0, 3)),
		Kits:   availableKits(kitTypeID, 4),
		Orders: []models.KitOrder{
			{ID: uuid.New(), KitTypeID: &kitTypeID, Quantity: 5, Status: "pending"},
		},
		DaysAhead: 30,
		Today:     testToday,
	}

	forecast, _, _ := Compute(DefaultEngineConfig(), in)
	entry := forecast[0]

	want := entry.RequiredWithBuffer - (entry.KitsAvailable + entry.PendingOrderQuantity)
	if want < 0 {
		want = 0
	}
	if entry.Deficit != want {
		t.Fatalf("deficit invariant violated: got %d want %d", entry.Deficit, want)
	}
	for _, v := range []int{entry.KitsRequired, entry.BufferKitsNeeded, entry.Deficit, entry.RecommendedOrderQty, entry.RiskScore} {
		if v < 0 {
			t.Fatalf("negative metric in entry: %+v", entry)
		}
	}
	if entry.RiskScore > 100 {
		t.Fatalf("risk score above cap: %d", entry.RiskScore)
	}
}

func TestComputeOptionalityPropagation(t *testing.T) {
	kitTypeID := uuid.New()
	scheduleA := uuid.New()
	scheduleB := uuid.New()

	base := Input{
		Policy:   StudyPolicy{},
		KitTypes: []models.KitType{{ID: kitTypeID, Name: "PK Sample", Active: true}},
		Schedules: []models.VisitSchedule{
			{ID: scheduleA, Name: "Day 1"},
			{ID: scheduleB, Name: "Day 8"},
		},
		Requirements: []models.VisitRequirement{
			{ID: uuid.New(), VisitScheduleID: scheduleA, KitTypeID: &kitTypeID, QuantityPerVisit: 1, IsOptional: true},
			{ID: uuid.New(), VisitScheduleID: scheduleB, KitTypeID: &kitTypeID, QuantityPerVisit: 1, IsOptional: false},
		},
		Visits:    scheduledVisits(scheduleA, 3, testToday.AddDate(0, 0, 5)),
		DaysAhead: 30,
		Today:     testToday,
	}

	forecast, _, _ := Compute(DefaultEngineConfig(), base)
	if forecast[0].Optional {
		t.Fatal("one required requirement must force the entry non-optional")
	}

	base.Requirements[1].IsOptional = true
	forecast, _, _ = Compute(DefaultEngineConfig(), base)
	if !forecast[0].Optional {
		t.Fatal("entry must be optional when every requirement is optional")
	}
	// An optional entry with a deficit warns instead of going critical.
	if forecast[0].Deficit > 0 && forecast[0].Status != StatusWarning {
		t.Fatalf("optional deficit should warn, got %s", forecast[0].Status)
	}
}

func TestComputeNameFallbackIdentity(t *testing.T) {
	scheduleID := uuid.New()

	in := Input{
		Policy:    StudyPolicy{},
		Schedules: []models.VisitSchedule{{ID: scheduleID, Name: "Baseline"}},
		Requirements: []models.VisitRequirement{
			{ID: uuid.New(), VisitScheduleID: scheduleID, KitTypeName: "  CBC Panel ", QuantityPerVisit: 1},
		},
		Visits: scheduledVisits(scheduleID, 2, testToday.AddDate(0, 0, 4)),
		Kits: []models.LabKit{
			{ID: uuid.New(), KitTypeName: "cbc panel", Status: "available"},
			{ID: uuid.New(), KitTypeName: "mystery kit", Status: "available"},
		},
		DaysAhead: 30,
		Today:     testToday,
	}

	forecast, _, _ := Compute(DefaultEngineConfig(), in)
	if len(forecast) != 1 {
		t.Fatalf("expected one entry, got %d", len(forecast))
	}
	entry := forecast[0]
	if entry.Key != "name:cbc panel" {
		t.Fatalf("expected name sentinel key, got %q", entry.Key)
	}
	if entry.KitsAvailable != 1 {
		t.Fatalf("normalized-name unit should match and untracked unit should not; got %d available", entry.KitsAvailable)
	}
}

func TestComputeNameEntryAdoptsLaterKitTypeID(t *testing.T) {
	kitTypeID := uuid.New()
	scheduleA := uuid.New()
	scheduleB := uuid.New()

	in := Input{
		Policy: StudyPolicy{},
		Schedules: []models.VisitSchedule{
			{ID: scheduleA, Name: "Screening"},
			{ID: scheduleB, Name: "Week 1"},
		},
		Requirements: []models.VisitRequirement{
			// Legacy row recorded by name only, then a normalized row for the
			// same kit type carrying the id.
			{ID: uuid.New(), VisitScheduleID: scheduleA, KitTypeName: "Lipid Panel", QuantityPerVisit: 1},
			{ID: uuid.New(), VisitScheduleID: scheduleB, KitTypeID: &kitTypeID, KitTypeName: "Lipid Panel", QuantityPerVisit: 1},
		},
		Visits: scheduledVisits(scheduleA, 2, testToday.AddDate(0, 0, 5)),
		// Supply tracked by id alone must still land on the merged entry.
		Kits:      availableKits(kitTypeID, 3),
		DaysAhead: 30,
		Today:     testToday,
	}

	forecast, _, _ := Compute(DefaultEngineConfig(), in)
	if len(forecast) != 1 {
		t.Fatalf("name and id rows for the same kit type must merge, got %d entries", len(forecast))
	}
	entry := forecast[0]
	if entry.KitTypeID == nil || *entry.KitTypeID != kitTypeID {
		t.Fatalf("merged entry should carry the adopted id, got %v", entry.KitTypeID)
	}
	if entry.KitsAvailable != 3 {
		t.Fatalf("id-keyed supply should resolve to the merged entry, got %d", entry.KitsAvailable)
	}
}

func TestComputePendingOrderCoverage(t *testing.T) {
	kitTypeID := uuid.New()
	scheduleID := uuid.New()

	in := Input{
		Policy:    StudyPolicy{InventoryBufferDays: 5, DeliveryDaysDefault: 3},
		KitTypes:  []models.KitType{{ID: kitTypeID, Name: "Coag Panel", Active: true}},
		Schedules: []models.VisitSchedule{{ID: scheduleID, Name: "Week 2"}},
		Requirements: []models.VisitRequirement{
			{ID: uuid.New(), VisitScheduleID: scheduleID, KitTypeID: &kitTypeID, QuantityPerVisit: 1},
		},
		Visits: scheduledVisits(scheduleID, 20, testToday.AddDate(0, 0, 12)),
		Kits:   availableKits(kitTypeID, 20),
		Orders: []models.KitOrder{
			{ID: uuid.New(), KitTypeID: &kitTypeID, Quantity: 10, Status: "pending", ExpectedArrival: datePtr(testToday.AddDate(0, 0, -2))},
			{ID: uuid.New(), KitTypeID: &kitTypeID, Quantity: 99, Status: "cancelled"},
		},
		DaysAhead: 30,
		Today:     testToday,
	}

	forecast, _, _ := Compute(DefaultEngineConfig(), in)
	entry := forecast[0]

	if entry.PendingOrderQuantity != 10 {
		t.Fatalf("only pending orders count toward coverage, got %d", entry.PendingOrderQuantity)
	}
	if len(entry.PendingOrders) != 1 || !entry.PendingOrders[0].IsOverdue {
		t.Fatalf("overdue pending order should be flagged: %+v", entry.PendingOrders)
	}
	// Gap of 6 is masked by the inbound order: warning, not critical.
	if entry.Deficit != 0 || entry.OriginalDeficit != 6 {
		t.Fatalf("expected covered gap 0/6, got %d/%d", entry.Deficit, entry.OriginalDeficit)
	}
	if entry.Status != StatusWarning {
		t.Fatalf("masked gap should warn, got %s", entry.Status)
	}
	hasCovered := false
	for _, factor := range entry.RiskFactors {
		if factor.Factor == "covered" && factor.Score == 25 {
			hasCovered = true
		}
	}
	if !hasCovered {
		t.Fatalf("expected covered risk factor: %+v", entry.RiskFactors)
	}
}

func TestComputeExpiringSoonWarning(t *testing.T) {
	kitTypeID := uuid.New()
	scheduleID := uuid.New()

	kits := availableKits(kitTypeID, 12)
	kits[0].ExpirationDate = datePtr(testToday.AddDate(0, 0, 6))
	kits[1].ExpirationDate = datePtr(testToday.AddDate(0, 0, 9))
	// Already past; not "expiring soon" and the unit is still counted
	// available only if its status says so.
	kits[2].ExpirationDate = datePtr(testToday.AddDate(0, 0, 90))

	in := Input{
		Policy:    StudyPolicy{},
		KitTypes:  []models.KitType{{ID: kitTypeID, Name: "Urinalysis", Active: true}},
		Schedules: []models.VisitSchedule{{ID: scheduleID, Name: "Month 1"}},
		Requirements: []models.VisitRequirement{
			{ID: uuid.New(), VisitScheduleID: scheduleID, KitTypeID: &kitTypeID, QuantityPerVisit: 1},
		},
		Visits:    scheduledVisits(scheduleID, 11, testToday.AddDate(0, 0, 14)),
		Kits:      kits,
		DaysAhead: 30,
		Today:     testToday,
	}

	forecast, _, metrics := Compute(DefaultEngineConfig(), in)
	entry := forecast[0]

	if entry.KitsExpiringSoon != 2 {
		t.Fatalf("expected 2 kits expiring soon, got %d", entry.KitsExpiringSoon)
	}
	if entry.Status != StatusWarning {
		t.Fatalf("expiring stock should warn, got %s", entry.Status)
	}
	if metrics.ExpiringSoon.Count != 2 {
		t.Fatalf("metrics should aggregate expiring units, got %d", metrics.ExpiringSoon.Count)
	}
	wantEarliest := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	if metrics.ExpiringSoon.EarliestExpiryDate == nil || !metrics.ExpiringSoon.EarliestExpiryDate.Equal(wantEarliest) {
		t.Fatalf("unexpected earliest expiry: %v", metrics.ExpiringSoon.EarliestExpiryDate)
	}
	// Recommendation discounts the expiring units even though deficit does not.
	if entry.RecommendedOrderQty <= entry.Deficit {
		t.Fatalf("recommendation should be pessimistic about expiring stock: rec=%d deficit=%d",
			entry.RecommendedOrderQty, entry.Deficit)
	}
}

func TestComputeWindowClamping(t *testing.T) {
	cfg := DefaultEngineConfig()

	_, summary, _ := Compute(cfg, Input{Policy: StudyPolicy{VisitWindowBufferDays: 14}, DaysAhead: 500, Today: testToday})
	if summary.DaysAhead != 180 || summary.EffectiveDaysAhead != 194 {
		t.Fatalf("expected 180/194 window, got %d/%d", summary.DaysAhead, summary.EffectiveDaysAhead)
	}

	_, summary, _ = Compute(cfg, Input{Policy: StudyPolicy{}, DaysAhead: 0, Today: testToday})
	if summary.DaysAhead != 30 {
		t.Fatalf("expected default 30 days, got %d", summary.DaysAhead)
	}

	// Buffer settings clamp into their safe ranges.
	_, summary, _ = Compute(cfg, Input{Policy: StudyPolicy{VisitWindowBufferDays: 999}, DaysAhead: 30, Today: testToday})
	if summary.EffectiveDaysAhead != 90 {
		t.Fatalf("visit window buffer should clamp to 60, got effective %d", summary.EffectiveDaysAhead)
	}
}

func TestComputeRankingDeterministic(t *testing.T) {
	scheduleID := uuid.New()
	okType := uuid.New()
	criticalType := uuid.New()
	warningType := uuid.New()

	in := Input{
		Policy: StudyPolicy{InventoryBufferDays: 5, DeliveryDaysDefault: 3},
		KitTypes: []models.KitType{
			{ID: okType, Name: "Serum", Active: true},
			{ID: criticalType, Name: "Plasma", Active: true},
			{ID: warningType, Name: "Saliva", Active: true},
		},
		Schedules: []models.VisitSchedule{{ID: scheduleID, Name: "Cycle 1"}},
		Requirements: []models.VisitRequirement{
			{ID: uuid.New(), VisitScheduleID: scheduleID, KitTypeID: &okType, QuantityPerVisit: 1},
			{ID: uuid.New(), VisitScheduleID: scheduleID, KitTypeID: &criticalType, QuantityPerVisit: 3},
			{ID: uuid.New(), VisitScheduleID: scheduleID, KitTypeID: &warningType, QuantityPerVisit: 1},
		},
		Visits: scheduledVisits(scheduleID, 10, testToday.AddDate(0, 0, 20)),
		Kits: append(append(
			availableKits(okType, 50),
			availableKits(criticalType, 2)...),
			availableKits(warningType, 14)...),
		DaysAhead: 30,
		Today:     testToday,
	}

	first, firstSummary, _ := Compute(DefaultEngineConfig(), in)
	second, secondSummary, _ := Compute(DefaultEngineConfig(), in)

	if !reflect.DeepEqual(first, second) {
		t.Fatal("recomputing an unchanged snapshot must yield an identical forecast")
	}
	if !reflect.DeepEqual(firstSummary, secondSummary) {
		t.Fatal("recomputing an unchanged snapshot must yield an identical summary")
	}

	if first[0].KitTypeName != "Plasma" {
		t.Fatalf("deficit entry should rank first, got %s", first[0].KitTypeName)
	}
	if first[len(first)-1].KitTypeName != "Serum" {
		t.Fatalf("healthy entry should rank last, got %s", first[len(first)-1].KitTypeName)
	}
}

func TestComputeKitTypeOverridesBeatStudyDefaults(t *testing.T) {
	kitTypeID := uuid.New()
	scheduleID := uuid.New()

	in := Input{
		Policy: StudyPolicy{InventoryBufferDays: 5, DeliveryDaysDefault: 3},
		KitTypes: []models.KitType{
			{ID: kitTypeID, Name: "Biopsy Kit", Active: true, BufferDays: intPtr(0), BufferCount: intPtr(9), DeliveryDays: intPtr(0)},
		},
		Schedules: []models.VisitSchedule{{ID: scheduleID, Name: "Week 1"}},
		Requirements: []models.VisitRequirement{
			{ID: uuid.New(), VisitScheduleID: scheduleID, KitTypeID: &kitTypeID, QuantityPerVisit: 1},
		},
		Visits:    scheduledVisits(scheduleID, 20, testToday.AddDate(0, 0, 10)),
		Kits:      availableKits(kitTypeID, 40),
		DaysAhead: 30,
		Today:     testToday,
	}

	forecast, _, _ := Compute(DefaultEngineConfig(), in)
	entry := forecast[0]

	// Explicit zero overrides suppress both cushions; the floor is the
	// override buffer count, not the study defaults.
	if entry.BufferKitsNeeded != 9 {
		t.Fatalf("expected min-count floor of 9, got %d", entry.BufferKitsNeeded)
	}
	if entry.RequiredWithBuffer != 29 {
		t.Fatalf("expected required-with-buffer 29, got %d", entry.RequiredWithBuffer)
	}
}

func TestComputeZeroDemandWithExpiringStock(t *testing.T) {
	kitTypeID := uuid.New()
	scheduleID := uuid.New()

	kits := availableKits(kitTypeID, 3)
	kits[0].ExpirationDate = datePtr(testToday.AddDate(0, 0, 2))

	in := Input{
		Policy:    StudyPolicy{},
		KitTypes:  []models.KitType{{ID: kitTypeID, Name: "Stool Kit", Active: true}},
		Schedules: []models.VisitSchedule{{ID: scheduleID, Name: "Follow-up"}},
		Requirements: []models.VisitRequirement{
			{ID: uuid.New(), VisitScheduleID: scheduleID, KitTypeID: &kitTypeID, QuantityPerVisit: 1},
		},
		Kits:      kits,
		DaysAhead: 30,
		Today:     testToday,
	}

	forecast, _, _ := Compute(DefaultEngineConfig(), in)
	if forecast[0].RequiredWithBuffer != 0 {
		t.Fatalf("no scheduled visits should need nothing, got %d", forecast[0].RequiredWithBuffer)
	}
	if forecast[0].Status != StatusWarning {
		t.Fatalf("expiring stock should still warn with zero demand, got %s", forecast[0].Status)
	}
}
