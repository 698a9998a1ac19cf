package labkit

import (
	"testing"

	"github.com/trialkit/platform/pkg/common/models"
)

func TestClampStudyPolicy(t *testing.T) {
	limits := DefaultPolicyLimits()

	clamped := ClampStudyPolicy(limits, StudyPolicy{
		InventoryBufferDays:   500,
		VisitWindowBufferDays: -3,
		DeliveryDaysDefault:   45,
	})

	if clamped.InventoryBufferDays != 120 {
		t.Fatalf("buffer days should cap at 120, got %d", clamped.InventoryBufferDays)
	}
	if clamped.VisitWindowBufferDays != 0 {
		t.Fatalf("negative window buffer should collapse to 0, got %d", clamped.VisitWindowBufferDays)
	}
	if clamped.DeliveryDaysDefault != 45 {
		t.Fatalf("in-range delivery days should pass through, got %d", clamped.DeliveryDaysDefault)
	}
}

func TestResolveKitPolicyFallback(t *testing.T) {
	limits := DefaultPolicyLimits()
	study := StudyPolicy{InventoryBufferDays: 7, DeliveryDaysDefault: 5}

	got := resolveKitPolicy(limits, study, nil)
	if got.SafetyDays != 7 || got.DeliveryDays != 5 || got.MinCount != 0 {
		t.Fatalf("nil kit type should inherit study defaults, got %+v", got)
	}

	// A present-but-zero override is an override, not an absence.
	zero := 0
	got = resolveKitPolicy(limits, study, &models.KitType{BufferDays: &zero, DeliveryDays: &zero})
	if got.SafetyDays != 0 || got.DeliveryDays != 0 {
		t.Fatalf("explicit zero overrides should win, got %+v", got)
	}

	// Partial overrides only replace their own field.
	ten := 10
	got = resolveKitPolicy(limits, study, &models.KitType{BufferCount: &ten})
	if got.SafetyDays != 7 || got.DeliveryDays != 5 || got.MinCount != 10 {
		t.Fatalf("partial override touched the wrong fields: %+v", got)
	}

	// Out-of-range overrides clamp like study settings do.
	big := 999
	negative := -4
	got = resolveKitPolicy(limits, study, &models.KitType{BufferDays: &big, BufferCount: &negative})
	if got.SafetyDays != 120 || got.MinCount != 0 {
		t.Fatalf("override clamping failed: %+v", got)
	}
}
