package models

import (
	"time"

	"github.com/google/uuid"
)

// Study coordination models
type Study struct {
	ID                    uuid.UUID              `json:"id"`
	Code                  string                 `json:"code"`
	Name                  string                 `json:"name"`
	Phase                 string                 `json:"phase"`
	Status                string                 `json:"status"`
	Sponsor               string                 `json:"sponsor"`
	InventoryBufferDays   int                    `json:"inventory_buffer_days"`
	VisitWindowBufferDays int                    `json:"visit_window_buffer_days"`
	DeliveryDaysDefault   int                    `json:"delivery_days_default"`
	ProtocolSummary       map[string]interface{} `json:"protocol_summary,omitempty"`
	KitTypes              []KitType              `json:"kit_types,omitempty"`
	VisitSchedules        []VisitSchedule        `json:"visit_schedules,omitempty"`
	CreatedAt             time.Time              `json:"created_at"`
	UpdatedAt             time.Time              `json:"updated_at"`
}

type CreateStudyRequest struct {
	Code                  string                 `json:"code"`
	Name                  string                 `json:"name"`
	Phase                 string                 `json:"phase"`
	Sponsor               string                 `json:"sponsor"`
	InventoryBufferDays   *int                   `json:"inventory_buffer_days,omitempty"`
	VisitWindowBufferDays *int                   `json:"visit_window_buffer_days,omitempty"`
	DeliveryDaysDefault   *int                   `json:"delivery_days_default,omitempty"`
	ProtocolSummary       map[string]interface{} `json:"protocol_summary,omitempty"`
}

type UpdateStudySettingsRequest struct {
	InventoryBufferDays   *int `json:"inventory_buffer_days,omitempty"`
	VisitWindowBufferDays *int `json:"visit_window_buffer_days,omitempty"`
	DeliveryDaysDefault   *int `json:"delivery_days_default,omitempty"`
}

// KitType is a named category of lab kit tracked per study. Buffer and
// delivery overrides are nil when the study default applies.
type KitType struct {
	ID           uuid.UUID `json:"id"`
	StudyID      uuid.UUID `json:"study_id"`
	Name         string    `json:"name"`
	Active       bool      `json:"active"`
	BufferDays   *int      `json:"buffer_days,omitempty"`
	BufferCount  *int      `json:"buffer_count,omitempty"`
	DeliveryDays *int      `json:"delivery_days,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type CreateKitTypeRequest struct {
	Name         string `json:"name"`
	BufferDays   *int   `json:"buffer_days,omitempty"`
	BufferCount  *int   `json:"buffer_count,omitempty"`
	DeliveryDays *int   `json:"delivery_days,omitempty"`
}

type UpdateKitTypeRequest struct {
	Name         *string `json:"name,omitempty"`
	Active       *bool   `json:"active,omitempty"`
	BufferDays   *int    `json:"buffer_days,omitempty"`
	BufferCount  *int    `json:"buffer_count,omitempty"`
	DeliveryDays *int    `json:"delivery_days,omitempty"`
}

type VisitSchedule struct {
	ID            uuid.UUID `json:"id"`
	StudyID       uuid.UUID `json:"study_id"`
	Name          string    `json:"name"`
	DisplayNumber int       `json:"display_number"`
	CreatedAt     time.Time `json:"created_at"`
}

type CreateVisitScheduleRequest struct {
	Name          string `json:"name"`
	DisplayNumber int    `json:"display_number"`
}

// VisitRequirement links a visit-schedule entry to the kit type it consumes.
// Legacy rows recorded before kit types were normalized carry only a name.
type VisitRequirement struct {
	ID               uuid.UUID  `json:"id"`
	StudyID          uuid.UUID  `json:"study_id"`
	VisitScheduleID  uuid.UUID  `json:"visit_schedule_id"`
	KitTypeID        *uuid.UUID `json:"kit_type_id,omitempty"`
	KitTypeName      string     `json:"kit_type_name,omitempty"`
	QuantityPerVisit int        `json:"quantity_per_visit"`
	IsOptional       bool       `json:"is_optional"`
}

type CreateVisitRequirementRequest struct {
	VisitScheduleID  uuid.UUID  `json:"visit_schedule_id"`
	KitTypeID        *uuid.UUID `json:"kit_type_id,omitempty"`
	KitTypeName      string     `json:"kit_type_name,omitempty"`
	QuantityPerVisit int        `json:"quantity_per_visit"`
	IsOptional       bool       `json:"is_optional"`
}

type SubjectVisit struct {
	ID              uuid.UUID `json:"id"`
	StudyID         uuid.UUID `json:"study_id"`
	VisitScheduleID uuid.UUID `json:"visit_schedule_id"`
	SubjectNumber   string    `json:"subject_number"`
	VisitDate       time.Time `json:"visit_date"`
	Status          string    `json:"status"` // scheduled, completed, cancelled, missed
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type ScheduleVisitRequest struct {
	VisitScheduleID uuid.UUID `json:"visit_schedule_id"`
	SubjectNumber   string    `json:"subject_number"`
	VisitDate       time.Time `json:"visit_date"`
}

// Lab kit inventory models
type LabKit struct {
	ID             uuid.UUID  `json:"id"`
	StudyID        uuid.UUID  `json:"study_id"`
	KitTypeID      *uuid.UUID `json:"kit_type_id,omitempty"`
	KitTypeName    string     `json:"kit_type_name,omitempty"`
	AccessionCode  string     `json:"accession_code"`
	Status         string     `json:"status"` // available, assigned, pending_shipment, shipped, expired, destroyed
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type CreateLabKitRequest struct {
	KitTypeID      *uuid.UUID `json:"kit_type_id,omitempty"`
	KitTypeName    string     `json:"kit_type_name,omitempty"`
	AccessionCode  string     `json:"accession_code"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
}

type KitOrder struct {
	ID              uuid.UUID  `json:"id"`
	StudyID         uuid.UUID  `json:"study_id"`
	KitTypeID       *uuid.UUID `json:"kit_type_id,omitempty"`
	KitTypeName     string     `json:"kit_type_name,omitempty"`
	Quantity        int        `json:"quantity"`
	Status          string     `json:"status"` // pending, received, cancelled
	Vendor          string     `json:"vendor,omitempty"`
	ExpectedArrival *time.Time `json:"expected_arrival,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type CreateKitOrderRequest struct {
	KitTypeID       *uuid.UUID `json:"kit_type_id,omitempty"`
	KitTypeName     string     `json:"kit_type_name,omitempty"`
	Quantity        int        `json:"quantity"`
	Vendor          string     `json:"vendor,omitempty"`
	ExpectedArrival *time.Time `json:"expected_arrival,omitempty"`
}

// Forecast output models
type RequirementBreakdown struct {
	VisitScheduleID  uuid.UUID `json:"visit_schedule_id"`
	VisitName        string    `json:"visit_name"`
	QuantityPerVisit int       `json:"quantity_per_visit"`
	IsOptional       bool      `json:"is_optional"`
	VisitsScheduled  int       `json:"visits_scheduled"`
	KitsRequired     int       `json:"kits_required"`
}

type PendingOrderInfo struct {
	OrderID         uuid.UUID  `json:"order_id"`
	Quantity        int        `json:"quantity"`
	ExpectedArrival *time.Time `json:"expected_arrival,omitempty"`
	IsOverdue       bool       `json:"is_overdue"`
}

type RiskFactor struct {
	Factor string `json:"factor"`
	Score  int    `json:"score"`
}

type ForecastEntry struct {
	Key                  string                 `json:"key"`
	KitTypeID            *uuid.UUID             `json:"kit_type_id,omitempty"`
	KitTypeName          string                 `json:"kit_type_name"`
	Optional             bool                   `json:"optional"`
	Requirements         []RequirementBreakdown `json:"requirements"`
	VisitsScheduled      int                    `json:"visits_scheduled"`
	KitsRequired         int                    `json:"kits_required"`
	KitsAvailable        int                    `json:"kits_available"`
	KitsExpiringSoon     int                    `json:"kits_expiring_soon"`
	PendingOrderQuantity int                    `json:"pending_order_quantity"`
	PendingOrders        []PendingOrderInfo     `json:"pending_orders,omitempty"`
	DailyBurnRate        float64                `json:"daily_burn_rate"`
	BufferKitsNeeded     int                    `json:"buffer_kits_needed"`
	RequiredWithBuffer   int                    `json:"required_with_buffer"`
	OriginalDeficit      int                    `json:"original_deficit"`
	Deficit              int                    `json:"deficit"`
	RecommendedOrderQty  int                    `json:"recommended_order_qty"`
	Status               string                 `json:"status"` // ok, warning, critical
	RiskScore            int                    `json:"risk_score"`
	RiskLevel            string                 `json:"risk_level"` // low, medium, high
	RiskFactors          []RiskFactor           `json:"risk_factors,omitempty"`
}

type ForecastSummary struct {
	TotalVisitsScheduled int `json:"total_visits_scheduled"`
	KitTypesTracked      int `json:"kit_types_tracked"`
	CriticalCount        int `json:"critical_count"`
	WarningCount         int `json:"warning_count"`
	HighRiskCount        int `json:"high_risk_count"`
	MediumRiskCount      int `json:"medium_risk_count"`
	DaysAhead            int `json:"days_ahead"`
	EffectiveDaysAhead   int `json:"effective_days_ahead"`
	VisitWindowBuffer    int `json:"visit_window_buffer_days"`
}

type SupplyDeficitMetrics struct {
	TotalDeficit        int `json:"total_deficit"`
	KitTypesWithDeficit int `json:"kit_types_with_deficit"`
}

type ExpiringSoonMetrics struct {
	Count              int        `json:"count"`
	EarliestExpiryDate *time.Time `json:"earliest_expiry_date,omitempty"`
}

type AlertMetrics struct {
	SupplyDeficit SupplyDeficitMetrics `json:"supply_deficit"`
	ExpiringSoon  ExpiringSoonMetrics  `json:"expiring_soon"`
}

type DismissedAlertInfo struct {
	AlertID     string     `json:"alert_id"`
	SnoozeUntil *time.Time `json:"snooze_until,omitempty"`
}

type ForecastResponse struct {
	Forecast           []ForecastEntry      `json:"forecast"`
	Summary            ForecastSummary      `json:"summary"`
	DismissedAlerts    []string             `json:"dismissed_alerts"`
	DismissedMetadata  []DismissedAlertInfo `json:"dismissed_metadata"`
	AutoRestoredAlerts []string             `json:"auto_restored_alerts"`
	AlertMetrics       AlertMetrics         `json:"alert_metrics"`
}

// Alert dismissal models
type AlertConditions struct {
	Deficit            *float64   `json:"deficit,omitempty"`
	ExpiringCount      *float64   `json:"expiring_count,omitempty"`
	EarliestExpiryDate *time.Time `json:"earliest_expiry_date,omitempty"`
}

type AlertDismissal struct {
	ID              uuid.UUID       `json:"id"`
	StudyID         uuid.UUID       `json:"study_id"`
	UserID          string          `json:"user_id"`
	AlertID         string          `json:"alert_id"`
	Conditions      AlertConditions `json:"conditions"`
	SnoozeUntil     *time.Time      `json:"snooze_until,omitempty"`
	DismissedAt     time.Time       `json:"dismissed_at"`
	RestoredAt      *time.Time      `json:"restored_at,omitempty"`
	AutoRestoreRule string          `json:"auto_restore_rule,omitempty"`
}

type DismissAlertRequest struct {
	AlertID     string          `json:"alert_id"`
	Conditions  AlertConditions `json:"conditions"`
	SnoozeUntil *time.Time      `json:"snooze_until,omitempty"`
}

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // forecast.deficit.detected, forecast.alert.restored
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// Audit trail
type AuditLog struct {
	ID        int64                  `json:"id"`
	StudyID   uuid.UUID              `json:"study_id"`
	Actor     string                 `json:"actor"`
	Role      string                 `json:"role,omitempty"`
	Action    string                 `json:"action"`
	Entity    string                 `json:"entity"`
	EntityID  string                 `json:"entity_id"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
