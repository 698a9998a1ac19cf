package labkit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/trialkit/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrStudyNotFound = errors.New("study not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// studySettingsModel is a narrow view over the studies table owned by the
// study service; the forecast only needs the buffer defaults.
type studySettingsModel struct {
	ID                    uuid.UUID `gorm:"primaryKey;column:id"`
	Status                string    `gorm:"column:status"`
	InventoryBufferDays   int       `gorm:"column:inventory_buffer_days"`
	VisitWindowBufferDays int       `gorm:"column:visit_window_buffer_days"`
	DeliveryDaysDefault   int       `gorm:"column:delivery_days_default"`
}

func (studySettingsModel) TableName() string { return "studies" }

type kitTypeModel struct {
	ID           uuid.UUID `gorm:"primaryKey;column:id"`
	StudyID      uuid.UUID `gorm:"column:study_id;index"`
	Name         string    `gorm:"column:name"`
	Active       bool      `gorm:"column:active"`
	BufferDays   *int      `gorm:"column:buffer_days"`
	BufferCount  *int      `gorm:"column:buffer_count"`
	DeliveryDays *int      `gorm:"column:delivery_days"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (kitTypeModel) TableName() string { return "kit_types" }

type visitScheduleModel struct {
	ID            uuid.UUID `gorm:"primaryKey;column:id"`
	StudyID       uuid.UUID `gorm:"column:study_id;index"`
	Name          string    `gorm:"column:name"`
	DisplayNumber int       `gorm:"column:display_number"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (visitScheduleModel) TableName() string { return "visit_schedules" }

type visitRequirementModel struct {
	ID               uuid.UUID  `gorm:"primaryKey;column:id"`
	StudyID          uuid.UUID  `gorm:"column:study_id;index"`
	VisitScheduleID  uuid.UUID  `gorm:"column:visit_schedule_id"`
	KitTypeID        *uuid.UUID `gorm:"column:kit_type_id"`
	KitTypeName      string     `gorm:"column:kit_type_name"`
	QuantityPerVisit int        `gorm:"column:quantity_per_visit"`
	IsOptional       bool       `gorm:"column:is_optional"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
}

func (visitRequirementModel) TableName() string { return "visit_kit_requirements" }

type subjectVisitModel struct {
	ID              uuid.UUID `gorm:"primaryKey;column:id"`
	StudyID         uuid.UUID `gorm:"column:study_id;index"`
	VisitScheduleID uuid.UUID `gorm:"column:visit_schedule_id"`
	SubjectNumber   string    `gorm:"column:subject_number"`
	VisitDate       time.Time `gorm:"column:visit_date"`
	Status          string    `gorm:"column:status"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (subjectVisitModel) TableName() string { return "subject_visits" }

type labKitModel struct {
	ID             uuid.UUID  `gorm:"primaryKey;column:id"`
	StudyID        uuid.UUID  `gorm:"column:study_id;index"`
	KitTypeID      *uuid.UUID `gorm:"column:kit_type_id"`
	KitTypeName    string     `gorm:"column:kit_type_name"`
	AccessionCode  string     `gorm:"column:accession_code"`
	Status         string     `gorm:"column:status"`
	ExpirationDate *time.Time `gorm:"column:expiration_date"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

func (labKitModel) TableName() string { return "lab_kits" }

type kitOrderModel struct {
	ID              uuid.UUID  `gorm:"primaryKey;column:id"`
	StudyID         uuid.UUID  `gorm:"column:study_id;index"`
	KitTypeID       *uuid.UUID `gorm:"column:kit_type_id"`
	KitTypeName     string     `gorm:"column:kit_type_name"`
	Quantity        int        `gorm:"column:quantity"`
	Status          string     `gorm:"column:status"`
	Vendor          string     `gorm:"column:vendor"`
	ExpectedArrival *time.Time `gorm:"column:expected_arrival"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
}

func (kitOrderModel) TableName() string { return "lab_kit_orders" }

type alertDismissalModel struct {
	ID              uuid.UUID      `gorm:"primaryKey;column:id"`
	StudyID         uuid.UUID      `gorm:"column:study_id;index"`
	UserID          string         `gorm:"column:user_id;index"`
	AlertID         string         `gorm:"column:alert_id"`
	Conditions      datatypes.JSON `gorm:"column:conditions"`
	SnoozeUntil     *time.Time     `gorm:"column:snooze_until"`
	DismissedAt     time.Time      `gorm:"column:dismissed_at"`
	RestoredAt      *time.Time     `gorm:"column:restored_at"`
	AutoRestoreRule *string        `gorm:"column:auto_restore_rule"`
	CreatedAt       time.Time      `gorm:"column:created_at"`
	UpdatedAt       time.Time      `gorm:"column:updated_at"`
}

func (alertDismissalModel) TableName() string { return "alert_dismissals" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&kitTypeModel{},
		&labKitModel{},
		&kitOrderModel{},
		&alertDismissalModel{},
	)
}

func (r *Repository) GetStudyPolicy(ctx context.Context, studyID uuid.UUID) (StudyPolicy, error) {
	var row studySettingsModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", studyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return StudyPolicy{}, ErrStudyNotFound
		}
		return StudyPolicy{}, err
	}
	return StudyPolicy{
		InventoryBufferDays:   row.InventoryBufferDays,
		VisitWindowBufferDays: row.VisitWindowBufferDays,
		DeliveryDaysDefault:   row.DeliveryDaysDefault,
	}, nil
}

func (r *Repository) ListActiveStudyIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&studySettingsModel{}).
		Where("status = ?", "active").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *Repository) ListKitTypes(ctx context.Context, studyID uuid.UUID) ([]models.KitType, error) {
	var rows []kitTypeModel
	if err := r.db.WithContext(ctx).Where("study_id = ?", studyID).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	kitTypes := make([]models.KitType, 0, len(rows))
	for _, row := range rows {
		kitTypes = append(kitTypes, models.KitType{
			ID:           row.ID,
			StudyID:      row.StudyID,
			Name:         row.Name,
			Active:       row.Active,
			BufferDays:   row.BufferDays,
			BufferCount:  row.BufferCount,
			DeliveryDays: row.DeliveryDays,
			CreatedAt:    row.CreatedAt,
			UpdatedAt:    row.UpdatedAt,
		})
	}
	return kitTypes, nil
}

func (r *Repository) ListVisitSchedules(ctx context.Context, studyID uuid.UUID) ([]models.VisitSchedule, error) {
	var rows []visitScheduleModel
	if err := r.db.WithContext(ctx).Where("study_id = ?", studyID).Order("display_number").Find(&rows).Error; err != nil {
		return nil, err
	}
	schedules := make([]models.VisitSchedule, 0, len(rows))
	for _, row := range rows {
		schedules = append(schedules, models.VisitSchedule{
			ID:            row.ID,
			StudyID:       row.StudyID,
			Name:          row.Name,
			DisplayNumber: row.DisplayNumber,
			CreatedAt:     row.CreatedAt,
		})
	}
	return schedules, nil
}

func (r *Repository) ListVisitRequirements(ctx context.Context, studyID uuid.UUID) ([]models.VisitRequirement, error) {
	var rows []visitRequirementModel
	if err := r.db.WithContext(ctx).Where("study_id = ?", studyID).Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	requirements := make([]models.VisitRequirement, 0, len(rows))
	for _, row := range rows {
		requirements = append(requirements, models.VisitRequirement{
			ID:               row.ID,
			StudyID:          row.StudyID,
			VisitScheduleID:  row.VisitScheduleID,
			KitTypeID:        row.KitTypeID,
			KitTypeName:      row.KitTypeName,
			QuantityPerVisit: row.QuantityPerVisit,
			IsOptional:       row.IsOptional,
		})
	}
	return requirements, nil
}

func (r *Repository) ListScheduledVisits(ctx context.Context, studyID uuid.UUID, from, to time.Time) ([]models.SubjectVisit, error) {
	var rows []subjectVisitModel
	err := r.db.WithContext(ctx).
		Where("study_id = ? AND status = ? AND visit_date >= ? AND visit_date <= ?", studyID, "scheduled", from, to).
		Order("visit_date").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	visits := make([]models.SubjectVisit, 0, len(rows))
	for _, row := range rows {
		visits = append(visits, models.SubjectVisit{
			ID:              row.ID,
			StudyID:         row.StudyID,
			VisitScheduleID: row.VisitScheduleID,
			SubjectNumber:   row.SubjectNumber,
			VisitDate:       row.VisitDate,
			Status:          row.Status,
			CreatedAt:       row.CreatedAt,
			UpdatedAt:       row.UpdatedAt,
		})
	}
	return visits, nil
}

func (r *Repository) ListSupplyKits(ctx context.Context, studyID uuid.UUID) ([]models.LabKit, error) {
	var rows []labKitModel
	err := r.db.WithContext(ctx).
		Where("study_id = ? AND status IN ?", studyID, supplyStatuses).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	kits := make([]models.LabKit, 0, len(rows))
	for _, row := range rows {
		kits = append(kits, buildLabKit(row))
	}
	return kits, nil
}

func (r *Repository) ListKitOrders(ctx context.Context, studyID uuid.UUID) ([]models.KitOrder, error) {
	var rows []kitOrderModel
	if err := r.db.WithContext(ctx).Where("study_id = ?", studyID).Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	orders := make([]models.KitOrder, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, buildKitOrder(row))
	}
	return orders, nil
}

func (r *Repository) ListActiveDismissals(ctx context.Context, studyID uuid.UUID, userID string) ([]models.AlertDismissal, error) {
	var rows []alertDismissalModel
	err := r.db.WithContext(ctx).
		Where("study_id = ? AND user_id = ? AND restored_at IS NULL", studyID, userID).
		Order("dismissed_at").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	dismissals := make([]models.AlertDismissal, 0, len(rows))
	for _, row := range rows {
		dismissals = append(dismissals, buildDismissal(row))
	}
	return dismissals, nil
}

func (r *Repository) CreateDismissal(ctx context.Context, studyID uuid.UUID, userID string, req models.DismissAlertRequest) (models.AlertDismissal, error) {
	now := time.Now().UTC()
	row := &alertDismissalModel{
		ID:          uuid.New(),
		StudyID:     studyID,
		UserID:      userID,
		AlertID:     req.AlertID,
		SnoozeUntil: req.SnoozeUntil,
		DismissedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if data, err := json.Marshal(req.Conditions); err == nil {
		row.Conditions = datatypes.JSON(data)
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.AlertDismissal{}, err
	}
	return buildDismissal(*row), nil
}

// RestoreDismissal closes out a dismissal with the rule that fired. The
// update is idempotent; a concurrent request restoring the same row lands on
// the same terminal state.
func (r *Repository) RestoreDismissal(ctx context.Context, dismissalID uuid.UUID, rule string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&alertDismissalModel{}).
		Where("id = ?", dismissalID).
		Updates(map[string]interface{}{
			"restored_at":       now,
			"updated_at":        now,
			"auto_restore_rule": rule,
		}).Error
}

func (r *Repository) CreateLabKit(ctx context.Context, studyID uuid.UUID, req models.CreateLabKitRequest) (models.LabKit, error) {
	now := time.Now().UTC()
	row := &labKitModel{
		ID:             uuid.New(),
		StudyID:        studyID,
		KitTypeID:      req.KitTypeID,
		KitTypeName:    req.KitTypeName,
		AccessionCode:  req.AccessionCode,
		Status:         kitStatusAvailable,
		ExpirationDate: req.ExpirationDate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.LabKit{}, err
	}
	return buildLabKit(*row), nil
}

func (r *Repository) UpdateLabKitStatus(ctx context.Context, kitID uuid.UUID, status string) error {
	result := r.db.WithContext(ctx).Model(&labKitModel{}).
		Where("id = ?", kitID).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *Repository) CreateKitOrder(ctx context.Context, studyID uuid.UUID, req models.CreateKitOrderRequest) (models.KitOrder, error) {
	now := time.Now().UTC()
	row := &kitOrderModel{
		ID:              uuid.New(),
		StudyID:         studyID,
		KitTypeID:       req.KitTypeID,
		KitTypeName:     req.KitTypeName,
		Quantity:        req.Quantity,
		Status:          "pending",
		Vendor:          req.Vendor,
		ExpectedArrival: req.ExpectedArrival,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.KitOrder{}, err
	}
	return buildKitOrder(*row), nil
}

func (r *Repository) UpdateKitOrderStatus(ctx context.Context, orderID uuid.UUID, status string) error {
	result := r.db.WithContext(ctx).Model(&kitOrderModel{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func buildLabKit(row labKitModel) models.LabKit {
	return models.LabKit{
		ID:             row.ID,
		StudyID:        row.StudyID,
		KitTypeID:      row.KitTypeID,
		KitTypeName:    row.KitTypeName,
		AccessionCode:  row.AccessionCode,
		Status:         row.Status,
		ExpirationDate: row.ExpirationDate,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}

func buildKitOrder(row kitOrderModel) models.KitOrder {
	return models.KitOrder{
		ID:              row.ID,
		StudyID:         row.StudyID,
		KitTypeID:       row.KitTypeID,
		KitTypeName:     row.KitTypeName,
		Quantity:        row.Quantity,
		Status:          row.Status,
		Vendor:          row.Vendor,
		ExpectedArrival: row.ExpectedArrival,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}

func buildDismissal(row alertDismissalModel) models.AlertDismissal {
	dismissal := models.AlertDismissal{
		ID:          row.ID,
		StudyID:     row.StudyID,
		UserID:      row.UserID,
		AlertID:     row.AlertID,
		SnoozeUntil: row.SnoozeUntil,
		DismissedAt: row.DismissedAt,
		RestoredAt:  row.RestoredAt,
	}
	if row.AutoRestoreRule != nil {
		dismissal.AutoRestoreRule = *row.AutoRestoreRule
	}
	if len(row.Conditions) > 0 {
		_ = json.Unmarshal(row.Conditions, &dismissal.Conditions)
	}
	return dismissal
}
