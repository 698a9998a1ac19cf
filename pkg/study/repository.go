package study

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

var ErrNotFound = errors.New("record not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type studyModel struct {
	ID                    uuid.UUID      `gorm:"primaryKey;column:id"`
	Code                  string         `gorm:"column:code;uniqueIndex"`
	Name                  string         `gorm:"column:name"`
	Phase                 string         `gorm:"column:phase"`
	Status                string         `gorm:"column:status"`
	Sponsor               string         `gorm:"column:sponsor"`
	InventoryBufferDays   int            `gorm:"column:inventory_buffer_days"`
	VisitWindowBufferDays int            `gorm:"column:visit_window_buffer_days"`
	DeliveryDaysDefault   int            `gorm:"column:delivery_days_default"`
	ProtocolSummary       datatypes.JSON `gorm:"column:protocol_summary"`
	CreatedAt             time.Time      `gorm:"column:created_at"`
	UpdatedAt             time.Time      `gorm:"column:updated_at"`
}

func (studyModel) TableName() string { return "studies" }

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

type auditLogModel struct {
	ID        int64          `gorm:"primaryKey;column:id"`
	StudyID   uuid.UUID      `gorm:"column:study_id;index"`
	Actor     string         `gorm:"column:actor"`
	Role      string         `gorm:"column:role"`
	Action    string         `gorm:"column:action"`
	Entity    string         `gorm:"column:entity"`
	EntityID  string         `gorm:"column:entity_id"`
	Payload   datatypes.JSON `gorm:"column:payload"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func (auditLogModel) TableName() string { return "study_audit_logs" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&studyModel{},
		&kitTypeModel{},
		&visitScheduleModel{},
		&visitRequirementModel{},
		&subjectVisitModel{},
		&auditLogModel{},
	)
}

func (r *Repository) CreateStudy(ctx context.Context, req models.CreateStudyRequest) (models.Study, error) {
	now := time.Now().UTC()
	row := &studyModel{
		ID:        uuid.New(),
		Code:      req.Code,
		Name:      req.Name,
		Phase:     req.Phase,
		Status:    "draft",
		Sponsor:   req.Sponsor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.InventoryBufferDays != nil {
		row.InventoryBufferDays = *req.InventoryBufferDays
	}
	if req.VisitWindowBufferDays != nil {
		row.VisitWindowBufferDays = *req.VisitWindowBufferDays
	}
	if req.DeliveryDaysDefault != nil {
		row.DeliveryDaysDefault = *req.DeliveryDaysDefault
	}
	if req.ProtocolSummary != nil {
		if data, err := json.Marshal(req.ProtocolSummary); err == nil {
			row.ProtocolSummary = datatypes.JSON(data)
		}
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.Study{}, err
	}
	return r.buildStudy(ctx, row)
}

func (r *Repository) GetStudy(ctx context.Context, studyID uuid.UUID) (models.Study, error) {
	var row studyModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", studyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Study{}, ErrNotFound
		}
		return models.Study{}, err
	}
	return r.buildStudy(ctx, &row)
}

func (r *Repository) ListStudies(ctx context.Context, limit int) ([]models.Study, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []studyModel
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	studies := make([]models.Study, 0, len(rows))
	for i := range rows {
		study, err := r.buildStudy(ctx, &rows[i])
		if err != nil {
			return nil, err
		}
		studies = append(studies, study)
	}
	return studies, nil
}

func (r *Repository) UpdateStudyStatus(ctx context.Context, studyID uuid.UUID, status string) error {
	return r.db.WithContext(ctx).Model(&studyModel{}).Where("id = ?", studyID).Updates(map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}).Error
}

func (r *Repository) UpdateStudySettings(ctx context.Context, studyID uuid.UUID, req models.UpdateStudySettingsRequest) error {
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if req.InventoryBufferDays != nil {
		updates["inventory_buffer_days"] = *req.InventoryBufferDays
	}
	if req.VisitWindowBufferDays != nil {
		updates["visit_window_buffer_days"] = *req.VisitWindowBufferDays
	}
	if req.DeliveryDaysDefault != nil {
		updates["delivery_days_default"] = *req.DeliveryDaysDefault
	}
	result := r.db.WithContext(ctx).Model(&studyModel{}).Where("id = ?", studyID).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) buildStudy(ctx context.Context, row *studyModel) (models.Study, error) {
	study := models.Study{
		ID:                    row.ID,
		Code:                  row.Code,
		Name:                  row.Name,
		Phase:                 row.Phase,
		Status:                row.Status,
		Sponsor:               row.Sponsor,
		InventoryBufferDays:   row.InventoryBufferDays,
		VisitWindowBufferDays: row.VisitWindowBufferDays,
		DeliveryDaysDefault:   row.DeliveryDaysDefault,
		CreatedAt:             row.CreatedAt,
		UpdatedAt:             row.UpdatedAt,
	}
	if len(row.ProtocolSummary) > 0 {
		var payload map[string]interface{}
		_ = json.Unmarshal(row.ProtocolSummary, &payload)
		study.ProtocolSummary = payload
	}

	var kitTypes []kitTypeModel
	if err := r.db.WithContext(ctx).Where("study_id = ?", row.ID).Order("name").Find(&kitTypes).Error; err != nil {
		return models.Study{}, err
	}
	for _, kt := range kitTypes {
		study.KitTypes = append(study.KitTypes, buildKitType(kt))
	}

	var schedules []visitScheduleModel
	if err := r.db.WithContext(ctx).Where("study_id = ?", row.ID).Order("display_number").Find(&schedules).Error; err != nil {
		return models.Study{}, err
	}
	for _, schedule := range schedules {
		study.VisitSchedules = append(study.VisitSchedules, models.VisitSchedule{
			ID:            schedule.ID,
			StudyID:       schedule.StudyID,
			Name:          schedule.Name,
			DisplayNumber: schedule.DisplayNumber,
			CreatedAt:     schedule.CreatedAt,
		})
	}

	return study, nil
}

func (r *Repository) CreateKitType(ctx context.Context, studyID uuid.UUID, req models.CreateKitTypeRequest) (models.KitType, error) {
	now := time.Now().UTC()
	row := &kitTypeModel{
		ID:           uuid.New(),
		StudyID:      studyID,
		Name:         req.Name,
		Active:       true,
		BufferDays:   req.BufferDays,
		BufferCount:  req.BufferCount,
		DeliveryDays: req.DeliveryDays,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.KitType{}, err
	}
	return buildKitType(*row), nil
}

func (r *Repository) UpdateKitType(ctx context.Context, kitTypeID uuid.UUID, req models.UpdateKitTypeRequest) (models.KitType, error) {
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if req.BufferDays != nil {
		updates["buffer_days"] = *req.BufferDays
	}
	if req.BufferCount != nil {
		updates["buffer_count"] = *req.BufferCount
	}
	if req.DeliveryDays != nil {
		updates["delivery_days"] = *req.DeliveryDays
	}
	result := r.db.WithContext(ctx).Model(&kitTypeModel{}).Where("id = ?", kitTypeID).Updates(updates)
	if result.Error != nil {
		return models.KitType{}, result.Error
	}
	if result.RowsAffected == 0 {
		return models.KitType{}, ErrNotFound
	}
	var row kitTypeModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", kitTypeID).Error; err != nil {
		return models.KitType{}, err
	}
	return buildKitType(row), nil
}

func (r *Repository) CreateVisitSchedule(ctx context.Context, studyID uuid.UUID, req models.CreateVisitScheduleRequest) (models.VisitSchedule, error) {
	row := &visitScheduleModel{
		ID:            uuid.New(),
		StudyID:       studyID,
		Name:          req.Name,
		DisplayNumber: req.DisplayNumber,
		CreatedAt:     time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.VisitSchedule{}, err
	}
	return models.VisitSchedule{
		ID:            row.ID,
		StudyID:       row.StudyID,
		Name:          row.Name,
		DisplayNumber: row.DisplayNumber,
		CreatedAt:     row.CreatedAt,
	}, nil
}

func (r *Repository) CreateVisitRequirement(ctx context.Context, studyID uuid.UUID, req models.CreateVisitRequirementRequest) (models.VisitRequirement, error) {
	row := &visitRequirementModel{
		ID:               uuid.New(),
		StudyID:          studyID,
		VisitScheduleID:  req.VisitScheduleID,
		KitTypeID:        req.KitTypeID,
		KitTypeName:      req.KitTypeName,
		QuantityPerVisit: req.QuantityPerVisit,
		IsOptional:       req.IsOptional,
		CreatedAt:        time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.VisitRequirement{}, err
	}
	return models.VisitRequirement{
		ID:               row.ID,
		StudyID:          row.StudyID,
		VisitScheduleID:  row.VisitScheduleID,
		KitTypeID:        row.KitTypeID,
		KitTypeName:      row.KitTypeName,
		QuantityPerVisit: row.QuantityPerVisit,
		IsOptional:       row.IsOptional,
	}, nil
}

func (r *Repository) ScheduleVisit(ctx context.Context, studyID uuid.UUID, req models.ScheduleVisitRequest) (models.SubjectVisit, error) {
	now := time.Now().UTC()
	row := &subjectVisitModel{
		ID:              uuid.New(),
		StudyID:         studyID,
		VisitScheduleID: req.VisitScheduleID,
		SubjectNumber:   req.SubjectNumber,
		VisitDate:       req.VisitDate.UTC(),
		Status:          "scheduled",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.SubjectVisit{}, err
	}
	return buildSubjectVisit(*row), nil
}

func (r *Repository) UpdateVisitStatus(ctx context.Context, visitID uuid.UUID, status string) error {
	result := r.db.WithContext(ctx).Model(&subjectVisitModel{}).Where("id = ?", visitID).Updates(map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UTC(),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) ListVisits(ctx context.Context, studyID uuid.UUID, limit int) ([]models.SubjectVisit, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []subjectVisitModel
	if err := r.db.WithContext(ctx).Where("study_id = ?", studyID).Order("visit_date").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	visits := make([]models.SubjectVisit, 0, len(rows))
	for _, row := range rows {
		visits = append(visits, buildSubjectVisit(row))
	}
	return visits, nil
}

func (r *Repository) AppendAuditLog(ctx context.Context, entry models.AuditLog) error {
	row := &auditLogModel{
		StudyID:   entry.StudyID,
		Actor:     entry.Actor,
		Role:      entry.Role,
		Action:    entry.Action,
		Entity:    entry.Entity,
		EntityID:  entry.EntityID,
		CreatedAt: time.Now().UTC(),
	}
	if entry.Payload != nil {
		if data, err := json.Marshal(entry.Payload); err == nil {
			row.Payload = datatypes.JSON(data)
		}
	}
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *Repository) ListAuditLogs(ctx context.Context, studyID uuid.UUID, limit int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []auditLogModel
	if err := r.db.WithContext(ctx).Where("study_id = ?", studyID).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	logs := make([]models.AuditLog, 0, len(rows))
	for _, row := range rows {
		entry := models.AuditLog{
			ID:        row.ID,
			StudyID:   row.StudyID,
			Actor:     row.Actor,
			Role:      row.Role,
			Action:    row.Action,
			Entity:    row.Entity,
			EntityID:  row.EntityID,
			CreatedAt: row.CreatedAt,
		}
		if len(row.Payload) > 0 {
			var payload map[string]interface{}
			_ = json.Unmarshal(row.Payload, &payload)
			entry.Payload = payload
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func buildKitType(row kitTypeModel) models.KitType {
	return models.KitType{
		ID:           row.ID,
		StudyID:      row.StudyID,
		Name:         row.Name,
		Active:       row.Active,
		BufferDays:   row.BufferDays,
		BufferCount:  row.BufferCount,
		DeliveryDays: row.DeliveryDays,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
}

func buildSubjectVisit(row subjectVisitModel) models.SubjectVisit {
	return models.SubjectVisit{
		ID:              row.ID,
		StudyID:         row.StudyID,
		VisitScheduleID: row.VisitScheduleID,
		SubjectNumber:   row.SubjectNumber,
		VisitDate:       row.VisitDate,
		Status:          row.Status,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}
