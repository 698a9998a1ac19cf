package study

import (
	"context"

	"github.com/google/uuid"
	"github.com/trialkit/platform/pkg/common/models"
)

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateStudy(ctx context.Context, req models.CreateStudyRequest, actor string) (models.Study, error) {
	study, err := s.repo.CreateStudy(ctx, req)
	if err != nil {
		return models.Study{}, err
	}
	_ = s.log(ctx, models.AuditLog{
		StudyID:  study.ID,
		Actor:    actor,
		Action:   "study_created",
		Entity:   "study",
		EntityID: study.ID.String(),
		Payload:  map[string]interface{}{"code": study.Code, "name": study.Name},
	})
	return study, nil
}

func (s *Service) GetStudy(ctx context.Context, studyID uuid.UUID) (models.Study, error) {
	return s.repo.GetStudy(ctx, studyID)
}

func (s *Service) ListStudies(ctx context.Context, limit int) ([]models.Study, error) {
	return s.repo.ListStudies(ctx, limit)
}

func (s *Service) UpdateStudyStatus(ctx context.Context, studyID uuid.UUID, status string, actor string) error {
	if err := s.repo.UpdateStudyStatus(ctx, studyID, status); err != nil {
		return err
	}
	return s.log(ctx, models.AuditLog{
		StudyID:  studyID,
		Actor:    actor,
		Action:   "study_status_updated",
		Entity:   "study",
		EntityID: studyID.String(),
		Payload:  map[string]interface{}{"status": status},
	})
}

func (s *Service) UpdateStudySettings(ctx context.Context, studyID uuid.UUID, req models.UpdateStudySettingsRequest, actor string) error {
	if err := s.repo.UpdateStudySettings(ctx, studyID, req); err != nil {
		return err
	}
	payload := map[string]interface{}{}
	if req.InventoryBufferDays != nil {
		payload["inventory_buffer_days"] = *req.InventoryBufferDays
	}
	if req.VisitWindowBufferDays != nil {
		payload["visit_window_buffer_days"] = *req.VisitWindowBufferDays
	}
	if req.DeliveryDaysDefault != nil {
		payload["delivery_days_default"] = *req.DeliveryDaysDefault
	}
	return s.log(ctx, models.AuditLog{
		StudyID:  studyID,
		Actor:    actor,
		Action:   "study_settings_updated",
		Entity:   "study",
		EntityID: studyID.String(),
		Payload:  payload,
	})
}

func (s *Service) CreateKitType(ctx context.Context, studyID uuid.UUID, req models.CreateKitTypeRequest, actor string) (models.KitType, error) {
	kitType, err := s.repo.CreateKitType(ctx, studyID, req)
	if err != nil {
		return models.KitType{}, err
	}
	_ = s.log(ctx, models.AuditLog{
		StudyID:  studyID,
		Actor:    actor,
		Action:   "kit_type_created",
		Entity:   "kit_type",
		EntityID: kitType.ID.String(),
		Payload:  map[string]interface{}{"name": kitType.Name},
	})
	return kitType, nil
}

func (s *Service) UpdateKitType(ctx context.Context, studyID, kitTypeID uuid.UUID, req models.UpdateKitTypeRequest, actor string) (models.KitType, error) {
	kitType, err := s.repo.UpdateKitType(ctx, kitTypeID, req)
	if err != nil {
		return models.KitType{}, err
	}
	_ = s.log(ctx, models.AuditLog{
		StudyID:  studyID,
		Actor:    actor,
		Action:   "kit_type_updated",
		Entity:   "kit_type",
		EntityID: kitTypeID.String(),
		Payload:  map[string]interface{}{"name": kitType.Name, "active": kitType.Active},
	})
	return kitType, nil
}

func (s *Service) CreateVisitSchedule(ctx context.Context, studyID uuid.UUID, req models.CreateVisitScheduleRequest, actor string) (models.VisitSchedule, error) {
	schedule, err := s.repo.CreateVisitSchedule(ctx, studyID, req)
	if err != nil {
		return models.VisitSchedule{}, err
	}
	_ = s.log(ctx, models.AuditLog{
		StudyID:  studyID,
		Actor:    actor,
		Action:   "visit_schedule_created",
		Entity:   "visit_schedule",
		EntityID: schedule.ID.String(),
		Payload:  map[string]interface{}{"name": schedule.Name, "display_number": schedule.DisplayNumber},
	})
	return schedule, nil
}

func (s *Service) CreateVisitRequirement(ctx context.Context, studyID uuid.UUID, req models.CreateVisitRequirementRequest, actor string) (models.VisitRequirement, error) {
	requirement, err := s.repo.CreateVisitRequirement(ctx, studyID, req)
	if err != nil {
		return models.VisitRequirement{}, err
	}
	_ = s.log(ctx, models.AuditLog{
		StudyID:  studyID,
		Actor:    actor,
		Action:   "visit_requirement_created",
		Entity:   "visit_requirement",
		EntityID: requirement.ID.String(),
		Payload: map[string]interface{}{
			"visit_schedule_id":  requirement.VisitScheduleID.String(),
			"quantity_per_visit": requirement.QuantityPerVisit,
			"is_optional":        requirement.IsOptional,
		},
	})
	return requirement, nil
}

func (s *Service) ScheduleVisit(ctx context.Context, studyID uuid.UUID, req models.ScheduleVisitRequest, actor string) (models.SubjectVisit, error) {
	visit, err := s.repo.ScheduleVisit(ctx, studyID, req)
	if err != nil {
		return models.SubjectVisit{}, err
	}
	_ = s.log(ctx, models.AuditLog{
		StudyID:  studyID,
		Actor:    actor,
		Action:   "visit_scheduled",
		Entity:   "subject_visit",
		EntityID: visit.ID.String(),
		Payload: map[string]interface{}{
			"subject_number": visit.SubjectNumber,
			"visit_date":     visit.VisitDate,
		},
	})
	return visit, nil
}

func (s *Service) UpdateVisitStatus(ctx context.Context, studyID, visitID uuid.UUID, status string, actor string) error {
	if err := s.repo.UpdateVisitStatus(ctx, visitID, status); err != nil {
		return err
	}
	return s.log(ctx, models.AuditLog{
		StudyID:  studyID,
		Actor:    actor,
		Action:   "visit_status_updated",
		Entity:   "subject_visit",
		EntityID: visitID.String(),
		Payload:  map[string]interface{}{"status": status},
	})
}

func (s *Service) ListVisits(ctx context.Context, studyID uuid.UUID, limit int) ([]models.SubjectVisit, error) {
	return s.repo.ListVisits(ctx, studyID, limit)
}

func (s *Service) ListAuditLogs(ctx context.Context, studyID uuid.UUID, limit int) ([]models.AuditLog, error) {
	return s.repo.ListAuditLogs(ctx, studyID, limit)
}

func (s *Service) log(ctx context.Context, entry models.AuditLog) error {
	return s.repo.AppendAuditLog(ctx, entry)
}
