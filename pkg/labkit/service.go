package labkit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/trialkit/platform/pkg/common/logger"
	"github.com/trialkit/platform/pkg/common/models"
)

var ErrInvalidAlertID = errors.New("alert id is required")

// EventPublisher is the slice of the kafka producer the service needs;
// publication is best effort and never fails a forecast.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

const eventSource = "labkit-service"

type Service struct {
	repo   *Repository
	events EventPublisher
	cfg    EngineConfig
	now    func() time.Time
}

func NewService(repo *Repository, events EventPublisher, cfg EngineConfig) *Service {
	return &Service{
		repo:   repo,
		events: events,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Forecast computes the full inventory forecast for one study on behalf of
// one user. Every upstream read must succeed; a partial forecast would
// silently understate demand or overstate supply.
func (s *Service) Forecast(ctx context.Context, studyID uuid.UUID, userID string, days int) (*models.ForecastResponse, error) {
	rawPolicy, err := s.repo.GetStudyPolicy(ctx, studyID)
	if err != nil {
		if errors.Is(err, ErrStudyNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load study settings: %w", err)
	}
	policy := ClampStudyPolicy(s.cfg.Limits, rawPolicy)

	now := s.now()
	_, effectiveDays := s.cfg.ResolveWindow(days, policy)
	today := utcDay(now)
	windowEnd := today.AddDate(0, 0, effectiveDays)

	// The remaining reads are independent of each other; issue them
	// concurrently against the snapshot.
	var (
		wg           sync.WaitGroup
		kitTypes     []models.KitType
		schedules    []models.VisitSchedule
		requirements []models.VisitRequirement
		visits       []models.SubjectVisit
		kits         []models.LabKit
		orders       []models.KitOrder
		dismissals   []models.AlertDismissal
	)
	reads := []struct {
		name string
		load func() error
	}{
		{"kit types", func() (err error) { kitTypes, err = s.repo.ListKitTypes(ctx, studyID); return }},
		{"visit schedules", func() (err error) { schedules, err = s.repo.ListVisitSchedules(ctx, studyID); return }},
		{"visit requirements", func() (err error) { requirements, err = s.repo.ListVisitRequirements(ctx, studyID); return }},
		{"scheduled visits", func() (err error) { visits, err = s.repo.ListScheduledVisits(ctx, studyID, today, windowEnd); return }},
		{"lab kits", func() (err error) { kits, err = s.repo.ListSupplyKits(ctx, studyID); return }},
		{"kit orders", func() (err error) { orders, err = s.repo.ListKitOrders(ctx, studyID); return }},
		{"alert dismissals", func() (err error) { dismissals, err = s.repo.ListActiveDismissals(ctx, studyID, userID); return }},
	}
	readErrs := make([]error, len(reads))
	for i, read := range reads {
		wg.Add(1)
		go func(i int, name string, load func() error) {
			defer wg.Done()
			if err := load(); err != nil {
				readErrs[i] = fmt.Errorf("load %s: %w", name, err)
			}
		}(i, read.name, read.load)
	}
	wg.Wait()
	for _, readErr := range readErrs {
		if readErr != nil {
			return nil, readErr
		}
	}

	forecast, summary, metrics := Compute(s.cfg, Input{
		Policy:       rawPolicy,
		KitTypes:     kitTypes,
		Schedules:    schedules,
		Requirements: requirements,
		Visits:       visits,
		Kits:         kits,
		Orders:       orders,
		DaysAhead:    days,
		Today:        now,
	})

	restored, active := EvaluateDismissals(s.cfg.Alerts, dismissals, metrics, now)
	s.restoreDismissals(ctx, studyID, restored)

	if metrics.SupplyDeficit.TotalDeficit > 0 {
		s.publish(ctx, "forecast.deficit.detected", map[string]interface{}{
			"study_id":               studyID.String(),
			"total_deficit":          metrics.SupplyDeficit.TotalDeficit,
			"kit_types_with_deficit": metrics.SupplyDeficit.KitTypesWithDeficit,
		})
	}

	response := &models.ForecastResponse{
		Forecast:           forecast,
		Summary:            summary,
		DismissedAlerts:    make([]string, 0, len(active)),
		DismissedMetadata:  make([]models.DismissedAlertInfo, 0, len(active)),
		AutoRestoredAlerts: make([]string, 0, len(restored)),
		AlertMetrics:       metrics,
	}
	for _, dismissal := range active {
		response.DismissedAlerts = append(response.DismissedAlerts, dismissal.AlertID)
		response.DismissedMetadata = append(response.DismissedMetadata, models.DismissedAlertInfo{
			AlertID:     dismissal.AlertID,
			SnoozeUntil: dismissal.SnoozeUntil,
		})
	}
	for _, decision := range restored {
		response.AutoRestoredAlerts = append(response.AutoRestoredAlerts, decision.Dismissal.AlertID)
	}
	return response, nil
}

// restoreDismissals stamps every qualifying row. Writes run concurrently and
// failures only get logged; the dismissal stays visible and the next forecast
// retries it.
func (s *Service) restoreDismissals(ctx context.Context, studyID uuid.UUID, restored []RestoreDecision) {
	if len(restored) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, decision := range restored {
		wg.Add(1)
		go func(decision RestoreDecision) {
			defer wg.Done()
			if err := s.repo.RestoreDismissal(ctx, decision.Dismissal.ID, decision.Rule); err != nil {
				logger.WithStudy(studyID.String(), "alert-restore").WithError(err).WithField(
					"alert_id", decision.Dismissal.AlertID,
				).Error("failed to restore dismissed alert")
				return
			}
			s.publish(ctx, "forecast.alert.restored", map[string]interface{}{
				"study_id": studyID.String(),
				"alert_id": decision.Dismissal.AlertID,
				"rule":     decision.Rule,
				"user_id":  decision.Dismissal.UserID,
			})
		}(decision)
	}
	wg.Wait()
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(ctx, eventType, eventSource, data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Warn("failed to publish forecast event")
	}
}

func (s *Service) DismissAlert(ctx context.Context, studyID uuid.UUID, userID string, req models.DismissAlertRequest) (models.AlertDismissal, error) {
	if req.AlertID == "" {
		return models.AlertDismissal{}, ErrInvalidAlertID
	}
	return s.repo.CreateDismissal(ctx, studyID, userID, req)
}

func (s *Service) CreateLabKit(ctx context.Context, studyID uuid.UUID, req models.CreateLabKitRequest) (models.LabKit, error) {
	return s.repo.CreateLabKit(ctx, studyID, req)
}

func (s *Service) UpdateLabKitStatus(ctx context.Context, kitID uuid.UUID, status string) error {
	return s.repo.UpdateLabKitStatus(ctx, kitID, status)
}

func (s *Service) ListInventory(ctx context.Context, studyID uuid.UUID) ([]models.LabKit, error) {
	return s.repo.ListSupplyKits(ctx, studyID)
}

func (s *Service) CreateKitOrder(ctx context.Context, studyID uuid.UUID, req models.CreateKitOrderRequest) (models.KitOrder, error) {
	return s.repo.CreateKitOrder(ctx, studyID, req)
}

func (s *Service) UpdateKitOrderStatus(ctx context.Context, orderID uuid.UUID, status string) error {
	return s.repo.UpdateKitOrderStatus(ctx, orderID, status)
}

func (s *Service) ListKitOrders(ctx context.Context, studyID uuid.UUID) ([]models.KitOrder, error) {
	return s.repo.ListKitOrders(ctx, studyID)
}
