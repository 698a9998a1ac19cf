package study

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/trialkit/platform/pkg/common/logger"
	"github.com/trialkit/platform/pkg/common/models"
	"github.com/trialkit/platform/pkg/gateway/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/studies", h.handleCreateStudy).Methods(http.MethodPost)
	r.HandleFunc("/studies", h.handleListStudies).Methods(http.MethodGet)
	r.HandleFunc("/studies/{id}", h.handleGetStudy).Methods(http.MethodGet)
	r.HandleFunc("/studies/{id}/status", h.handleUpdateStudyStatus).Methods(http.MethodPatch)
	r.HandleFunc("/studies/{id}/settings", h.handleUpdateStudySettings).Methods(http.MethodPatch)
	r.HandleFunc("/studies/{id}/kit-types", h.handleCreateKitType).Methods(http.MethodPost)
	r.HandleFunc("/studies/{id}/kit-types/{kitTypeId}", h.handleUpdateKitType).Methods(http.MethodPatch)
	r.HandleFunc("/studies/{id}/visit-schedules", h.handleCreateVisitSchedule).Methods(http.MethodPost)
	r.HandleFunc("/studies/{id}/visit-requirements", h.handleCreateVisitRequirement).Methods(http.MethodPost)
	r.HandleFunc("/studies/{id}/visits", h.handleScheduleVisit).Methods(http.MethodPost)
	r.HandleFunc("/studies/{id}/visits", h.handleListVisits).Methods(http.MethodGet)
	r.HandleFunc("/studies/{id}/visits/{visitId}/status", h.handleUpdateVisitStatus).Methods(http.MethodPatch)
	r.HandleFunc("/studies/{id}/audit", h.handleListAuditLogs).Methods(http.MethodGet)
}

func (h *Handler) handleCreateStudy(w http.ResponseWriter, r *http.Request) {
	var req models.CreateStudyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Code == "" || req.Name == "" {
		http.Error(w, "code and name are required", http.StatusBadRequest)
		return
	}
	study, err := h.service.CreateStudy(r.Context(), req, resolveActor(r))
	if err != nil {
		logger.Log.WithError(err).Error("failed to create study")
		http.Error(w, "failed to create study", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"study": study})
}

func (h *Handler) handleListStudies(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)
	studies, err := h.service.ListStudies(r.Context(), limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list studies")
		http.Error(w, "failed to list studies", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": studies})
}

func (h *Handler) handleGetStudy(w http.ResponseWriter, r *http.Request) {
	studyID, ok := parseStudyID(w, r)
	if !ok {
		return
	}
	study, err := h.service.GetStudy(r.Context(), studyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "study not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to get study")
		http.Error(w, "failed to get study", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"study": study})
}

func (h *Handler) handleUpdateStudyStatus(w http.ResponseWriter, r *http.Request) {
	studyID, ok := parseStudyID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Status == "" {
		http.Error(w, "status is required", http.StatusBadRequest)
		return
	}
	if err := h.service.UpdateStudyStatus(r.Context(), studyID, payload.Status, resolveActor(r)); err != nil {
		logger.Log.WithError(err).Error("failed to update study status")
		http.Error(w, "failed to update status", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUpdateStudySettings(w http.ResponseWriter, r *http.Request) {
	studyID, ok := parseStudyID(w, r)
	if !ok {
		return
	}
	var req models.UpdateStudySettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := h.service.UpdateStudySettings(r.Context(), studyID, req, resolveActor(r)); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "study not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to update study settings")
		http.Error(w, "failed to update settings", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCreateKitType(w http.ResponseWriter, r *http.Request) {
	studyID, ok := parseStudyID(w, r)
	if !ok {
		return
	}
	var req models.CreateKitTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	kitType, err := h.service.CreateKitType(r.Context(), studyID, req, resolveActor(r))
	if err != nil {
		logger.Log.WithError(err).Error("failed to create kit type")
		http.Error(w, "failed to create kit type", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"kit_type": kitType})
}

func (h *Handler) handleUpdateKitType(w http.ResponseWriter, r *http.Request) {
	studyID, ok := parseStudyID(w, r)
	if !ok {
		return
	}
	kitTypeID, err := uuid.Parse(mux.Vars(r)["kitTypeId"])
	if err != nil {
		http.Error(w, "invalid kit type id", http.StatusBadRequest)
		return
	}
	var req models.UpdateKitTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	kitType, err := h.service.UpdateKitType(r.Context(), studyID, kitTypeID, req, resolveActor(r))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "kit type not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to update kit type")
		http.Error(w, "failed to update kit type", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"kit_type": kitType})
}

func (h *Handler) handleCreateVisitSchedule(w http.ResponseWriter, r *http.Request) {
	studyID, ok := parseStudyID(w, r)
	if !ok {
		return
	}
	var req models.CreateVisitScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	schedule, err := h.service.CreateVisitSchedule(r.Context(), studyID, req, resolveActor(r))
	if err != nil {
		logger.Log.WithError(err).Error("failed to create visit schedule")
		http.Error(w, "failed to create visit schedule", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"visit_schedule": schedule})
}

func (h *Handler) handleCreateVisitRequirement(w http.ResponseWriter, r *http.Request) {
	studyID, ok := parseStudyID(w, r)
	if !ok {
		return
	}
	var req models.CreateVisitRequirementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.VisitScheduleID == uuid.Nil {
		http.Error(w, "visit_schedule_id is required", http.StatusBadRequest)
		return
	}
	if req.KitTypeID == nil && req.KitTypeName == "" {
		http.Error(w, "kit_type_id or kit_type_name is required", http.StatusBadRequest)
		return
	}
	if req.QuantityPerVisit < 1 {
		http.Error(w, "quantity_per_visit must be at least 1", http.StatusBadRequest)
		return
	}
	requirement, err := h.service.CreateVisitRequirement(r.Context(), studyID, req, resolveActor(r))
	if err != nil {
		logger.Log.WithError(err).Error("failed to create visit requirement")
		http.Error(w, "failed to create visit requirement", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"visit_requirement": requirement})
}

func (h *Handler) handleScheduleVisit(w http.ResponseWriter, r *http.Request) {
	studyID, ok := parseStudyID(w, r)
	if !ok {
		return
	}
	var req models.ScheduleVisitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.VisitScheduleID == uuid.Nil || req.SubjectNumber == "" || req.VisitDate.IsZero() {
		http.Error(w, "visit_schedule_id, subject_number and visit_date are required", http.StatusBadRequest)
		return
	}
	visit, err := h.service.ScheduleVisit(r.Context(), studyID, req, resolveActor(r))
	if err != nil {
		logger.Log.WithError(err).Error("failed to schedule visit")
		http.Error(w, "failed to schedule visit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"visit": visit})
}

func (h *Handler) handleListVisits(w http.ResponseWriter, r *http.Request) {
	studyID, ok := parseStudyID(w, r)
	if !ok {
		return
	}
	visits, err := h.service.ListVisits(r.Context(), studyID, parseLimit(r, 100))
	if err != nil {
		logger.Log.WithError(err).Error("failed to list visits")
		http.Error(w, "failed to list visits", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": visits})
}

func (h *Handler) handleUpdateVisitStatus(w http.ResponseWriter, r *http.Request) {
	studyID, ok := parseStudyID(w, r)
	if !ok {
		return
	}
	visitID, err := uuid.Parse(mux.Vars(r)["visitId"])
	if err != nil {
		http.Error(w, "invalid visit id", http.StatusBadRequest)
		return
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Status == "" {
		http.Error(w, "status is required", http.StatusBadRequest)
		return
	}
	switch payload.Status {
	case "scheduled", "completed", "cancelled", "missed":
	default:
		http.Error(w, "invalid visit status", http.StatusBadRequest)
		return
	}
	if err := h.service.UpdateVisitStatus(r.Context(), studyID, visitID, payload.Status, resolveActor(r)); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "visit not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to update visit status")
		http.Error(w, "failed to update visit status", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	studyID, ok := parseStudyID(w, r)
	if !ok {
		return
	}
	logs, err := h.service.ListAuditLogs(r.Context(), studyID, parseLimit(r, 100))
	if err != nil {
		logger.Log.WithError(err).Error("failed to list audit logs")
		http.Error(w, "failed to list audit logs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": logs})
}

func parseStudyID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	studyID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid study id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return studyID, true
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return fallback
}

func resolveActor(r *http.Request) string {
	if r == nil {
		return "system"
	}
	if claims, ok := r.Context().Value(middleware.UserContextKey).(map[string]interface{}); ok {
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			return sub
		}
	}
	return "system"
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
