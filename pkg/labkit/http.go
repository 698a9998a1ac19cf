package labkit

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
	r.HandleFunc("/studies/{id}/lab-kits/forecast", h.handleForecast).Methods(http.MethodGet)
	r.HandleFunc("/studies/{id}/lab-kits", h.handleListInventory).Methods(http.MethodGet)
	r.HandleFunc("/studies/{id}/lab-kits", h.handleCreateLabKit).Methods(http.MethodPost)
	r.HandleFunc("/lab-kits/{id}/status", h.handleUpdateKitStatus).Methods(http.MethodPatch)
	r.HandleFunc("/studies/{id}/lab-kit-orders", h.handleListOrders).Methods(http.MethodGet)
	r.HandleFunc("/studies/{id}/lab-kit-orders", h.handleCreateOrder).Methods(http.MethodPost)
	r.HandleFunc("/lab-kit-orders/{id}/status", h.handleUpdateOrderStatus).Methods(http.MethodPatch)
	r.HandleFunc("/studies/{id}/alerts/dismiss", h.handleDismissAlert).Methods(http.MethodPost)
}

func (h *Handler) handleForecast(w http.ResponseWriter, r *http.Request) {
	studyID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid study id", http.StatusBadRequest)
		return
	}

	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "days must be an integer", http.StatusBadRequest)
			return
		}
	}

	response, err := h.service.Forecast(r.Context(), studyID, resolveUser(r), days)
	if err != nil {
		if errors.Is(err, ErrStudyNotFound) {
			http.Error(w, "study not found", http.StatusNotFound)
			return
		}
		logger.WithStudy(studyID.String(), "forecast").WithError(err).Error("failed to compute forecast")
		http.Error(w, "failed to compute forecast", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) handleListInventory(w http.ResponseWriter, r *http.Request) {
	studyID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid study id", http.StatusBadRequest)
		return
	}
	kits, err := h.service.ListInventory(r.Context(), studyID)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list lab kits")
		http.Error(w, "failed to list lab kits", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": kits})
}

func (h *Handler) handleCreateLabKit(w http.ResponseWriter, r *http.Request) {
	studyID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid study id", http.StatusBadRequest)
		return
	}
	var req models.CreateLabKitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.AccessionCode == "" {
		http.Error(w, "accession_code is required", http.StatusBadRequest)
		return
	}
	if req.KitTypeID == nil && req.KitTypeName == "" {
		http.Error(w, "kit_type_id or kit_type_name is required", http.StatusBadRequest)
		return
	}
	kit, err := h.service.CreateLabKit(r.Context(), studyID, req)
	if err != nil {
		logger.Log.WithError(err).Error("failed to create lab kit")
		http.Error(w, "failed to create lab kit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"kit": kit})
}

func (h *Handler) handleUpdateKitStatus(w http.ResponseWriter, r *http.Request) {
	kitID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid kit id", http.StatusBadRequest)
		return
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Status == "" {
		http.Error(w, "status is required", http.StatusBadRequest)
		return
	}
	if err := h.service.UpdateLabKitStatus(r.Context(), kitID, payload.Status); err != nil {
		logger.Log.WithError(err).Error("failed to update kit status")
		http.Error(w, "failed to update kit status", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	studyID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid study id", http.StatusBadRequest)
		return
	}
	orders, err := h.service.ListKitOrders(r.Context(), studyID)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list kit orders")
		http.Error(w, "failed to list kit orders", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": orders})
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	studyID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid study id", http.StatusBadRequest)
		return
	}
	var req models.CreateKitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Quantity <= 0 {
		http.Error(w, "quantity must be positive", http.StatusBadRequest)
		return
	}
	if req.KitTypeID == nil && req.KitTypeName == "" {
		http.Error(w, "kit_type_id or kit_type_name is required", http.StatusBadRequest)
		return
	}
	order, err := h.service.CreateKitOrder(r.Context(), studyID, req)
	if err != nil {
		logger.Log.WithError(err).Error("failed to create kit order")
		http.Error(w, "failed to create kit order", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"order": order})
}

func (h *Handler) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
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
	case "pending", "received", "cancelled":
	default:
		http.Error(w, "status must be pending, received or cancelled", http.StatusBadRequest)
		return
	}
	if err := h.service.UpdateKitOrderStatus(r.Context(), orderID, payload.Status); err != nil {
		logger.Log.WithError(err).Error("failed to update order status")
		http.Error(w, "failed to update order status", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDismissAlert(w http.ResponseWriter, r *http.Request) {
	studyID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid study id", http.StatusBadRequest)
		return
	}
	var req models.DismissAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	dismissal, err := h.service.DismissAlert(r.Context(), studyID, resolveUser(r), req)
	if err != nil {
		if errors.Is(err, ErrInvalidAlertID) {
			http.Error(w, "alert_id is required", http.StatusBadRequest)
			return
		}
		logger.Log.WithError(err).Error("failed to dismiss alert")
		http.Error(w, "failed to dismiss alert", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"dismissal": dismissal})
}

func resolveUser(r *http.Request) string {
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
