package handler

import (
	"net/http"
	"strconv"

	"skycast/internal/domain"
	"skycast/internal/middleware"
	"skycast/internal/telemetry"
	"skycast/internal/ws"
	"skycast/pkg/logger"
	"skycast/pkg/validator"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// TelemetryHandler handles reading ingest, queries, alerts, and the live feed.
type TelemetryHandler struct {
	service   *telemetry.Service
	hub       *ws.Hub
	validator *validator.Validator
	logger    logger.Logger
}

// NewTelemetryHandler creates a new TelemetryHandler.
func NewTelemetryHandler(service *telemetry.Service, hub *ws.Hub, val *validator.Validator, log logger.Logger) *TelemetryHandler {
	return &TelemetryHandler{
		service:   service,
		hub:       hub,
		validator: val,
		logger:    log,
	}
}

// ReceiveData ingests one reading from an authenticated station.
func (h *TelemetryHandler) ReceiveData(w http.ResponseWriter, r *http.Request) {
	dev, ok := middleware.DeviceFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Invalid device token")
		return
	}

	var req telemetry.IngestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	response, err := h.service.Ingest(r.Context(), dev, &req)
	if err != nil {
		h.logger.Error("Reading ingest failed", map[string]interface{}{
			"device_id": dev.ID.String(),
			"error":     err.Error(),
		})
		respondError(w, http.StatusInternalServerError, "Failed to store reading")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":    response.Success,
		"message":    "Data received",
		"reading_id": response.ReadingID,
	})
}

// Realtime returns the latest reading for a device.
func (h *TelemetryHandler) Realtime(w http.ResponseWriter, r *http.Request) {
	user, deviceID, ok := h.callerAndDevice(w, r)
	if !ok {
		return
	}

	reading, err := h.service.Latest(r.Context(), user, deviceID)
	if err != nil {
		if status, msg, ok := statusMessage(err); ok {
			respondError(w, status, msg)
			return
		}
		h.logger.Error("Realtime query failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Query failed")
		return
	}
	respondJSON(w, http.StatusOK, reading)
}

// History returns readings over the past N hours (default 24).
func (h *TelemetryHandler) History(w http.ResponseWriter, r *http.Request) {
	user, deviceID, ok := h.callerAndDevice(w, r)
	if !ok {
		return
	}

	readings, err := h.service.History(r.Context(), user, deviceID, queryHours(r))
	if err != nil {
		if status, msg, ok := statusMessage(err); ok {
			respondError(w, status, msg)
			return
		}
		h.logger.Error("History query failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Query failed")
		return
	}
	respondJSON(w, http.StatusOK, readings)
}

// Stats returns aggregates over the past N hours (default 24).
func (h *TelemetryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	user, deviceID, ok := h.callerAndDevice(w, r)
	if !ok {
		return
	}

	stats, err := h.service.Stats(r.Context(), user, deviceID, queryHours(r))
	if err != nil {
		if status, msg, ok := statusMessage(err); ok {
			respondError(w, status, msg)
			return
		}
		h.logger.Error("Stats query failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Query failed")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// Alerts lists the caller's alerts.
func (h *TelemetryHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	alerts, err := h.service.Alerts(r.Context(), user.ID, limit, offset)
	if err != nil {
		h.logger.Error("Alert listing failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Alert listing failed")
		return
	}
	respondJSON(w, http.StatusOK, alerts)
}

// MarkAlertRead flips one alert to read.
func (h *TelemetryHandler) MarkAlertRead(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	alertID, err := uuid.Parse(mux.Vars(r)["alertId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid alert ID")
		return
	}

	if err := h.service.MarkAlertRead(r.Context(), alertID, user.ID); err != nil {
		if status, msg, ok := statusMessage(err); ok {
			respondError(w, status, msg)
			return
		}
		h.logger.Error("Alert update failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Alert update failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Alert marked as read"})
}

// ClearReadAlerts deletes the caller's read alerts.
func (h *TelemetryHandler) ClearReadAlerts(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	deleted, err := h.service.ClearReadAlerts(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("Alert cleanup failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Alert cleanup failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Read alerts cleared",
		"deleted": deleted,
	})
}

// LiveFeed upgrades to a websocket streaming the caller's readings.
func (h *TelemetryHandler) LiveFeed(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	h.hub.Serve(w, r, user.ID)
}

func (h *TelemetryHandler) callerAndDevice(w http.ResponseWriter, r *http.Request) (*domain.User, uuid.UUID, bool) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Invalid token")
		return nil, uuid.Nil, false
	}

	deviceID, err := uuid.Parse(mux.Vars(r)["deviceId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid device ID")
		return nil, uuid.Nil, false
	}
	return user, deviceID, true
}

func queryHours(r *http.Request) int {
	hours, err := strconv.Atoi(r.URL.Query().Get("hours"))
	if err != nil {
		return 24
	}
	return hours
}
