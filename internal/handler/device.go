package handler

import (
	"net/http"

	"skycast/internal/device"
	"skycast/internal/middleware"
	"skycast/pkg/logger"
	"skycast/pkg/validator"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// DeviceHandler handles device lifecycle and pairing endpoints.
type DeviceHandler struct {
	service   *device.Service
	validator *validator.Validator
	logger    logger.Logger
}

// NewDeviceHandler creates a new DeviceHandler.
func NewDeviceHandler(service *device.Service, val *validator.Validator, log logger.Logger) *DeviceHandler {
	return &DeviceHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

// GetAll lists every device. Admin route.
func (h *DeviceHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	devices, err := h.service.All(r.Context())
	if err != nil {
		h.logger.Error("Device listing failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Device listing failed")
		return
	}
	respondJSON(w, http.StatusOK, devices)
}

// GetMine returns the caller's device.
func (h *DeviceHandler) GetMine(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	dev, err := h.service.Mine(r.Context(), user.ID)
	if err != nil {
		if status, _, ok := statusMessage(err); ok {
			respondError(w, status, "No device registered")
			return
		}
		h.logger.Error("Device lookup failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Device lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, dev)
}

// Register creates a device for the caller and reveals its token once.
func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	var req device.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	response, err := h.service.Register(r.Context(), user.ID, &req)
	if err != nil {
		if status, msg, ok := statusMessage(err); ok {
			respondError(w, status, msg)
			return
		}
		h.logger.Error("Device registration failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Device registration failed")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"message":      "Device registered successfully",
		"device":       response.Device,
		"device_token": response.DeviceToken,
	})
}

// GeneratePairingCode issues a short-lived code for an unclaimed station.
// Called by the station itself; no auth.
func (h *DeviceHandler) GeneratePairingCode(w http.ResponseWriter, r *http.Request) {
	var req device.PairingCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, "MAC address required")
		return
	}

	response, err := h.service.RequestPairingCode(r.Context(), &req)
	if err != nil {
		if status, msg, ok := statusMessage(err); ok {
			respondError(w, status, msg)
			return
		}
		h.logger.Error("Pairing code generation failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Pairing code generation failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "Pairing code generated",
		"pairing_code": response.PairingCode,
		"expires_at":   response.ExpiresAt,
		"expires_in":   response.ExpiresIn,
	})
}

// Pair claims the device holding the presented code.
func (h *DeviceHandler) Pair(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	var req device.PairRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Pairing code required")
		return
	}

	dev, err := h.service.Pair(r.Context(), user.ID, user.Name, &req)
	if err != nil {
		if status, msg, ok := statusMessage(err); ok {
			respondError(w, status, msg)
			return
		}
		h.logger.Error("Pairing failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Pairing failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Device paired successfully",
		"device": map[string]interface{}{
			"id":          dev.ID,
			"device_name": dev.Name,
			"mac_address": dev.MACAddress,
			"status":      dev.Status,
		},
	})
}

// Unpair releases the caller's device.
func (h *DeviceHandler) Unpair(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	if err := h.service.Unpair(r.Context(), user.ID); err != nil {
		if status, msg, ok := statusMessage(err); ok {
			respondError(w, status, msg)
			return
		}
		h.logger.Error("Unpairing failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Unpairing failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "Device unpaired successfully"})
}

// Update edits the caller's own device.
func (h *DeviceHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	deviceID, err := uuid.Parse(mux.Vars(r)["deviceId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid device ID")
		return
	}

	var req device.UpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	dev, err := h.service.Update(r.Context(), deviceID, user.ID, &req)
	if err != nil {
		if status, msg, ok := statusMessage(err); ok {
			respondError(w, status, msg)
			return
		}
		h.logger.Error("Device update failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Device update failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Device updated",
		"device":  dev,
	})
}

// Delete removes the caller's own device.
func (h *DeviceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	deviceID, err := uuid.Parse(mux.Vars(r)["deviceId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid device ID")
		return
	}

	if err := h.service.Delete(r.Context(), deviceID, user.ID); err != nil {
		if status, msg, ok := statusMessage(err); ok {
			respondError(w, status, msg)
			return
		}
		h.logger.Error("Device deletion failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Device deletion failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "Device deleted successfully"})
}
