package handler

import (
	"net/http"

	"skycast/internal/auth"
	"skycast/internal/middleware"
	"skycast/pkg/logger"
	"skycast/pkg/validator"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	service   *auth.Service
	validator *validator.Validator
	logger    logger.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(service *auth.Service, val *validator.Validator, log logger.Logger) *AuthHandler {
	return &AuthHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

// Register handles user registration.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	response, err := h.service.Register(r.Context(), &req)
	if err != nil {
		if status, msg, ok := statusMessage(err); ok {
			respondError(w, status, msg)
			return
		}
		h.logger.Error("Registration failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	respondJSON(w, http.StatusCreated, response)
}

// Login authenticates a user and returns a session token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	response, err := h.service.Login(r.Context(), &req)
	if err != nil {
		// Every login failure looks the same to the caller
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	respondJSON(w, http.StatusOK, response)
}

// Me returns the current user and their device.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	response, err := h.service.Me(r.Context(), user.ID)
	if err != nil {
		if status, msg, ok := statusMessage(err); ok {
			respondError(w, status, msg)
			return
		}
		h.logger.Error("Profile lookup failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Profile lookup failed")
		return
	}

	respondJSON(w, http.StatusOK, response)
}

// UpdateSettings changes the display name and data-sharing flag.
func (h *AuthHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	var req auth.SettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.service.UpdateSettings(r.Context(), user.ID, &req)
	if err != nil {
		if status, msg, ok := statusMessage(err); ok {
			respondError(w, status, msg)
			return
		}
		h.logger.Error("Settings update failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Settings update failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Settings updated",
		"user":    updated,
	})
}
