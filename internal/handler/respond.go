// Package handler provides HTTP handlers for the skycast API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	skyerrors "skycast/pkg/errors"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a request body into dst with unknown fields rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			respondError(w, http.StatusBadRequest, "Request body is required")
			return false
		}
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// statusMessage maps a domain error to an HTTP status and a stable
// client-facing message. Unknown errors stay internal.
func statusMessage(err error) (int, string, bool) {
	switch {
	case errors.Is(err, skyerrors.ErrUserAlreadyExists):
		return http.StatusConflict, "Email already registered", true
	case errors.Is(err, skyerrors.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid credentials", true
	case errors.Is(err, skyerrors.ErrUserNotFound):
		return http.StatusNotFound, "User not found", true
	case errors.Is(err, skyerrors.ErrDeviceAlreadyRegistered):
		return http.StatusConflict, "Device already registered", true
	case errors.Is(err, skyerrors.ErrDeviceAlreadyPaired):
		return http.StatusConflict, "Device already paired", true
	case errors.Is(err, skyerrors.ErrUserHasDevice):
		return http.StatusConflict, "User already has a paired device. Unpair first.", true
	case errors.Is(err, skyerrors.ErrInvalidPairingCode):
		return http.StatusNotFound, "Invalid or expired pairing code", true
	case errors.Is(err, skyerrors.ErrNoDevicePaired):
		return http.StatusNotFound, "No device paired", true
	case errors.Is(err, skyerrors.ErrDeviceNotFound):
		return http.StatusNotFound, "Device not found", true
	case errors.Is(err, skyerrors.ErrNoReadings):
		return http.StatusNotFound, "No data found", true
	case errors.Is(err, skyerrors.ErrAlertNotFound):
		return http.StatusNotFound, "Alert not found", true
	}
	return 0, "", false
}
