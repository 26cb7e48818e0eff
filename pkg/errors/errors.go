// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Device errors
	ErrDeviceNotFound          = errors.New("device not found")
	ErrDeviceAlreadyRegistered = errors.New("device already registered")
	ErrDeviceAlreadyPaired     = errors.New("device already paired")
	ErrUserHasDevice           = errors.New("user already has a paired device")
	ErrNoDevicePaired          = errors.New("no device paired")
	ErrInvalidPairingCode      = errors.New("invalid or expired pairing code")

	// Telemetry errors
	ErrNoReadings    = errors.New("no readings found")
	ErrAlertNotFound = errors.New("alert not found")
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
