// Package domain defines the core entities shared across services.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role determines a user's authorization tier.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// DeviceStatus is the last known liveness of a station.
type DeviceStatus string

const (
	StatusOnline  DeviceStatus = "online"
	StatusOffline DeviceStatus = "offline"
)

// User is a dashboard account. PasswordHash is never serialized.
type User struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	PasswordHash string     `json:"-" db:"password_hash"`
	Name         string     `json:"name" db:"name"`
	Role         Role       `json:"role" db:"role"`
	DeviceID     *uuid.UUID `json:"device_id,omitempty" db:"device_id"`
	ShareData    bool       `json:"share_data" db:"share_data"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Device is one physical weather station. The MAC address is the natural
// key; the device token is the long-lived bearer credential the unit
// authenticates with. A device has an owner or an active pairing code,
// never both.
type Device struct {
	ID                uuid.UUID    `json:"id" db:"id"`
	UserID            *uuid.UUID   `json:"user_id,omitempty" db:"user_id"`
	Name              string       `json:"name" db:"name"`
	MACAddress        string       `json:"mac_address" db:"mac_address"`
	DeviceToken       string       `json:"-" db:"device_token"`
	PairingCode       *string      `json:"-" db:"pairing_code"`
	PairingCodeExpiry *time.Time   `json:"-" db:"pairing_code_expiry"`
	Lat               float64      `json:"lat" db:"lat"`
	Lng               float64      `json:"lng" db:"lng"`
	Address           string       `json:"address" db:"address"`
	Status            DeviceStatus `json:"status" db:"status"`
	LastSeen          time.Time    `json:"last_seen" db:"last_seen"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at" db:"updated_at"`
}

// Claimed reports whether the device currently has an owning user.
func (d *Device) Claimed() bool {
	return d.UserID != nil
}

// PairingCodeActive reports whether a pairing code exists and has not
// expired at the given instant. Expiry comparison is strict: a code read
// at the exact expiry instant is already dead.
func (d *Device) PairingCodeActive(now time.Time) bool {
	return d.PairingCode != nil && d.PairingCodeExpiry != nil && now.Before(*d.PairingCodeExpiry)
}

// Reading is one telemetry sample pushed by a station.
type Reading struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	DeviceID    uuid.UUID  `json:"device_id" db:"device_id"`
	UserID      *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	Temperature float64    `json:"temperature" db:"temperature"`
	Humidity    float64    `json:"humidity" db:"humidity"`
	Pressure    float64    `json:"pressure" db:"pressure"`
	RainLevel   float64    `json:"rain_level" db:"rain_level"`
	WindSpeed   float64    `json:"wind_speed" db:"wind_speed"`
	RainStatus  string     `json:"rain_status" db:"rain_status"`
	RecordedAt  time.Time  `json:"recorded_at" db:"recorded_at"`
}

// AlertType classifies threshold alerts.
type AlertType string

const (
	AlertHot  AlertType = "hot"
	AlertCold AlertType = "cold"
	AlertRain AlertType = "rain"
	AlertWind AlertType = "wind"
	AlertInfo AlertType = "info"
)

// Alert records a threshold breach detected on ingest.
type Alert struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	DeviceID  uuid.UUID  `json:"device_id" db:"device_id"`
	UserID    *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	Type      AlertType  `json:"type" db:"type"`
	Title     string     `json:"title" db:"title"`
	Message   string     `json:"message" db:"message"`
	EmailSent bool       `json:"email_sent" db:"email_sent"`
	Read      bool       `json:"read" db:"read"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// ReadingStats aggregates a window of readings for one device.
type ReadingStats struct {
	AvgTemperature *float64 `json:"avg_temperature" db:"avg_temperature"`
	MaxTemperature *float64 `json:"max_temperature" db:"max_temperature"`
	MinTemperature *float64 `json:"min_temperature" db:"min_temperature"`
	AvgHumidity    *float64 `json:"avg_humidity" db:"avg_humidity"`
	AvgPressure    *float64 `json:"avg_pressure" db:"avg_pressure"`
	AvgWindSpeed   *float64 `json:"avg_wind_speed" db:"avg_wind_speed"`
	MaxWindSpeed   *float64 `json:"max_wind_speed" db:"max_wind_speed"`
	Count          int      `json:"count" db:"count"`
}
