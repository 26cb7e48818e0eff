// Package telemetry ingests station readings, maintains device liveness,
// and raises threshold alerts.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"skycast/internal/domain"
	skyerrors "skycast/pkg/errors"
	"skycast/pkg/logger"

	"github.com/google/uuid"
)

// Alert thresholds, matched to the station firmware's expectations.
const (
	hotThresholdC   = 30.0
	coldThresholdC  = 20.0
	rainThresholdPc = 50.0
	windThresholdKm = 1.0
)

const defaultAlertLimit = 50

// Service handles the telemetry write path and read queries.
type Service struct {
	readings ReadingRepository
	alerts   AlertRepository
	devices  DeviceRepository
	users    UserRepository
	mailer   MailSender
	feed     Publisher
	fallback string
	logger   logger.Logger
	now      func() time.Time
}

// NewService constructs a telemetry Service. fallbackEmail receives alert
// mail for unclaimed devices; empty disables that.
func NewService(readings ReadingRepository, alerts AlertRepository, devices DeviceRepository,
	users UserRepository, mail MailSender, feed Publisher, fallbackEmail string, log logger.Logger) *Service {
	return &Service{
		readings: readings,
		alerts:   alerts,
		devices:  devices,
		users:    users,
		mailer:   mail,
		feed:     feed,
		fallback: fallbackEmail,
		logger:   log,
		now:      time.Now,
	}
}

// IngestRequest is one sample pushed by an authenticated station.
type IngestRequest struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity" validate:"gte=0,lte=100"`
	Pressure    float64 `json:"pressure" validate:"gte=0"`
	RainLevel   float64 `json:"rain_level" validate:"gte=0,lte=100"`
	WindSpeed   float64 `json:"wind_speed" validate:"gte=0"`
	RainStatus  string  `json:"rain_status"`
}

// IngestResponse acknowledges a stored reading.
type IngestResponse struct {
	Success   bool      `json:"success"`
	ReadingID uuid.UUID `json:"reading_id"`
}

// Ingest stores the reading, flips the device online, checks thresholds,
// and pushes the sample to live subscribers. Alert delivery is best effort;
// a failed email never fails the ingest.
func (s *Service) Ingest(ctx context.Context, dev *domain.Device, req *IngestRequest) (*IngestResponse, error) {
	status := req.RainStatus
	if status == "" {
		status = "Unknown"
	}

	reading := &domain.Reading{
		ID:          uuid.New(),
		DeviceID:    dev.ID,
		UserID:      dev.UserID,
		Temperature: req.Temperature,
		Humidity:    req.Humidity,
		Pressure:    req.Pressure,
		RainLevel:   req.RainLevel,
		WindSpeed:   req.WindSpeed,
		RainStatus:  status,
		RecordedAt:  s.now(),
	}

	if err := s.readings.Create(ctx, reading); err != nil {
		return nil, err
	}

	if err := s.devices.Touch(ctx, dev.ID, reading.RecordedAt); err != nil {
		s.logger.Warn("Failed to update device liveness", map[string]interface{}{
			"device_id": dev.ID.String(),
			"error":     err.Error(),
		})
	}

	s.checkAlerts(ctx, dev, reading)

	if s.feed != nil {
		s.feed.PublishReading(reading)
	}

	return &IngestResponse{Success: true, ReadingID: reading.ID}, nil
}

func (s *Service) checkAlerts(ctx context.Context, dev *domain.Device, reading *domain.Reading) {
	var alerts []*domain.Alert

	add := func(t domain.AlertType, title, message string) {
		alerts = append(alerts, &domain.Alert{
			ID:        uuid.New(),
			DeviceID:  dev.ID,
			UserID:    dev.UserID,
			Type:      t,
			Title:     title,
			Message:   message,
			CreatedAt: reading.RecordedAt,
		})
	}

	if reading.Temperature > hotThresholdC {
		add(domain.AlertHot, "High temperature",
			fmt.Sprintf("Temperature %.1f°C exceeds the %.0f°C threshold", reading.Temperature, hotThresholdC))
	}
	if reading.Temperature < coldThresholdC {
		add(domain.AlertCold, "Low temperature",
			fmt.Sprintf("Temperature %.1f°C is below the %.0f°C threshold", reading.Temperature, coldThresholdC))
	}
	if reading.RainLevel > rainThresholdPc {
		add(domain.AlertRain, "Rain detected",
			fmt.Sprintf("Rain level %.0f%% exceeds the %.0f%% threshold", reading.RainLevel, rainThresholdPc))
	}
	if reading.WindSpeed > windThresholdKm {
		add(domain.AlertWind, "Strong wind",
			fmt.Sprintf("Wind speed %.1f km/h exceeds the %.0f km/h threshold", reading.WindSpeed, windThresholdKm))
	}

	if len(alerts) == 0 {
		return
	}

	email := s.ownerEmail(ctx, dev)

	for _, alert := range alerts {
		if err := s.alerts.Create(ctx, alert); err != nil {
			s.logger.Error("Failed to store alert", map[string]interface{}{
				"device_id": dev.ID.String(),
				"type":      string(alert.Type),
				"error":     err.Error(),
			})
			continue
		}

		if email == "" || s.mailer == nil || !s.mailer.CanSend() {
			continue
		}
		body := alertMailBody(dev, alert, reading)
		if err := s.mailer.Send(email, fmt.Sprintf("[Weather Alert] %s", alert.Title), body); err != nil {
			s.logger.Warn("Failed to send alert email", map[string]interface{}{
				"device_id": dev.ID.String(),
				"error":     err.Error(),
			})
			continue
		}
		if err := s.alerts.MarkEmailSent(ctx, alert.ID); err != nil {
			s.logger.Warn("Failed to mark alert email sent", map[string]interface{}{
				"alert_id": alert.ID.String(),
				"error":    err.Error(),
			})
		}
	}
}

func (s *Service) ownerEmail(ctx context.Context, dev *domain.Device) string {
	if dev.UserID != nil {
		owner, err := s.users.FindByID(ctx, *dev.UserID)
		if err == nil {
			return owner.Email
		}
		s.logger.Warn("Failed to resolve device owner", map[string]interface{}{
			"device_id": dev.ID.String(),
			"error":     err.Error(),
		})
	}
	return s.fallback
}

func alertMailBody(dev *domain.Device, alert *domain.Alert, reading *domain.Reading) string {
	return fmt.Sprintf(
		"Device: %s\nTime: %s\nMessage: %s\n\nLatest readings:\n"+
			"- Temperature: %.1f C\n- Humidity: %.0f %%\n- Pressure: %.1f hPa\n"+
			"- Rain level: %.0f %% (%s)\n- Wind speed: %.1f km/h\n",
		dev.Name, alert.CreatedAt.UTC().Format(time.RFC3339), alert.Message,
		reading.Temperature, reading.Humidity, reading.Pressure,
		reading.RainLevel, reading.RainStatus, reading.WindSpeed,
	)
}

// Latest returns the most recent reading for a device the caller may see.
func (s *Service) Latest(ctx context.Context, caller *domain.User, deviceID uuid.UUID) (*domain.Reading, error) {
	if err := s.authorize(ctx, caller, deviceID); err != nil {
		return nil, err
	}
	return s.readings.FindLatest(ctx, deviceID)
}

// History returns readings over the past N hours, oldest first.
func (s *Service) History(ctx context.Context, caller *domain.User, deviceID uuid.UUID, hours int) ([]*domain.Reading, error) {
	if err := s.authorize(ctx, caller, deviceID); err != nil {
		return nil, err
	}
	if hours <= 0 {
		hours = 24
	}
	since := s.now().Add(-time.Duration(hours) * time.Hour)
	return s.readings.FindSince(ctx, deviceID, since)
}

// Stats aggregates readings over the past N hours.
func (s *Service) Stats(ctx context.Context, caller *domain.User, deviceID uuid.UUID, hours int) (*domain.ReadingStats, error) {
	if err := s.authorize(ctx, caller, deviceID); err != nil {
		return nil, err
	}
	if hours <= 0 {
		hours = 24
	}
	since := s.now().Add(-time.Duration(hours) * time.Hour)
	return s.readings.Stats(ctx, deviceID, since)
}

// Alerts lists the caller's alerts, newest first.
func (s *Service) Alerts(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Alert, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultAlertLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.alerts.FindByUserID(ctx, userID, limit, offset)
}

// ClearReadAlerts deletes the caller's read alerts and reports how many went.
func (s *Service) ClearReadAlerts(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.alerts.DeleteRead(ctx, userID)
}

// MarkAlertRead flips one of the caller's alerts to read.
func (s *Service) MarkAlertRead(ctx context.Context, alertID, userID uuid.UUID) error {
	return s.alerts.MarkRead(ctx, alertID, userID)
}

// authorize allows admins to read any device and users only their own.
func (s *Service) authorize(ctx context.Context, caller *domain.User, deviceID uuid.UUID) error {
	if caller.Role == domain.RoleAdmin {
		return nil
	}
	dev, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		return err
	}
	if dev.UserID == nil || *dev.UserID != caller.ID {
		return skyerrors.ErrDeviceNotFound
	}
	return nil
}

// ReadingRepository stores and queries readings.
type ReadingRepository interface {
	Create(ctx context.Context, reading *domain.Reading) error
	FindLatest(ctx context.Context, deviceID uuid.UUID) (*domain.Reading, error)
	FindSince(ctx context.Context, deviceID uuid.UUID, since time.Time) ([]*domain.Reading, error)
	Stats(ctx context.Context, deviceID uuid.UUID, since time.Time) (*domain.ReadingStats, error)
}

// AlertRepository stores and queries alerts.
type AlertRepository interface {
	Create(ctx context.Context, alert *domain.Alert) error
	FindByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Alert, error)
	MarkEmailSent(ctx context.Context, id uuid.UUID) error
	MarkRead(ctx context.Context, id, userID uuid.UUID) error
	DeleteRead(ctx context.Context, userID uuid.UUID) (int64, error)
}

// DeviceRepository is the slice of the device store telemetry needs.
type DeviceRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Device, error)
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
}

// UserRepository resolves owners for alert mail.
type UserRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// MailSender delivers alert mail.
type MailSender interface {
	CanSend() bool
	Send(to, subject, body string) error
}

// Publisher pushes accepted readings to live subscribers.
type Publisher interface {
	PublishReading(reading *domain.Reading)
}
