package postgres

import (
	"context"
	"database/sql"
	"time"

	"skycast/internal/domain"
	"skycast/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type ReadingRepository struct {
	db *sqlx.DB
}

func NewReadingRepository(db *sqlx.DB) *ReadingRepository {
	return &ReadingRepository{db: db}
}

const readingColumns = `
	id, device_id, user_id, temperature, humidity, pressure, rain_level,
	wind_speed, rain_status, recorded_at`

func (r *ReadingRepository) Create(ctx context.Context, reading *domain.Reading) error {
	query := `
		INSERT INTO readings (
			id, device_id, user_id, temperature, humidity, pressure, rain_level,
			wind_speed, rain_status, recorded_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`
	_, err := r.db.ExecContext(ctx, query,
		reading.ID, reading.DeviceID, reading.UserID,
		reading.Temperature, reading.Humidity, reading.Pressure,
		reading.RainLevel, reading.WindSpeed, reading.RainStatus,
		reading.RecordedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to store reading")
	}
	return nil
}

// FindLatest returns the most recent reading for a device.
func (r *ReadingRepository) FindLatest(ctx context.Context, deviceID uuid.UUID) (*domain.Reading, error) {
	var reading domain.Reading
	query := `SELECT` + readingColumns + `
		FROM readings
		WHERE device_id = $1
		ORDER BY recorded_at DESC
		LIMIT 1`

	err := r.db.GetContext(ctx, &reading, query, deviceID)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNoReadings
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find latest reading")
	}
	return &reading, nil
}

// FindSince returns readings for a device recorded at or after the cutoff,
// oldest first.
func (r *ReadingRepository) FindSince(ctx context.Context, deviceID uuid.UUID, since time.Time) ([]*domain.Reading, error) {
	var readings []*domain.Reading
	query := `SELECT` + readingColumns + `
		FROM readings
		WHERE device_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at ASC`

	err := r.db.SelectContext(ctx, &readings, query, deviceID, since)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch readings")
	}
	return readings, nil
}

// Stats aggregates readings for a device since the cutoff.
func (r *ReadingRepository) Stats(ctx context.Context, deviceID uuid.UUID, since time.Time) (*domain.ReadingStats, error) {
	var stats domain.ReadingStats
	query := `
		SELECT
			AVG(temperature) AS avg_temperature,
			MAX(temperature) AS max_temperature,
			MIN(temperature) AS min_temperature,
			AVG(humidity)    AS avg_humidity,
			AVG(pressure)    AS avg_pressure,
			AVG(wind_speed)  AS avg_wind_speed,
			MAX(wind_speed)  AS max_wind_speed,
			COUNT(*)         AS count
		FROM readings
		WHERE device_id = $1 AND recorded_at >= $2
	`
	err := r.db.GetContext(ctx, &stats, query, deviceID, since)
	if err != nil {
		return nil, errors.Wrap(err, "failed to aggregate readings")
	}
	return &stats, nil
}
