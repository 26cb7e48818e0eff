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

type DeviceRepository struct {
	db *sqlx.DB
}

func NewDeviceRepository(db *sqlx.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

const deviceColumns = `
	id, user_id, name, mac_address, device_token, pairing_code, pairing_code_expiry,
	lat, lng, address, status, last_seen, created_at, updated_at`

func (r *DeviceRepository) Create(ctx context.Context, device *domain.Device) error {
	query := `
		INSERT INTO devices (
			id, user_id, name, mac_address, device_token, pairing_code, pairing_code_expiry,
			lat, lng, address, status, last_seen, created_at, updated_at
		) VALUES (
			$1, $2, $3, UPPER($4), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`
	_, err := r.db.ExecContext(ctx, query,
		device.ID, device.UserID, device.Name, device.MACAddress, device.DeviceToken,
		device.PairingCode, device.PairingCodeExpiry,
		device.Lat, device.Lng, device.Address, device.Status, device.LastSeen,
		device.CreatedAt, device.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create device")
	}
	return nil
}

func (r *DeviceRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Device, error) {
	return r.findOne(ctx, `SELECT`+deviceColumns+` FROM devices WHERE id = $1`, id)
}

func (r *DeviceRepository) FindByMAC(ctx context.Context, macAddress string) (*domain.Device, error) {
	return r.findOne(ctx, `SELECT`+deviceColumns+` FROM devices WHERE mac_address = UPPER($1)`, macAddress)
}

func (r *DeviceRepository) FindByToken(ctx context.Context, token string) (*domain.Device, error) {
	return r.findOne(ctx, `SELECT`+deviceColumns+` FROM devices WHERE device_token = $1`, token)
}

func (r *DeviceRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Device, error) {
	return r.findOne(ctx, `SELECT`+deviceColumns+` FROM devices WHERE user_id = $1`, userID)
}

// FindByActivePairingCode matches a code case-insensitively against rows
// whose expiry is strictly in the future.
func (r *DeviceRepository) FindByActivePairingCode(ctx context.Context, code string, now time.Time) (*domain.Device, error) {
	query := `SELECT` + deviceColumns + `
		FROM devices
		WHERE pairing_code = UPPER($1) AND pairing_code_expiry > $2`
	return r.findOne(ctx, query, code, now)
}

func (r *DeviceRepository) findOne(ctx context.Context, query string, args ...interface{}) (*domain.Device, error) {
	var device domain.Device
	err := r.db.GetContext(ctx, &device, query, args...)
	if err == sql.ErrNoRows {
		return nil, errors.ErrDeviceNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find device")
	}
	return &device, nil
}

func (r *DeviceRepository) FindAll(ctx context.Context) ([]*domain.Device, error) {
	var devices []*domain.Device
	query := `SELECT` + deviceColumns + ` FROM devices ORDER BY last_seen DESC`

	err := r.db.SelectContext(ctx, &devices, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list devices")
	}
	return devices, nil
}

// SetPairingCode overwrites the pairing code on an unclaimed device. The
// user_id guard makes the overwrite a compare-and-set: a device claimed by
// a concurrent pair attempt is left untouched and the caller sees
// ErrDeviceAlreadyPaired.
func (r *DeviceRepository) SetPairingCode(ctx context.Context, id uuid.UUID, code string, expiry time.Time) error {
	query := `
		UPDATE devices SET
			pairing_code = UPPER($1),
			pairing_code_expiry = $2,
			updated_at = NOW()
		WHERE id = $3 AND user_id IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, code, expiry, id)
	if err != nil {
		return errors.Wrap(err, "failed to set pairing code")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ErrDeviceAlreadyPaired
	}
	return nil
}

// Claim binds the device to a user and clears the pairing code in one
// statement, guarded on the device still being unowned. Losing the race to
// another pair attempt surfaces as ErrDeviceAlreadyPaired.
func (r *DeviceRepository) Claim(ctx context.Context, id, userID uuid.UUID, name string) (*domain.Device, error) {
	var device domain.Device
	query := `
		UPDATE devices SET
			user_id = $1,
			name = $2,
			pairing_code = NULL,
			pairing_code_expiry = NULL,
			updated_at = NOW()
		WHERE id = $3 AND user_id IS NULL
		RETURNING` + deviceColumns

	err := r.db.GetContext(ctx, &device, query, userID, name, id)
	if err == sql.ErrNoRows {
		return nil, errors.ErrDeviceAlreadyPaired
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to claim device")
	}
	return &device, nil
}

// Release clears ownership but keeps the row: token and MAC survive so the
// physical unit can be paired again later.
func (r *DeviceRepository) Release(ctx context.Context, id uuid.UUID, name string) error {
	query := `
		UPDATE devices SET
			user_id = NULL,
			name = $1,
			updated_at = NOW()
		WHERE id = $2
	`
	res, err := r.db.ExecContext(ctx, query, name, id)
	if err != nil {
		return errors.Wrap(err, "failed to release device")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ErrDeviceNotFound
	}
	return nil
}

// UpdateOwned edits name and location, scoped to the owning user.
func (r *DeviceRepository) UpdateOwned(ctx context.Context, id, userID uuid.UUID, name string, lat, lng float64, address string) (*domain.Device, error) {
	var device domain.Device
	query := `
		UPDATE devices SET
			name = $1,
			lat = $2,
			lng = $3,
			address = $4,
			updated_at = NOW()
		WHERE id = $5 AND user_id = $6
		RETURNING` + deviceColumns

	err := r.db.GetContext(ctx, &device, query, name, lat, lng, address, id, userID)
	if err == sql.ErrNoRows {
		return nil, errors.ErrDeviceNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to update device")
	}
	return &device, nil
}

// DeleteOwned removes a device, scoped to the owning user.
func (r *DeviceRepository) DeleteOwned(ctx context.Context, id, userID uuid.UUID) error {
	query := `DELETE FROM devices WHERE id = $1 AND user_id = $2`
	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return errors.Wrap(err, "failed to delete device")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ErrDeviceNotFound
	}
	return nil
}

// Touch marks the device online and bumps last_seen.
func (r *DeviceRepository) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE devices SET
			status = 'online',
			last_seen = $1,
			updated_at = NOW()
		WHERE id = $2
	`
	_, err := r.db.ExecContext(ctx, query, at, id)
	return errors.Wrap(err, "failed to update device liveness")
}
