// Package device implements the pairing coordinator: pairing-code issuance
// for unclaimed stations, claim/release transitions, and explicit
// registration with immediate token reveal.
//
// Every transition is a single guarded UPDATE on the device row; the user's
// device back-reference is written second and treated as derived data. A
// device therefore never ends up with both an owner and a live pairing code.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"skycast/internal/domain"
	skyerrors "skycast/pkg/errors"
	"skycast/pkg/logger"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	defaultDeviceName  = "ESP32 Weather Station"
	unpairedDeviceName = "ESP32 Weather Station (Unpaired)"

	pairingWindow = 10 * time.Minute

	// Retries on the partial unique index over pairing_code. With 40-bit
	// codes a collision is already negligible; retrying keeps issuance
	// deterministic instead of documenting first-match semantics.
	pairingCodeAttempts = 3
)

// Service coordinates device lifecycle and pairing state.
type Service struct {
	repo   Repository
	users  UserRepository
	logger logger.Logger
	now    func() time.Time
}

// NewService constructs a device Service.
func NewService(repo Repository, users UserRepository, log logger.Logger) *Service {
	return &Service{
		repo:   repo,
		users:  users,
		logger: log,
		now:    time.Now,
	}
}

// RegisterRequest creates a device for a user who already knows the MAC.
type RegisterRequest struct {
	Name       string   `json:"device_name" validate:"required"`
	MACAddress string   `json:"mac_address" validate:"required,macaddr"`
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
	Address    string   `json:"address"`
}

// RegisterResponse reveals the device token exactly once, for flashing
// onto the unit.
type RegisterResponse struct {
	Device      *domain.Device `json:"device"`
	DeviceToken string         `json:"device_token"`
}

// PairingCodeRequest is sent by the station itself, pre-ownership.
type PairingCodeRequest struct {
	MACAddress string `json:"mac_address" validate:"required,macaddr"`
}

// PairingCodeResponse carries the code and its validity window. The device
// token is deliberately absent here.
type PairingCodeResponse struct {
	PairingCode string    `json:"pairing_code"`
	ExpiresAt   time.Time `json:"expires_at"`
	ExpiresIn   string    `json:"expires_in"`
}

// PairRequest binds a device to the requesting user.
type PairRequest struct {
	PairingCode string `json:"pairing_code" validate:"required,min=6,max=10"`
}

// UpdateRequest edits a device's name and location.
type UpdateRequest struct {
	Name    string   `json:"device_name" validate:"required"`
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	Address string   `json:"address"`
}

// Register creates an owned device up front and reveals its token. The MAC
// address is the idempotency key: a second registration for the same unit
// conflicts instead of minting a second token.
func (s *Service) Register(ctx context.Context, userID uuid.UUID, req *RegisterRequest) (*RegisterResponse, error) {
	if _, err := s.repo.FindByUserID(ctx, userID); err == nil {
		return nil, skyerrors.ErrUserHasDevice
	} else if !errors.Is(err, skyerrors.ErrDeviceNotFound) {
		return nil, err
	}

	if _, err := s.repo.FindByMAC(ctx, req.MACAddress); err == nil {
		return nil, skyerrors.ErrDeviceAlreadyRegistered
	} else if !errors.Is(err, skyerrors.ErrDeviceNotFound) {
		return nil, err
	}

	token, err := generateDeviceToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	dev := &domain.Device{
		ID:          uuid.New(),
		UserID:      &userID,
		Name:        strings.TrimSpace(req.Name),
		MACAddress:  normalizeMAC(req.MACAddress),
		DeviceToken: token,
		Address:     strings.TrimSpace(req.Address),
		Status:      domain.StatusOffline,
		LastSeen:    now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Lat != nil {
		dev.Lat = *req.Lat
	}
	if req.Lng != nil {
		dev.Lng = *req.Lng
	}

	if err := s.repo.Create(ctx, dev); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, skyerrors.ErrDeviceAlreadyRegistered
		}
		return nil, err
	}

	if err := s.users.SetDeviceID(ctx, userID, &dev.ID); err != nil {
		return nil, err
	}

	s.logger.Info("Device registered", map[string]interface{}{
		"device_id": dev.ID.String(),
		"mac":       dev.MACAddress,
	})

	return &RegisterResponse{Device: dev, DeviceToken: token}, nil
}

// RequestPairingCode is called by an unclaimed station. An unknown MAC
// creates the device record (token minted now, revealed never); a known
// unclaimed MAC gets a fresh code that invalidates any previous one; a
// claimed MAC is rejected.
func (s *Service) RequestPairingCode(ctx context.Context, req *PairingCodeRequest) (*PairingCodeResponse, error) {
	dev, err := s.repo.FindByMAC(ctx, req.MACAddress)
	if err != nil && !errors.Is(err, skyerrors.ErrDeviceNotFound) {
		return nil, err
	}

	if dev == nil {
		return s.createWithPairingCode(ctx, req.MACAddress)
	}

	if dev.Claimed() {
		return nil, skyerrors.ErrDeviceAlreadyPaired
	}

	var lastErr error
	for attempt := 0; attempt < pairingCodeAttempts; attempt++ {
		code, err := generatePairingCode()
		if err != nil {
			return nil, err
		}
		expiry := s.now().Add(pairingWindow)

		err = s.repo.SetPairingCode(ctx, dev.ID, code, expiry)
		if err == nil {
			return &PairingCodeResponse{
				PairingCode: code,
				ExpiresAt:   expiry,
				ExpiresIn:   "10 minutes",
			}, nil
		}
		if errors.Is(err, skyerrors.ErrDeviceAlreadyPaired) {
			// Claimed between the read and the write
			return nil, err
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to issue pairing code: %w", lastErr)
}

func (s *Service) createWithPairingCode(ctx context.Context, mac string) (*PairingCodeResponse, error) {
	token, err := generateDeviceToken()
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < pairingCodeAttempts; attempt++ {
		code, err := generatePairingCode()
		if err != nil {
			return nil, err
		}

		now := s.now()
		expiry := now.Add(pairingWindow)
		dev := &domain.Device{
			ID:                uuid.New(),
			Name:              defaultDeviceName,
			MACAddress:        normalizeMAC(mac),
			DeviceToken:       token,
			PairingCode:       &code,
			PairingCodeExpiry: &expiry,
			Status:            domain.StatusOffline,
			LastSeen:          now,
			CreatedAt:         now,
			UpdatedAt:         now,
		}

		err = s.repo.Create(ctx, dev)
		if err == nil {
			s.logger.Info("Unclaimed device created", map[string]interface{}{
				"device_id": dev.ID.String(),
				"mac":       dev.MACAddress,
			})
			return &PairingCodeResponse{
				PairingCode: code,
				ExpiresAt:   expiry,
				ExpiresIn:   "10 minutes",
			}, nil
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
		// Either a code collision (retry with a new code) or a concurrent
		// create on the same MAC (re-read and fall through to the update path)
		if existing, ferr := s.repo.FindByMAC(ctx, mac); ferr == nil && existing != nil {
			return s.RequestPairingCode(ctx, &PairingCodeRequest{MACAddress: mac})
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to issue pairing code: %w", lastErr)
}

// Pair binds the device holding the presented code to the user. The device
// write happens first under a user_id IS NULL guard; the user's
// back-reference is only set once that write sticks.
func (s *Service) Pair(ctx context.Context, userID uuid.UUID, userName string, req *PairRequest) (*domain.Device, error) {
	if _, err := s.repo.FindByUserID(ctx, userID); err == nil {
		return nil, skyerrors.ErrUserHasDevice
	} else if !errors.Is(err, skyerrors.ErrDeviceNotFound) {
		return nil, err
	}

	dev, err := s.repo.FindByActivePairingCode(ctx, req.PairingCode, s.now())
	if err != nil {
		if errors.Is(err, skyerrors.ErrDeviceNotFound) {
			return nil, skyerrors.ErrInvalidPairingCode
		}
		return nil, err
	}
	if dev.Claimed() {
		return nil, skyerrors.ErrDeviceAlreadyPaired
	}

	name := fmt.Sprintf("%s - %s", defaultDeviceName, userName)
	claimed, err := s.repo.Claim(ctx, dev.ID, userID, name)
	if err != nil {
		// Two pair attempts by the same user can both pass the precheck; the
		// loser trips the one-device-per-user index
		if isUniqueViolation(err) {
			return nil, skyerrors.ErrUserHasDevice
		}
		return nil, err
	}

	if err := s.users.SetDeviceID(ctx, userID, &claimed.ID); err != nil {
		// Ownership already lives on the device row; the pointer is repaired
		// by any read path that resolves devices by owner
		s.logger.Warn("Failed to set device back-reference", map[string]interface{}{
			"user_id":   userID.String(),
			"device_id": claimed.ID.String(),
			"error":     err.Error(),
		})
	}

	s.logger.Info("Device paired", map[string]interface{}{
		"device_id": claimed.ID.String(),
		"user_id":   userID.String(),
	})

	return claimed, nil
}

// Unpair releases the user's device. The row keeps its token and MAC so the
// unit can be claimed again with a fresh pairing code.
func (s *Service) Unpair(ctx context.Context, userID uuid.UUID) error {
	dev, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, skyerrors.ErrDeviceNotFound) {
			return skyerrors.ErrNoDevicePaired
		}
		return err
	}

	if err := s.repo.Release(ctx, dev.ID, unpairedDeviceName); err != nil {
		return err
	}

	if err := s.users.SetDeviceID(ctx, userID, nil); err != nil {
		return err
	}

	s.logger.Info("Device unpaired", map[string]interface{}{
		"device_id": dev.ID.String(),
		"user_id":   userID.String(),
	})
	return nil
}

// Mine returns the requesting user's device.
func (s *Service) Mine(ctx context.Context, userID uuid.UUID) (*domain.Device, error) {
	return s.repo.FindByUserID(ctx, userID)
}

// All returns every device, most recently seen first. Admin only; enforced
// at the route.
func (s *Service) All(ctx context.Context) ([]*domain.Device, error) {
	return s.repo.FindAll(ctx)
}

// Update edits the user's own device.
func (s *Service) Update(ctx context.Context, deviceID, userID uuid.UUID, req *UpdateRequest) (*domain.Device, error) {
	current, err := s.repo.FindByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	lat, lng, address := current.Lat, current.Lng, current.Address
	if req.Lat != nil {
		lat = *req.Lat
	}
	if req.Lng != nil {
		lng = *req.Lng
	}
	if strings.TrimSpace(req.Address) != "" {
		address = strings.TrimSpace(req.Address)
	}
	return s.repo.UpdateOwned(ctx, deviceID, userID, strings.TrimSpace(req.Name), lat, lng, address)
}

// Delete removes the user's own device and clears the back-reference.
func (s *Service) Delete(ctx context.Context, deviceID, userID uuid.UUID) error {
	if err := s.repo.DeleteOwned(ctx, deviceID, userID); err != nil {
		return err
	}
	return s.users.SetDeviceID(ctx, userID, nil)
}

func normalizeMAC(mac string) string {
	return strings.ToUpper(strings.TrimSpace(mac))
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Repository is the device store the coordinator depends on. The guarded
// mutations (SetPairingCode, Claim, Release) must be atomic single-row
// updates.
type Repository interface {
	Create(ctx context.Context, device *domain.Device) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Device, error)
	FindByMAC(ctx context.Context, macAddress string) (*domain.Device, error)
	FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Device, error)
	FindByActivePairingCode(ctx context.Context, code string, now time.Time) (*domain.Device, error)
	FindAll(ctx context.Context) ([]*domain.Device, error)
	SetPairingCode(ctx context.Context, id uuid.UUID, code string, expiry time.Time) error
	Claim(ctx context.Context, id, userID uuid.UUID, name string) (*domain.Device, error)
	Release(ctx context.Context, id uuid.UUID, name string) error
	UpdateOwned(ctx context.Context, id, userID uuid.UUID, name string, lat, lng float64, address string) (*domain.Device, error)
	DeleteOwned(ctx context.Context, id, userID uuid.UUID) error
}

// UserRepository maintains the device back-reference on user rows.
type UserRepository interface {
	SetDeviceID(ctx context.Context, id uuid.UUID, deviceID *uuid.UUID) error
}
