// Package auth implements account registration, login, and session token
// issuance.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"skycast/internal/domain"
	skyerrors "skycast/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

// Service provides user registration, login, and session token issuance.
type Service struct {
	repo      Repository
	devices   DeviceFinder
	jwtSecret string
	jwtExpiry time.Duration
}

// NewService constructs a Service with the given repository and JWT settings.
func NewService(repo Repository, devices DeviceFinder, jwtSecret string, jwtExpiry time.Duration) *Service {
	return &Service{
		repo:      repo,
		devices:   devices,
		jwtSecret: jwtSecret,
		jwtExpiry: jwtExpiry,
	}
}

// RegisterRequest captures the fields required to create a new account.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"required"`
}

// LoginRequest captures credentials for login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SettingsRequest captures the mutable profile fields.
type SettingsRequest struct {
	Name      string `json:"name" validate:"required"`
	ShareData bool   `json:"share_data"`
}

// TokenResponse is returned on successful register/login.
type TokenResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *domain.User `json:"user"`
}

// MeResponse is the current user with their device resolved, if any.
type MeResponse struct {
	User   *domain.User   `json:"user"`
	Device *domain.Device `json:"device,omitempty"`
}

// Register creates a new user with the "user" role and returns a session
// token. The role is fixed at creation; there is no escalation path.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*TokenResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	exists, err := s.repo.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, skyerrors.ErrUserAlreadyExists
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(passwordHash),
		Name:         strings.TrimSpace(req.Name),
		Role:         domain.RoleUser,
		ShareData:    false,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		// Unique constraint violation on email means a concurrent register won
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, skyerrors.ErrUserAlreadyExists
		}
		return nil, err
	}

	return s.issueToken(user)
}

// Login authenticates a user and returns a session token. Unknown email and
// wrong password fail identically.
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*TokenResponse, error) {
	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, skyerrors.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, skyerrors.ErrInvalidCredentials
	}

	return s.issueToken(user)
}

// Me returns the user along with their device, resolved from the device
// row rather than the back-reference so a dangling pointer never surfaces.
func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*MeResponse, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := &MeResponse{User: user}
	device, err := s.devices.FindByUserID(ctx, userID)
	if err == nil {
		resp.Device = device
	} else if !errors.Is(err, skyerrors.ErrDeviceNotFound) {
		return nil, err
	}
	return resp, nil
}

// UpdateSettings changes the display name and data-sharing flag.
func (s *Service) UpdateSettings(ctx context.Context, userID uuid.UUID, req *SettingsRequest) (*domain.User, error) {
	return s.repo.UpdateSettings(ctx, userID, strings.TrimSpace(req.Name), req.ShareData)
}

func (s *Service) issueToken(user *domain.User) (*TokenResponse, error) {
	if s.jwtSecret == "" {
		return nil, fmt.Errorf("session signing secret not configured")
	}

	expiresAt := time.Now().Add(s.jwtExpiry)

	claims := jwt.MapClaims{
		"user_id": user.ID.String(),
		"role":    string(user.Role),
		"exp":     expiresAt.Unix(),
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &TokenResponse{
		Token:     signed,
		ExpiresAt: expiresAt,
		User:      user,
	}, nil
}

// Repository is the user store the auth service depends on.
type Repository interface {
	Create(ctx context.Context, user *domain.User) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	UpdateSettings(ctx context.Context, id uuid.UUID, name string, shareData bool) (*domain.User, error)
}

// DeviceFinder resolves a user's device for profile responses.
type DeviceFinder interface {
	FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Device, error)
}
