package auth

import (
	"context"
	"testing"
	"time"

	"skycast/internal/domain"
	skyerrors "skycast/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/bcrypt"
)

// --- Mocks ---

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) UpdateSettings(ctx context.Context, id uuid.UUID, name string, shareData bool) (*domain.User, error) {
	args := m.Called(ctx, id, name, shareData)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

type MockDeviceFinder struct {
	mock.Mock
}

func (m *MockDeviceFinder) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Device, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Device), args.Error(1)
}

const testSecret = "test-secret-key"

func newTestService(repo *MockRepository, devices *MockDeviceFinder) *Service {
	return NewService(repo, devices, testSecret, 7*24*time.Hour)
}

// --- Register ---

func TestRegister_Success(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo, new(MockDeviceFinder))

	var created *domain.User
	repo.On("ExistsByEmail", mock.Anything, "alice@example.com").Return(false, nil)
	repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.User")).Run(func(args mock.Arguments) {
		created = args.Get(1).(*domain.User)
	}).Return(nil)

	resp, err := svc.Register(context.Background(), &RegisterRequest{
		Email:    "  Alice@Example.com ",
		Password: "Password123",
		Name:     "Alice",
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, resp.Token)

	assert.Equal(t, "alice@example.com", created.Email)
	assert.Equal(t, domain.RoleUser, created.Role)
	assert.NotEqual(t, "Password123", created.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("Password123")))
}

func TestRegister_DuplicateEmail(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo, new(MockDeviceFinder))

	repo.On("ExistsByEmail", mock.Anything, mock.Anything).Return(true, nil)

	_, err := svc.Register(context.Background(), &RegisterRequest{
		Email:    "alice@example.com",
		Password: "Password123",
		Name:     "Alice",
	})
	assert.ErrorIs(t, err, skyerrors.ErrUserAlreadyExists)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

// --- Login ---

func TestLogin_Success(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo, new(MockDeviceFinder))

	hash, _ := bcrypt.GenerateFromPassword([]byte("Password123"), bcrypt.MinCost)
	user := &domain.User{
		ID:           uuid.New(),
		Email:        "alice@example.com",
		PasswordHash: string(hash),
		Role:         domain.RoleUser,
	}
	repo.On("FindByEmail", mock.Anything, "alice@example.com").Return(user, nil)

	resp, err := svc.Login(context.Background(), &LoginRequest{
		Email:    "alice@example.com",
		Password: "Password123",
	})
	assert.NoError(t, err)
	assert.Equal(t, user.ID, resp.User.ID)

	// The token parses with the signing secret and carries identity and role
	parsed, err := jwt.Parse(resp.Token, func(*jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	})
	assert.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, user.ID.String(), claims["user_id"])
	assert.Equal(t, "user", claims["role"])

	exp, _ := claims.GetExpirationTime()
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), exp.Time, time.Minute)
}

func TestLogin_WrongPassword(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo, new(MockDeviceFinder))

	hash, _ := bcrypt.GenerateFromPassword([]byte("Password123"), bcrypt.MinCost)
	repo.On("FindByEmail", mock.Anything, mock.Anything).Return(&domain.User{
		ID:           uuid.New(),
		PasswordHash: string(hash),
	}, nil)

	_, err := svc.Login(context.Background(), &LoginRequest{
		Email:    "alice@example.com",
		Password: "wrong-password",
	})
	assert.ErrorIs(t, err, skyerrors.ErrInvalidCredentials)
}

func TestLogin_UnknownEmail(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo, new(MockDeviceFinder))

	repo.On("FindByEmail", mock.Anything, mock.Anything).Return(nil, skyerrors.ErrUserNotFound)

	_, err := svc.Login(context.Background(), &LoginRequest{
		Email:    "nobody@example.com",
		Password: "Password123",
	})
	// Indistinguishable from a wrong password
	assert.ErrorIs(t, err, skyerrors.ErrInvalidCredentials)
}

func TestIssueToken_MissingSecret(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, new(MockDeviceFinder), "", 7*24*time.Hour)

	hash, _ := bcrypt.GenerateFromPassword([]byte("Password123"), bcrypt.MinCost)
	repo.On("FindByEmail", mock.Anything, mock.Anything).Return(&domain.User{
		ID:           uuid.New(),
		PasswordHash: string(hash),
	}, nil)

	_, err := svc.Login(context.Background(), &LoginRequest{
		Email:    "alice@example.com",
		Password: "Password123",
	})
	assert.Error(t, err)
}

// --- Me ---

func TestMe_WithDevice(t *testing.T) {
	repo := new(MockRepository)
	devices := new(MockDeviceFinder)
	svc := newTestService(repo, devices)

	userID := uuid.New()
	devID := uuid.New()
	repo.On("FindByID", mock.Anything, userID).Return(&domain.User{ID: userID}, nil)
	devices.On("FindByUserID", mock.Anything, userID).Return(&domain.Device{ID: devID, UserID: &userID}, nil)

	resp, err := svc.Me(context.Background(), userID)
	assert.NoError(t, err)
	assert.Equal(t, devID, resp.Device.ID)
}

func TestMe_NoDevice(t *testing.T) {
	repo := new(MockRepository)
	devices := new(MockDeviceFinder)
	svc := newTestService(repo, devices)

	userID := uuid.New()
	repo.On("FindByID", mock.Anything, userID).Return(&domain.User{ID: userID}, nil)
	devices.On("FindByUserID", mock.Anything, userID).Return(nil, skyerrors.ErrDeviceNotFound)

	resp, err := svc.Me(context.Background(), userID)
	assert.NoError(t, err)
	assert.Nil(t, resp.Device)
}
