package telemetry

import (
	"context"
	"testing"
	"time"

	"skycast/internal/domain"
	skyerrors "skycast/pkg/errors"
	"skycast/pkg/logger"
	"skycast/pkg/validator"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// --- Mocks ---

type MockReadingRepository struct {
	mock.Mock
}

func (m *MockReadingRepository) Create(ctx context.Context, reading *domain.Reading) error {
	args := m.Called(ctx, reading)
	return args.Error(0)
}

func (m *MockReadingRepository) FindLatest(ctx context.Context, deviceID uuid.UUID) (*domain.Reading, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reading), args.Error(1)
}

func (m *MockReadingRepository) FindSince(ctx context.Context, deviceID uuid.UUID, since time.Time) ([]*domain.Reading, error) {
	args := m.Called(ctx, deviceID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Reading), args.Error(1)
}

func (m *MockReadingRepository) Stats(ctx context.Context, deviceID uuid.UUID, since time.Time) (*domain.ReadingStats, error) {
	args := m.Called(ctx, deviceID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReadingStats), args.Error(1)
}

type MockAlertRepository struct {
	mock.Mock
}

func (m *MockAlertRepository) Create(ctx context.Context, alert *domain.Alert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

func (m *MockAlertRepository) FindByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Alert, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Alert), args.Error(1)
}

func (m *MockAlertRepository) MarkEmailSent(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockAlertRepository) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	args := m.Called(ctx, id, userID)
	return args.Error(0)
}

func (m *MockAlertRepository) DeleteRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

type MockDeviceRepository struct {
	mock.Mock
}

func (m *MockDeviceRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Device, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Device), args.Error(1)
}

func (m *MockDeviceRepository) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) CanSend() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockMailer) Send(to, subject, body string) error {
	args := m.Called(to, subject, body)
	return args.Error(0)
}

type capturingPublisher struct {
	published []*domain.Reading
}

func (p *capturingPublisher) PublishReading(reading *domain.Reading) {
	p.published = append(p.published, reading)
}

type fixture struct {
	readings *MockReadingRepository
	alerts   *MockAlertRepository
	devices  *MockDeviceRepository
	users    *MockUserRepository
	mailer   *MockMailer
	feed     *capturingPublisher
	svc      *Service
}

func newFixture() *fixture {
	f := &fixture{
		readings: new(MockReadingRepository),
		alerts:   new(MockAlertRepository),
		devices:  new(MockDeviceRepository),
		users:    new(MockUserRepository),
		mailer:   new(MockMailer),
		feed:     &capturingPublisher{},
	}
	f.svc = NewService(f.readings, f.alerts, f.devices, f.users, f.mailer, f.feed, "", logger.NewNop())
	return f
}

func ownedDevice(userID uuid.UUID) *domain.Device {
	return &domain.Device{ID: uuid.New(), UserID: &userID, Name: "ESP32 Weather Station - Alice"}
}

// --- Ingest ---

func TestIngestRequest_ZeroTemperatureIsValid(t *testing.T) {
	v := validator.New()

	// 0°C is a legitimate sample, not a missing field
	err := v.Validate(&IngestRequest{Temperature: 0, Humidity: 40, Pressure: 1013, WindSpeed: 0.5})
	assert.NoError(t, err)
}

func TestIngest_StoresReadingAndTouchesDevice(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	dev := ownedDevice(userID)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	f.readings.On("Create", mock.Anything, mock.AnythingOfType("*domain.Reading")).Return(nil)
	f.devices.On("Touch", mock.Anything, dev.ID, now).Return(nil)

	// 25°C between the thresholds, everything else calm: no alerts
	resp, err := f.svc.Ingest(context.Background(), dev, &IngestRequest{
		Temperature: 25, Humidity: 40, Pressure: 1013, RainLevel: 0, WindSpeed: 0.5,
	})
	assert.NoError(t, err)
	assert.True(t, resp.Success)

	f.devices.AssertCalled(t, "Touch", mock.Anything, dev.ID, now)
	f.alerts.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	assert.Len(t, f.feed.published, 1)
	assert.Equal(t, resp.ReadingID, f.feed.published[0].ID)
}

func TestIngest_DefaultsRainStatus(t *testing.T) {
	f := newFixture()
	dev := ownedDevice(uuid.New())

	var stored *domain.Reading
	f.readings.On("Create", mock.Anything, mock.AnythingOfType("*domain.Reading")).Run(func(args mock.Arguments) {
		stored = args.Get(1).(*domain.Reading)
	}).Return(nil)
	f.devices.On("Touch", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := f.svc.Ingest(context.Background(), dev, &IngestRequest{Temperature: 25})
	assert.NoError(t, err)
	assert.Equal(t, "Unknown", stored.RainStatus)
}

func TestIngest_TouchFailureDoesNotFailIngest(t *testing.T) {
	f := newFixture()
	dev := ownedDevice(uuid.New())

	f.readings.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.devices.On("Touch", mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError)

	resp, err := f.svc.Ingest(context.Background(), dev, &IngestRequest{Temperature: 25})
	assert.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestIngest_ThresholdAlerts(t *testing.T) {
	tests := []struct {
		name string
		req  IngestRequest
		want []domain.AlertType
	}{
		{"hot", IngestRequest{Temperature: 35}, []domain.AlertType{domain.AlertHot}},
		{"cold", IngestRequest{Temperature: 10}, []domain.AlertType{domain.AlertCold}},
		{"freezing point", IngestRequest{Temperature: 0}, []domain.AlertType{domain.AlertCold}},
		{"boundary temperature raises nothing", IngestRequest{Temperature: 30}, nil},
		{"rain", IngestRequest{Temperature: 25, RainLevel: 80}, []domain.AlertType{domain.AlertRain}},
		{"wind", IngestRequest{Temperature: 25, WindSpeed: 12}, []domain.AlertType{domain.AlertWind}},
		{"storm", IngestRequest{Temperature: 10, RainLevel: 90, WindSpeed: 20},
			[]domain.AlertType{domain.AlertCold, domain.AlertRain, domain.AlertWind}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			userID := uuid.New()
			dev := ownedDevice(userID)

			var got []domain.AlertType
			f.readings.On("Create", mock.Anything, mock.Anything).Return(nil)
			f.devices.On("Touch", mock.Anything, mock.Anything, mock.Anything).Return(nil)
			f.users.On("FindByID", mock.Anything, userID).Return(&domain.User{ID: userID, Email: "alice@example.com"}, nil)
			f.alerts.On("Create", mock.Anything, mock.AnythingOfType("*domain.Alert")).Run(func(args mock.Arguments) {
				got = append(got, args.Get(1).(*domain.Alert).Type)
			}).Return(nil)
			f.mailer.On("CanSend").Return(false)

			_, err := f.svc.Ingest(context.Background(), dev, &tt.req)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIngest_AlertEmailSentToOwner(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	dev := ownedDevice(userID)

	f.readings.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.devices.On("Touch", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.users.On("FindByID", mock.Anything, userID).Return(&domain.User{ID: userID, Email: "alice@example.com"}, nil)
	f.alerts.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.alerts.On("MarkEmailSent", mock.Anything, mock.Anything).Return(nil)
	f.mailer.On("CanSend").Return(true)
	f.mailer.On("Send", "alice@example.com", "[Weather Alert] High temperature", mock.Anything).Return(nil)

	_, err := f.svc.Ingest(context.Background(), dev, &IngestRequest{Temperature: 35})
	assert.NoError(t, err)
	f.mailer.AssertCalled(t, "Send", "alice@example.com", "[Weather Alert] High temperature", mock.Anything)
	f.alerts.AssertCalled(t, "MarkEmailSent", mock.Anything, mock.Anything)
}

func TestIngest_EmailFailureIsBestEffort(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	dev := ownedDevice(userID)

	f.readings.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.devices.On("Touch", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.users.On("FindByID", mock.Anything, userID).Return(&domain.User{ID: userID, Email: "alice@example.com"}, nil)
	f.alerts.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.mailer.On("CanSend").Return(true)
	f.mailer.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError)

	resp, err := f.svc.Ingest(context.Background(), dev, &IngestRequest{Temperature: 35})
	assert.NoError(t, err)
	assert.True(t, resp.Success)
	f.alerts.AssertNotCalled(t, "MarkEmailSent", mock.Anything, mock.Anything)
}

func TestIngest_UnclaimedDeviceSkipsEmail(t *testing.T) {
	f := newFixture()
	dev := &domain.Device{ID: uuid.New(), Name: "ESP32 Weather Station"}

	f.readings.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.devices.On("Touch", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.alerts.On("Create", mock.Anything, mock.Anything).Return(nil)

	// No fallback address configured: alerts are stored but no mail goes out
	_, err := f.svc.Ingest(context.Background(), dev, &IngestRequest{Temperature: 35})
	assert.NoError(t, err)
	f.alerts.AssertCalled(t, "Create", mock.Anything, mock.Anything)
	f.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

// --- Read queries ---

func TestLatest_OwnerAllowed(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	dev := ownedDevice(userID)

	f.devices.On("FindByID", mock.Anything, dev.ID).Return(dev, nil)
	f.readings.On("FindLatest", mock.Anything, dev.ID).Return(&domain.Reading{ID: uuid.New(), DeviceID: dev.ID}, nil)

	caller := &domain.User{ID: userID, Role: domain.RoleUser}
	reading, err := f.svc.Latest(context.Background(), caller, dev.ID)
	assert.NoError(t, err)
	assert.Equal(t, dev.ID, reading.DeviceID)
}

func TestLatest_StrangerDenied(t *testing.T) {
	f := newFixture()
	dev := ownedDevice(uuid.New())

	f.devices.On("FindByID", mock.Anything, dev.ID).Return(dev, nil)

	caller := &domain.User{ID: uuid.New(), Role: domain.RoleUser}
	_, err := f.svc.Latest(context.Background(), caller, dev.ID)
	assert.ErrorIs(t, err, skyerrors.ErrDeviceNotFound)
	f.readings.AssertNotCalled(t, "FindLatest", mock.Anything, mock.Anything)
}

func TestLatest_AdminAllowed(t *testing.T) {
	f := newFixture()
	devID := uuid.New()

	f.readings.On("FindLatest", mock.Anything, devID).Return(&domain.Reading{ID: uuid.New(), DeviceID: devID}, nil)

	caller := &domain.User{ID: uuid.New(), Role: domain.RoleAdmin}
	_, err := f.svc.Latest(context.Background(), caller, devID)
	assert.NoError(t, err)
	f.devices.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

func TestHistory_DefaultsToDay(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	dev := ownedDevice(userID)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	f.devices.On("FindByID", mock.Anything, dev.ID).Return(dev, nil)
	f.readings.On("FindSince", mock.Anything, dev.ID, now.Add(-24*time.Hour)).Return([]*domain.Reading{}, nil)

	caller := &domain.User{ID: userID, Role: domain.RoleUser}
	_, err := f.svc.History(context.Background(), caller, dev.ID, 0)
	assert.NoError(t, err)
	f.readings.AssertCalled(t, "FindSince", mock.Anything, dev.ID, now.Add(-24*time.Hour))
}

func TestAlerts_ClampsLimit(t *testing.T) {
	f := newFixture()
	userID := uuid.New()

	f.alerts.On("FindByUserID", mock.Anything, userID, defaultAlertLimit, 0).Return([]*domain.Alert{}, nil)

	_, err := f.svc.Alerts(context.Background(), userID, 1000, 0)
	assert.NoError(t, err)
	f.alerts.AssertCalled(t, "FindByUserID", mock.Anything, userID, defaultAlertLimit, 0)
}

func TestAlerts_ClampsNegativeOffset(t *testing.T) {
	f := newFixture()
	userID := uuid.New()

	f.alerts.On("FindByUserID", mock.Anything, userID, defaultAlertLimit, 0).Return([]*domain.Alert{}, nil)

	_, err := f.svc.Alerts(context.Background(), userID, 0, -5)
	assert.NoError(t, err)
	f.alerts.AssertCalled(t, "FindByUserID", mock.Anything, userID, defaultAlertLimit, 0)
}

func TestClearReadAlerts(t *testing.T) {
	f := newFixture()
	userID := uuid.New()

	f.alerts.On("DeleteRead", mock.Anything, userID).Return(int64(3), nil)

	deleted, err := f.svc.ClearReadAlerts(context.Background(), userID)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
}
