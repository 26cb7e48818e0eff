// Seeding tool for local development: creates an admin account, a demo
// user, and a demo station already paired to the demo user.
//
// Env overrides:
//
//	SEED_ADMIN_EMAIL=admin@example.com SEED_ADMIN_PASSWORD=Admin12345
//	SEED_USER_EMAIL=alice@example.com SEED_USER_PASSWORD=Password123
//	SEED_DEVICE_MAC=AA:BB:CC:DD:EE:FF
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"skycast/internal/domain"
	"skycast/internal/repository/postgres"
	"skycast/pkg/config"
	skyerrors "skycast/pkg/errors"
	"skycast/pkg/logger"
)

func main() {
	log := logger.New("seed")

	cfg := config.Load()
	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	userRepo := postgres.NewUserRepository(db)
	deviceRepo := postgres.NewDeviceRepository(db)
	ctx := context.Background()

	ensureUser(ctx, userRepo, log,
		getenv("SEED_ADMIN_EMAIL", "admin@example.com"),
		getenv("SEED_ADMIN_PASSWORD", "Admin12345"),
		getenv("SEED_ADMIN_NAME", "Admin"),
		domain.RoleAdmin,
	)

	aliceID := ensureUser(ctx, userRepo, log,
		getenv("SEED_USER_EMAIL", "alice@example.com"),
		getenv("SEED_USER_PASSWORD", "Password123"),
		getenv("SEED_USER_NAME", "Alice"),
		domain.RoleUser,
	)

	ensureDevice(ctx, deviceRepo, userRepo, log,
		getenv("SEED_DEVICE_MAC", "AA:BB:CC:DD:EE:FF"), aliceID)

	fmt.Println("OK: users and device seeded")
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func ensureUser(ctx context.Context, repo *postgres.UserRepository, log logger.Logger,
	email, password, name string, role domain.Role) uuid.UUID {
	existing, err := repo.FindByEmail(ctx, email)
	if err == nil {
		log.Info("User exists", map[string]interface{}{"email": email})
		return existing.ID
	}
	if !errors.Is(err, skyerrors.ErrUserNotFound) {
		log.Fatal("FindByEmail failed", map[string]interface{}{"error": err.Error()})
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal("Failed to hash password", map[string]interface{}{"error": err.Error()})
	}

	user := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		Name:         name,
		Role:         role,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := repo.Create(ctx, user); err != nil {
		log.Fatal("Failed to create user", map[string]interface{}{"error": err.Error()})
	}
	log.Info("User created", map[string]interface{}{"email": email, "role": string(role)})
	return user.ID
}

func ensureDevice(ctx context.Context, repo *postgres.DeviceRepository, users *postgres.UserRepository,
	log logger.Logger, mac string, ownerID uuid.UUID) {
	if _, err := repo.FindByMAC(ctx, mac); err == nil {
		log.Info("Device exists", map[string]interface{}{"mac": mac})
		return
	} else if !errors.Is(err, skyerrors.ErrDeviceNotFound) {
		log.Fatal("FindByMAC failed", map[string]interface{}{"error": err.Error()})
	}

	token := make([]byte, 32)
	if _, err := rand.Read(token); err != nil {
		log.Fatal("Failed to generate device token", map[string]interface{}{"error": err.Error()})
	}

	now := time.Now()
	dev := &domain.Device{
		ID:          uuid.New(),
		UserID:      &ownerID,
		Name:        "ESP32 Weather Station - Alice",
		MACAddress:  mac,
		DeviceToken: fmt.Sprintf("%x", token),
		Status:      domain.StatusOffline,
		LastSeen:    now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.Create(ctx, dev); err != nil {
		log.Fatal("Failed to create device", map[string]interface{}{"error": err.Error()})
	}
	if err := users.SetDeviceID(ctx, ownerID, &dev.ID); err != nil {
		log.Fatal("Failed to set device reference", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Device created", map[string]interface{}{
		"mac":          mac,
		"device_token": dev.DeviceToken,
	})
}
