package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"skycast/internal/auth"
	"skycast/internal/device"
	"skycast/internal/handler"
	"skycast/internal/middleware"
	"skycast/internal/repository/postgres"
	"skycast/internal/telemetry"
	"skycast/internal/ws"
	"skycast/pkg/config"
	"skycast/pkg/logger"
	"skycast/pkg/mailer"
	"skycast/pkg/validator"
)

func main() {
	cfg := config.Load()

	log := logger.New("skycast-api")

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	// Connect to database
	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
	}

	// Repositories
	userRepo := postgres.NewUserRepository(db)
	deviceRepo := postgres.NewDeviceRepository(db)
	readingRepo := postgres.NewReadingRepository(db)
	alertRepo := postgres.NewAlertRepository(db)

	// Services
	authService := auth.NewService(userRepo, deviceRepo, cfg.JWT.Secret, cfg.JWT.Expiration)
	deviceService := device.NewService(deviceRepo, userRepo, log)

	m := mailer.New(mailer.Config{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.SMTPFrom,
		UseTLS:   cfg.Email.SMTPUseTLS,
	})
	hub := ws.NewHub(log)
	telemetryService := telemetry.NewService(
		readingRepo, alertRepo, deviceRepo, userRepo, m, hub, cfg.Alerts.FallbackEmail, log)

	// Handlers
	val := validator.New()
	authHandler := handler.NewAuthHandler(authService, val, log)
	deviceHandler := handler.NewDeviceHandler(deviceService, val, log)
	telemetryHandler := handler.NewTelemetryHandler(telemetryService, hub, val, log)

	// Router
	r := mux.NewRouter()

	r.Use(middleware.CORS)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(log).Log)
	r.Use(middleware.NewRateLimiter(redisClient, "ratelimit", 120, time.Minute).Limit)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recovery)

	r.HandleFunc("/health", healthCheck).Methods("GET")

	// Public routes
	r.HandleFunc("/api/v1/auth/register", authHandler.Register).Methods("POST")
	r.HandleFunc("/api/v1/auth/login", authHandler.Login).Methods("POST")

	// Pairing codes: the only unauthenticated write, so it gets its own
	// much tighter limit
	pairingLimiter := middleware.NewRateLimiter(redisClient, "ratelimit:pairing", 10, time.Minute)
	r.Handle("/api/v1/devices/generate-pairing-code",
		pairingLimiter.Limit(http.HandlerFunc(deviceHandler.GeneratePairingCode))).Methods("POST")

	authMW := middleware.NewAuthMiddleware(cfg.JWT.Secret, userRepo, deviceRepo)

	// User routes
	user := r.PathPrefix("/api/v1").Subrouter()
	user.Use(authMW.AuthenticateUser)
	user.HandleFunc("/auth/me", authHandler.Me).Methods("GET")
	user.HandleFunc("/auth/settings", authHandler.UpdateSettings).Methods("PUT")
	user.HandleFunc("/devices/me", deviceHandler.GetMine).Methods("GET")
	user.HandleFunc("/devices", deviceHandler.Register).Methods("POST")
	user.HandleFunc("/devices/pair", deviceHandler.Pair).Methods("POST")
	user.HandleFunc("/devices/unpair", deviceHandler.Unpair).Methods("POST")
	user.HandleFunc("/devices/{deviceId}", deviceHandler.Update).Methods("PUT")
	user.HandleFunc("/devices/{deviceId}", deviceHandler.Delete).Methods("DELETE")
	user.HandleFunc("/weather/{deviceId}/realtime", telemetryHandler.Realtime).Methods("GET")
	user.HandleFunc("/weather/{deviceId}/history", telemetryHandler.History).Methods("GET")
	user.HandleFunc("/weather/{deviceId}/stats", telemetryHandler.Stats).Methods("GET")
	user.HandleFunc("/alerts", telemetryHandler.Alerts).Methods("GET")
	user.HandleFunc("/alerts/read", telemetryHandler.ClearReadAlerts).Methods("DELETE")
	user.HandleFunc("/alerts/{alertId}/read", telemetryHandler.MarkAlertRead).Methods("POST")
	user.HandleFunc("/ws", telemetryHandler.LiveFeed).Methods("GET")

	// Admin routes
	admin := r.PathPrefix("/api/v1").Subrouter()
	admin.Use(authMW.AuthenticateAdmin)
	admin.HandleFunc("/devices/all", deviceHandler.GetAll).Methods("GET")

	// Device routes (stations authenticate with their device token)
	station := r.PathPrefix("/api/v1").Subrouter()
	station.Use(authMW.AuthenticateDevice)
	station.HandleFunc("/weather/data", telemetryHandler.ReceiveData).Methods("POST")

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		log.Info("Skycast API starting", map[string]interface{}{"port": cfg.Server.Port})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Server stopped", nil)
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	_ = r
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"skycast"}`))
}
