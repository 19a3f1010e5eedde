package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/contactbook-hq/contactbook-backend/internal/cache"
	"github.com/contactbook-hq/contactbook-backend/internal/config"
	"github.com/contactbook-hq/contactbook-backend/internal/db"
	"github.com/contactbook-hq/contactbook-backend/internal/handlers"
	"github.com/contactbook-hq/contactbook-backend/internal/logger"
	"github.com/contactbook-hq/contactbook-backend/internal/middleware"
	"github.com/contactbook-hq/contactbook-backend/internal/repos"
	"github.com/contactbook-hq/contactbook-backend/internal/server"
	"github.com/contactbook-hq/contactbook-backend/internal/services"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Config
	log.Info("Loading configuration from main...")
	cfg, err := config.Load(log)
	if err != nil {
		log.Fatal("Failed to load configuration", "error", err)
	}

	// Postgres
	postgresService, err := db.NewPostgresService(cfg.Postgres, log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Redis (optional: the contact cache degrades to a no-op without it)
	redisClient, err := db.NewRedisClient(cfg.Redis, log)
	if err != nil {
		log.Warn("Redis init failed, running without contact cache", "error", err)
	}

	// Repos
	log.Info("Setting up repos from main...")
	userRepo := repos.NewUserRepo(thePG, log)
	userTokenRepo := repos.NewUserTokenRepo(thePG, log)
	contactRepo := repos.NewContactRepo(thePG, log)

	// Services
	log.Info("Setting up services from main...")
	contactCache := cache.NewContactCache(redisClient, time.Duration(cfg.Cache.TTLSeconds)*time.Second, log)
	mailer := services.NewMailer(cfg.Mail, log)
	authService := services.NewAuthService(
		thePG,
		log,
		userRepo,
		userTokenRepo,
		mailer,
		cfg.Auth.JWTSecretKey,
		cfg.Mail.AppBaseURL,
		time.Duration(cfg.Auth.AccessTTLSeconds)*time.Second,
		time.Duration(cfg.Auth.RefreshTTLSeconds)*time.Second,
	)
	contactService := services.NewContactService(thePG, log, contactRepo, contactCache)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	digestService := services.NewBirthdayDigestService(
		thePG,
		log,
		userRepo,
		contactRepo,
		mailer,
		time.Duration(cfg.Digest.IntervalHours)*time.Hour,
		cfg.Digest.WindowDays,
	)
	digestService.StartWorker(rootCtx)

	// Handlers
	log.Info("Setting up handlers from main...")
	authHandler := handlers.NewAuthHandler(authService)
	userHandler := handlers.NewUserHandler(authService)
	contactHandler := handlers.NewContactHandler(contactService)

	// Middleware
	log.Info("Setting up middleware from main...")
	authMiddleware := middleware.NewAuthMiddleware(log, authService)
	rateLimit := middleware.NewRateLimitMiddleware(log, cfg.RateLimit.PerMinute, cfg.RateLimit.Burst)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		AuthHandler:    authHandler,
		UserHandler:    userHandler,
		ContactHandler: contactHandler,
		AuthMiddleware: authMiddleware,
		RateLimit:      rateLimit,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.Info("Server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Graceful shutdown failed", "error", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
}
