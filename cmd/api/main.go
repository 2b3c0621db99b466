package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medauth/internal/config"
	"medauth/internal/db"
	"medauth/internal/email"
	apihttp "medauth/internal/http"
	"medauth/internal/logging"
	"medauth/internal/metrics"
	"medauth/internal/repository"
	"medauth/internal/service"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Dev:    cfg.LogDev,
		File:   cfg.LogFile,
		MaxAge: cfg.LogMaxAge,
	})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := repository.EnsureSchema(ctx, pool); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	userRepo := repository.NewPgUserRepository(pool, cfg.StoreTimeout)
	codeRepo := repository.NewPgTwoFactorRepository(pool, cfg.StoreTimeout)

	emailSender := email.NewDisabledSender("email sender not configured")
	if cfg.SMTPHost != "" {
		sender, err := email.NewSMTPSender(email.SMTPConfig{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			Username:    cfg.SMTPUser,
			Password:    cfg.SMTPPass,
			From:        cfg.SMTPFrom,
			FromName:    cfg.SMTPFromName,
			ImplicitTLS: cfg.SMTPUseTLS,
		})
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
		} else {
			emailSender = sender
		}
	}

	checks := map[string]apihttp.HealthCheck{
		"postgres": func(ctx context.Context) error { return db.Ping(ctx, pool) },
	}
	tokenStore := service.NewMemoryRefreshTokenStore()
	limitStore := service.NewMemoryRateLimitStore()
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-process stores", zap.Error(err))
		} else {
			tokenStore = service.NewRedisRefreshTokenStore(redisClient)
			limitStore = service.NewRedisRateLimitStore(redisClient)
			checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		}
		cancel()
	}

	hasher, err := service.NewPasswordHasher(cfg.BcryptCost)
	if err != nil {
		logger.Fatal("password hasher", zap.Error(err))
	}
	jwtSvc := service.NewJWTService(service.JWTOptions{
		Secret:     cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		AccessTTL:  cfg.JWTAccessTTL,
		RefreshTTL: cfg.JWTRefreshTTL,
		Store:      tokenStore,
	})

	// Con Redis el cupo de intentos 2FA se comparte entre réplicas.
	authSvc := service.NewAuthService(service.AuthDeps{
		Logger:   logger.Named("auth"),
		Users:    userRepo,
		Codes:    codeRepo,
		Hasher:   hasher,
		CodeGen:  service.NewOneTimeCodeGenerator(cfg.TwoFactorCodeTTL),
		Tokens:   jwtSvc,
		Sender:   emailSender,
		Metrics:  m,
		Attempts: service.NewRateLimiter(limitStore, cfg.TwoFactorMaxAttempts, cfg.TwoFactorCodeTTL),
	})
	accountSvc := service.NewAccountService(logger.Named("accounts"), userRepo, hasher, jwtSvc)

	limiter := service.NewRateLimiter(limitStore, cfg.RateLimitMax, cfg.RateLimitWindow)
	guard := apihttp.NewGuard(logger.Named("gate"), jwtSvc, userRepo, limiter, m, cfg.StoreTimeout)
	throttle := apihttp.NewThrottle(cfg.LoginRatePerMinute, cfg.LoginBurst)

	router := apihttp.NewRouter(
		logger,
		m,
		guard,
		throttle,
		apihttp.NewAuthHandler(logger, authSvc, accountSvc),
		apihttp.NewUserHandler(logger, accountSvc),
		checks,
		cfg.TrustedProxies,
	)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
