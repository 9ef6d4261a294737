package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cmsauto/autologin-server-go/internal/captcha"
	"github.com/cmsauto/autologin-server-go/internal/cmsapi"
	"github.com/cmsauto/autologin-server-go/internal/config"
	"github.com/cmsauto/autologin-server-go/internal/database"
	"github.com/cmsauto/autologin-server-go/internal/handler"
	"github.com/cmsauto/autologin-server-go/internal/jobs"
	"github.com/cmsauto/autologin-server-go/internal/middleware"
	"github.com/cmsauto/autologin-server-go/internal/notify"
	"github.com/cmsauto/autologin-server-go/internal/redis"
	"github.com/cmsauto/autologin-server-go/internal/repository"
	"github.com/cmsauto/autologin-server-go/internal/service"
	"github.com/cmsauto/autologin-server-go/internal/util"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

	loc := cfg.Location()
	digestHour, digestMinute, _ := cfg.DigestClock()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	if err := db.RunMigrations(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	var (
		runLocker  jobs.RunLocker
		runLimiter middleware.Limiter = middleware.NewMemoryRateLimiter()
	)
	if cfg.RedisURL != "" {
		redisClient, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")

		runLocker = redis.NewRunLock(redisClient.Client, config.RunLockTTL)
		runLimiter = service.NewRateLimiter(redisClient.Client)
	} else {
		log.Info().Msg("REDIS_URL not set: run locks and rate limits are per process")
	}

	box, err := util.NewSecretBox(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize secret encryption")
	}
	if box == nil {
		log.Warn().Msg("ENCRYPTION_KEY is empty: account secrets are stored in plain text")
	}

	accountRepo := repository.NewAccountRepository(db.DB, box)
	scheduleRepo := repository.NewScheduleRepository(db.DB)
	attemptLogRepo := repository.NewAttemptLogRepository(db.DB)
	emailConfigRepo := repository.NewEmailConfigRepository(db.DB)

	cmsClient := cmsapi.NewClient(cmsapi.Options{
		BaseURL:       cfg.CMSBaseURL,
		Referer:       cfg.CMSReferer,
		FirstStageKey: cfg.FirstStageKey,
		Timeout:       cfg.HTTPTimeout(),
	})
	resolver := captcha.NewResolver(captcha.NewHTTPRecognizer(cfg.OCRURL, cfg.HTTPTimeout()))
	attempts := service.NewAttemptController(cmsClient, resolver, attemptLogRepo, service.AttemptOptions{
		MaxAttempts:    config.MaxLoginAttempts,
		CaptchaMarker:  cfg.CaptchaErrorMarker,
		DualSuccessLog: cfg.LegacyDualSuccessLog,
	})

	smtpSettings := service.NewEmailSettingsSource(emailConfigRepo, notify.Settings{
		Host:            cfg.SMTPHost,
		Port:            cfg.SMTPPort,
		Username:        cfg.SMTPUsername,
		Password:        cfg.SMTPPassword,
		Sender:          cfg.SMTPSender,
		DefaultReceiver: cfg.DefaultReceiverEmail,
	})
	notificationService := service.NewNotificationService(
		accountRepo, attemptLogRepo, smtpSettings,
		notify.NewSMTPNotifier(smtpSettings, cfg.HTTPTimeout()), loc,
	)
	loginService := service.NewLoginService(accountRepo, attempts, notificationService)

	orchestrator := jobs.NewOrchestrator(accountRepo, scheduleRepo, loginService, notificationService, jobs.Options{
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		DigestHour:        digestHour,
		DigestMinute:      digestMinute,
		Location:          loc,
		Locker:            runLocker,
	})
	orchestrator.Start()

	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := orchestrator.Restore(restoreCtx); err != nil {
		log.Error().Err(err).Msg("failed to restore schedules")
	}
	restoreCancel()

	if cfg.LogRetentionDays > 0 {
		retentionJob := jobs.NewRetentionJob(attemptLogRepo, cfg.LogRetention(), config.RetentionJobInterval)
		retentionJob.Start()
		defer retentionJob.Stop()
	}

	adminAuth := middleware.NewAdminAuthMiddleware(cfg.AdminTokenHash, middleware.NewAuthFailureLimiter())
	runLimit := middleware.NewRunLimitMiddleware(runLimiter, cfg.ManualRunLimitPerMin, time.Minute)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(cfg.Production)

	schedulerHandler := handler.NewSchedulerHandler(orchestrator, runLimit.Handler)
	logHandler := handler.NewLogHandler(attemptLogRepo, accountRepo, loc)
	emailHandler := handler.NewEmailHandler(notificationService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)

	r.Method(http.MethodGet, "/health", handler.NewHealthHandler(db))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(adminAuth.Handler)
		r.Mount("/accounts", schedulerHandler.Routes())
		r.Get("/scheduler/status", schedulerHandler.Status)
		r.Mount("/logs", logHandler.Routes())
		r.Mount("/email", emailHandler.Routes())
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("scheduler did not stop cleanly")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
