package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"attendly/internal/api"
	"attendly/internal/attendance"
	"attendly/internal/biometric"
	"attendly/internal/config"
	"attendly/internal/logger"
	"attendly/internal/queue"
	"attendly/internal/record"
	"attendly/internal/session"
	"attendly/internal/store"
	"attendly/internal/token"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogConsole)
	log := logger.Get()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("api server failed")
	}
}

func run(cfg config.App) error {
	log := logger.Get()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.Migrate(db.Client); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	var debounce queue.Debouncer
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
		debounce = queue.NewMemoryDebouncer(cfg.DebounceTTL)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
		debounce = queue.NewRedisDebouncer(redisClient.Client, cfg.DebounceTTL)
	}
	trigger := queue.NewRecomputePublisher(q, debounce, log)

	codec, err := token.NewCodec(cfg.TokenSecret)
	if err != nil {
		return err
	}
	tokens := token.NewService(
		token.NewPostgresStore(db.Client),
		codec,
		token.DefaultPolicies(cfg.AttendanceTokenTTL, cfg.AccessTokenTTL, cfg.InformationTokenTTL, cfg.VerificationTokenTTL),
		log,
	)

	bio := biometric.New(cfg.BiometricServiceURL, cfg.BiometricTimeout, cfg.BiometricSkip)

	sessionStore := session.NewPostgresStore(db.Client)
	markStore := attendance.NewPostgresStore(db.Client)
	recordStore := record.NewPostgresStore(db.Client)

	marker := attendance.NewMarker(sessionStore, markStore, bio, trigger, log)
	sessions := session.NewService(sessionStore, api.QRIssuer{Tokens: tokens}, trigger, marker, cfg.WindowMargin, log)
	records := record.NewAggregator(recordStore, sessionStore, markStore, log)
	attValidator := token.NewAttendanceValidator(tokens, marker, bio, log)

	server := api.NewServer(cfg, tokens, attValidator, sessions, marker, records, db, redisClient, log)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("api server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server exited")
	return nil
}
