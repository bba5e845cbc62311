package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"attendly/internal/attendance"
	"attendly/internal/config"
	"attendly/internal/logger"
	"attendly/internal/queue"
	"attendly/internal/record"
	"attendly/internal/session"
	"attendly/internal/store"
	"attendly/internal/token"
)

// Worker consumes recompute jobs and runs the periodic maintenance
// loops: session status sweep and expired-token cleanup.
func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogConsole)
	log := logger.Get().With().Str("component", "worker").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()
	if err := store.Migrate(db.Client); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
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

	codec, err := token.NewCodec(cfg.TokenSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("token codec init failed")
	}
	tokens := token.NewService(
		token.NewPostgresStore(db.Client),
		codec,
		token.DefaultPolicies(cfg.AttendanceTokenTTL, cfg.AccessTokenTTL, cfg.InformationTokenTTL, cfg.VerificationTokenTTL),
		log,
	)

	trigger := queue.NewRecomputePublisher(q, debounce, log)

	sessionStore := session.NewPostgresStore(db.Client)
	markStore := attendance.NewPostgresStore(db.Client)
	records := record.NewAggregator(record.NewPostgresStore(db.Client), sessionStore, markStore, log)
	sessions := session.NewService(sessionStore, nil, trigger, nil, cfg.WindowMargin, log)

	go sweepLoop(ctx, sessions, cfg.SweepInterval, log)
	go cleanupLoop(ctx, tokens, cfg.CleanupInterval, log)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("queue consume init failed")
	}

	log.Info().Msg("worker started, waiting for messages")
	for msg := range messages {
		if msg.Type != queue.TypeRecompute {
			continue
		}
		job, err := queue.DecodeRecompute(msg)
		if err != nil {
			log.Warn().Err(err).Msg("discarding malformed recompute job")
			continue
		}

		// Clear the pending flag before recomputing so a mark that lands
		// mid-recompute schedules another run instead of being lost.
		if err := debounce.Clear(ctx, queue.CohortString(job.Cohort)); err != nil {
			log.Warn().Err(err).Msg("debounce clear failed")
		}

		if _, err := records.Recompute(ctx, job.Cohort); err != nil {
			log.Error().Err(err).
				Str("class_id", job.Cohort.ClassID).
				Str("subject_id", job.Cohort.SubjectID).
				Msg("record recompute failed")
			continue
		}
	}

	log.Info().Msg("worker stopped")
}

func sweepLoop(ctx context.Context, sessions *session.Service, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := sessions.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("session sweep failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

func cleanupLoop(ctx context.Context, tokens *token.Service, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := tokens.CleanupExpired(ctx); err != nil {
				log.Error().Err(err).Msg("token cleanup failed")
			}
		case <-ctx.Done():
			return
		}
	}
}
