package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"engagement-pipeline/internal/analysis"
	"engagement-pipeline/internal/api"
	"engagement-pipeline/internal/cache"
	"engagement-pipeline/internal/config"
	"engagement-pipeline/internal/discovery"
	"engagement-pipeline/internal/llm/openai"
	"engagement-pipeline/internal/providers"
	"engagement-pipeline/internal/queue"
	"engagement-pipeline/internal/ratelimit"
	"engagement-pipeline/internal/scheduler"
	"engagement-pipeline/internal/status"
	"engagement-pipeline/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api").Logger()
	if cfg.Env == "dev" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrations")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	q := queue.NewRedisQueue(redisClient, cfg)
	c := cache.New(redisClient)
	tracker := status.NewTracker(c, st, cfg.StatusTTL, cfg.RecentJobsKeep)
	svc := discovery.NewService(st, q, tracker, cfg, log)

	youtube := providers.NewYouTubeClient(cfg)
	analyzer := analysis.NewAnalyzer(st, youtube, openai.New(cfg), cfg.VideosPerChannel, log)
	sched := scheduler.New(q, svc, st, cfg, log)
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	server := api.New(cfg, svc, analyzer, st, sched, q, limiter, c, log)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Info().Str("port", cfg.HTTPPort).Msg("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
