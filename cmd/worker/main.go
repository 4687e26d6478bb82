package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"engagement-pipeline/internal/analysis"
	"engagement-pipeline/internal/cache"
	"engagement-pipeline/internal/config"
	"engagement-pipeline/internal/discovery"
	"engagement-pipeline/internal/llm/openai"
	"engagement-pipeline/internal/models"
	"engagement-pipeline/internal/providers"
	"engagement-pipeline/internal/queue"
	"engagement-pipeline/internal/scheduler"
	"engagement-pipeline/internal/status"
	"engagement-pipeline/internal/store"
	"engagement-pipeline/internal/telemetry"
	workerproc "engagement-pipeline/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "worker").Logger()
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

	reddit := providers.NewRedditClient(cfg)
	youtube := providers.NewYouTubeClient(cfg)
	llmClient := openai.New(cfg)
	analyzer := analysis.NewAnalyzer(st, youtube, llmClient, cfg.VideosPerChannel, log)

	redditRunner := discovery.NewRunner(st, reddit, analyzer, tracker, cfg.RedditRatePerMinute, log)
	youtubeRunner := discovery.NewYouTubeRunner(st, youtube, analyzer, tracker, cfg.YouTubeRatePerMinute, cfg.MaxChannelsPerQuery, log)

	processor := workerproc.NewProcessor(cfg, q, st, log)
	processor.RegisterHandler(models.KindDiscovery, redditRunner.Run)
	processor.RegisterHandler(models.KindYouTubeDiscovery, youtubeRunner.Run)

	sched := scheduler.New(q, svc, st, cfg, log)
	if err := sched.StartScheduledJobs(ctx); err != nil {
		log.Warn().Err(err).Msg("recurring schedule registration failed")
	}
	go sched.Run(ctx)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	log.Info().
		Dur("visibility", cfg.VisibilityTimeout).
		Dur("backoff_initial", cfg.BackoffInitial).
		Msg("worker started")
	if err := processor.Run(ctx); err != nil {
		log.Info().Err(err).Msg("worker stopped")
	}
}
