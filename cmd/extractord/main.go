package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ledgermail/extractor/internal/common"
	"github.com/ledgermail/extractor/internal/extract/openai"
	"github.com/ledgermail/extractor/internal/httpapi"
	"github.com/ledgermail/extractor/internal/job"
	gmailsource "github.com/ledgermail/extractor/internal/mailbox/gmail"
	"github.com/ledgermail/extractor/internal/objectstore"
	repo "github.com/ledgermail/extractor/internal/repository"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := repo.Open(ctx, repo.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repo.HealthCheck(ctx, pool, 5*time.Second, logger); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	// Redis is optional: without it status polls just read the throttled
	// row counters.
	var cache *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(2)
		}
		cache = redis.NewClient(opt)
		if err := cache.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, progress cache disabled", "error", err)
			cache = nil
		}
	}

	jobsRepo := repo.NewJobRepository(pool, logger)
	recordsRepo := repo.NewRecordRepository(pool, logger)
	accountsRepo := repo.NewAccountRepository(pool, logger)

	source, err := gmailsource.NewClient(gmailsource.Config{
		CredentialsFile: cfg.Mailbox.CredentialsFile,
		TokenDir:        cfg.Mailbox.TokenDir,
		PageSize:        cfg.Mailbox.PageSize,
	}, logger)
	if err != nil {
		logger.Error("failed to build mailbox client", "error", err)
		os.Exit(1)
	}

	extractor := openai.NewClient(openai.Config{
		Model:           cfg.Extractor.Model,
		APIKey:          cfg.Extractor.APIKey,
		BaseURL:         cfg.Extractor.BaseURL,
		Temperature:     cfg.Extractor.Temperature,
		Timeout:         cfg.Extractor.Timeout,
		RateRPS:         cfg.Extractor.RateRPS,
		RateBurst:       cfg.Extractor.RateBurst,
		LenientOptional: true,
	}, logger)

	artifacts, err := objectstore.NewFSStore(cfg.Artifacts.BaseDir, logger)
	if err != nil {
		logger.Error("failed to prepare artifact store", "dir", cfg.Artifacts.BaseDir, "error", err)
		os.Exit(1)
	}

	orchestrator := job.NewService(jobsRepo, recordsRepo, accountsRepo,
		source, extractor, artifacts, cache, logger, job.Options{
			BatchSize:        cfg.Jobs.BatchSize,
			LeaseStale:       cfg.Jobs.LeaseStale,
			ProgressInterval: cfg.Jobs.ProgressInterval,
			ProgressCacheTTL: cfg.Redis.TTL,
		})

	sweeper := job.NewSweeper(jobsRepo, logger, cfg.Jobs.SweepSchedule, cfg.Jobs.SweepAfter)
	if err := sweeper.Start(); err != nil {
		logger.Error("failed to start sweeper", "error", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

	api := httpapi.NewAPI(orchestrator, pool, logger)
	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httpapi.NewRouter(httpapi.RouterDependencies{
			API:            api,
			AuthToken:      cfg.Server.AuthToken,
			RateLimitRPS:   cfg.Server.RateLimitRPS,
			RateLimitBurst: cfg.Server.RateLimitBurst,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http serving", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	logger.Info("stopped")
}
