package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ledgermail/extractor/internal/common"
	"github.com/ledgermail/extractor/internal/extract/openai"
	"github.com/ledgermail/extractor/internal/job"
	gmailsource "github.com/ledgermail/extractor/internal/mailbox/gmail"
	"github.com/ledgermail/extractor/internal/objectstore"
	repo "github.com/ledgermail/extractor/internal/repository"
)

// jobrun executes one existing extraction job synchronously. Useful for
// operating on a job the server could not finish, and for local debugging.
func main() {
	var (
		jobIDStr = flag.String("job", "", "extraction job id (required)")
		timeout  = flag.Duration("timeout", 30*time.Minute, "overall run timeout")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	jobID, err := uuid.Parse(*jobIDStr)
	if err != nil {
		logger.Error("--job must be a UUID", "arg", *jobIDStr, "error", err)
		os.Exit(2)
	}

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := repo.Open(ctx, repo.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		DialTimeout:     cfg.Database.DialTimeout,
	}, logger)
	if err != nil {
		logger.Error("open db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	source, err := gmailsource.NewClient(gmailsource.Config{
		CredentialsFile: cfg.Mailbox.CredentialsFile,
		TokenDir:        cfg.Mailbox.TokenDir,
		PageSize:        cfg.Mailbox.PageSize,
	}, logger)
	if err != nil {
		logger.Error("build mailbox client", "error", err)
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
		logger.Error("prepare artifact store", "error", err)
		os.Exit(1)
	}

	orchestrator := job.NewService(
		repo.NewJobRepository(pool, logger),
		repo.NewRecordRepository(pool, logger),
		repo.NewAccountRepository(pool, logger),
		source, extractor, artifacts, nil, logger, job.Options{
			BatchSize:        cfg.Jobs.BatchSize,
			LeaseStale:       cfg.Jobs.LeaseStale,
			ProgressInterval: cfg.Jobs.ProgressInterval,
		})

	start := time.Now()
	if err := orchestrator.RunSync(ctx, jobID); err != nil {
		logger.Error("job run failed", "job_id", jobID, "error", err,
			"duration_ms", time.Since(start).Milliseconds())
		os.Exit(1)
	}
	logger.Info("job run finished", "job_id", jobID,
		"duration_ms", time.Since(start).Milliseconds())
}
