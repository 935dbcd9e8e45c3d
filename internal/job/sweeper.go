package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ledgermail/extractor/internal/repository"
)

const staleJobMessage = "job abandoned: no worker renewed the lease"

// Sweeper periodically fails PROCESSING jobs whose lease holder disappeared,
// so crashed workers cannot leave rows stuck forever.
type Sweeper struct {
	jobs      repository.JobRepository
	logger    *slog.Logger
	schedule  string
	staleFor  time.Duration
	scheduler *cron.Cron
}

func NewSweeper(jobs repository.JobRepository, logger *slog.Logger, schedule string, staleFor time.Duration) *Sweeper {
	if schedule == "" {
		schedule = "@every 5m"
	}
	if staleFor <= 0 {
		staleFor = 10 * time.Minute
	}
	return &Sweeper{
		jobs:     jobs,
		logger:   logger,
		schedule: schedule,
		staleFor: staleFor,
	}
}

// Start registers the sweep and launches the scheduler in its own goroutine.
func (s *Sweeper) Start() error {
	s.scheduler = cron.New()
	if _, err := s.scheduler.AddFunc(s.schedule, s.sweep); err != nil {
		return err
	}
	s.scheduler.Start()
	s.logger.Info("job.sweeper.started", "schedule", s.schedule, "stale_after", s.staleFor)
	return nil
}

// Stop halts the scheduler and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.scheduler == nil {
		return
	}
	<-s.scheduler.Stop().Done()
	s.logger.Info("job.sweeper.stopped")
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-s.staleFor)
	n, err := s.jobs.FailStale(ctx, cutoff, staleJobMessage)
	if err != nil {
		s.logger.Error("job.sweeper.sweep_failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Warn("job.sweeper.failed_stale", "count", n, "cutoff", cutoff)
	}
}
