package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ledgermail/extractor/internal/classify"
	"github.com/ledgermail/extractor/internal/common"
	"github.com/ledgermail/extractor/internal/entity"
	"github.com/ledgermail/extractor/internal/extract"
	"github.com/ledgermail/extractor/internal/mailbox"
	"github.com/ledgermail/extractor/internal/objectstore"
	"github.com/ledgermail/extractor/internal/repository"
)

// Options tunes the orchestrator.
type Options struct {
	BatchSize        int
	LeaseStale       time.Duration
	ProgressInterval time.Duration
	ProgressCacheTTL time.Duration
	DefaultCurrency  string
}

func (o *Options) fill() {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.LeaseStale <= 0 {
		o.LeaseStale = 2 * time.Minute
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = 2 * time.Second
	}
	if o.ProgressCacheTTL <= 0 {
		o.ProgressCacheTTL = 24 * time.Hour
	}
	if o.DefaultCurrency == "" {
		o.DefaultCurrency = "EUR"
	}
}

// Service is the job orchestrator: it owns the Job rows, the lease, the
// batch engine and finalization.
type Service struct {
	jobs       repository.JobRepository
	records    repository.RecordRepository
	accounts   repository.AccountRepository
	source     mailbox.Source
	extractor  extract.Extractor
	artifacts  objectstore.Store
	cache      *redis.Client // optional
	classifier *classify.Classifier
	logger     *slog.Logger
	opts       Options
	workerID   string
}

func NewService(
	jobs repository.JobRepository,
	records repository.RecordRepository,
	accounts repository.AccountRepository,
	source mailbox.Source,
	extractor extract.Extractor,
	artifacts objectstore.Store,
	cache *redis.Client,
	logger *slog.Logger,
	opts Options,
) *Service {
	opts.fill()
	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}
	return &Service{
		jobs:       jobs,
		records:    records,
		accounts:   accounts,
		source:     source,
		extractor:  extractor,
		artifacts:  artifacts,
		cache:      cache,
		classifier: classify.New(),
		logger:     logger,
		opts:       opts,
		workerID:   host + "/" + uuid.NewString()[:8],
	}
}

// CreateJob validates the source account and inserts a PENDING job row.
func (s *Service) CreateJob(ctx context.Context, userID, sourceAccountID uuid.UUID, startDate, endDate time.Time) (*entity.Job, error) {
	account, err := s.accounts.GetSourceAccount(ctx, sourceAccountID)
	if err != nil {
		return nil, err
	}
	if account.UserID != userID {
		return nil, common.ErrSourceAccountNotFound
	}
	if !account.IsActive() {
		return nil, common.ErrSourceAccountInactive
	}
	if endDate.Before(startDate) {
		return nil, common.NewAppError(common.KindInvalidInput, "end date before start date", nil)
	}
	return s.jobs.Create(ctx, userID, sourceAccountID, startDate, endDate)
}

// RunJob is the idempotent trigger. When the job is terminal or another
// worker holds a young lease, the call is a silent no-op. Otherwise the
// lease is taken and processing continues asynchronously; the run is not
// cancelled when the caller goes away.
func (s *Service) RunJob(ctx context.Context, jobID uuid.UUID) error {
	acquired, j, err := s.tryAcquire(ctx, jobID)
	if err != nil || !acquired {
		return err
	}
	go s.run(context.Background(), j)
	return nil
}

// RunSync acquires the lease and processes the job inline. Used by the batch
// CLI and by tests.
func (s *Service) RunSync(ctx context.Context, jobID uuid.UUID) error {
	acquired, j, err := s.tryAcquire(ctx, jobID)
	if err != nil || !acquired {
		return err
	}
	s.run(ctx, j)
	return nil
}

func (s *Service) tryAcquire(ctx context.Context, jobID uuid.UUID) (bool, *entity.Job, error) {
	j, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return false, nil, err
	}
	if IsTerminal(j.Status) {
		s.logger.Info("job.run.noop_terminal", "job_id", jobID, "status", j.Status)
		return false, nil, nil
	}

	// Cooperative mutual exclusion: the CAS succeeds when the lease is
	// absent or stale. A stale lease means the previous worker is presumed
	// dead and is overwritten.
	acquired, err := s.jobs.AcquireLease(ctx, jobID, s.workerID, s.opts.LeaseStale)
	if err != nil {
		return false, nil, err
	}
	if !acquired {
		s.logger.Info("job.run.noop_leased", "job_id", jobID)
		return false, nil, nil
	}
	return true, j, nil
}

// GetStatus returns the job snapshot, overlaying the cached progress when it
// is fresher than the throttled row counters.
func (s *Service) GetStatus(ctx context.Context, jobID uuid.UUID) (*entity.Job, error) {
	j, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !IsTerminal(j.Status) {
		if p, ok := cachedProgress(ctx, s.cache, jobID); ok {
			j.Progress = maxProgress(j.Progress, p)
		}
	}
	return j, nil
}

// maxProgress merges two snapshots field-wise so reported progress stays
// monotonically non-decreasing regardless of which store saw the last write.
func maxProgress(a, b entity.Progress) entity.Progress {
	if b.MessagesAnalyzed > a.MessagesAnalyzed {
		a.MessagesAnalyzed = b.MessagesAnalyzed
	}
	if b.CandidatesDetected > a.CandidatesDetected {
		a.CandidatesDetected = b.CandidatesDetected
	}
	if b.RecordsPersisted > a.RecordsPersisted {
		a.RecordsPersisted = b.RecordsPersisted
	}
	if b.MessagesRejected > a.MessagesRejected {
		a.MessagesRejected = b.MessagesRejected
	}
	return a
}

// run executes the whole job and finalizes it. Any panic is converted into a
// job failure so no run can strand a PROCESSING row silently.
func (s *Service) run(ctx context.Context, j *entity.Job) {
	progress := newProgressReporter(s.jobs, s.cache, s.logger, j.ID,
		s.opts.ProgressInterval, s.opts.ProgressCacheTTL)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job.run.panic", "job_id", j.ID, "panic", r)
			_, _ = s.jobs.FinalizeFailed(ctx, j.ID, progress.Snapshot(),
				fmt.Sprintf("internal error: %v", r))
		}
	}()

	s.logger.Info("job.run.start", "job_id", j.ID, "worker", s.workerID,
		"start_date", j.StartDate.Format("2006-01-02"), "end_date", j.EndDate.Format("2006-01-02"))

	runErr := s.process(ctx, j, progress)
	s.finalize(ctx, j, progress, runErr)
}

// finalize reconciles the persisted count with the store, then performs the
// guarded terminal transition. The re-check matters when two overlapping
// lease holders both reach this point: only one CAS wins.
func (s *Service) finalize(ctx context.Context, j *entity.Job, progress *progressReporter, runErr error) {
	if durable, err := s.records.CountForJob(ctx, j.ID); err == nil {
		// insertions may have landed without advancing the in-memory
		// counter; the durable count wins if higher
		progress.SetPersisted(durable)
	} else {
		s.logger.Warn("job.finalize.count_failed", "job_id", j.ID, "error", err)
	}
	snapshot := progress.Snapshot()

	if runErr != nil {
		msg := runErr.Error()
		var ae *common.AppError
		if errors.As(runErr, &ae) {
			msg = ae.Message
			if ae.Kind == common.KindAuthenticationFailure {
				msg = "source account credentials rejected by provider; reconnect the mailbox"
			}
		}
		if ok, err := s.jobs.FinalizeFailed(ctx, j.ID, snapshot, msg); err == nil && !ok {
			s.logger.Info("job.finalize.already_terminal", "job_id", j.ID)
		}
		return
	}

	ok, err := s.jobs.FinalizeCompleted(ctx, j.ID, snapshot)
	if err != nil {
		s.logger.Error("job.finalize.failed", "job_id", j.ID, "error", err)
		return
	}
	if !ok {
		s.logger.Info("job.finalize.already_terminal", "job_id", j.ID)
		return
	}
	s.logger.Info("job.run.completed", "job_id", j.ID,
		"analyzed", snapshot.MessagesAnalyzed,
		"detected", snapshot.CandidatesDetected,
		"persisted", snapshot.RecordsPersisted,
		"rejected", snapshot.MessagesRejected)
}
