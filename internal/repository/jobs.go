package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgermail/extractor/constants"
	"github.com/ledgermail/extractor/internal/common"
	"github.com/ledgermail/extractor/internal/entity"
)

type JobRepository interface {
	Create(ctx context.Context, userID, sourceAccountID uuid.UUID, startDate, endDate time.Time) (*entity.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	// AcquireLease performs the compare-and-swap lease write: it succeeds when
	// the job is non-terminal and either unleased or the current lease is
	// older than staleAfter. On success the job row moves to PROCESSING.
	AcquireLease(ctx context.Context, id uuid.UUID, owner string, staleAfter time.Duration) (bool, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, p entity.Progress) error
	// FinalizeCompleted flips PROCESSING -> COMPLETED. Returns false when a
	// concurrent worker already finalized the job.
	FinalizeCompleted(ctx context.Context, id uuid.UUID, p entity.Progress) (bool, error)
	// FinalizeFailed flips any non-terminal status -> FAILED with a message.
	FinalizeFailed(ctx context.Context, id uuid.UUID, p entity.Progress, message string) (bool, error)
	// FailStale marks PROCESSING jobs whose lease expired before cutoff as
	// FAILED. Used by the sweeper; returns the number of jobs failed.
	FailStale(ctx context.Context, cutoff time.Time, message string) (int64, error)
}

type jobRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewJobRepository(pool *pgxpool.Pool, logger *slog.Logger) JobRepository {
	return &jobRepository{pool: pool, logger: logger}
}

const jobColumns = `id, user_id, source_account_id, start_date, end_date, status,
	messages_analyzed, candidates_detected, records_persisted, messages_rejected,
	error_message, lease_owner, lease_acquired_at, created_at, completed_at`

func (r *jobRepository) Create(ctx context.Context, userID, sourceAccountID uuid.UUID, startDate, endDate time.Time) (*entity.Job, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO extraction_jobs (user_id, source_account_id, start_date, end_date, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+jobColumns,
		userID, sourceAccountID, startDate, endDate, string(constants.JobStatusPending))
	job, err := scanJob(row)
	if err != nil {
		r.logger.Error("job create failed", "user_id", userID, "error", err)
		return nil, err
	}
	r.logger.Info("job created", "job_id", job.ID, "user_id", userID,
		"start_date", startDate.Format("2006-01-02"), "end_date", endDate.Format("2006-01-02"))
	return job, nil
}

func (r *jobRepository) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM extraction_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (r *jobRepository) AcquireLease(ctx context.Context, id uuid.UUID, owner string, staleAfter time.Duration) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE extraction_jobs
		SET lease_owner = $2,
			lease_acquired_at = now(),
			status = $3
		WHERE id = $1
		  AND status IN ($4, $3)
		  AND (lease_acquired_at IS NULL OR lease_acquired_at < now() - $5::interval)
	`, id, owner, string(constants.JobStatusProcessing), string(constants.JobStatusPending),
		staleAfter.String())
	if err != nil {
		r.logger.Error("lease acquire failed", "job_id", id, "owner", owner, "error", err)
		return false, err
	}
	acquired := tag.RowsAffected() == 1
	if acquired {
		r.logger.Info("lease acquired", "job_id", id, "owner", owner)
	} else {
		r.logger.Info("lease not acquired", "job_id", id, "owner", owner)
	}
	return acquired, nil
}

func (r *jobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, p entity.Progress) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE extraction_jobs
		SET messages_analyzed = $2,
			candidates_detected = $3,
			records_persisted = $4,
			messages_rejected = $5
		WHERE id = $1
	`, id, p.MessagesAnalyzed, p.CandidatesDetected, p.RecordsPersisted, p.MessagesRejected)
	if err != nil {
		r.logger.Error("progress update failed", "job_id", id, "error", err)
	}
	return err
}

func (r *jobRepository) FinalizeCompleted(ctx context.Context, id uuid.UUID, p entity.Progress) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE extraction_jobs
		SET status = $2,
			messages_analyzed = $3,
			candidates_detected = $4,
			records_persisted = $5,
			messages_rejected = $6,
			completed_at = now(),
			lease_owner = NULL,
			lease_acquired_at = NULL
		WHERE id = $1 AND status = $7
	`, id, string(constants.JobStatusCompleted),
		p.MessagesAnalyzed, p.CandidatesDetected, p.RecordsPersisted, p.MessagesRejected,
		string(constants.JobStatusProcessing))
	if err != nil {
		r.logger.Error("job finalize failed", "job_id", id, "error", err)
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *jobRepository) FinalizeFailed(ctx context.Context, id uuid.UUID, p entity.Progress, message string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE extraction_jobs
		SET status = $2,
			messages_analyzed = $3,
			candidates_detected = $4,
			records_persisted = $5,
			messages_rejected = $6,
			error_message = $7,
			completed_at = now(),
			lease_owner = NULL,
			lease_acquired_at = NULL
		WHERE id = $1 AND status NOT IN ($8, $2)
	`, id, string(constants.JobStatusFailed),
		p.MessagesAnalyzed, p.CandidatesDetected, p.RecordsPersisted, p.MessagesRejected,
		message, string(constants.JobStatusCompleted))
	if err != nil {
		r.logger.Error("job fail-finalize failed", "job_id", id, "error", err)
		return false, err
	}
	r.logger.Warn("job failed", "job_id", id, "error_message", message)
	return tag.RowsAffected() == 1, nil
}

func (r *jobRepository) FailStale(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE extraction_jobs
		SET status = $1,
			error_message = $2,
			completed_at = now(),
			lease_owner = NULL,
			lease_acquired_at = NULL
		WHERE status = $3 AND lease_acquired_at < $4
	`, string(constants.JobStatusFailed), message, string(constants.JobStatusProcessing), cutoff)
	if err != nil {
		r.logger.Error("stale job sweep failed", "error", err)
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (*entity.Job, error) {
	var (
		job    entity.Job
		status string
	)
	err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.SourceAccountID,
		&job.StartDate,
		&job.EndDate,
		&status,
		&job.Progress.MessagesAnalyzed,
		&job.Progress.CandidatesDetected,
		&job.Progress.RecordsPersisted,
		&job.Progress.MessagesRejected,
		&job.ErrorMessage,
		&job.LeaseOwner,
		&job.LeaseAcquiredAt,
		&job.CreatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = constants.JobStatus(status)
	return &job, nil
}
