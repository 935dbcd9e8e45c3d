package job

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ledgermail/extractor/internal/entity"
	"github.com/ledgermail/extractor/internal/repository"
)

// progressCacheKey is the redis key holding the freshest counter snapshot for
// a job, so status polls do not have to wait for the throttled DB write.
func progressCacheKey(jobID uuid.UUID) string {
	return "job:progress:" + jobID.String()
}

// progressReporter accumulates the run counters and pushes snapshots to the
// job row and the redis cache. DB writes are throttled except when forced,
// which happens right after every successful record persistence.
type progressReporter struct {
	jobs     repository.JobRepository
	cache    *redis.Client // optional
	logger   *slog.Logger
	jobID    uuid.UUID
	interval time.Duration
	cacheTTL time.Duration

	mu          sync.Mutex
	p           entity.Progress
	lastDBWrite time.Time
}

func newProgressReporter(jobs repository.JobRepository, cache *redis.Client, logger *slog.Logger,
	jobID uuid.UUID, interval, cacheTTL time.Duration) *progressReporter {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &progressReporter{
		jobs:     jobs,
		cache:    cache,
		logger:   logger,
		jobID:    jobID,
		interval: interval,
		cacheTTL: cacheTTL,
	}
}

func (r *progressReporter) AddAnalyzed(ctx context.Context) {
	r.bump(ctx, func(p *entity.Progress) { p.MessagesAnalyzed++ }, false)
}

func (r *progressReporter) AddDetected(ctx context.Context) {
	r.bump(ctx, func(p *entity.Progress) { p.CandidatesDetected++ }, false)
}

func (r *progressReporter) AddRejected(ctx context.Context) {
	r.bump(ctx, func(p *entity.Progress) { p.MessagesRejected++ }, false)
}

// AddPersisted is pushed through unthrottled to keep external observers
// current after every successful write.
func (r *progressReporter) AddPersisted(ctx context.Context) {
	r.bump(ctx, func(p *entity.Progress) { p.RecordsPersisted++ }, true)
}

// SetPersisted reconciles the counter with the durable count during
// finalization; it never goes backwards.
func (r *progressReporter) SetPersisted(n int32) {
	r.mu.Lock()
	if n > r.p.RecordsPersisted {
		r.p.RecordsPersisted = n
	}
	r.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (r *progressReporter) Snapshot() entity.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.p
}

func (r *progressReporter) bump(ctx context.Context, apply func(*entity.Progress), force bool) {
	r.mu.Lock()
	apply(&r.p)
	snapshot := r.p
	due := force || time.Since(r.lastDBWrite) >= r.interval
	if due {
		r.lastDBWrite = time.Now()
	}
	r.mu.Unlock()

	r.writeCache(ctx, snapshot)
	if due {
		if err := r.jobs.UpdateProgress(ctx, r.jobID, snapshot); err != nil {
			r.logger.Warn("job.progress.write_failed", "job_id", r.jobID, "error", err)
		}
	}
}

// Flush pushes the current counters to the row regardless of throttling.
func (r *progressReporter) Flush(ctx context.Context) {
	r.mu.Lock()
	snapshot := r.p
	r.lastDBWrite = time.Now()
	r.mu.Unlock()

	r.writeCache(ctx, snapshot)
	if err := r.jobs.UpdateProgress(ctx, r.jobID, snapshot); err != nil {
		r.logger.Warn("job.progress.write_failed", "job_id", r.jobID, "error", err)
	}
}

func (r *progressReporter) writeCache(ctx context.Context, p entity.Progress) {
	if r.cache == nil {
		return
	}
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, progressCacheKey(r.jobID), b, r.cacheTTL).Err(); err != nil {
		r.logger.Debug("job.progress.cache_write_failed", "job_id", r.jobID, "error", err)
	}
}

// cachedProgress reads the freshest snapshot for a status poll; a miss or a
// cache error just falls back to the row counters.
func cachedProgress(ctx context.Context, cache *redis.Client, jobID uuid.UUID) (entity.Progress, bool) {
	if cache == nil {
		return entity.Progress{}, false
	}
	b, err := cache.Get(ctx, progressCacheKey(jobID)).Bytes()
	if err != nil {
		return entity.Progress{}, false
	}
	var p entity.Progress
	if err := json.Unmarshal(b, &p); err != nil {
		return entity.Progress{}, false
	}
	return p, true
}
