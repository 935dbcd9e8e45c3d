package job

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgermail/extractor/constants"
	"github.com/ledgermail/extractor/internal/classify"
	"github.com/ledgermail/extractor/internal/common"
	"github.com/ledgermail/extractor/internal/dedup"
	"github.com/ledgermail/extractor/internal/entity"
	"github.com/ledgermail/extractor/internal/extract"
	"github.com/ledgermail/extractor/internal/mailbox"
	"github.com/ledgermail/extractor/internal/mailparse"
	"github.com/ledgermail/extractor/internal/quota"
)

// fetchRetryDelay spaces the single retry after a transient provider error.
const fetchRetryDelay = 2 * time.Second

// successConfidence is the minimum model confidence for a SUCCESS record;
// anything below (or absent) is stored as PARTIAL for manual review.
const successConfidence = 0.6

// runState is the shared per-run context handed to every message worker.
type runState struct {
	job      *entity.Job
	enforcer *quota.Enforcer
	index    *dedup.Index
	progress *progressReporter

	mu    sync.Mutex
	fatal error
}

// setFatal records the first job-aborting error; later ones are dropped.
func (st *runState) setFatal(err error) {
	st.mu.Lock()
	if st.fatal == nil {
		st.fatal = err
	}
	st.mu.Unlock()
}

func (st *runState) fatalErr() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.fatal
}

// process executes the pipeline for one leased job: list, then fixed-size
// batches fanned out over goroutines, sequential between batches. The
// returned error, if any, fails the job.
func (s *Service) process(ctx context.Context, j *entity.Job, progress *progressReporter) error {
	user, err := s.accounts.GetUser(ctx, j.UserID)
	if err != nil {
		return common.WrapError(err, "load user")
	}

	usedThisMonth, err := s.records.CountCreatedSince(ctx, j.UserID, quota.MonthStart(time.Now()))
	if err != nil {
		return common.WrapError(err, "seed quota counter")
	}

	st := &runState{
		job:      j,
		enforcer: quota.NewEnforcer(user.Plan, usedThisMonth),
		index:    dedup.NewIndex(),
		progress: progress,
	}
	if err := s.preloadDedup(ctx, st); err != nil {
		return common.WrapError(err, "preload dedup index")
	}

	window := mailbox.Window{Start: j.StartDate, End: j.EndDate}
	ids, err := s.source.ListCandidateIDs(ctx, j.SourceAccountID, window)
	if err != nil {
		return common.WrapError(err, "list candidate messages")
	}
	s.logger.Info("job.candidates.listed", "job_id", j.ID, "count", len(ids),
		"known_keys", st.index.Len(), "quota_used", st.enforcer.Used())

	for start := 0; start < len(ids); start += s.opts.BatchSize {
		if err := st.fatalErr(); err != nil {
			break
		}
		if err := ctx.Err(); err != nil {
			st.setFatal(common.NewAppError(common.KindInternal, "run cancelled", err))
			break
		}

		end := min(start+s.opts.BatchSize, len(ids))
		var wg sync.WaitGroup
		for _, id := range ids[start:end] {
			wg.Add(1)
			go func(messageID string) {
				defer wg.Done()
				s.processMessage(ctx, st, messageID)
			}(id)
		}
		wg.Wait()
	}

	progress.Flush(ctx)
	return st.fatalErr()
}

// preloadDedup seeds the index with the identity keys of records already
// stored in the window, so re-runs do not re-admit equivalent documents from
// other messages.
func (s *Service) preloadDedup(ctx context.Context, st *runState) error {
	existing, err := s.records.ListInWindow(ctx, st.job.UserID, st.job.StartDate, st.job.EndDate)
	if err != nil {
		return err
	}
	for _, rec := range existing {
		var day time.Time
		if rec.DocumentDate != nil {
			day = *rec.DocumentDate
		}
		st.index.Register(dedup.Key(rec.VendorName, rec.InvoiceNumber, rec.Total, day))
	}
	return nil
}

// processMessage runs the full fetch, classify, extract, persist pass for one
// message. Per-message failures are counted as rejections; only fatal kinds
// escalate into st.fatal.
func (s *Service) processMessage(ctx context.Context, st *runState, messageID string) {
	log := s.logger.With("job_id", st.job.ID, "message_id", messageID)
	st.progress.AddAnalyzed(ctx)

	raw, err := s.fetchWithRetry(ctx, st.job.SourceAccountID, messageID)
	if err != nil {
		if common.IsFatal(err) {
			st.setFatal(err)
			return
		}
		log.Warn("job.message.fetch_failed", "error", err)
		st.progress.AddRejected(ctx)
		return
	}

	content := mailparse.Normalize(raw.Root)
	cand := &entity.Candidate{
		MessageID:  raw.ID,
		Subject:    raw.Subject,
		Sender:     raw.Sender,
		ReceivedAt: raw.ReceivedAt,
		BodyText:   content.BodyText,
	}
	for _, p := range content.Attachments {
		cand.Attachments = append(cand.Attachments, entity.Attachment{
			Filename:  p.Filename,
			MediaType: p.MediaType,
			Data:      p.Body,
		})
	}

	decision := s.classifier.Classify(cand)
	if decision.Path == classify.Reject {
		log.Debug("job.message.rejected", "reason", decision.Reason)
		st.progress.AddRejected(ctx)
		return
	}
	st.progress.AddDetected(ctx)

	req := extract.Request{
		Subject:         cand.Subject,
		Sender:          cand.Sender,
		MessageDate:     cand.ReceivedAt,
		DefaultCurrency: s.opts.DefaultCurrency,
	}
	var artifactData []byte
	var artifactType string
	if decision.Path == classify.AttachmentPath {
		att := cand.Attachments[0]
		req.Document = att.Data
		req.ContentType = att.MediaType
		req.Filename = att.Filename
		artifactData, artifactType = att.Data, att.MediaType
	} else {
		req.Text = cand.BodyText
		if content.BodyHTML != "" {
			artifactData, artifactType = []byte(content.BodyHTML), "text/html"
		} else {
			artifactData, artifactType = []byte(cand.BodyText), "text/plain"
		}
	}

	fields, _, err := s.extractor.Extract(ctx, req)
	if err != nil {
		if common.IsFatal(err) {
			st.setFatal(err)
			return
		}
		log.Warn("job.message.extract_failed", "error", err)
		st.progress.AddRejected(ctx)
		return
	}

	rec, err := buildRecord(st.job, cand, fields, decision)
	if err != nil {
		log.Warn("job.message.record_invalid", "error", err)
		st.progress.AddRejected(ctx)
		return
	}

	// Artifact storage is best effort; a record without its source document
	// is still worth keeping.
	if url, err := s.artifacts.Put(ctx, artifactData, artifactType); err == nil {
		rec.ArtifactURL = url
	} else {
		log.Warn("job.message.artifact_failed", "error", err)
	}

	s.persist(ctx, st, log, rec)
}

// fetchWithRetry fetches a message, retrying once after a transient provider
// failure.
func (s *Service) fetchWithRetry(ctx context.Context, accountID uuid.UUID, messageID string) (*mailbox.RawMessage, error) {
	raw, err := s.source.FetchMessage(ctx, accountID, messageID)
	if err == nil || !common.IsRetryable(err) {
		return raw, err
	}
	select {
	case <-time.After(fetchRetryDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.source.FetchMessage(ctx, accountID, messageID)
}

// persist applies the source-message upsert rule, dedup and the quota. The
// message lookup runs before the dedup check: a message whose record already
// exists always refreshes it in place, even though its own identity key was
// preloaded into the session index from the window.
func (s *Service) persist(ctx context.Context, st *runState, log *slog.Logger, rec *entity.ExtractedRecord) {
	existingID, exists, err := s.records.FindIDBySourceMessage(ctx, rec.UserID, rec.SourceMessageID)
	if err != nil {
		log.Warn("job.message.lookup_failed", "error", err)
		st.progress.AddRejected(ctx)
		return
	}

	var day time.Time
	if rec.DocumentDate != nil {
		day = *rec.DocumentDate
	}
	key := dedup.Key(rec.VendorName, rec.InvoiceNumber, rec.Total, day)

	if exists {
		// Re-extraction of a known message refreshes the row in place and
		// never consumes quota. The key is claimed too (idempotent when it
		// was preloaded from this very record) so a sibling message cannot
		// insert an equivalent document later in the run.
		rec.ID = existingID
		if err := s.records.UpdateBySourceMessage(ctx, rec); err != nil {
			log.Warn("job.message.update_failed", "error", err)
			st.progress.AddRejected(ctx)
			return
		}
		st.index.Register(key)
		st.progress.AddPersisted(ctx)
		return
	}

	if st.index.Register(key) {
		log.Debug("job.message.duplicate", "key", key)
		st.progress.AddRejected(ctx)
		return
	}

	if !st.enforcer.Reserve() {
		st.index.Release(key)
		st.setFatal(common.NewAppError(common.KindQuotaExceeded, st.enforcer.ExhaustedMessage(), nil))
		return
	}
	if _, err := s.records.Insert(ctx, rec); err != nil {
		st.index.Release(key)
		st.enforcer.Unreserve()
		log.Warn("job.message.insert_failed", "error", err)
		st.progress.AddRejected(ctx)
		return
	}
	st.progress.AddPersisted(ctx)
}

// buildRecord maps the extraction output onto the storable record, enforcing
// the required fields and parsing decimals and dates.
func buildRecord(j *entity.Job, cand *entity.Candidate, f extract.RecordFields, decision classify.Decision) (*entity.ExtractedRecord, error) {
	vendor := strings.TrimSpace(f.VendorName)
	if vendor == "" {
		return nil, common.NewAppError(common.KindExtractionFailure, "extraction returned no vendor name", nil)
	}
	total, err := parseDecimal(f.Total)
	if err != nil {
		return nil, common.NewAppError(common.KindExtractionFailure, "extraction returned no usable total", err)
	}
	currency := strings.ToUpper(strings.TrimSpace(f.CurrencyCode))
	if len(currency) != 3 {
		return nil, common.NewAppError(common.KindExtractionFailure, "extraction returned no currency code", nil)
	}

	rec := &entity.ExtractedRecord{
		UserID:          j.UserID,
		JobID:           j.ID,
		SourceMessageID: cand.MessageID,

		VendorName:    vendor,
		VendorAddress: strings.TrimSpace(f.VendorAddress),
		VendorEmail:   strings.TrimSpace(f.VendorEmail),
		VendorPhone:   strings.TrimSpace(f.VendorPhone),
		VendorTaxID:   strings.TrimSpace(f.VendorTaxID),

		CustomerName:    strings.TrimSpace(f.CustomerName),
		CustomerAddress: strings.TrimSpace(f.CustomerAddress),
		CustomerEmail:   strings.TrimSpace(f.CustomerEmail),

		Subtotal:     parseOptionalDecimal(f.Subtotal),
		TaxAmount:    parseOptionalDecimal(f.TaxAmount),
		TaxRate:      parseOptionalDecimal(f.TaxRate),
		Total:        total,
		CurrencyCode: currency,

		DocumentDate: parseDate(f.DocumentDate),
		DueDate:      parseDate(f.DueDate),
		PaymentDate:  parseDate(f.PaymentDate),

		InvoiceNumber: strings.TrimSpace(f.InvoiceNumber),
		PaymentMethod: strings.TrimSpace(f.PaymentMethod),
		PaymentLast4:  strings.TrimSpace(f.PaymentLast4),

		Confidence: f.ModelConfidence,
	}

	if len(f.LineItems) > 0 {
		if b, err := json.Marshal(f.LineItems); err == nil {
			rec.LineItems = b
		}
	}

	// The order-confirmation exception admitted a dateless body; the
	// message's own timestamp stands in for the document date.
	if rec.DocumentDate == nil && decision.UseMessageDate {
		day := cand.ReceivedAt.UTC().Truncate(24 * time.Hour)
		rec.DocumentDate = &day
	}

	rec.ExtractionStatus = constants.ExtractionSuccess
	if rec.Confidence < successConfidence || rec.DocumentDate == nil || rec.InvoiceNumber == "" {
		rec.ExtractionStatus = constants.ExtractionPartial
	}
	return rec, nil
}

func parseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", ".")
	return strconv.ParseFloat(s, 64)
}

func parseOptionalDecimal(s string) *float64 {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	v, err := parseDecimal(s)
	if err != nil {
		return nil
	}
	return &v
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}
