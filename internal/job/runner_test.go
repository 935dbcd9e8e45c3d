package job

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ledgermail/extractor/constants"
	"github.com/ledgermail/extractor/internal/common"
	"github.com/ledgermail/extractor/internal/entity"
	"github.com/ledgermail/extractor/internal/extract"
	"github.com/ledgermail/extractor/internal/mailbox"
	"github.com/ledgermail/extractor/internal/mailparse"
)

const bodyText = `Thanks for your purchase!
Order #FWN20651
Total: 42,00 EUR
Paid with Visa ending in 1234
Date: 2026-03-12`

type harness struct {
	jobs      *fakeJobRepo
	records   *fakeRecordRepo
	source    *fakeSource
	extractor *fakeExtractor
	store     *fakeStore
	svc       *Service
	job       *entity.Job
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	userID := uuid.New()
	accountID := uuid.New()
	j := &entity.Job{
		ID:              uuid.New(),
		UserID:          userID,
		SourceAccountID: accountID,
		StartDate:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:         time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		Status:          constants.JobStatusPending,
		CreatedAt:       time.Now(),
	}
	h := &harness{
		jobs:      newFakeJobRepo(j),
		records:   newFakeRecordRepo(),
		source:    newFakeSource(),
		extractor: newFakeExtractor(),
		store:     &fakeStore{},
		job:       j,
	}
	accounts := &fakeAccountRepo{
		account: &entity.SourceAccount{ID: accountID, UserID: userID, Provider: "gmail",
			EmailAddress: "user@example.com", Status: "ACTIVE"},
		user: &entity.User{ID: userID, Email: "user@example.com", Plan: constants.PlanFree},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.svc = NewService(h.jobs, h.records, accounts, h.source, h.extractor, h.store, nil, logger, opts)
	return h
}

func bodyMessage(id, subject string) *mailbox.RawMessage {
	return &mailbox.RawMessage{
		ID:         id,
		Subject:    subject,
		Sender:     "billing@acme.example",
		ReceivedAt: time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC),
		Root: &mailparse.Part{
			MediaType: "multipart/alternative",
			Children: []*mailparse.Part{
				{MediaType: "text/plain", Body: []byte(bodyText)},
			},
		},
	}
}

func attachmentMessage(id, subject, filename string) *mailbox.RawMessage {
	return &mailbox.RawMessage{
		ID:         id,
		Subject:    subject,
		Sender:     "billing@globex.example",
		ReceivedAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		Root: &mailparse.Part{
			MediaType: "multipart/mixed",
			Children: []*mailparse.Part{
				{MediaType: "text/plain", Body: []byte("see attached")},
				{MediaType: "application/pdf", Filename: filename, Body: []byte("%PDF-1.4")},
			},
		},
	}
}

func fields(vendor, invoice, total, date string, confidence float32) extract.RecordFields {
	return extract.RecordFields{
		VendorName:      vendor,
		InvoiceNumber:   invoice,
		Total:           total,
		CurrencyCode:    "EUR",
		DocumentDate:    date,
		ModelConfidence: confidence,
	}
}

func TestRunSyncFullRun(t *testing.T) {
	h := newHarness(t, Options{})
	h.source.add(bodyMessage("m1", "Your receipt from Acme"))
	h.source.add(bodyMessage("m2", "Monthly Newsletter: spring deals"))
	h.source.add(attachmentMessage("m3", "Invoice #4821", "invoice_4821.pdf"))
	h.extractor.bySubject["Your receipt from Acme"] = fields("Acme", "FWN20651", "42.00", "2026-03-12", 0.92)
	h.extractor.bySubject["Invoice #4821"] = fields("Globex", "4821", "99.00", "2026-03-14", 0.88)

	if err := h.svc.RunSync(context.Background(), h.job.ID); err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	final := h.jobs.snapshot()
	if final.Status != constants.JobStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED (error: %v)", final.Status, final.ErrorMessage)
	}
	p := final.Progress
	if p.MessagesAnalyzed != 3 || p.CandidatesDetected != 2 || p.RecordsPersisted != 2 || p.MessagesRejected != 1 {
		t.Fatalf("progress = %+v", p)
	}
	if p.RecordsPersisted > p.CandidatesDetected || p.CandidatesDetected > p.MessagesAnalyzed {
		t.Fatalf("counter invariant violated: %+v", p)
	}
	if h.records.inserts != 2 {
		t.Fatalf("inserts = %d, want 2", h.records.inserts)
	}
	if h.store.puts != 2 {
		t.Fatalf("artifact puts = %d, want 2", h.store.puts)
	}
	if final.LeaseOwner != nil {
		t.Fatal("lease not cleared on completion")
	}

	rec := h.records.bySource["m3"]
	if rec == nil {
		t.Fatal("attachment record missing")
	}
	if rec.ExtractionStatus != constants.ExtractionSuccess {
		t.Fatalf("extraction status = %s", rec.ExtractionStatus)
	}
	if rec.ArtifactURL == "" {
		t.Fatal("artifact url not recorded")
	}
}

func TestRunSyncNoopWhenTerminal(t *testing.T) {
	h := newHarness(t, Options{})
	h.job.Status = constants.JobStatusCompleted
	h.source.add(bodyMessage("m1", "Your receipt from Acme"))

	if err := h.svc.RunSync(context.Background(), h.job.ID); err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if h.extractor.calls != 0 {
		t.Fatal("terminal job was processed")
	}
	if h.jobs.snapshot().Status != constants.JobStatusCompleted {
		t.Fatal("terminal status changed")
	}
}

func TestRunSyncNoopWhenLeaseHeld(t *testing.T) {
	h := newHarness(t, Options{LeaseStale: 2 * time.Minute})
	now := time.Now()
	other := "other-worker"
	h.job.Status = constants.JobStatusProcessing
	h.job.LeaseOwner = &other
	h.job.LeaseAcquiredAt = &now
	h.source.add(bodyMessage("m1", "Your receipt from Acme"))

	if err := h.svc.RunSync(context.Background(), h.job.ID); err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	final := h.jobs.snapshot()
	if h.extractor.calls != 0 {
		t.Fatal("second worker processed despite live lease")
	}
	if final.LeaseOwner == nil || *final.LeaseOwner != other {
		t.Fatal("live lease was overwritten")
	}
}

func TestRunSyncTakesOverStaleLease(t *testing.T) {
	h := newHarness(t, Options{LeaseStale: 2 * time.Minute})
	stale := time.Now().Add(-10 * time.Minute)
	other := "dead-worker"
	h.job.Status = constants.JobStatusProcessing
	h.job.LeaseOwner = &other
	h.job.LeaseAcquiredAt = &stale
	h.source.add(bodyMessage("m1", "Your receipt from Acme"))
	h.extractor.bySubject["Your receipt from Acme"] = fields("Acme", "FWN20651", "42.00", "2026-03-12", 0.92)

	if err := h.svc.RunSync(context.Background(), h.job.ID); err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	final := h.jobs.snapshot()
	if final.Status != constants.JobStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED after takeover", final.Status)
	}
	if h.records.inserts != 1 {
		t.Fatalf("inserts = %d, want 1", h.records.inserts)
	}
}

func TestRunSyncQuotaExhaustedFailsJob(t *testing.T) {
	// Sequential batches make the quota cutoff deterministic.
	h := newHarness(t, Options{BatchSize: 1})
	h.records.usedThisMonth = 49 // FREE plan limit is 50

	h.source.add(bodyMessage("m1", "Your receipt from Acme"))
	h.source.add(attachmentMessage("m2", "Invoice #4821", "invoice_4821.pdf"))
	h.source.add(attachmentMessage("m3", "Invoice #9000", "invoice_9000.pdf"))
	h.extractor.bySubject["Your receipt from Acme"] = fields("Acme", "FWN20651", "42.00", "2026-03-12", 0.92)
	h.extractor.bySubject["Invoice #4821"] = fields("Globex", "4821", "99.00", "2026-03-14", 0.88)
	h.extractor.bySubject["Invoice #9000"] = fields("Initech", "9000", "15.00", "2026-03-15", 0.90)

	if err := h.svc.RunSync(context.Background(), h.job.ID); err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	final := h.jobs.snapshot()
	if final.Status != constants.JobStatusFailed {
		t.Fatalf("status = %s, want FAILED", final.Status)
	}
	if final.ErrorMessage == nil || !strings.Contains(*final.ErrorMessage, "quota") {
		t.Fatalf("error message = %v, want quota explanation", final.ErrorMessage)
	}
	if h.records.inserts != 1 {
		t.Fatalf("inserts = %d, want exactly the remaining quota", h.records.inserts)
	}
	if final.Progress.RecordsPersisted != 1 {
		t.Fatalf("persisted = %d, want 1", final.Progress.RecordsPersisted)
	}
}

func TestRunSyncUpdatesExistingRecord(t *testing.T) {
	h := newHarness(t, Options{})
	h.records.usedThisMonth = 50 // quota exhausted, updates must still pass

	existing := &entity.ExtractedRecord{
		ID:              uuid.New(),
		UserID:          h.job.UserID,
		JobID:           uuid.New(), // earlier job
		SourceMessageID: "m1",
		VendorName:      "Acme",
		Total:           41.00,
	}
	h.records.bySource["m1"] = existing
	h.records.preloaded = []*entity.ExtractedRecord{existing}

	h.source.add(bodyMessage("m1", "Your receipt from Acme"))
	h.extractor.bySubject["Your receipt from Acme"] = fields("Acme", "FWN20651", "42.00", "2026-03-12", 0.92)

	if err := h.svc.RunSync(context.Background(), h.job.ID); err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	final := h.jobs.snapshot()
	if final.Status != constants.JobStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED (error: %v)", final.Status, final.ErrorMessage)
	}
	if h.records.inserts != 0 {
		t.Fatalf("inserts = %d, want the update path", h.records.inserts)
	}
	if h.records.updates != 1 {
		t.Fatalf("updates = %d, want 1", h.records.updates)
	}
	if got := h.records.bySource["m1"]; got.Total != 42.00 || got.ID != existing.ID {
		t.Fatalf("record not refreshed in place: %+v", got)
	}
	if final.Progress.RecordsPersisted != 1 {
		t.Fatalf("persisted = %d, want 1", final.Progress.RecordsPersisted)
	}
}

func TestRunSyncRerunRefreshesUnchangedRecord(t *testing.T) {
	// Overlapping re-run: the message's record is already stored in the
	// window, so its identity key sits in the preloaded index. The record
	// must still be refreshed in place, not discarded as a duplicate.
	h := newHarness(t, Options{})
	date := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	existing := &entity.ExtractedRecord{
		ID:              uuid.New(),
		UserID:          h.job.UserID,
		JobID:           uuid.New(), // earlier job
		SourceMessageID: "m1",
		VendorName:      "Acme",
		InvoiceNumber:   "FWN20651",
		Total:           42.00,
		CurrencyCode:    "EUR",
		DocumentDate:    &date,
		Confidence:      0.7,
	}
	h.records.bySource["m1"] = existing
	h.records.preloaded = []*entity.ExtractedRecord{existing}

	h.source.add(bodyMessage("m1", "Your receipt from Acme"))
	h.extractor.bySubject["Your receipt from Acme"] = fields("Acme", "FWN20651", "42.00", "2026-03-12", 0.92)

	if err := h.svc.RunSync(context.Background(), h.job.ID); err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	final := h.jobs.snapshot()
	if final.Status != constants.JobStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED (error: %v)", final.Status, final.ErrorMessage)
	}
	if h.records.updates != 1 {
		t.Fatalf("updates = %d, want the record refreshed in place", h.records.updates)
	}
	if h.records.inserts != 0 {
		t.Fatalf("inserts = %d, want 0", h.records.inserts)
	}
	if final.Progress.MessagesRejected != 0 {
		t.Fatalf("rejected = %d, want 0", final.Progress.MessagesRejected)
	}
	got := h.records.bySource["m1"]
	if got.ID != existing.ID || got.JobID != h.job.ID {
		t.Fatalf("record identity not preserved: %+v", got)
	}
	if got.Confidence != 0.92 {
		t.Fatalf("confidence = %v, want re-extraction applied", got.Confidence)
	}
}

func TestRunSyncDuplicateDocumentRejected(t *testing.T) {
	h := newHarness(t, Options{BatchSize: 1})
	h.source.add(bodyMessage("m1", "Your receipt from Acme"))
	h.source.add(bodyMessage("m2", "Your receipt from Acme"))
	// Both messages extract the identical logical document.
	h.extractor.bySubject["Your receipt from Acme"] = fields("Acme", "FWN20651", "42.00", "2026-03-12", 0.92)

	if err := h.svc.RunSync(context.Background(), h.job.ID); err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	final := h.jobs.snapshot()
	if h.records.inserts != 1 {
		t.Fatalf("inserts = %d, want duplicate suppressed", h.records.inserts)
	}
	p := final.Progress
	if p.CandidatesDetected != 2 || p.RecordsPersisted != 1 || p.MessagesRejected != 1 {
		t.Fatalf("progress = %+v", p)
	}
}

func TestRunSyncDedupPreloadBlocksKnownDocument(t *testing.T) {
	h := newHarness(t, Options{})
	date := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	h.records.preloaded = []*entity.ExtractedRecord{{
		SourceMessageID: "earlier-message",
		VendorName:      "Acme",
		InvoiceNumber:   "FWN20651",
		Total:           42.00,
		CurrencyCode:    "EUR",
		DocumentDate:    &date,
	}}

	h.source.add(bodyMessage("m1", "Your receipt from Acme"))
	h.extractor.bySubject["Your receipt from Acme"] = fields("Acme", "FWN20651", "42.00", "2026-03-12", 0.92)

	if err := h.svc.RunSync(context.Background(), h.job.ID); err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	if h.records.inserts != 0 {
		t.Fatalf("inserts = %d, want preloaded key to block the insert", h.records.inserts)
	}
	final := h.jobs.snapshot()
	if final.Status != constants.JobStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", final.Status)
	}
	if final.Progress.MessagesRejected != 1 {
		t.Fatalf("rejected = %d, want 1", final.Progress.MessagesRejected)
	}
}

func TestRunSyncDedupPreloadBlocksDatelessRecord(t *testing.T) {
	// A partial record from an earlier run has no document date; its key ends
	// on an empty date component and must still block an equivalent dateless
	// document arriving through a different message.
	h := newHarness(t, Options{})
	h.records.preloaded = []*entity.ExtractedRecord{{
		SourceMessageID: "earlier-message",
		VendorName:      "Acme",
		InvoiceNumber:   "FWN20651",
		Total:           42.00,
		CurrencyCode:    "EUR",
	}}

	h.source.add(bodyMessage("m1", "Your receipt from Acme"))
	h.extractor.bySubject["Your receipt from Acme"] = fields("Acme", "FWN20651", "42.00", "", 0.92)

	if err := h.svc.RunSync(context.Background(), h.job.ID); err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	if h.records.inserts != 0 {
		t.Fatalf("inserts = %d, want dateless key to block the insert", h.records.inserts)
	}
	if got := h.jobs.snapshot().Progress.MessagesRejected; got != 1 {
		t.Fatalf("rejected = %d, want 1", got)
	}
}

func TestRunSyncAuthFailureFailsJob(t *testing.T) {
	h := newHarness(t, Options{})
	h.source.listErr = common.NewAppError(common.KindAuthenticationFailure, "list messages", nil)
	if err := h.svc.RunSync(context.Background(), h.job.ID); err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	final := h.jobs.snapshot()
	if final.Status != constants.JobStatusFailed {
		t.Fatalf("status = %s, want FAILED", final.Status)
	}
	if final.ErrorMessage == nil || !strings.Contains(*final.ErrorMessage, "reconnect") {
		t.Fatalf("error message = %v, want actionable credentials hint", final.ErrorMessage)
	}
}

func TestRunSyncExtractFailureRejectsMessageOnly(t *testing.T) {
	h := newHarness(t, Options{})
	h.source.add(bodyMessage("m1", "Your receipt from Acme"))
	h.source.add(attachmentMessage("m2", "Invoice #4821", "invoice_4821.pdf"))
	h.extractor.errs["Your receipt from Acme"] = common.NewAppError(common.KindExtractionFailure, "schema validation failed", nil)
	h.extractor.bySubject["Invoice #4821"] = fields("Globex", "4821", "99.00", "2026-03-14", 0.88)

	if err := h.svc.RunSync(context.Background(), h.job.ID); err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	final := h.jobs.snapshot()
	if final.Status != constants.JobStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED despite one extraction failure", final.Status)
	}
	p := final.Progress
	if p.RecordsPersisted != 1 || p.MessagesRejected != 1 {
		t.Fatalf("progress = %+v", p)
	}
}

func TestRunSyncArtifactFailureTolerated(t *testing.T) {
	h := newHarness(t, Options{})
	h.store.err = context.DeadlineExceeded
	h.source.add(bodyMessage("m1", "Your receipt from Acme"))
	h.extractor.bySubject["Your receipt from Acme"] = fields("Acme", "FWN20651", "42.00", "2026-03-12", 0.92)

	if err := h.svc.RunSync(context.Background(), h.job.ID); err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	if h.records.inserts != 1 {
		t.Fatalf("inserts = %d, want record persisted without artifact", h.records.inserts)
	}
	if h.records.bySource["m1"].ArtifactURL != "" {
		t.Fatal("artifact url set although storage failed")
	}
}

func TestRunSyncLowConfidenceStoredAsPartial(t *testing.T) {
	h := newHarness(t, Options{})
	h.source.add(bodyMessage("m1", "Your receipt from Acme"))
	h.extractor.bySubject["Your receipt from Acme"] = fields("Acme", "FWN20651", "42.00", "2026-03-12", 0.3)

	if err := h.svc.RunSync(context.Background(), h.job.ID); err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	rec := h.records.bySource["m1"]
	if rec == nil {
		t.Fatal("record missing")
	}
	if rec.ExtractionStatus != constants.ExtractionPartial {
		t.Fatalf("extraction status = %s, want PARTIAL", rec.ExtractionStatus)
	}
}
