package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgermail/extractor/internal/common"
	"github.com/ledgermail/extractor/internal/entity"
)

type RecordRepository interface {
	// FindIDBySourceMessage resolves the record already linked to a source
	// message, if any. Drives the update-instead-of-insert path across runs.
	FindIDBySourceMessage(ctx context.Context, userID uuid.UUID, messageID string) (uuid.UUID, bool, error)
	Insert(ctx context.Context, rec *entity.ExtractedRecord) (*entity.ExtractedRecord, error)
	UpdateBySourceMessage(ctx context.Context, rec *entity.ExtractedRecord) error
	// ListInWindow returns the user's records whose document date falls in
	// [from, to], plus records with no document date at all (partial
	// extractions key on an empty date); the dedup index is preloaded from
	// it at job start.
	ListInWindow(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*entity.ExtractedRecord, error)
	// CountForJob re-reads the durable persisted count during finalization.
	CountForJob(ctx context.Context, jobID uuid.UUID) (int32, error)
	// CountCreatedSince seeds the monthly quota counter.
	CountCreatedSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
}

type recordRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewRecordRepository(pool *pgxpool.Pool, logger *slog.Logger) RecordRepository {
	return &recordRepository{pool: pool, logger: logger}
}

func (r *recordRepository) FindIDBySourceMessage(ctx context.Context, userID uuid.UUID, messageID string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT id FROM extracted_records
		WHERE user_id = $1 AND source_message_id = $2
	`, userID, messageID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	return id, true, nil
}

func (r *recordRepository) Insert(ctx context.Context, rec *entity.ExtractedRecord) (*entity.ExtractedRecord, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO extracted_records (
			user_id, job_id, source_message_id,
			vendor_name, vendor_address, vendor_email, vendor_phone, vendor_tax_id,
			customer_name, customer_address, customer_email,
			subtotal, tax_amount, tax_rate, total, currency_code,
			document_date, due_date, payment_date,
			invoice_number, line_items, payment_method, payment_last4,
			confidence, extraction_status, artifact_url
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,
			$17,$18,$19,$20,$21,$22,$23,$24,$25,$26
		)
		RETURNING id, created_at, updated_at
	`,
		rec.UserID, rec.JobID, rec.SourceMessageID,
		rec.VendorName, nullStr(rec.VendorAddress), nullStr(rec.VendorEmail), nullStr(rec.VendorPhone), nullStr(rec.VendorTaxID),
		nullStr(rec.CustomerName), nullStr(rec.CustomerAddress), nullStr(rec.CustomerEmail),
		rec.Subtotal, rec.TaxAmount, rec.TaxRate, rec.Total, rec.CurrencyCode,
		rec.DocumentDate, rec.DueDate, rec.PaymentDate,
		nullStr(rec.InvoiceNumber), rec.LineItems, nullStr(rec.PaymentMethod), nullStr(rec.PaymentLast4),
		rec.Confidence, string(rec.ExtractionStatus), nullStr(rec.ArtifactURL),
	)
	if err := row.Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		r.logger.Error("record insert failed", "job_id", rec.JobID,
			"message_id", rec.SourceMessageID, "error", err)
		return nil, common.NewAppError(common.KindPersistenceConflict, "insert record", err)
	}
	r.logger.Info("record inserted", "record_id", rec.ID, "job_id", rec.JobID,
		"vendor", rec.VendorName, "total", rec.Total, "currency", rec.CurrencyCode)
	return rec, nil
}

func (r *recordRepository) UpdateBySourceMessage(ctx context.Context, rec *entity.ExtractedRecord) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE extracted_records
		SET job_id = $3,
			vendor_name = $4, vendor_address = $5, vendor_email = $6,
			vendor_phone = $7, vendor_tax_id = $8,
			customer_name = $9, customer_address = $10, customer_email = $11,
			subtotal = $12, tax_amount = $13, tax_rate = $14, total = $15, currency_code = $16,
			document_date = $17, due_date = $18, payment_date = $19,
			invoice_number = $20, line_items = $21, payment_method = $22, payment_last4 = $23,
			confidence = $24, extraction_status = $25, artifact_url = $26,
			updated_at = now()
		WHERE user_id = $1 AND source_message_id = $2
	`,
		rec.UserID, rec.SourceMessageID, rec.JobID,
		rec.VendorName, nullStr(rec.VendorAddress), nullStr(rec.VendorEmail),
		nullStr(rec.VendorPhone), nullStr(rec.VendorTaxID),
		nullStr(rec.CustomerName), nullStr(rec.CustomerAddress), nullStr(rec.CustomerEmail),
		rec.Subtotal, rec.TaxAmount, rec.TaxRate, rec.Total, rec.CurrencyCode,
		rec.DocumentDate, rec.DueDate, rec.PaymentDate,
		nullStr(rec.InvoiceNumber), rec.LineItems, nullStr(rec.PaymentMethod), nullStr(rec.PaymentLast4),
		rec.Confidence, string(rec.ExtractionStatus), nullStr(rec.ArtifactURL),
	)
	if err != nil {
		r.logger.Error("record update failed", "message_id", rec.SourceMessageID, "error", err)
		return common.NewAppError(common.KindPersistenceConflict, "update record", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NewAppError(common.KindPersistenceConflict, "record vanished during update", nil)
	}
	r.logger.Info("record updated", "job_id", rec.JobID, "message_id", rec.SourceMessageID)
	return nil
}

func (r *recordRepository) ListInWindow(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*entity.ExtractedRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, source_message_id, vendor_name, invoice_number, total, currency_code, document_date
		FROM extracted_records
		WHERE user_id = $1
		  AND (document_date BETWEEN $2 AND $3 OR document_date IS NULL)
	`, userID, from, to)
	if err != nil {
		r.logger.Error("failed to list records in window", "user_id", userID, "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []*entity.ExtractedRecord
	for rows.Next() {
		var (
			rec     entity.ExtractedRecord
			invoice *string
		)
		if err := rows.Scan(&rec.ID, &rec.SourceMessageID, &rec.VendorName,
			&invoice, &rec.Total, &rec.CurrencyCode, &rec.DocumentDate); err != nil {
			return nil, err
		}
		if invoice != nil {
			rec.InvoiceNumber = *invoice
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (r *recordRepository) CountForJob(ctx context.Context, jobID uuid.UUID) (int32, error) {
	var n int32
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM extracted_records WHERE job_id = $1`, jobID).Scan(&n)
	return n, err
}

func (r *recordRepository) CountCreatedSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM extracted_records WHERE user_id = $1 AND created_at >= $2`,
		userID, since).Scan(&n)
	return n, err
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
