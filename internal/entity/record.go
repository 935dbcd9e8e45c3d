package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ledgermail/extractor/constants"
)

// ExtractedRecord is the normalized structured output of one accepted
// candidate. Keyed by source message id: a re-extraction of the same message
// updates the row in place, it never duplicates it.
type ExtractedRecord struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	JobID           uuid.UUID `json:"job_id"`
	SourceMessageID string    `json:"source_message_id"`

	VendorName    string `json:"vendor_name"`
	VendorAddress string `json:"vendor_address,omitempty"`
	VendorEmail   string `json:"vendor_email,omitempty"`
	VendorPhone   string `json:"vendor_phone,omitempty"`
	VendorTaxID   string `json:"vendor_tax_id,omitempty"`

	CustomerName    string `json:"customer_name,omitempty"`
	CustomerAddress string `json:"customer_address,omitempty"`
	CustomerEmail   string `json:"customer_email,omitempty"`

	Subtotal     *float64 `json:"subtotal,omitempty"`
	TaxAmount    *float64 `json:"tax_amount,omitempty"`
	TaxRate      *float64 `json:"tax_rate,omitempty"`
	Total        float64  `json:"total"`
	CurrencyCode string   `json:"currency_code"`

	DocumentDate *time.Time `json:"document_date,omitempty"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	PaymentDate  *time.Time `json:"payment_date,omitempty"`

	InvoiceNumber string          `json:"invoice_number,omitempty"`
	LineItems     json.RawMessage `json:"line_items,omitempty"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	PaymentLast4  string          `json:"payment_last4,omitempty"`

	Confidence       float32                    `json:"confidence"`
	ExtractionStatus constants.ExtractionStatus `json:"extraction_status"`
	ArtifactURL      string                     `json:"artifact_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
