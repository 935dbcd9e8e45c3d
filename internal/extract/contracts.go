package extract

import (
	"context"
	"time"
)

// LineItem is one free-form line of an invoice/receipt.
type LineItem struct {
	Description string `json:"description"`
	Quantity    string `json:"quantity,omitempty"`   // decimal
	UnitPrice   string `json:"unit_price,omitempty"` // decimal
	Amount      string `json:"amount,omitempty"`     // decimal
}

// RecordFields is the normalized shape we want from the extraction service.
// Money fields are decimal strings, dates are YYYY-MM-DD.
type RecordFields struct {
	VendorName    string `json:"vendor_name"`
	VendorAddress string `json:"vendor_address,omitempty"`
	VendorEmail   string `json:"vendor_email,omitempty"`
	VendorPhone   string `json:"vendor_phone,omitempty"`
	VendorTaxID   string `json:"vendor_tax_id,omitempty"`

	CustomerName    string `json:"customer_name,omitempty"`
	CustomerAddress string `json:"customer_address,omitempty"`
	CustomerEmail   string `json:"customer_email,omitempty"`

	Subtotal     string `json:"subtotal,omitempty"`
	TaxAmount    string `json:"tax_amount,omitempty"`
	TaxRate      string `json:"tax_rate,omitempty"`
	Total        string `json:"total"`
	CurrencyCode string `json:"currency_code"` // ISO 4217

	DocumentDate string `json:"document_date,omitempty"`
	DueDate      string `json:"due_date,omitempty"`
	PaymentDate  string `json:"payment_date,omitempty"`

	InvoiceNumber string     `json:"invoice_number,omitempty"`
	LineItems     []LineItem `json:"line_items,omitempty"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	PaymentLast4  string     `json:"payment_last4,omitempty"` // 4 digits

	ModelConfidence float32 `json:"confidence,omitempty"` // 0..1
}

// Request carries one candidate's content into the extraction service:
// either raw document bytes (attachment path) or cleaned body text
// (body path), never both.
type Request struct {
	Text        string
	Document    []byte
	ContentType string
	Filename    string

	Subject         string
	Sender          string
	MessageDate     time.Time
	DefaultCurrency string
}

// Extractor is the interface the job pipeline depends on.
type Extractor interface {
	Extract(ctx context.Context, req Request) (RecordFields, []byte /*rawJSON*/, error)
}
