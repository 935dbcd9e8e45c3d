package extract

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"
)

// NormalizeAndSanitizeJSON
// - Renames known synonyms (merchant_name -> vendor_name, tax -> tax_amount)
// - Drops null/empty optionals
// - Coerces numeric -> string for money-ish fields
// - Removes unknown keys (strict additionalProperties = false friendliness)
func NormalizeAndSanitizeJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	dropped := make([]string, 0, 8)
	renamed := func(from, to string) {
		if v, ok := m[from]; ok {
			// don't overwrite existing value if already present
			if _, exists := m[to]; !exists {
				m[to] = v
			}
			delete(m, from)
			dropped = append(dropped, from+"->"+to)
		}
	}

	// 1) rename synonyms to our schema
	renamed("merchant_name", "vendor_name")
	renamed("merchant", "vendor_name")
	renamed("supplier_name", "vendor_name")
	renamed("tax", "tax_amount")
	renamed("vat", "tax_amount")
	renamed("vat_rate", "tax_rate")
	renamed("amount", "total")
	renamed("total_amount", "total")
	renamed("currency", "currency_code")
	renamed("invoice_no", "invoice_number")
	renamed("invoice_id", "invoice_number")
	renamed("order_number", "invoice_number")
	renamed("date", "document_date")
	renamed("invoice_date", "document_date")
	renamed("tx_date", "document_date")
	renamed("items", "line_items")

	// 2) drop null / "" for optionals; coerce money fields to strings
	moneyFields := []string{"subtotal", "tax_amount", "tax_rate", "total"}
	coerceMoney := func(k string) {
		if v, ok := m[k]; ok {
			switch t := v.(type) {
			case float64:
				m[k] = fmt.Sprintf("%.2f", t)
			case int:
				m[k] = fmt.Sprintf("%d", t)
			case string:
				s := strings.TrimSpace(t)
				if s == "" {
					delete(m, k)
					dropped = append(dropped, k+"(empty)")
				} else {
					m[k] = strings.ReplaceAll(s, ",", ".")
				}
			case nil:
				delete(m, k)
				dropped = append(dropped, k+"(null)")
			default:
				// unexpected type -> drop
				delete(m, k)
				dropped = append(dropped, k+"(type)")
			}
		}
	}
	for _, k := range moneyFields {
		coerceMoney(k)
	}

	// 3) normalize payment fields lightly
	if v, ok := m["payment_method"].(string); ok {
		pm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(v), " ", "_"))
		if pm != "" {
			m["payment_method"] = pm
		} else {
			delete(m, "payment_method")
			dropped = append(dropped, "payment_method(empty)")
		}
	}
	if v, ok := m["payment_last4"].(string); ok {
		s := strings.TrimSpace(v)
		// keep only last 4 digits if longer/shorter noise
		if len(s) >= 4 {
			m["payment_last4"] = s[len(s)-4:]
		} else {
			delete(m, "payment_last4")
			dropped = append(dropped, "payment_last4(short)")
		}
	}

	// 4) remove unknown keys (everything not in the schema set below)
	allowed := map[string]struct{}{
		"vendor_name": {}, "vendor_address": {}, "vendor_email": {},
		"vendor_phone": {}, "vendor_tax_id": {},
		"customer_name": {}, "customer_address": {}, "customer_email": {},
		"subtotal": {}, "tax_amount": {}, "tax_rate": {}, "total": {}, "currency_code": {},
		"document_date": {}, "due_date": {}, "payment_date": {},
		"invoice_number": {}, "line_items": {}, "payment_method": {}, "payment_last4": {},
		"confidence": {},
	}
	for k := range maps.Clone(m) {
		if _, ok := allowed[k]; !ok {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}

	// 5) trim obvious strings
	trimKeys := []string{"vendor_name", "currency_code", "invoice_number",
		"document_date", "due_date", "payment_date", "customer_name"}
	for _, k := range trimKeys {
		if v, ok := m[k].(string); ok {
			s := strings.TrimSpace(v)
			if s == "" {
				delete(m, k)
				dropped = append(dropped, k+"(empty)")
			} else {
				m[k] = s
			}
		}
	}
	if v, ok := m["currency_code"].(string); ok {
		m["currency_code"] = strings.ToUpper(v)
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("extract.normalize_sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}
