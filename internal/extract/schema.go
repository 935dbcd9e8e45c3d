package extract

// BuildInvoiceJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a
// generic map. We pass it to the model as a structured output constraint and
// also use it locally to validate.
func BuildInvoiceJSONSchema() map[string]any {
	props := map[string]any{
		"vendor_name":    map[string]any{"type": "string", "minLength": 1},
		"vendor_address": map[string]any{"type": "string"},
		"vendor_email":   map[string]any{"type": "string"},
		"vendor_phone":   map[string]any{"type": "string"},
		"vendor_tax_id":  map[string]any{"type": "string"},

		"customer_name":    map[string]any{"type": "string"},
		"customer_address": map[string]any{"type": "string"},
		"customer_email":   map[string]any{"type": "string"},

		"subtotal":      decimalProp(),
		"tax_amount":    decimalProp(),
		"tax_rate":      decimalProp(),
		"total":         decimalProp(),
		"currency_code": map[string]any{"type": "string", "minLength": 3, "maxLength": 3},

		"document_date": dateProp(),
		"due_date":      dateProp(),
		"payment_date":  dateProp(),

		"invoice_number": map[string]any{"type": "string"},
		"line_items": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"description": map[string]any{"type": "string"},
					"quantity":    decimalProp(),
					"unit_price":  decimalProp(),
					"amount":      decimalProp(),
				},
				"required": []string{"description"},
			},
		},
		"payment_method": map[string]any{"type": "string"},
		"payment_last4":  map[string]any{"type": "string", "minLength": 4, "maxLength": 4, "pattern": `^\d{4}$`},

		"confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
	}
	required := []string{"vendor_name", "total", "currency_code"}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	}
}

func decimalProp() map[string]any {
	return map[string]any{
		"type":    "string",
		"pattern": `^-?\d+(\.\d{1,4})?$`,
	}
}

func dateProp() map[string]any {
	return map[string]any{
		"type":    "string",
		"pattern": `^\d{4}-\d{2}-\d{2}$`,
	}
}
