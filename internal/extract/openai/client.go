package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ledgermail/extractor/internal/common"
	"github.com/ledgermail/extractor/internal/extract"
)

// Extract implements extract.Extractor using chat/completions. Attachment
// candidates go through the vision/file content path (base64 data URL); body
// candidates go text-only.
func (c *Client) Extract(ctx context.Context, req extract.Request) (extract.RecordFields, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("extract.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"text_len", len(req.Text),
		"document_bytes", len(req.Document),
		"content_type", req.ContentType,
		"default_currency", req.DefaultCurrency,
	)

	schema := extract.BuildInvoiceJSONSchema()
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": buildSystemPrompt(req)},
			{"role": "user", "content": buildUserContent(req)},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, httpErr := c.post(ctx, endpoint, body)
	if httpErr != nil {
		c.log.Error("extract.http_error",
			"req_id", rid, "error", httpErr,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return extract.RecordFields{}, nil, httpErr
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("extract.decode_error", "req_id", rid, "error", err, "raw_bytes", len(raw))
		return extract.RecordFields{}, raw,
			common.NewAppError(common.KindExtractionFailure, "decode response", err)
	}
	if len(cc.Choices) == 0 {
		c.log.Error("extract.no_choices", "req_id", rid, "raw", string(raw))
		return extract.RecordFields{}, raw,
			common.NewAppError(common.KindExtractionFailure, "no choices in response", nil)
	}
	rawContent := []byte(strings.TrimSpace(cc.Choices[0].Message.Content))

	// Validate strictly first.
	if err := extract.ValidateJSONAgainstSchema(schema, rawContent); err != nil {
		if !c.cfg.LenientOptional {
			c.log.Error("extract.schema_validation_failed", "req_id", rid, "error", err)
			return extract.RecordFields{}, rawContent,
				common.NewAppError(common.KindExtractionFailure, "schema validation failed", err)
		}
		// Try a lenient sanitize: drop/normalize optional offenders and re-validate.
		cleaned, dropped, sErr := extract.NormalizeAndSanitizeJSON(rawContent, c.log)
		if sErr != nil {
			c.log.Error("extract.sanitize_failed", "req_id", rid, "error", sErr)
			return extract.RecordFields{}, rawContent,
				common.NewAppError(common.KindExtractionFailure, "sanitize failed", sErr)
		}
		if vErr := extract.ValidateJSONAgainstSchema(schema, cleaned); vErr != nil {
			c.log.Error("extract.schema_validation_failed",
				"req_id", rid, "error", vErr, "content", string(rawContent))
			return extract.RecordFields{}, rawContent,
				common.NewAppError(common.KindExtractionFailure, "schema validation failed", vErr)
		}
		c.log.Warn("extract.lenient_sanitize_applied", "req_id", rid, "dropped", dropped)
		rawContent = cleaned
	}

	var out extract.RecordFields
	if err := json.Unmarshal(rawContent, &out); err != nil {
		c.log.Error("extract.unmarshal_failed", "req_id", rid, "error", err)
		return extract.RecordFields{}, rawContent,
			common.NewAppError(common.KindExtractionFailure, "unmarshal fields", err)
	}

	c.log.Info("extract.ok",
		"req_id", rid,
		"vendor", out.VendorName,
		"date", out.DocumentDate,
		"total", out.Total,
		"currency", out.CurrencyCode,
		"confidence", out.ModelConfidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, rawContent, nil
}

// post sends the request under the client-side rate limiter and retries
// exactly once on a transient (429/5xx) status.
func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		raw, status, err := c.doPost(ctx, url, b)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if status != 0 && status != http.StatusTooManyRequests && status < 500 {
			return nil, common.NewAppError(common.KindExtractionFailure,
				fmt.Sprintf("extraction status %d", status), err)
		}
		c.log.Warn("extract.transient_error", "attempt", attempt+1, "status", status, "error", err)
	}
	return nil, common.NewAppError(common.KindExtractionFailure, "extraction unavailable", lastErr)
}

func (c *Client) doPost(ctx context.Context, url string, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.log.Warn("response body close error", "error", err)
		}
	}(resp.Body)

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))
	}
	return raw, resp.StatusCode, nil
}

func buildSystemPrompt(req extract.Request) string {
	cur := req.DefaultCurrency
	if cur == "" {
		cur = "EUR"
	}
	parts := []string{
		"You are an invoice and receipt parser. Return ONLY JSON that matches the JSON Schema provided.",
		"Use ISO-8601 dates (YYYY-MM-DD).",
		"Currency must be a 3-letter ISO 4217 code; default to " + cur + " if uncertain.",
		"Extract vendor and customer contact details when visible.",
		"Money fields are decimal strings with a dot separator.",
		"Put the invoice or order identifier in 'invoice_number' without a leading '#'.",
		"List purchased items under 'line_items'.",
		"Report how certain you are in 'confidence' (0..1).",
		"Never output null. If a field is not present, omit it.",
	}
	return strings.Join(parts, " ")
}

// buildUserContent returns either a plain string (body path) or the
// multi-part content array carrying the document (attachment path).
func buildUserContent(req extract.Request) any {
	header := fmt.Sprintf("Email subject: %s\nEmail sender: %s\nEmail date: %s\n",
		req.Subject, req.Sender, req.MessageDate.Format("2006-01-02"))

	if len(req.Document) == 0 {
		text := req.Text
		if len(text) > 6000 {
			text = text[:6000]
		}
		return header + "\nEmail body:\n" + text
	}

	encoded := base64.StdEncoding.EncodeToString(req.Document)
	dataURL := "data:" + req.ContentType + ";base64," + encoded
	parts := []map[string]any{
		{"type": "text", "text": header + "\nThe attached document is the invoice/receipt to parse."},
	}
	if strings.HasPrefix(req.ContentType, "image/") {
		parts = append(parts, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": dataURL},
		})
	} else {
		parts = append(parts, map[string]any{
			"type": "file",
			"file": map[string]any{"filename": req.Filename, "file_data": dataURL},
		})
	}
	return parts
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
