package mailparse

import (
	"context"
	"strings"
	"testing"
)

func leaf(mediaType, filename, body string) *Part {
	return &Part{MediaType: mediaType, Filename: filename, Body: []byte(body)}
}

func TestNormalizePrefersPlainText(t *testing.T) {
	root := &Part{
		MediaType: "multipart/alternative",
		Children: []*Part{
			leaf("text/plain", "", "plain body"),
			leaf("text/html", "", "<p>html body</p>"),
		},
	}

	got := Normalize(root)
	if got.BodyText != "plain body" {
		t.Fatalf("BodyText = %q, want plain part", got.BodyText)
	}
	if got.BodyHTML != "" {
		t.Fatalf("BodyHTML = %q, want empty when plain text won", got.BodyHTML)
	}
}

func TestNormalizeFallsBackToStrippedHTML(t *testing.T) {
	root := &Part{
		MediaType: "multipart/alternative",
		Children: []*Part{
			leaf("text/html", "", "<div>Total: 42,00&nbsp;&euro;</div><script>track()</script>"),
		},
	}

	got := Normalize(root)
	if got.BodyText != "Total: 42,00 €" {
		t.Fatalf("BodyText = %q", got.BodyText)
	}
	if got.BodyHTML == "" {
		t.Fatal("BodyHTML not kept for the html fallback")
	}
}

func TestNormalizeCollectsQualifyingAttachments(t *testing.T) {
	root := &Part{
		MediaType: "multipart/mixed",
		Children: []*Part{
			leaf("text/plain", "", "see attached"),
			leaf("application/pdf", "invoice_4821.pdf", "%PDF"),
			leaf("application/pdf", "terms_and_conditions.pdf", "%PDF"),
			leaf("image/gif", "logo.gif", "GIF89a"),
			leaf("application/octet-stream", "scan.jpeg", "\xff\xd8"),
		},
	}

	got := Normalize(root)
	if len(got.Attachments) != 2 {
		names := make([]string, 0, len(got.Attachments))
		for _, a := range got.Attachments {
			names = append(names, a.Filename)
		}
		t.Fatalf("attachments = %v, want invoice pdf and octet-stream jpeg", names)
	}
	if got.Attachments[0].Filename != "invoice_4821.pdf" {
		t.Fatalf("first attachment = %q, want tree order preserved", got.Attachments[0].Filename)
	}
	if got.Attachments[1].Filename != "scan.jpeg" {
		t.Fatalf("second attachment = %q", got.Attachments[1].Filename)
	}
}

func TestNormalizeExcludedFilenames(t *testing.T) {
	for _, name := range []string{
		"Terms_of_Service.pdf",
		"privacy-policy.pdf",
		"CGV.pdf",
		"AGB_2026.pdf",
		"rental_agreement.pdf",
	} {
		p := leaf("application/pdf", name, "%PDF")
		if QualifiesAsDocument(p) {
			t.Errorf("QualifiesAsDocument(%q) = true, want excluded", name)
		}
	}
}

func TestNormalizeDeepTreeTerminates(t *testing.T) {
	// Build a chain far deeper than the traversal cap; Normalize must return
	// rather than hang or overflow.
	root := &Part{MediaType: "multipart/mixed"}
	current := root
	for i := 0; i < maxDepth*4; i++ {
		child := &Part{MediaType: "multipart/mixed"}
		current.Children = []*Part{child}
		current = child
	}
	current.Children = []*Part{leaf("text/plain", "", "deep body")}

	got := Normalize(root)
	if got.BodyText != "" {
		t.Fatalf("BodyText = %q, want content below the depth cap ignored", got.BodyText)
	}
}

func TestNormalizeCyclicTreeTerminates(t *testing.T) {
	a := &Part{MediaType: "multipart/mixed"}
	b := &Part{MediaType: "multipart/mixed", Children: []*Part{a}}
	a.Children = []*Part{b}

	done := make(chan struct{})
	go func() {
		Normalize(a)
		close(done)
	}()
	select {
	case <-done:
	case <-context.Background().Done():
		t.Fatal("Normalize did not terminate on a cyclic tree")
	}
}

func TestStripMarkup(t *testing.T) {
	html := `<html><head><style>p{color:red}</style></head>
<body><p>Invoice #4821</p><table><tr><td>Total</td><td>42.00 EUR</td></tr></table>
<br>Paid with Visa</body></html>`

	got := StripMarkup(html)
	for _, want := range []string{"Invoice #4821", "Total 42.00 EUR", "Paid with Visa"} {
		if !strings.Contains(got, want) {
			t.Errorf("StripMarkup output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "color:red") {
		t.Error("style content leaked into stripped body")
	}
	if strings.Contains(got, "<") {
		t.Errorf("tag leaked into stripped body:\n%s", got)
	}
}
