package mailparse

import (
	"path/filepath"
	"strings"

	"github.com/ledgermail/extractor/constants"
)

// excludedFilenameTerms rejects legal/administrative attachments that ride
// along with real invoices (terms of service, privacy policies, contracts).
var excludedFilenameTerms = []string{
	"terms",
	"condition",
	"policy",
	"policies",
	"privacy",
	"contract",
	"agreement",
	"legal",
	"statute",
	"statutory",
	"cgv",
	"cgu",
	"agb",
	"mentions_legales",
	"mentions-legales",
	"datenschutz",
}

// Content is the normalizer's output for one message.
type Content struct {
	// BodyText is the first non-empty renderable body found depth-first,
	// markup already stripped. Empty when the tree has no renderable part.
	BodyText string
	// BodyHTML is the raw HTML source when the body came from a text/html
	// part; kept for optional rendering steps.
	BodyHTML string
	// Attachments lists qualifying document attachments in tree order.
	Attachments []*Part
}

// Normalize walks the MIME tree and produces the renderable body plus the
// flattened list of qualifying attachments.
func Normalize(root *Part) Content {
	var (
		out       Content
		plainBody string
		htmlBody  string
	)

	walk(root, func(p *Part, _ int) bool {
		if p.IsContainer() {
			return true
		}
		if IsAttachment(p) {
			if QualifiesAsDocument(p) {
				out.Attachments = append(out.Attachments, p)
			}
			return true
		}
		mt := strings.ToLower(p.MediaType)
		switch {
		case plainBody == "" && strings.HasPrefix(mt, "text/plain"):
			plainBody = strings.TrimSpace(string(p.Body))
		case htmlBody == "" && strings.HasPrefix(mt, "text/html"):
			htmlBody = string(p.Body)
		}
		return true
	})

	if plainBody != "" {
		out.BodyText = plainBody
	} else if htmlBody != "" {
		out.BodyText = StripMarkup(htmlBody)
		out.BodyHTML = htmlBody
	}
	return out
}

// IsAttachment reports whether a leaf part is a named binary attachment
// rather than inline body content.
func IsAttachment(p *Part) bool {
	if p.Filename == "" {
		return false
	}
	return !strings.HasPrefix(strings.ToLower(p.MediaType), "text/")
}

// QualifiesAsDocument applies the media-type/extension allow list and the
// legal/administrative filename exclusion list.
func QualifiesAsDocument(p *Part) bool {
	name := strings.ToLower(p.Filename)
	for _, term := range excludedFilenameTerms {
		if strings.Contains(name, term) {
			return false
		}
	}

	if _, ok := constants.DocumentMediaTypes[strings.ToLower(p.MediaType)]; ok {
		return true
	}
	ext := constants.NormalizeExt(filepath.Ext(name))
	_, ok := constants.DocumentExtensions[ext]
	return ok
}
