// Package classify decides, per fetched message, whether it plausibly
// contains a financial document and which extraction path applies. The
// decision is state-free; all heuristics live in the rule tables.
package classify

import (
	"strings"

	"github.com/ledgermail/extractor/internal/entity"
)

// Path is the classification outcome for one message.
type Path string

const (
	// AttachmentPath extracts from a qualifying document attachment.
	AttachmentPath Path = "ATTACHMENT"
	// BodyPath extracts from the rendered body content.
	BodyPath Path = "BODY"
	// Reject skips the message and counts it as rejected.
	Reject Path = "REJECT"
)

// Reject reasons, surfaced in logs and useful in tests.
const (
	ReasonNewsletter       = "newsletter"
	ReasonNoKeyword        = "subject has no financial keyword"
	ReasonEmptyBody        = "body empty after stripping markup"
	ReasonNoDocumentID     = "no document identifier in body"
	ReasonNoPaymentMethod  = "no payment method mention in body"
	ReasonNoTotalAmount    = "no total amount with currency in body"
	ReasonNoDate           = "no recognizable date in body"
)

// Decision is the classifier verdict for one candidate.
type Decision struct {
	Path   Path
	Reason string
	// UseMessageDate is set when the order-confirmation exception applied:
	// the body carries no explicit date, so the message's own timestamp
	// substitutes for it downstream.
	UseMessageDate bool
}

// Classifier holds the few tunable switches around the rule tables.
type Classifier struct {
	// AllowConfirmationWithoutDate enables the heuristic exception that lets
	// an order-confirmation subject skip the date-presence check when the
	// identifier/payment/amount checks already passed. Deliberately
	// overridable: the rule can admit false positives.
	AllowConfirmationWithoutDate bool
}

// New returns a classifier with the default rule switches.
func New() *Classifier {
	return &Classifier{AllowConfirmationWithoutDate: true}
}

// Classify runs the decision function over one candidate.
func (c *Classifier) Classify(cand *entity.Candidate) Decision {
	subject := cand.Subject
	isNewsletter := c.isNewsletter(cand)
	_, subjectFinancial := matchAny(financialKeywordRules, subject)

	// Newsletter suppression: marketing mail is rejected outright unless the
	// subject also reads like a receipt (subscription invoices arrive as
	// "newsletter" senders too).
	if isNewsletter && !subjectFinancial {
		return Decision{Path: Reject, Reason: ReasonNewsletter}
	}

	if cand.HasQualifyingAttachment() {
		return Decision{Path: AttachmentPath}
	}

	// Body-validation chain. Short-circuits on the first failed check.
	if !subjectFinancial {
		return Decision{Path: Reject, Reason: ReasonNoKeyword}
	}
	body := cand.BodyText
	if strings.TrimSpace(body) == "" {
		return Decision{Path: Reject, Reason: ReasonEmptyBody}
	}
	if _, ok := matchAny(documentIDRules, body); !ok {
		return Decision{Path: Reject, Reason: ReasonNoDocumentID}
	}
	if _, ok := matchAny(paymentMethodRules, body); !ok {
		return Decision{Path: Reject, Reason: ReasonNoPaymentMethod}
	}
	if _, ok := matchAny(totalAmountRules, body); !ok {
		return Decision{Path: Reject, Reason: ReasonNoTotalAmount}
	}
	if _, ok := matchAny(dateRules, body); !ok {
		if c.confirmationDateException(subject, isNewsletter) {
			return Decision{Path: BodyPath, UseMessageDate: true}
		}
		return Decision{Path: Reject, Reason: ReasonNoDate}
	}
	return Decision{Path: BodyPath}
}

// confirmationDateException permits a dateless order confirmation through the
// chain; checks 4-6 have already passed when this is consulted.
func (c *Classifier) confirmationDateException(subject string, isNewsletter bool) bool {
	if !c.AllowConfirmationWithoutDate || isNewsletter {
		return false
	}
	_, ok := matchAny(orderConfirmationRules, subject)
	return ok
}

func (c *Classifier) isNewsletter(cand *entity.Candidate) bool {
	if _, ok := matchAny(newsletterRules, cand.Subject); ok {
		return true
	}
	_, ok := matchAny(newsletterRules, cand.Sender)
	return ok
}
