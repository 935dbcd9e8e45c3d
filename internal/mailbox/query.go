package mailbox

import (
	"fmt"
	"strings"
)

// queryKeywords narrow the provider-side search. Kept intentionally loose:
// missing a term here only costs efficiency, never correctness, because the
// classifier re-checks everything.
var queryKeywords = []string{
	"invoice", "receipt", "order", "payment", "booking",
	"facture", "reçu", "commande", "paiement",
	"rechnung", "quittung", "bestellung",
	"factura", "recibo", "fattura", "ricevuta",
}

// BuildQuery renders the Gmail search expression for one window.
func BuildQuery(w Window) string {
	terms := make([]string, len(queryKeywords))
	for i, k := range queryKeywords {
		terms[i] = fmt.Sprintf("%q", k)
	}
	return fmt.Sprintf("(%s OR has:attachment) after:%s before:%s -in:draft -in:spam",
		strings.Join(terms, " OR "),
		w.Start.Format("2006/01/02"),
		// Gmail's before: is exclusive; push one day past the window end.
		w.End.AddDate(0, 0, 1).Format("2006/01/02"),
	)
}
