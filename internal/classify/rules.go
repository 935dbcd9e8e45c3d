package classify

import "regexp"

// Rule is one declarative heuristic: a compiled pattern with a label and the
// locale(s) it came from. The classifier is a fold over rule tables rather
// than a procedural cascade, so every rule stays testable on its own.
type Rule struct {
	Label   string
	Locale  string
	Pattern *regexp.Regexp
}

func rule(label, locale, expr string) Rule {
	return Rule{Label: label, Locale: locale, Pattern: regexp.MustCompile(expr)}
}

// matchAny folds over a rule table and returns the first matching rule.
func matchAny(rules []Rule, s string) (Rule, bool) {
	for _, r := range rules {
		if r.Pattern.MatchString(s) {
			return r, true
		}
	}
	return Rule{}, false
}

// financialKeywordRules recognize financial-document vocabulary in subjects.
var financialKeywordRules = []Rule{
	rule("invoice", "en", `(?i)\binvoice\b`),
	rule("receipt", "en", `(?i)\breceipt\b`),
	rule("order", "en", `(?i)\border\b`),
	rule("booking", "en", `(?i)\b(booking|reservation)\b`),
	rule("payment", "en", `(?i)\b(payment|paid|billing|purchase|subscription)\b`),
	rule("facture", "fr", `(?i)\bfacture\b`),
	rule("recu", "fr", `(?i)\bre[çc]u\b`),
	rule("commande", "fr", `(?i)\bcommande\b`),
	rule("paiement", "fr", `(?i)\b(paiement|r[ée]servation|abonnement)\b`),
	rule("rechnung", "de", `(?i)\b(rechnung|quittung)\b`),
	rule("bestellung", "de", `(?i)\b(bestellung|zahlung|buchung)\b`),
	rule("factura", "es", `(?i)\b(factura|recibo|pedido|pago)\b`),
	rule("fattura", "it", `(?i)\b(fattura|ricevuta|ordine|pagamento)\b`),
}

// newsletterRules flag bulk/marketing senders and subjects.
var newsletterRules = []Rule{
	rule("newsletter", "en", `(?i)newsletter`),
	rule("infolettre", "fr", `(?i)infolettre`),
	rule("weekly_digest", "en", `(?i)\b(weekly|monthly) digest\b`),
}

// documentIDRules match a document/order identifier inside the body.
var documentIDRules = []Rule{
	rule("hash_id", "any", `#[A-Za-z0-9][A-Za-z0-9-]{3,}`),
	rule("labeled_id", "en", `(?i)\b(order|invoice|reference|confirmation)\s*(number|no\.?|id)?\s*[:#]?\s*[A-Za-z0-9][A-Za-z0-9-]{3,}`),
	rule("labeled_id", "fr", `(?i)\b(num[ée]ro de )?(commande|facture|r[ée]f[ée]rence)\s*(n[°o]\.?)?\s*[:#]?\s*[A-Za-z0-9][A-Za-z0-9-]{3,}`),
	rule("labeled_id", "de", `(?i)\b(bestell|rechnungs|auftrags)(nummer|nr\.?)\s*[:#]?\s*[A-Za-z0-9][A-Za-z0-9-]{3,}`),
}

// paymentMethodRules match a recognizable payment mention.
var paymentMethodRules = []Rule{
	rule("card_brand", "any", `(?i)\b(visa|mastercard|maestro|amex|american express|paypal|apple pay|google pay|klarna|stripe)\b`),
	rule("card_last4", "en", `(?i)(card )?ending (in|with)\s*\d{4}`),
	rule("card_last4", "fr", `(?i)se terminant par\s*\d{4}`),
	rule("card_last4", "de", `(?i)endet auf\s*\d{4}`),
	rule("card_last4_masked", "any", `[x*•]{2,}\s?\d{4}`),
	rule("paid_via", "en", `(?i)\bpaid (via|with|by)\b`),
	rule("paid_via", "fr", `(?i)\bpay[ée] (par|via|avec)\b`),
	rule("bank_transfer", "en", `(?i)\b(bank transfer|direct debit|sepa|iban)\b`),
	rule("bank_transfer", "fr", `(?i)\b(virement|pr[ée]l[èe]vement)\b`),
	rule("bank_transfer", "de", `(?i)\b([üu]berweisung|lastschrift)\b`),
}

// totalAmountRules require a total-amount mention paired with a currency
// symbol or ISO code on the same line.
var totalAmountRules = []Rule{
	rule("total_then_amount", "any", `(?i)\b(total|amount due|montant|summe|gesamtbetrag|importe|totale)\b[^\n]{0,60}?([€$£]|\b(eur|usd|gbp|chf|cad)\b)\s*[\d.,]*\d`),
	rule("amount_then_total", "any", `(?i)\b(total|amount due|montant|summe|gesamtbetrag|importe|totale)\b[^\n]{0,60}?\d[\d., ]*\s?([€$£]|\b(eur|usd|gbp|chf|cad)\b)`),
}

// dateRules match a recognizable document date in one of several formats.
var dateRules = []Rule{
	rule("iso_date", "any", `\b\d{4}-\d{2}-\d{2}\b`),
	rule("numeric_date", "any", `\b\d{1,2}[./]\d{1,2}[./]\d{2,4}\b`),
	rule("textual_date", "en", `(?i)\b\d{1,2}(st|nd|rd|th)?\s+(january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{4}\b`),
	rule("textual_date_us", "en", `(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2},?\s+\d{4}\b`),
	rule("textual_date", "fr", `(?i)\b\d{1,2}(er)?\s+(janvier|f[ée]vrier|mars|avril|mai|juin|juillet|ao[ûu]t|septembre|octobre|novembre|d[ée]cembre)\s+\d{4}\b`),
	rule("textual_date", "de", `(?i)\b\d{1,2}\.\s*(januar|februar|m[äa]rz|april|mai|juni|juli|august|september|oktober|november|dezember)\s+\d{4}\b`),
}

// orderConfirmationRules recognize a subject announcing an order
// confirmation, the precondition of the date-exception rule.
var orderConfirmationRules = []Rule{
	rule("order_confirmation", "en", `(?i)\b(order confirmation|your order|order received|purchase confirmation)\b`),
	rule("order_confirmation", "fr", `(?i)\b(confirmation de (votre )?commande|votre commande)\b`),
	rule("order_confirmation", "de", `(?i)\b(bestellbest[äa]tigung|ihre bestellung)\b`),
}
