// Package classifier scores recognised document text into a category and
// extracts the document amount with category-specific strategies.
package classifier

import (
	"strings"

	"comprobantes/internal/core"
)

// PatternMaxAmount labels amounts obtained by the largest-amount fallback.
const PatternMaxAmount = "max_amount"

// Classification is the classifier's verdict for one text.
//
// Category is the keyword decision and is made before, and independently
// of, amount extraction.
type Classification struct {
	Category         core.Category
	Amount           core.Money
	InvoiceScore     int
	TransactionScore int
	// Pattern is the label of the extraction rule that yielded Amount.
	Pattern string
}

// Outcome applies the final policy: a category without an amount is
// reported as Unknown.
func (c Classification) Outcome() core.Category {
	if c.Category.Tracked() && c.Amount.Known() {
		return c.Category
	}
	return core.Unknown
}

// Hint returns the keyword category discarded by Outcome, or "" when none.
func (c Classification) Hint() core.Category {
	if c.Category.Tracked() && !c.Amount.Known() {
		return c.Category
	}
	return ""
}

type Classifier struct {
	rules *Rules
}

func New(rules *Rules) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Rules returns the configuration the classifier was built with.
func (c *Classifier) Rules() *Rules {
	return c.rules
}

// Classify is deterministic for a given text.
func (c *Classifier) Classify(text string) Classification {
	upper := strings.ToUpper(text)

	res := Classification{
		InvoiceScore:     score(upper, c.rules.invoiceKeywords),
		TransactionScore: score(upper, c.rules.transactionKeywords),
	}
	res.Category = decide(res.InvoiceScore, res.TransactionScore)

	switch res.Category {
	case core.Factura:
		res.Amount, res.Pattern = firstMatch(upper, c.rules.invoicePatterns)
	case core.Transaccion:
		res.Amount, res.Pattern = firstMatch(upper, c.rules.transactionPatterns)
		if !res.Amount.Known() {
			if m, err := core.ParseMaxAmount(upper); err == nil {
				res.Amount, res.Pattern = m, PatternMaxAmount
			}
		}
	}
	return res
}

// decide requires a margin of at least one point; 0-0 and any tie are Unknown.
func decide(invoice, transaction int) core.Category {
	switch {
	case invoice >= transaction+1:
		return core.Factura
	case transaction >= invoice+1:
		return core.Transaccion
	default:
		return core.Unknown
	}
}

func score(upper string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if strings.Contains(upper, k) {
			n++
		}
	}
	return n
}

func firstMatch(upper string, patterns []pattern) (core.Money, string) {
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(upper)
		if m == nil {
			continue
		}
		if amt, err := core.ParseAmount(m[len(m)-1]); err == nil {
			return amt, p.label
		}
	}
	return core.Money{}, ""
}
