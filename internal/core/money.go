// Package core provides money parsing and handling utilities.
//
// Amounts on Colombian receipts are written with "." as thousands grouping
// ("45.000") but OCR output and foreign templates mix in "," and decimal
// parts. A numeric token is recognised by the grammar
//
//	token    = group { sep digit digit digit } [ sep digit digit ]
//	group    = digit [ digit [ digit ] ]      (or any run of digits)
//	sep      = "." | ","
//
// and disambiguated as follows: when both separators occur, the one that
// occurs last is the decimal separator; when only one separator type occurs
// it is thousands grouping and a trailing two-digit part is dropped.
package core

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// maxAmount bounds parsed values to what float64 represents exactly.
const maxAmount = 1 << 53

var (
	currencyMarkers = strings.NewReplacer("COP", " ", "$", " ")

	// amountToken locates the first amount in a labelled fragment.
	amountToken = regexp.MustCompile(`\d{1,3}(?:[.,]\d{3})+(?:[.,]\d{2})?|\d+(?:[.,]\d{2})?`)

	// scanToken locates candidate amounts in free text. Bare runs shorter
	// than four digits (days, times, counts) are ignored.
	scanToken = regexp.MustCompile(`\d{1,3}(?:[.,]\d{3})+(?:[.,]\d{2})?|\d{4,}(?:[.,]\d{2})?`)
)

// ParseAmount extracts the first amount in fragment.
//
// Currency markers ("$", "COP") are stripped and whitespace collapsed before
// matching. The result is rounded to whole pesos. Returns ErrAmountNotFound
// when no positive amount can be read.
//
// Examples:
//
//	ParseAmount("$45.000")       -> 45000
//	ParseAmount("COP 1.234,56")  -> 1235
//	ParseAmount("1,234.40")      -> 1234
//	ParseAmount("total")         -> ErrAmountNotFound
func ParseAmount(fragment string) (Money, error) {
	s := normalizeFragment(fragment)
	tok := amountToken.FindString(s)
	if tok == "" {
		return Money{}, ErrAmountNotFound
	}
	return tokenAmount(tok)
}

// ParseMaxAmount scans every numeric token in text and returns the largest
// amount that parses.
func ParseMaxAmount(text string) (Money, error) {
	s := normalizeFragment(text)
	var best Money
	for _, tok := range scanToken.FindAllString(s, -1) {
		m, err := tokenAmount(tok)
		if err != nil {
			continue
		}
		if m.Pesos > best.Pesos {
			best = m
		}
	}
	if !best.Known() {
		return Money{}, ErrAmountNotFound
	}
	return best, nil
}

func normalizeFragment(s string) string {
	s = currencyMarkers.Replace(strings.ToUpper(s))
	return strings.Join(strings.Fields(s), " ")
}

func tokenAmount(tok string) (Money, error) {
	lastDot := strings.LastIndexByte(tok, '.')
	lastComma := strings.LastIndexByte(tok, ',')

	var num string
	if lastDot >= 0 && lastComma >= 0 {
		dec := max(lastDot, lastComma)
		num = stripSeparators(tok[:dec]) + "." + tok[dec+1:]
	} else {
		// Single separator type: grouping only. A trailing two-digit part
		// after a separator is not a decimal in this reading and is dropped.
		if sep := max(lastDot, lastComma); sep >= 0 && len(tok)-sep-1 == 2 {
			tok = tok[:sep]
		}
		num = stripSeparators(tok)
	}

	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return Money{}, ErrAmountNotFound
	}
	v = math.Round(math.Abs(v))
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 || v > maxAmount {
		return Money{}, ErrAmountNotFound
	}
	return Money{Pesos: int64(v)}, nil
}

func stripSeparators(s string) string {
	return strings.NewReplacer(".", "", ",", "").Replace(s)
}

// FormatCOP renders n with Spanish digit grouping ("45.000").
func FormatCOP(n int64) string {
	return message.NewPrinter(language.Spanish).Sprintf("%d", n)
}
