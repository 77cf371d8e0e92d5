// Package extraction turns raw recognised cheque text into typed fields.
//
// Every field is best-effort. A field that cannot be found is left unset;
// extraction itself never fails.
package extraction

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// Comma-grouped numbers ("1,200.00") or a plain digit run ("5000.00"),
	// optionally prefixed by a dollar sign.
	amountPattern = regexp.MustCompile(`\$?(\d{1,3}(?:,\d{3})+(?:\.\d{2})?|\d+(?:\.\d{2})?)`)

	// "No. 4521", "no 4521", "#004521"
	chequeNumberPattern = regexp.MustCompile(`(?i)(?:no\.?|#)\s*(\d{3,6})`)

	// "Memo: invoice 12", "For: paint", "Re: INV-003"
	memoPattern = regexp.MustCompile(`(?i)(?:memo|for|re):\s*(.+?)(?:\n|$)`)

	// 15/09/2024, 1-9-24
	datePattern = regexp.MustCompile(`(\d{1,2}[/\-]\d{1,2}[/\-](?:\d{4}|\d{2}))`)

	// Lines that look like addresses, amounts or account numbers.
	payerRejectPattern = regexp.MustCompile(`(?i)^\d+$|^\$|street|ave|road|drive|blvd|\d{5}|\d{4}-\d{4}`)
	payerAcceptPattern = regexp.MustCompile(`^[a-zA-Z\s]{3,}$`)
)

var (
	minAmount = decimal.Zero
	maxAmount = decimal.NewFromInt(100000)
)

// Fields holds the values pulled from a cheque. A nil Amount or an empty
// string means the field was not found.
type Fields struct {
	Amount       *decimal.Decimal `json:"amount,omitempty"`
	ChequeNumber string           `json:"cheque_number,omitempty"`
	PayerName    string           `json:"payer_name,omitempty"`
	Memo         string           `json:"memo,omitempty"`
	Date         string           `json:"date,omitempty"` // verbatim, not validated
}

// HasAmount reports whether an amount was extracted.
func (f Fields) HasAmount() bool {
	return f.Amount != nil
}

// IsEmpty reports whether no field at all was extracted.
func (f Fields) IsEmpty() bool {
	return f.Amount == nil && f.ChequeNumber == "" && f.PayerName == "" && f.Memo == "" && f.Date == ""
}

// Extract parses recognised text into Fields. Each field is located
// independently of the others.
func Extract(text string) Fields {
	return Fields{
		Amount:       extractAmount(text),
		ChequeNumber: extractChequeNumber(text),
		PayerName:    extractPayerName(text),
		Memo:         extractMemo(text),
		Date:         extractDate(text),
	}
}

// extractAmount returns the largest plausible amount in the text. Values of
// 100000 or more are treated as account or routing numbers, and digits that
// belong to a date are not amounts.
func extractAmount(text string) *decimal.Decimal {
	dates := datePattern.FindAllStringIndex(text, -1)

	var best *decimal.Decimal
	for _, loc := range amountPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[2], loc[3]
		if insideAny(dates, start, end) {
			continue
		}
		v, err := decimal.NewFromString(strings.ReplaceAll(text[start:end], ",", ""))
		if err != nil {
			continue
		}
		if !v.GreaterThan(minAmount) || !v.LessThan(maxAmount) {
			continue
		}
		if best == nil || v.GreaterThan(*best) {
			candidate := v
			best = &candidate
		}
	}
	return best
}

// insideAny reports whether [start, end) overlaps one of the spans
func insideAny(spans [][]int, start, end int) bool {
	for _, span := range spans {
		if start < span[1] && end > span[0] {
			return true
		}
	}
	return false
}

func extractChequeNumber(text string) string {
	return firstGroup(chequeNumberPattern, text)
}

func extractMemo(text string) string {
	return strings.TrimSpace(firstGroup(memoPattern, text))
}

func extractDate(text string) string {
	return firstGroup(datePattern, text)
}

// extractPayerName returns the first line that reads like a person or
// company name.
func extractPayerName(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || payerRejectPattern.MatchString(line) {
			continue
		}
		if payerAcceptPattern.MatchString(line) {
			return line
		}
	}
	return ""
}

func firstGroup(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
