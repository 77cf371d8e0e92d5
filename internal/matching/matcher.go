// Package matching decides which outstanding invoice a cheque pays.
//
// Strategies are tried in a fixed order and the first hit wins. The
// confidence of a decision comes from the strategy that produced it, not
// from any statistical score.
package matching

import (
	"errors"
	"fmt"

	"github.com/zombor/cheque-reconciler/internal/extraction"
	"github.com/zombor/cheque-reconciler/internal/invoice"
)

// ErrInvalidSelection is returned when a manually selected invoice cannot be
// used for a match.
var ErrInvalidSelection = errors.New("invalid invoice selection")

// MatchType records how a decision was reached.
type MatchType string

const (
	MatchNone     MatchType = "none"
	MatchAmount   MatchType = "amount"
	MatchCustomer MatchType = "customer"
	MatchManual   MatchType = "manual"
	MatchRejected MatchType = "rejected"
)

// Status tags a decision for downstream handling. Unmatched means the
// system found nothing; NeedsReview means a person rejected every option.
type Status string

const (
	StatusMatched     Status = "matched"
	StatusUnmatched   Status = "unmatched"
	StatusNeedsReview Status = "needs_review"
)

const (
	AmountConfidence   = 90
	CustomerConfidence = 70
	ManualConfidence   = 100
)

// Decision is the outcome of one matching attempt. A later attempt produces
// a new Decision; decisions are never modified.
type Decision struct {
	Success        bool               `json:"success"`
	MatchType      MatchType          `json:"match_type"`
	Confidence     int                `json:"confidence"`
	MatchedInvoice *invoice.Invoice   `json:"matched_invoice"`
	ExtractedData  extraction.Fields  `json:"extracted_data"`
	Suggestions    []*invoice.Invoice `json:"suggestions"`
	Status         Status             `json:"status"`
}

// Matcher runs the tiered strategy against an invoice index
type Matcher struct {
	index invoice.Index
}

// NewMatcher creates a new Matcher
func NewMatcher(index invoice.Index) *Matcher {
	return &Matcher{index: index}
}

// Match tries the amount first, then the payer name. When both miss, the
// decision carries invoices with a similar amount as suggestions. The only
// errors come from the index.
func (m *Matcher) Match(fields extraction.Fields) (*Decision, error) {
	if fields.HasAmount() {
		inv, err := m.index.FindByAmount(*fields.Amount, invoice.DefaultAmountTolerance)
		if err != nil {
			return nil, fmt.Errorf("finding invoice by amount: %w", err)
		}
		if inv != nil {
			return matched(fields, inv, MatchAmount, AmountConfidence), nil
		}
	}

	if fields.PayerName != "" {
		inv, err := m.index.FindByCustomer(fields.PayerName)
		if err != nil {
			return nil, fmt.Errorf("finding invoice by customer: %w", err)
		}
		if inv != nil {
			return matched(fields, inv, MatchCustomer, CustomerConfidence), nil
		}
	}

	suggestions := []*invoice.Invoice{}
	if fields.HasAmount() {
		similar, err := m.index.FindSimilarAmounts(*fields.Amount, invoice.SuggestionTolerance, invoice.SuggestionLimit)
		if err != nil {
			return nil, fmt.Errorf("finding similar invoices: %w", err)
		}
		suggestions = append(suggestions, similar...)
	}

	return &Decision{
		Success:       false,
		MatchType:     MatchNone,
		Confidence:    0,
		ExtractedData: fields,
		Suggestions:   suggestions,
		Status:        StatusUnmatched,
	}, nil
}

// ApplyManualMatch records a person's choice of invoice. Any non-nil invoice
// is trusted as given.
func (m *Matcher) ApplyManualMatch(fields extraction.Fields, inv *invoice.Invoice) (*Decision, error) {
	if inv == nil {
		return nil, fmt.Errorf("%w: no invoice chosen", ErrInvalidSelection)
	}
	return matched(fields, inv, MatchManual, ManualConfidence), nil
}

// SelectInvoice resolves invoiceID and applies it as a manual match. Unknown
// or already paid invoices are rejected with ErrInvalidSelection.
func (m *Matcher) SelectInvoice(fields extraction.Fields, invoiceID string) (*Decision, error) {
	if invoiceID == "" {
		return nil, fmt.Errorf("%w: no invoice id", ErrInvalidSelection)
	}
	inv, err := m.index.GetInvoice(invoiceID)
	if errors.Is(err, invoice.ErrNotFound) {
		return nil, fmt.Errorf("%w: invoice %s does not exist", ErrInvalidSelection, invoiceID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting invoice: %w", err)
	}
	if !inv.IsPending() {
		return nil, fmt.Errorf("%w: invoice %s is %s", ErrInvalidSelection, invoiceID, inv.Status)
	}
	return m.ApplyManualMatch(fields, inv)
}

// ApplyReject records that a person rejected every candidate invoice.
func (m *Matcher) ApplyReject(fields extraction.Fields) *Decision {
	return &Decision{
		Success:       false,
		MatchType:     MatchRejected,
		Confidence:    0,
		ExtractedData: fields,
		Suggestions:   []*invoice.Invoice{},
		Status:        StatusNeedsReview,
	}
}

func matched(fields extraction.Fields, inv *invoice.Invoice, matchType MatchType, confidence int) *Decision {
	return &Decision{
		Success:        true,
		MatchType:      matchType,
		Confidence:     confidence,
		MatchedInvoice: inv,
		ExtractedData:  fields,
		Suggestions:    []*invoice.Invoice{},
		Status:         StatusMatched,
	}
}
