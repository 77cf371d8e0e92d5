package invoice

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// DefaultAmountTolerance is how far a cheque amount may drift from an
	// invoice amount and still count as the same payment.
	DefaultAmountTolerance = decimal.RequireFromString("0.01")

	// SuggestionTolerance bounds the invoices offered for manual review.
	SuggestionTolerance = decimal.NewFromInt(50)
)

// SuggestionLimit caps the number of invoices offered for manual review.
const SuggestionLimit = 3

// Index defines the read operations the matcher runs against invoices.
// Lookups that find nothing return a nil invoice and a nil error.
type Index interface {
	// FindByAmount returns the first pending invoice within tolerance of amount
	FindByAmount(amount, tolerance decimal.Decimal) (*Invoice, error)

	// FindByCustomer returns the first invoice whose customer name overlaps name
	FindByCustomer(name string) (*Invoice, error)

	// FindSimilarAmounts returns up to limit pending invoices within tolerance
	FindSimilarAmounts(amount, tolerance decimal.Decimal, limit int) ([]*Invoice, error)

	// GetInvoice retrieves an invoice by ID
	GetInvoice(id string) (*Invoice, error)

	// ListInvoices returns all invoices in collection order
	ListInvoices() ([]*Invoice, error)
}

// Store is an Index that can also be written to.
type Store interface {
	Index

	// SaveInvoice inserts or replaces an invoice, keeping its position
	SaveInvoice(invoice *Invoice) error

	// Settle records a completed reconciliation. If the settlement names an
	// invoice, that invoice is marked paid in the same update.
	Settle(settlement *Settlement) error

	// GetSettlement retrieves a settlement by ID
	GetSettlement(id string) (*Settlement, error)

	// ListSettlements returns all settlements in the order they were written
	ListSettlements() ([]*Settlement, error)

	// Close releases the store
	Close() error
}

// The functions below define lookup semantics once, over an ordered
// collection, so every Store answers the same way.

func findByAmount(invoices []*Invoice, amount, tolerance decimal.Decimal) *Invoice {
	for _, inv := range invoices {
		if inv.IsPending() && withinTolerance(inv.Amount, amount, tolerance) {
			return inv
		}
	}
	return nil
}

// findByCustomer ignores status. Amount lookups only consider pending
// invoices; name lookups have always matched any invoice.
func findByCustomer(invoices []*Invoice, name string) *Invoice {
	query := normalizeName(name)
	if strings.TrimSpace(query) == "" {
		return nil
	}
	for _, inv := range invoices {
		candidate := normalizeName(inv.CustomerName)
		if strings.Contains(candidate, query) || strings.Contains(query, candidate) {
			return inv
		}
	}
	return nil
}

func findSimilarAmounts(invoices []*Invoice, amount, tolerance decimal.Decimal, limit int) []*Invoice {
	similar := make([]*Invoice, 0, limit)
	for _, inv := range invoices {
		if len(similar) >= limit {
			break
		}
		if inv.IsPending() && withinTolerance(inv.Amount, amount, tolerance) {
			similar = append(similar, inv)
		}
	}
	return similar
}

func withinTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}

// normalizeName lower-cases s and drops everything except a-z and spaces.
func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || r == ' ' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
