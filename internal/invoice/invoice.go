// Package invoice holds the outstanding invoices a cheque can be matched
// against, and the settlements recorded when a cheque is reconciled.
package invoice

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrAlreadyPaid = errors.New("invoice already paid")
)

// Status is the payment state of an invoice.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
)

// Invoice represents an amount owed by a customer
type Invoice struct {
	ID           string          `json:"id"`
	CustomerName string          `json:"customer_name"`
	Amount       decimal.Decimal `json:"amount"`
	Date         string          `json:"date"`
	Description  string          `json:"description"`
	Status       Status          `json:"status"`
	PaidAt       *time.Time      `json:"paid_at,omitempty"`
}

// IsPending reports whether the invoice is still awaiting payment.
func (i *Invoice) IsPending() bool {
	return i.Status == StatusPending
}

// SettlementStatus is the final disposition of a reconciled cheque.
type SettlementStatus string

const (
	SettlementReconciled  SettlementStatus = "reconciled"
	SettlementNeedsReview SettlementStatus = "needs_review"
)

// Settlement is the audit record written when a cheque's reconciliation is
// completed. InvoiceID is empty when the cheque was left for review.
type Settlement struct {
	ID           string           `json:"id"`
	ChequeID     string           `json:"cheque_id"`
	InvoiceID    string           `json:"invoice_id,omitempty"`
	ChequeNumber string           `json:"cheque_number,omitempty"`
	PayerName    string           `json:"payer_name,omitempty"`
	Amount       *decimal.Decimal `json:"amount,omitempty"`
	MatchType    string           `json:"match_type"`
	Confidence   int              `json:"confidence"`
	Status       SettlementStatus `json:"status"`
	Notes        string           `json:"notes,omitempty"`
	CompletedAt  time.Time        `json:"completed_at"`
}
