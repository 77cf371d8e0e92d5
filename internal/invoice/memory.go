package invoice

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Memory implements the Store interface with an in-process slice. It is the
// default store when no database path is configured.
type Memory struct {
	mu          sync.RWMutex
	invoices    []*Invoice
	settlements []*Settlement
}

// NewMemory creates a Memory store holding copies of the given invoices
func NewMemory(invoices []*Invoice) *Memory {
	m := &Memory{}
	for _, inv := range invoices {
		m.invoices = append(m.invoices, clone(inv))
	}
	return m
}

// snapshot returns copies so callers never share mutable state with the store.
func (m *Memory) snapshot() []*Invoice {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Invoice, 0, len(m.invoices))
	for _, inv := range m.invoices {
		out = append(out, clone(inv))
	}
	return out
}

func (m *Memory) FindByAmount(amount, tolerance decimal.Decimal) (*Invoice, error) {
	return findByAmount(m.snapshot(), amount, tolerance), nil
}

func (m *Memory) FindByCustomer(name string) (*Invoice, error) {
	return findByCustomer(m.snapshot(), name), nil
}

func (m *Memory) FindSimilarAmounts(amount, tolerance decimal.Decimal, limit int) ([]*Invoice, error) {
	return findSimilarAmounts(m.snapshot(), amount, tolerance, limit), nil
}

func (m *Memory) GetInvoice(id string) (*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv := m.find(id)
	if inv == nil {
		return nil, fmt.Errorf("invoice %s: %w", id, ErrNotFound)
	}
	return clone(inv), nil
}

func (m *Memory) ListInvoices() ([]*Invoice, error) {
	return m.snapshot(), nil
}

func (m *Memory) SaveInvoice(invoice *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, inv := range m.invoices {
		if inv.ID == invoice.ID {
			m.invoices[i] = clone(invoice)
			return nil
		}
	}
	m.invoices = append(m.invoices, clone(invoice))
	return nil
}

func (m *Memory) Settle(settlement *Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if settlement.InvoiceID != "" {
		inv := m.find(settlement.InvoiceID)
		if inv == nil {
			return fmt.Errorf("invoice %s: %w", settlement.InvoiceID, ErrNotFound)
		}
		if !inv.IsPending() {
			return fmt.Errorf("invoice %s: %w", inv.ID, ErrAlreadyPaid)
		}
		paidAt := settlement.CompletedAt
		inv.Status = StatusPaid
		inv.PaidAt = &paidAt
	}
	s := *settlement
	m.settlements = append(m.settlements, &s)
	return nil
}

func (m *Memory) GetSettlement(id string) (*Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.settlements {
		if s.ID == id {
			out := *s
			return &out, nil
		}
	}
	return nil, fmt.Errorf("settlement %s: %w", id, ErrNotFound)
}

func (m *Memory) ListSettlements() ([]*Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Settlement, 0, len(m.settlements))
	for _, s := range m.settlements {
		c := *s
		out = append(out, &c)
	}
	return out, nil
}

// Close is a no-op for the in-memory store
func (m *Memory) Close() error {
	return nil
}

func (m *Memory) find(id string) *Invoice {
	for _, inv := range m.invoices {
		if inv.ID == id {
			return inv
		}
	}
	return nil
}

func clone(inv *Invoice) *Invoice {
	c := *inv
	if inv.PaidAt != nil {
		t := *inv.PaidAt
		c.PaidAt = &t
	}
	return &c
}
