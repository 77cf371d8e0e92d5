package invoice

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
)

// SampleInvoices returns the demo invoice set used when no other source is
// configured.
func SampleInvoices() []*Invoice {
	return []*Invoice{
		{ID: "INV-001", CustomerName: "Amit Sharma", Amount: decimal.RequireFromString("12500.00"), Date: "2024-09-01", Description: "Electrical fittings", Status: StatusPending},
		{ID: "INV-002", CustomerName: "Priya Verma", Amount: decimal.RequireFromString("28499.50"), Date: "2024-09-03", Description: "Plumbing materials", Status: StatusPending},
		{ID: "INV-003", CustomerName: "Rahul Singh", Amount: decimal.RequireFromString("6999.00"), Date: "2024-09-05", Description: "Paint and brushes", Status: StatusPending},
		{ID: "INV-004", CustomerName: "Neha Gupta", Amount: decimal.RequireFromString("45999.75"), Date: "2024-09-07", Description: "Garden tools", Status: StatusPending},
		{ID: "INV-005", CustomerName: "Vikram Iyer", Amount: decimal.RequireFromString("13250.25"), Date: "2024-09-10", Description: "Electrical supplies", Status: StatusPending},
	}
}

// LoadInvoices reads a JSON array of invoices from path. Invoices without a
// status are treated as pending.
func LoadInvoices(path string) ([]*Invoice, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading invoices file: %w", err)
	}

	var invoices []*Invoice
	if err := json.Unmarshal(data, &invoices); err != nil {
		return nil, fmt.Errorf("unmarshaling invoices: %w", err)
	}

	seen := make(map[string]bool, len(invoices))
	for i, inv := range invoices {
		if inv == nil {
			return nil, fmt.Errorf("invoice at index %d is null", i)
		}
		if inv.ID == "" {
			return nil, fmt.Errorf("invoice at index %d has no id", i)
		}
		if seen[inv.ID] {
			return nil, fmt.Errorf("duplicate invoice id %s", inv.ID)
		}
		seen[inv.ID] = true
		if !inv.Amount.IsPositive() {
			return nil, fmt.Errorf("invoice %s: amount must be positive", inv.ID)
		}
		if inv.Status == "" {
			inv.Status = StatusPending
		}
	}
	return invoices, nil
}

// Seed saves invoices into store if the store holds none yet. It returns the
// number of invoices written.
func Seed(store Store, invoices []*Invoice) (int, error) {
	existing, err := store.ListInvoices()
	if err != nil {
		return 0, fmt.Errorf("listing invoices: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}
	for _, inv := range invoices {
		if err := store.SaveInvoice(inv); err != nil {
			return 0, fmt.Errorf("saving invoice %s: %w", inv.ID, err)
		}
	}
	return len(invoices), nil
}
