package invoice

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.etcd.io/bbolt"
)

const (
	invoiceBucketName    = "invoices"
	invoiceIDBucketName  = "invoice_ids"
	settlementBucketName = "settlements"
)

// BoltDB implements the Store interface using BoltDB. Invoices are keyed by
// insertion sequence so iteration follows collection order.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{invoiceBucketName, invoiceIDBucketName, settlementBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// SaveInvoice saves an invoice, appending it if the ID is new
func (b *BoltDB) SaveInvoice(invoice *Invoice) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return putInvoice(tx, invoice)
	})
}

func putInvoice(tx *bbolt.Tx, invoice *Invoice) error {
	invoices := tx.Bucket([]byte(invoiceBucketName))
	ids := tx.Bucket([]byte(invoiceIDBucketName))

	key := ids.Get([]byte(invoice.ID))
	if key == nil {
		seq, err := invoices.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating sequence: %w", err)
		}
		key = sequenceKey(seq)
		if err := ids.Put([]byte(invoice.ID), key); err != nil {
			return err
		}
	}

	data, err := json.Marshal(invoice)
	if err != nil {
		return fmt.Errorf("marshaling invoice: %w", err)
	}
	return invoices.Put(key, data)
}

func getInvoice(tx *bbolt.Tx, id string) (*Invoice, error) {
	key := tx.Bucket([]byte(invoiceIDBucketName)).Get([]byte(id))
	if key == nil {
		return nil, fmt.Errorf("invoice %s: %w", id, ErrNotFound)
	}
	data := tx.Bucket([]byte(invoiceBucketName)).Get(key)
	if data == nil {
		return nil, fmt.Errorf("invoice %s: %w", id, ErrNotFound)
	}
	var invoice Invoice
	if err := json.Unmarshal(data, &invoice); err != nil {
		return nil, fmt.Errorf("unmarshaling invoice: %w", err)
	}
	return &invoice, nil
}

// GetInvoice retrieves an invoice by ID
func (b *BoltDB) GetInvoice(id string) (*Invoice, error) {
	var invoice *Invoice
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		invoice, err = getInvoice(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

// ListInvoices returns all invoices in insertion order
func (b *BoltDB) ListInvoices() ([]*Invoice, error) {
	invoices := make([]*Invoice, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invoiceBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var invoice Invoice
			if err := json.Unmarshal(v, &invoice); err != nil {
				return fmt.Errorf("unmarshaling invoice: %w", err)
			}
			invoices = append(invoices, &invoice)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (b *BoltDB) FindByAmount(amount, tolerance decimal.Decimal) (*Invoice, error) {
	invoices, err := b.ListInvoices()
	if err != nil {
		return nil, err
	}
	return findByAmount(invoices, amount, tolerance), nil
}

func (b *BoltDB) FindByCustomer(name string) (*Invoice, error) {
	invoices, err := b.ListInvoices()
	if err != nil {
		return nil, err
	}
	return findByCustomer(invoices, name), nil
}

func (b *BoltDB) FindSimilarAmounts(amount, tolerance decimal.Decimal, limit int) ([]*Invoice, error) {
	invoices, err := b.ListInvoices()
	if err != nil {
		return nil, err
	}
	return findSimilarAmounts(invoices, amount, tolerance, limit), nil
}

// Settle writes the settlement and marks its invoice paid in one transaction.
// bbolt allows a single writer, which serialises concurrent completions.
func (b *BoltDB) Settle(settlement *Settlement) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if settlement.InvoiceID != "" {
			invoice, err := getInvoice(tx, settlement.InvoiceID)
			if err != nil {
				return err
			}
			if !invoice.IsPending() {
				return fmt.Errorf("invoice %s: %w", invoice.ID, ErrAlreadyPaid)
			}
			paidAt := settlement.CompletedAt
			invoice.Status = StatusPaid
			invoice.PaidAt = &paidAt
			if err := putInvoice(tx, invoice); err != nil {
				return fmt.Errorf("updating invoice: %w", err)
			}
		}

		bucket := tx.Bucket([]byte(settlementBucketName))
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating sequence: %w", err)
		}
		data, err := json.Marshal(settlement)
		if err != nil {
			return fmt.Errorf("marshaling settlement: %w", err)
		}
		return bucket.Put(sequenceKey(seq), data)
	})
}

// GetSettlement retrieves a settlement by ID
func (b *BoltDB) GetSettlement(id string) (*Settlement, error) {
	settlements, err := b.ListSettlements()
	if err != nil {
		return nil, err
	}
	for _, s := range settlements {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("settlement %s: %w", id, ErrNotFound)
}

// ListSettlements returns all settlements in the order they were written
func (b *BoltDB) ListSettlements() ([]*Settlement, error) {
	settlements := make([]*Settlement, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(settlementBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var settlement Settlement
			if err := json.Unmarshal(v, &settlement); err != nil {
				return fmt.Errorf("unmarshaling settlement: %w", err)
			}
			settlements = append(settlements, &settlement)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return settlements, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
