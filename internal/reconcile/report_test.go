package reconcile

import (
	"bytes"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/zombor/cheque-reconciler/internal/invoice"
)

var _ = Describe("WriteReport", func() {
	var (
		settlements []*invoice.Settlement
		invoices    []*invoice.Invoice
	)

	open := func() *excelize.File {
		var buf bytes.Buffer
		Expect(WriteReport(&buf, settlements, invoices)).To(Succeed())
		f, err := excelize.OpenReader(&buf)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(f.Close)
		return f
	}

	BeforeEach(func() {
		amount := decimal.RequireFromString("12500.00")
		completedAt := time.Date(2024, 9, 20, 9, 30, 0, 0, time.UTC)
		settlements = []*invoice.Settlement{
			{
				ID:           "s1",
				ChequeID:     "c1",
				InvoiceID:    "INV-001",
				ChequeNumber: "4521",
				PayerName:    "Amit Sharma",
				Amount:       &amount,
				MatchType:    "amount",
				Confidence:   90,
				Status:       invoice.SettlementReconciled,
				CompletedAt:  completedAt,
			},
			{
				ID:          "s2",
				ChequeID:    "c2",
				PayerName:   "Zara Khan",
				MatchType:   "rejected",
				Status:      invoice.SettlementNeedsReview,
				Notes:       "payer unknown",
				CompletedAt: completedAt,
			},
		}
		invoices = invoice.SampleInvoices()
		invoices[0].Status = invoice.StatusPaid
	})

	It("should list every settlement under a header row", func() {
		f := open()
		rows, err := f.GetRows("Settlements")
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(3))
		Expect(rows[0][0]).To(Equal("Completed At"))
		Expect(rows[1][1]).To(Equal("c1"))
		Expect(rows[1][4]).To(Equal("12500"))
		Expect(rows[1][5]).To(Equal("INV-001"))
		Expect(rows[1][8]).To(Equal("reconciled"))
		Expect(rows[2][8]).To(Equal("needs_review"))
		Expect(rows[2][9]).To(Equal("payer unknown"))
	})

	It("should leave the amount blank when none was read", func() {
		f := open()
		value, err := f.GetCellValue("Settlements", "E3")
		Expect(err).NotTo(HaveOccurred())
		Expect(value).To(BeEmpty())
	})

	It("should list only pending invoices as outstanding", func() {
		f := open()
		rows, err := f.GetRows("Outstanding")
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(5))
		for _, row := range rows[1:] {
			Expect(row[0]).NotTo(Equal("INV-001"))
		}
		Expect(rows[1][0]).To(Equal("INV-002"))
		Expect(rows[1][1]).To(Equal("Priya Verma"))
	})

	It("should write a header even with no settlements", func() {
		settlements = nil
		f := open()
		rows, err := f.GetRows("Settlements")
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(1))
	})
})
