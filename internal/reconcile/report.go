package reconcile

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/zombor/cheque-reconciler/internal/invoice"
)

const (
	settlementsSheet = "Settlements"
	outstandingSheet = "Outstanding"
)

// WriteReport writes an XLSX workbook with every settlement and every
// invoice still pending
func WriteReport(w io.Writer, settlements []*invoice.Settlement, invoices []*invoice.Invoice) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", settlementsSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	if _, err := f.NewSheet(outstandingSheet); err != nil {
		return fmt.Errorf("creating sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating style: %w", err)
	}
	reviewStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Color: "9A0511"}})
	if err != nil {
		return fmt.Errorf("creating style: %w", err)
	}

	headers := []interface{}{"Completed At", "Cheque ID", "Cheque Number", "Payer", "Amount", "Invoice ID", "Match Type", "Confidence", "Status", "Notes"}
	if err := writeHeader(f, settlementsSheet, headers, headerStyle); err != nil {
		return err
	}
	for i, s := range settlements {
		row := i + 2
		var amount interface{}
		if s.Amount != nil {
			amount = s.Amount.InexactFloat64()
		}
		values := []interface{}{
			s.CompletedAt.Format("2006-01-02 15:04:05"),
			s.ChequeID,
			s.ChequeNumber,
			s.PayerName,
			amount,
			s.InvoiceID,
			s.MatchType,
			s.Confidence,
			string(s.Status),
			s.Notes,
		}
		if err := setRow(f, settlementsSheet, row, values); err != nil {
			return err
		}
		if s.Status == invoice.SettlementNeedsReview {
			cell := fmt.Sprintf("I%d", row)
			if err := f.SetCellStyle(settlementsSheet, cell, cell, reviewStyle); err != nil {
				return fmt.Errorf("styling cell: %w", err)
			}
		}
	}

	headers = []interface{}{"Invoice ID", "Customer", "Amount", "Date", "Description"}
	if err := writeHeader(f, outstandingSheet, headers, headerStyle); err != nil {
		return err
	}
	row := 2
	for _, inv := range invoices {
		if !inv.IsPending() {
			continue
		}
		values := []interface{}{inv.ID, inv.CustomerName, inv.Amount.InexactFloat64(), inv.Date, inv.Description}
		if err := setRow(f, outstandingSheet, row, values); err != nil {
			return err
		}
		row++
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, headers []interface{}, style int) error {
	if err := setRow(f, sheet, 1, headers); err != nil {
		return err
	}
	if err := f.SetRowStyle(sheet, 1, 1, style); err != nil {
		return fmt.Errorf("styling header: %w", err)
	}
	last, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return fmt.Errorf("naming column: %w", err)
	}
	if err := f.SetColWidth(sheet, "A", last, 18); err != nil {
		return fmt.Errorf("sizing columns: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("naming cell: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("writing %s row %d: %w", sheet, row, err)
	}
	return nil
}
