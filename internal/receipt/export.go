package receipt

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	receiptsSheet   = "Receipts"
	categoriesSheet = "Categories"
)

// ExportXLSX renders the ledger as a workbook with a Receipts sheet ending in a
// grand total row and a Categories sheet with per-category sums.
func (s *Service) ExportXLSX() ([]byte, error) {
	start := time.Now()

	receipts, err := s.ListReceipts()
	if err != nil {
		return nil, err
	}
	totals, err := s.CategoryTotals()
	if err != nil {
		return nil, err
	}
	grand, err := s.TotalExpense()
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), receiptsSheet); err != nil {
		return nil, fmt.Errorf("naming sheet: %w", err)
	}
	if _, err := f.NewSheet(categoriesSheet); err != nil {
		return nil, fmt.Errorf("creating sheet: %w", err)
	}
	amountStyle, err := f.NewStyle(&excelize.Style{NumFmt: 2}) // 0.00
	if err != nil {
		return nil, fmt.Errorf("creating style: %w", err)
	}
	boldStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("creating style: %w", err)
	}

	writeRow := func(sheet string, row int, values ...any) {
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}

	writeRow(receiptsSheet, 1, "ID", "Timestamp", "Category", "Total")
	row := 2
	for _, r := range receipts {
		writeRow(receiptsSheet, row, r.ID, r.Timestamp, r.Category, r.Total.InexactFloat64())
		row++
	}
	writeRow(receiptsSheet, row, "", "", "Total", grand.InexactFloat64())
	_ = f.SetCellStyle(receiptsSheet, "A1", "D1", boldStyle)
	_ = f.SetCellStyle(receiptsSheet, fmt.Sprintf("C%d", row), fmt.Sprintf("C%d", row), boldStyle)
	_ = f.SetCellStyle(receiptsSheet, "D2", fmt.Sprintf("D%d", row), amountStyle)
	_ = f.SetColWidth(receiptsSheet, "A", "A", 8)
	_ = f.SetColWidth(receiptsSheet, "B", "B", 20)
	_ = f.SetColWidth(receiptsSheet, "C", "C", 22)
	_ = f.SetColWidth(receiptsSheet, "D", "D", 14)

	writeRow(categoriesSheet, 1, "Category", "Receipts", "Total")
	for i, ct := range totals {
		writeRow(categoriesSheet, i+2, ct.Category, ct.Count, ct.Total.InexactFloat64())
	}
	_ = f.SetCellStyle(categoriesSheet, "A1", "C1", boldStyle)
	if len(totals) > 0 {
		_ = f.SetCellStyle(categoriesSheet, "C2", fmt.Sprintf("C%d", len(totals)+1), amountStyle)
	}
	_ = f.SetColWidth(categoriesSheet, "A", "A", 22)
	_ = f.SetColWidth(categoriesSheet, "C", "C", 14)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("writing xlsx: %w", err)
	}

	slog.Info("Ledger exported",
		"receipts", len(receipts),
		"categories", len(totals),
		"bytes", buf.Len(),
		"duration", time.Since(start),
	)
	return buf.Bytes(), nil
}
