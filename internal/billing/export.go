package billing

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/drfirst/go-dispensary/internal/domain"
)

const revenueSheet = "Revenue"

var revenueHeaders = []string{"Bill ID", "Prescription ID", "Patient", "Issued At", "Total"}

// ExportRevenue writes the bills of month (YYYY-MM) as an XLSX workbook with
// a total row, and returns the month summary
func (s *Service) ExportRevenue(ctx context.Context, month string, w io.Writer) (*domain.IncomeSummary, error) {
	from, to, err := MonthBounds(month)
	if err != nil {
		return nil, err
	}
	bills, err := s.store.ListBills(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary := summarize(from, to, bills)

	if err := writeRevenueWorkbook(w, bills, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

func writeRevenueWorkbook(w io.Writer, bills []domain.Bill, summary *domain.IncomeSummary) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(revenueSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	moneyStyle, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return fmt.Errorf("create money style: %w", err)
	}

	for col, header := range revenueHeaders {
		if err := setCell(f, col+1, 1, header); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(revenueSheet, "A1", "E1", headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	for col, width := range []float64{38, 38, 24, 20, 14} {
		name, _ := excelize.ColumnNumberToName(col + 1)
		if err := f.SetColWidth(revenueSheet, name, name, width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	row := 2
	for _, b := range bills {
		amount, _ := b.TotalAmount.Float64()
		values := []interface{}{b.ID, b.PrescriptionID, b.PatientName, b.IssuedAt.Format("2006-01-02 15:04"), amount}
		for col, v := range values {
			if err := setCell(f, col+1, row, v); err != nil {
				return err
			}
		}
		row++
	}

	total, _ := summary.Total.Float64()
	if err := setCell(f, 4, row, "Total"); err != nil {
		return err
	}
	if err := setCell(f, 5, row, total); err != nil {
		return err
	}
	if err := f.SetCellStyle(revenueSheet, "E2", fmt.Sprintf("E%d", row), moneyStyle); err != nil {
		return fmt.Errorf("style amounts: %w", err)
	}

	if err := f.SetPanes(revenueSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setCell(f *excelize.File, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	if err := f.SetCellValue(revenueSheet, cell, value); err != nil {
		return fmt.Errorf("set cell %s: %w", cell, err)
	}
	return nil
}
