package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"github.com/consultia/billing-api/internal/models"
	"github.com/consultia/billing-api/internal/repository"
)

type ExportService struct {
	txnRepo repository.TransactionRepository
}

func NewExportService(txnRepo repository.TransactionRepository) *ExportService {
	return &ExportService{txnRepo: txnRepo}
}

// fetchWindow pulls all transactions inside the date window, newest first
func (s *ExportService) fetchWindow(ctx context.Context, from, to time.Time) ([]models.Transaction, error) {
	query := &repository.TransactionQuery{From: &from, To: &to}
	query.Page = 1
	query.PerPage = 100

	var all []models.Transaction
	for {
		page, total, err := s.txnRepo.List(ctx, query)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if int64(len(all)) >= total || len(page) == 0 {
			break
		}
		query.Page++
	}
	return all, nil
}

// ExportTransactionsCSV writes the ledger window as CSV
func (s *ExportService) ExportTransactionsCSV(ctx context.Context, from, to time.Time) ([]byte, string, error) {
	txns, err := s.fetchWindow(ctx, from, to)
	if err != nil {
		return nil, "", err
	}

	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	_ = writer.Write([]string{"Transaction Export", time.Now().Format("2006-01-02 15:04")})
	_ = writer.Write([]string{""})
	_ = writer.Write([]string{"Reference", "Type", "Status", "Amount", "Fee", "Net", "Currency", "Method", "Created"})

	for _, t := range txns {
		_ = writer.Write([]string{
			t.Reference,
			t.Type,
			t.Status,
			fmt.Sprintf("%.2f", t.Amount),
			fmt.Sprintf("%.2f", t.Fee),
			fmt.Sprintf("%.2f", t.Net),
			t.Currency,
			t.PaymentMethod,
			t.CreatedAt.Format("2006-01-02 15:04"),
		})
	}

	writer.Flush()

	filename := fmt.Sprintf("transactions_%s.csv", time.Now().Format("2006-01-02"))
	return buf.Bytes(), filename, nil
}

// ExportTransactionsXLSX writes the ledger window as a spreadsheet
func (s *ExportService) ExportTransactionsXLSX(ctx context.Context, from, to time.Time) ([]byte, string, error) {
	txns, err := s.fetchWindow(ctx, from, to)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Transactions"
	_ = f.SetSheetName("Sheet1", sheet)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 12},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})

	_ = f.SetCellValue(sheet, "A1", "Transaction Export")
	_ = f.SetCellStyle(sheet, "A1", "A1", headerStyle)
	_ = f.SetCellValue(sheet, "B1", time.Now().Format("2006-01-02 15:04"))

	headers := []string{"Reference", "Type", "Status", "Amount", "Fee", "Net", "Currency", "Method", "Created"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 3)
		_ = f.SetCellValue(sheet, cell, h)
		_ = f.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	for row, t := range txns {
		values := []interface{}{
			t.Reference, t.Type, t.Status, t.Amount, t.Fee, t.Net,
			t.Currency, t.PaymentMethod, t.CreatedAt.Format("2006-01-02 15:04"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+4)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", err
	}

	filename := fmt.Sprintf("transactions_%s.xlsx", time.Now().Format("2006-01-02"))
	return buf.Bytes(), filename, nil
}

// ExportSummaryPDF renders a one-page ledger volume summary
func (s *ExportService) ExportSummaryPDF(ctx context.Context, from, to time.Time) ([]byte, string, error) {
	stats, err := s.txnRepo.Stats(ctx, from, to)
	if err != nil {
		return nil, "", err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, "Transaction Summary")
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 10)
	pdf.Cell(60, 10, "Period:")
	pdf.Cell(40, 10, fmt.Sprintf("%s to %s", from.Format("2006-01-02"), to.Format("2006-01-02")))
	pdf.Ln(10)

	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(40, 10, "Volume")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 10)
	pdf.Cell(60, 10, "Total Transactions:")
	pdf.Cell(40, 10, fmt.Sprintf("%d", stats.TotalCount))
	pdf.Ln(6)

	pdf.Cell(60, 10, "Completed:")
	pdf.Cell(40, 10, fmt.Sprintf("%d", stats.CompletedCount))
	pdf.Ln(6)

	pdf.Cell(60, 10, "Gross Volume:")
	pdf.Cell(40, 10, fmt.Sprintf("%.2f", stats.TotalVolume))
	pdf.Ln(6)

	pdf.Cell(60, 10, "Total Fees:")
	pdf.Cell(40, 10, fmt.Sprintf("%.2f", stats.TotalFees))
	pdf.Ln(6)

	pdf.Cell(60, 10, "Net:")
	pdf.Cell(40, 10, fmt.Sprintf("%.2f", stats.TotalNet))
	pdf.Ln(6)

	buf := new(bytes.Buffer)
	if err := pdf.Output(buf); err != nil {
		return nil, "", err
	}

	filename := fmt.Sprintf("transaction_summary_%s.pdf", time.Now().Format("2006-01-02"))
	return buf.Bytes(), filename, nil
}
