package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"time"

	"github.com/SebastiaanKlippert/go-wkhtmltopdf"
	"github.com/jung-kurt/gofpdf"

	"github.com/consultia/billing-api/internal/repository"
)

type ReportService struct {
	invoiceRepo repository.InvoiceRepository
	txnRepo     repository.TransactionRepository
	userRepo    repository.UserRepository
}

func NewReportService(
	invoiceRepo repository.InvoiceRepository,
	txnRepo repository.TransactionRepository,
	userRepo repository.UserRepository,
) *ReportService {
	return &ReportService{
		invoiceRepo: invoiceRepo,
		txnRepo:     txnRepo,
		userRepo:    userRepo,
	}
}

// GenerateInvoicePDF renders a printable invoice document
func (s *ReportService) GenerateInvoicePDF(ctx context.Context, invoiceID uint) (*bytes.Buffer, error) {
	invoice, err := s.invoiceRepo.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.Cell(100, 10, "INVOICE")
	pdf.SetFont("Arial", "", 11)
	pdf.Cell(90, 10, invoice.Number)
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 10)
	pdf.Cell(60, 6, "Issue date:")
	pdf.Cell(60, 6, invoice.IssueDate.Format("02/01/2006"))
	pdf.Ln(6)
	pdf.Cell(60, 6, "Due date:")
	pdf.Cell(60, 6, invoice.DueDate.Format("02/01/2006"))
	pdf.Ln(6)
	pdf.Cell(60, 6, "Status:")
	pdf.Cell(60, 6, invoice.Status)
	pdf.Ln(6)

	if invoice.Client != nil {
		pdf.Cell(60, 6, "Billed to:")
		pdf.Cell(60, 6, invoice.Client.FullName)
		pdf.Ln(6)
	}
	if invoice.Consultant != nil {
		pdf.Cell(60, 6, "Consultant:")
		pdf.Cell(60, 6, invoice.Consultant.FullName)
		pdf.Ln(6)
	}
	if invoice.Project != nil {
		pdf.Cell(60, 6, "Project:")
		pdf.Cell(60, 6, invoice.Project.Title)
		pdf.Ln(6)
	}
	pdf.Ln(6)

	// Line items table
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(80, 8, "Description", "1", 0, "L", false, 0, "")
	pdf.CellFormat(25, 8, "Qty", "1", 0, "R", false, 0, "")
	pdf.CellFormat(35, 8, "Unit Price", "1", 0, "R", false, 0, "")
	pdf.CellFormat(40, 8, "Amount", "1", 0, "R", false, 0, "")
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 10)
	for _, item := range invoice.Items {
		pdf.CellFormat(80, 8, item.Description, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 8, fmt.Sprintf("%.2f", item.Quantity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 8, fmt.Sprintf("%.2f", item.UnitPrice), "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 8, fmt.Sprintf("%.2f", item.Amount), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.Ln(4)

	// Totals block
	writeTotal := func(label string, value float64, bold bool) {
		if bold {
			pdf.SetFont("Arial", "B", 10)
		} else {
			pdf.SetFont("Arial", "", 10)
		}
		pdf.Cell(140, 6, "")
		pdf.Cell(25, 6, label)
		pdf.CellFormat(25, 6, fmt.Sprintf("%.2f", value), "", 0, "R", false, 0, "")
		pdf.Ln(6)
	}

	writeTotal("Subtotal", invoice.Subtotal, false)
	writeTotal("Tax", invoice.TaxAmount, false)
	writeTotal("Discount", -invoice.DiscountAmount, false)
	if invoice.PlatformFeeAmount != 0 {
		writeTotal("Fee", invoice.PlatformFeeAmount, false)
	}
	writeTotal("Total", invoice.Total, true)
	writeTotal("Paid", invoice.PaidAmount, false)
	writeTotal("Due", invoice.AmountDue, true)

	if invoice.Terms != "" {
		pdf.Ln(6)
		pdf.SetFont("Arial", "I", 9)
		pdf.MultiCell(190, 5, "Terms: "+invoice.Terms, "", "L", false)
	}

	buf := new(bytes.Buffer)
	if err := pdf.Output(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// GenerateStatementPDF renders a statement of account for a user: every
// invoice they are a party to plus the ledger rows against each.
func (s *ReportService) GenerateStatementPDF(ctx context.Context, userID uint) (*bytes.Buffer, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	query := &repository.InvoiceQuery{}
	query.Page = 1
	query.PerPage = 100
	if user.IsConsultant() {
		query.ConsultantID = &user.ID
	} else {
		query.ClientID = &user.ID
	}

	invoices, _, err := s.invoiceRepo.List(ctx, query)
	if err != nil {
		return nil, err
	}

	type TransactionData struct {
		Reference string
		Type      string
		Status    string
		Amount    string
		Date      string
	}
	type InvoiceData struct {
		Number       string
		Status       string
		Total        string
		Paid         string
		Due          string
		DueDate      string
		Transactions []TransactionData
	}
	type StatementData struct {
		Name     string
		Email    string
		Date     string
		Invoices []InvoiceData
	}

	data := StatementData{
		Name:  user.FullName,
		Email: user.Email,
		Date:  time.Now().Format("02/01/2006"),
	}

	for _, inv := range invoices {
		invData := InvoiceData{
			Number:  inv.Number,
			Status:  inv.Status,
			Total:   fmt.Sprintf("%.2f %s", inv.Total, inv.Currency),
			Paid:    fmt.Sprintf("%.2f %s", inv.PaidAmount, inv.Currency),
			Due:     fmt.Sprintf("%.2f %s", inv.AmountDue, inv.Currency),
			DueDate: inv.DueDate.Format("02/01/2006"),
		}

		txns, err := s.txnRepo.FindByInvoice(ctx, inv.ID)
		if err == nil {
			for _, t := range txns {
				invData.Transactions = append(invData.Transactions, TransactionData{
					Reference: t.Reference,
					Type:      t.Type,
					Status:    t.Status,
					Amount:    fmt.Sprintf("%.2f %s", t.Amount, t.Currency),
					Date:      t.CreatedAt.Format("02/01/2006"),
				})
			}
		}
		data.Invoices = append(data.Invoices, invData)
	}

	return s.generatePDF("statement.html", data)
}

// generatePDF renders an HTML report template through wkhtmltopdf
func (s *ReportService) generatePDF(templateName string, data interface{}) (*bytes.Buffer, error) {
	tmplPath := fmt.Sprintf("internal/services/templates/reports/%s", templateName)
	if _, err := os.Stat(tmplPath); os.IsNotExist(err) {
		tmplPath = fmt.Sprintf("templates/reports/%s", templateName)
	}

	tmpl, err := template.ParseFiles(tmplPath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s (path: %s): %w", templateName, tmplPath, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}

	pdfg, err := wkhtmltopdf.NewPDFGenerator()
	if err != nil {
		return nil, fmt.Errorf("failed to create pdf generator: %w", err)
	}

	pdfg.Dpi.Set(300)
	pdfg.Orientation.Set(wkhtmltopdf.OrientationPortrait)
	pdfg.Grayscale.Set(false)

	page := wkhtmltopdf.NewPageReader(bytes.NewReader(buf.Bytes()))
	page.EnableLocalFileAccess.Set(true)
	pdfg.AddPage(page)

	if err := pdfg.Create(); err != nil {
		return nil, fmt.Errorf("failed to create pdf: %w", err)
	}

	return pdfg.Buffer(), nil
}
