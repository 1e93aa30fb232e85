package services

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"

	"github.com/resend/resend-go/v2"

	"github.com/consultia/billing-api/internal/config"
	"github.com/consultia/billing-api/internal/models"
	"github.com/consultia/billing-api/pkg/logger"
)

//go:embed templates/email/*.html
var emailTemplates embed.FS

type EmailService struct {
	config       *config.Config
	resendClient *resend.Client
}

func NewEmailService(cfg *config.Config) *EmailService {
	client := resend.NewClient(cfg.ResendAPIKey)
	return &EmailService{
		config:       cfg,
		resendClient: client,
	}
}

// SendInvoiceIssued notifies the counterparty that an invoice awaits payment
func (s *EmailService) SendInvoiceIssued(ctx context.Context, user *models.User, invoice *models.Invoice) error {
	data := struct {
		Name    string
		Number  string
		Total   string
		DueDate string
		AppURL  string
	}{
		Name:    user.FullName,
		Number:  invoice.Number,
		Total:   fmt.Sprintf("%.2f %s", invoice.Total, invoice.Currency),
		DueDate: invoice.DueDate.Format("02/01/2006"),
		AppURL:  s.config.AppURL,
	}

	body, err := s.renderTemplate("invoice_issued.html", data)
	if err != nil {
		return err
	}

	return s.send(user.Email, fmt.Sprintf("Invoice %s", invoice.Number), body)
}

// SendPaymentReceipt confirms a settled payment
func (s *EmailService) SendPaymentReceipt(ctx context.Context, user *models.User, invoice *models.Invoice, txn *models.Transaction) error {
	data := struct {
		Name      string
		Number    string
		Amount    string
		Reference string
		Remaining string
		AppURL    string
	}{
		Name:      user.FullName,
		Number:    invoice.Number,
		Amount:    fmt.Sprintf("%.2f %s", txn.Amount, txn.Currency),
		Reference: txn.Reference,
		Remaining: fmt.Sprintf("%.2f %s", invoice.AmountDue, invoice.Currency),
		AppURL:    s.config.AppURL,
	}

	body, err := s.renderTemplate("payment_receipt.html", data)
	if err != nil {
		return err
	}

	return s.send(user.Email, fmt.Sprintf("Payment received for invoice %s", invoice.Number), body)
}

// SendRefundIssued confirms that money is on its way back
func (s *EmailService) SendRefundIssued(ctx context.Context, user *models.User, invoice *models.Invoice, amount float64) error {
	data := struct {
		Name   string
		Number string
		Amount string
		AppURL string
	}{
		Name:   user.FullName,
		Number: invoice.Number,
		Amount: fmt.Sprintf("%.2f %s", amount, invoice.Currency),
		AppURL: s.config.AppURL,
	}

	body, err := s.renderTemplate("refund_issued.html", data)
	if err != nil {
		return err
	}

	return s.send(user.Email, fmt.Sprintf("Refund issued for invoice %s", invoice.Number), body)
}

// OverdueInvoiceData is one row of the overdue digest email
type OverdueInvoiceData struct {
	Number  string
	Amount  string
	DueDate string
}

// SendOverdueInvoices sends one digest of all overdue invoices for a user
func (s *EmailService) SendOverdueInvoices(ctx context.Context, user *models.User, invoices []models.Invoice) error {
	var rows []OverdueInvoiceData
	for _, inv := range invoices {
		rows = append(rows, OverdueInvoiceData{
			Number:  inv.Number,
			Amount:  fmt.Sprintf("%.2f %s", inv.AmountDue, inv.Currency),
			DueDate: inv.DueDate.Format("02/01/2006"),
		})
	}

	data := struct {
		Name     string
		Invoices []OverdueInvoiceData
		AppURL   string
	}{
		Name:     user.FullName,
		Invoices: rows,
		AppURL:   s.config.AppURL,
	}

	body, err := s.renderTemplate("overdue_invoices.html", data)
	if err != nil {
		return err
	}

	return s.send(user.Email, fmt.Sprintf("Overdue invoices (%d)", len(invoices)), body)
}

func (s *EmailService) send(to, subject, body string) error {
	// Without an API key the rendered email is logged and dropped
	if s.config.ResendAPIKey == "" {
		logger.Info(fmt.Sprintf("📧 [Email Skipped] To: %s | Subject: %s", to, subject))
		return nil
	}

	params := &resend.SendEmailRequest{
		From:    s.config.FromEmail,
		To:      []string{to},
		Subject: subject,
		Html:    body,
	}
	_, err := s.resendClient.Emails.Send(params)
	if err != nil {
		logger.Error(fmt.Sprintf("Failed to send email to %s: %v", to, err))
		return err
	}

	logger.Info(fmt.Sprintf("📧 [Email Sent] To: %s | Subject: %s", to, subject))
	return nil
}

func (s *EmailService) renderTemplate(name string, data interface{}) (string, error) {
	tmpl, err := template.ParseFS(emailTemplates, "templates/email/"+name)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}

	return buf.String(), nil
}
