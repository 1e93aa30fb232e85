package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/consultia/billing-api/internal/config"
	"github.com/consultia/billing-api/pkg/logger"
)

func TestEmailService_renderTemplate(t *testing.T) {
	logger.Setup("test")

	cfg := &config.Config{
		ResendAPIKey: "test_key",
		FromEmail:    "billing@example.com",
		AppURL:       "https://app.example.com",
	}
	service := NewEmailService(cfg)

	t.Run("invoice issued", func(t *testing.T) {
		body, err := service.renderTemplate("invoice_issued.html", struct {
			Name    string
			Number  string
			Total   string
			DueDate string
			AppURL  string
		}{
			Name:    "Ada Client",
			Number:  "INV-2608-0001",
			Total:   "1500.00 USD",
			DueDate: time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC).Format("02/01/2006"),
			AppURL:  cfg.AppURL,
		})

		assert.NoError(t, err)
		assert.Contains(t, body, "Ada Client")
		assert.Contains(t, body, "INV-2608-0001")
		assert.Contains(t, body, "1500.00 USD")
		assert.Contains(t, body, "30/09/2026")
		assert.Contains(t, body, cfg.AppURL)
	})

	t.Run("overdue digest lists every invoice", func(t *testing.T) {
		body, err := service.renderTemplate("overdue_invoices.html", struct {
			Name     string
			Invoices []OverdueInvoiceData
			AppURL   string
		}{
			Name: "Ada Client",
			Invoices: []OverdueInvoiceData{
				{Number: "INV-2607-0002", Amount: "300.00 USD", DueDate: "15/07/2026"},
				{Number: "INV-2608-0004", Amount: "120.00 USD", DueDate: "01/08/2026"},
			},
			AppURL: cfg.AppURL,
		})

		assert.NoError(t, err)
		assert.Contains(t, body, "INV-2607-0002")
		assert.Contains(t, body, "INV-2608-0004")
		assert.Contains(t, body, "300.00 USD")
	})

	t.Run("unknown template", func(t *testing.T) {
		_, err := service.renderTemplate("nonexistent.html", nil)
		assert.Error(t, err)
	})
}
