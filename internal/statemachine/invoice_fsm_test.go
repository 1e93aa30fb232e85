package statemachine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/consultia/billing-api/internal/models"
)

func TestInvoiceFSM_Lifecycle(t *testing.T) {
	ctx := context.Background()
	invoice := &models.Invoice{Status: models.InvoiceStatusDraft}

	ifsm := NewInvoiceFSM(invoice)
	assert.NoError(t, ifsm.Send(ctx))
	assert.Equal(t, models.InvoiceStatusSent, invoice.Status)

	assert.NoError(t, ifsm.PartialPay(ctx))
	assert.Equal(t, models.InvoiceStatusPartial, invoice.Status)

	assert.NoError(t, ifsm.Pay(ctx))
	assert.Equal(t, models.InvoiceStatusPaid, invoice.Status)
}

func TestInvoiceFSM_SendOnlyFromDraft(t *testing.T) {
	ctx := context.Background()
	for _, status := range []string{
		models.InvoiceStatusSent,
		models.InvoiceStatusPaid,
		models.InvoiceStatusCancelled,
	} {
		invoice := &models.Invoice{Status: status}
		err := NewInvoiceFSM(invoice).Send(ctx)
		assert.Error(t, err, status)
		assert.Equal(t, status, invoice.Status)
	}
}

func TestInvoiceFSM_PaidCannotGoOverdue(t *testing.T) {
	invoice := &models.Invoice{Status: models.InvoiceStatusPaid}
	ifsm := NewInvoiceFSM(invoice)

	assert.False(t, ifsm.Can("mark_overdue"))
	assert.Error(t, ifsm.MarkOverdue(context.Background()))
	assert.Equal(t, models.InvoiceStatusPaid, invoice.Status)
}

func TestInvoiceFSM_OverdueStillPayable(t *testing.T) {
	ctx := context.Background()
	invoice := &models.Invoice{Status: models.InvoiceStatusSent}
	ifsm := NewInvoiceFSM(invoice)

	assert.NoError(t, ifsm.MarkOverdue(ctx))
	assert.Equal(t, models.InvoiceStatusOverdue, invoice.Status)

	assert.NoError(t, ifsm.Pay(ctx))
	assert.Equal(t, models.InvoiceStatusPaid, invoice.Status)
}

func TestInvoiceFSM_CancelGuards(t *testing.T) {
	ctx := context.Background()

	open := &models.Invoice{Status: models.InvoiceStatusPending}
	assert.NoError(t, NewInvoiceFSM(open).Cancel(ctx))
	assert.Equal(t, models.InvoiceStatusCancelled, open.Status)

	paid := &models.Invoice{Status: models.InvoiceStatusPaid}
	assert.Error(t, NewInvoiceFSM(paid).Cancel(ctx))
	assert.Equal(t, models.InvoiceStatusPaid, paid.Status)
}

func TestInvoiceFSM_RefundOnlyFromSettled(t *testing.T) {
	ctx := context.Background()

	paid := &models.Invoice{Status: models.InvoiceStatusPaid}
	assert.NoError(t, NewInvoiceFSM(paid).Refund(ctx))
	assert.Equal(t, models.InvoiceStatusRefunded, paid.Status)

	sent := &models.Invoice{Status: models.InvoiceStatusSent}
	assert.Error(t, NewInvoiceFSM(sent).Refund(ctx))
	assert.Equal(t, models.InvoiceStatusSent, sent.Status)
}
