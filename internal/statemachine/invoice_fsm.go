package statemachine

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/consultia/billing-api/internal/models"
)

// InvoiceFSM wraps an invoice with its state machine. Payment amounts drive
// pay/partial transitions, the due date drives overdue, and cancel/refund are
// one-way; illegal moves such as paid→overdue are simply not events.
type InvoiceFSM struct {
	invoice *models.Invoice
	fsm     *fsm.FSM
}

// NewInvoiceFSM creates a new invoice state machine
func NewInvoiceFSM(invoice *models.Invoice) *InvoiceFSM {
	ifsm := &InvoiceFSM{
		invoice: invoice,
	}

	payable := []string{
		models.InvoiceStatusSent,
		models.InvoiceStatusPending,
		models.InvoiceStatusPartial,
		models.InvoiceStatusOverdue,
	}

	ifsm.fsm = fsm.NewFSM(
		invoice.Status,
		fsm.Events{
			// draft → sent
			{Name: "send", Src: []string{models.InvoiceStatusDraft}, Dst: models.InvoiceStatusSent},

			// any payable state → partial/paid
			{Name: "partial_pay", Src: payable, Dst: models.InvoiceStatusPartial},
			{Name: "pay", Src: payable, Dst: models.InvoiceStatusPaid},

			// paid/partial → pending when the recorded amount is backed out
			{Name: "revert", Src: []string{models.InvoiceStatusPaid, models.InvoiceStatusPartial}, Dst: models.InvoiceStatusPending},

			// due date passed while still owed
			{Name: "mark_overdue", Src: []string{models.InvoiceStatusSent, models.InvoiceStatusPending, models.InvoiceStatusPartial}, Dst: models.InvoiceStatusOverdue},

			// anything not settled → cancelled
			{Name: "cancel", Src: []string{models.InvoiceStatusDraft, models.InvoiceStatusSent, models.InvoiceStatusPending, models.InvoiceStatusPartial, models.InvoiceStatusOverdue}, Dst: models.InvoiceStatusCancelled},

			// settled funds returned
			{Name: "refund", Src: []string{models.InvoiceStatusPaid, models.InvoiceStatusPartial}, Dst: models.InvoiceStatusRefunded},
		},
		fsm.Callbacks{},
	)

	return ifsm
}

// Send transitions invoice from draft to sent
func (i *InvoiceFSM) Send(ctx context.Context) error {
	if !i.invoice.MaySend() {
		return fmt.Errorf("invoice cannot be sent in current state: %s", i.invoice.Status)
	}

	if err := i.fsm.Event(ctx, "send"); err != nil {
		return fmt.Errorf("failed to send invoice: %w", err)
	}

	i.invoice.Status = i.fsm.Current()
	return nil
}

// Pay transitions invoice to paid state
func (i *InvoiceFSM) Pay(ctx context.Context) error {
	if err := i.fsm.Event(ctx, "pay"); err != nil {
		return fmt.Errorf("failed to mark invoice paid: %w", err)
	}

	i.invoice.Status = i.fsm.Current()
	return nil
}

// PartialPay transitions invoice to partial state
func (i *InvoiceFSM) PartialPay(ctx context.Context) error {
	if err := i.fsm.Event(ctx, "partial_pay"); err != nil {
		return fmt.Errorf("failed to mark invoice partially paid: %w", err)
	}

	i.invoice.Status = i.fsm.Current()
	return nil
}

// MarkOverdue transitions invoice to overdue state
func (i *InvoiceFSM) MarkOverdue(ctx context.Context) error {
	if err := i.fsm.Event(ctx, "mark_overdue"); err != nil {
		return fmt.Errorf("failed to mark invoice overdue: %w", err)
	}

	i.invoice.Status = i.fsm.Current()
	return nil
}

// Cancel transitions invoice to cancelled state
func (i *InvoiceFSM) Cancel(ctx context.Context) error {
	if !i.invoice.MayCancel() {
		return fmt.Errorf("invoice cannot be cancelled in current state: %s", i.invoice.Status)
	}

	if err := i.fsm.Event(ctx, "cancel"); err != nil {
		return fmt.Errorf("failed to cancel invoice: %w", err)
	}

	i.invoice.Status = i.fsm.Current()
	return nil
}

// Refund transitions invoice to refunded state
func (i *InvoiceFSM) Refund(ctx context.Context) error {
	if !i.invoice.MayRefund() {
		return fmt.Errorf("invoice cannot be refunded in current state: %s", i.invoice.Status)
	}

	if err := i.fsm.Event(ctx, "refund"); err != nil {
		return fmt.Errorf("failed to refund invoice: %w", err)
	}

	i.invoice.Status = i.fsm.Current()
	return nil
}

// Current returns the current state
func (i *InvoiceFSM) Current() string {
	return i.fsm.Current()
}

// Can checks if a transition is possible
func (i *InvoiceFSM) Can(event string) bool {
	return i.fsm.Can(event)
}
