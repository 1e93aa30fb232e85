package statemachine

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/consultia/billing-api/internal/models"
)

// TransactionFSM wraps a transaction with its state machine. A completed
// transaction is never reversed in place: mark_refunded/mark_disputed only
// annotate the settled row, the money movement itself is a new row.
type TransactionFSM struct {
	txn *models.Transaction
	fsm *fsm.FSM
}

// NewTransactionFSM creates a new transaction state machine
func NewTransactionFSM(txn *models.Transaction) *TransactionFSM {
	tfsm := &TransactionFSM{
		txn: txn,
	}

	inFlight := []string{
		models.TransactionStatusPending,
		models.TransactionStatusProcessing,
	}

	tfsm.fsm = fsm.NewFSM(
		txn.Status,
		fsm.Events{
			// pending → processing
			{Name: "process", Src: []string{models.TransactionStatusPending}, Dst: models.TransactionStatusProcessing},

			// pending/processing → completed/failed/cancelled
			{Name: "complete", Src: inFlight, Dst: models.TransactionStatusCompleted},
			{Name: "fail", Src: inFlight, Dst: models.TransactionStatusFailed},
			{Name: "cancel", Src: inFlight, Dst: models.TransactionStatusCancelled},

			// completed → refunded/disputed (annotation only; the reversal is a new row)
			{Name: "mark_refunded", Src: []string{models.TransactionStatusCompleted}, Dst: models.TransactionStatusRefunded},
			{Name: "mark_disputed", Src: []string{models.TransactionStatusCompleted}, Dst: models.TransactionStatusDisputed},
		},
		fsm.Callbacks{},
	)

	return tfsm
}

// Process transitions transaction to processing state
func (t *TransactionFSM) Process(ctx context.Context) error {
	if err := t.fsm.Event(ctx, "process"); err != nil {
		return fmt.Errorf("failed to move transaction to processing: %w", err)
	}

	t.txn.Status = t.fsm.Current()
	return nil
}

// Complete transitions transaction to completed state
func (t *TransactionFSM) Complete(ctx context.Context) error {
	if !t.txn.MayComplete() {
		return fmt.Errorf("transaction cannot complete in current state: %s", t.txn.Status)
	}

	if err := t.fsm.Event(ctx, "complete"); err != nil {
		return fmt.Errorf("failed to complete transaction: %w", err)
	}

	t.txn.Status = t.fsm.Current()
	return nil
}

// Fail transitions transaction to failed state
func (t *TransactionFSM) Fail(ctx context.Context, reason string) error {
	if err := t.fsm.Event(ctx, "fail"); err != nil {
		return fmt.Errorf("failed to fail transaction: %w", err)
	}

	t.txn.Status = t.fsm.Current()
	if reason != "" {
		t.txn.FailureReason = &reason
	}
	return nil
}

// Cancel transitions transaction to cancelled state
func (t *TransactionFSM) Cancel(ctx context.Context) error {
	if !t.txn.MayCancel() {
		return fmt.Errorf("transaction cannot be cancelled in current state: %s", t.txn.Status)
	}

	if err := t.fsm.Event(ctx, "cancel"); err != nil {
		return fmt.Errorf("failed to cancel transaction: %w", err)
	}

	t.txn.Status = t.fsm.Current()
	return nil
}

// MarkRefunded annotates a settled transaction as refunded
func (t *TransactionFSM) MarkRefunded(ctx context.Context) error {
	if err := t.fsm.Event(ctx, "mark_refunded"); err != nil {
		return fmt.Errorf("failed to mark transaction refunded: %w", err)
	}

	t.txn.Status = t.fsm.Current()
	return nil
}

// MarkDisputed annotates a settled transaction as disputed
func (t *TransactionFSM) MarkDisputed(ctx context.Context) error {
	if err := t.fsm.Event(ctx, "mark_disputed"); err != nil {
		return fmt.Errorf("failed to mark transaction disputed: %w", err)
	}

	t.txn.Status = t.fsm.Current()
	return nil
}

// Current returns the current state
func (t *TransactionFSM) Current() string {
	return t.fsm.Current()
}

// Can checks if a transition is possible
func (t *TransactionFSM) Can(event string) bool {
	return t.fsm.Can(event)
}
