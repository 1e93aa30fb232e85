package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"mime/multipart"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/consultia/billing-api/internal/config"
	"github.com/consultia/billing-api/internal/gateway"
	"github.com/consultia/billing-api/internal/jobs"
	"github.com/consultia/billing-api/internal/models"
	"github.com/consultia/billing-api/internal/repository"
	"github.com/consultia/billing-api/internal/statemachine"
	"github.com/consultia/billing-api/internal/storage"
	"github.com/consultia/billing-api/pkg/logger"
)

// PaymentService orchestrates money movement: it talks to the gateway,
// appends ledger rows, and folds settled amounts into invoices. Invoice and
// ledger writes for one settlement happen in a single database transaction.
type PaymentService struct {
	db              *gorm.DB
	txnRepo         repository.TransactionRepository
	invoiceRepo     repository.InvoiceRepository
	userRepo        repository.UserRepository
	gateway         gateway.PaymentGateway
	notificationSvc *NotificationService
	emailSvc        *EmailService
	auditSvc        *AuditService
	storage         *storage.LocalStorage
	worker          *jobs.Worker
	cfg             *config.Config
}

func NewPaymentService(
	db *gorm.DB,
	txnRepo repository.TransactionRepository,
	invoiceRepo repository.InvoiceRepository,
	userRepo repository.UserRepository,
	gw gateway.PaymentGateway,
	notificationSvc *NotificationService,
	emailSvc *EmailService,
	auditSvc *AuditService,
	storage *storage.LocalStorage,
	worker *jobs.Worker,
	cfg *config.Config,
) *PaymentService {
	return &PaymentService{
		db:              db,
		txnRepo:         txnRepo,
		invoiceRepo:     invoiceRepo,
		userRepo:        userRepo,
		gateway:         gw,
		notificationSvc: notificationSvc,
		emailSvc:        emailSvc,
		auditSvc:        auditSvc,
		storage:         storage,
		worker:          worker,
		cfg:             cfg,
	}
}

// ProcessPaymentParams describes one payment attempt against an invoice
type ProcessPaymentParams struct {
	InvoiceID     uint    `json:"invoice_id" binding:"required"`
	Amount        float64 `json:"amount" binding:"required,gt=0"`
	PaymentMethod string  `json:"payment_method" binding:"required,oneof=card bank_transfer"`
	Description   string  `json:"description"`
}

// ProcessPaymentResult is returned to the caller after an attempt
type ProcessPaymentResult struct {
	Transaction  *models.Transaction `json:"transaction"`
	Invoice      *models.Invoice     `json:"invoice"`
	ClientSecret string              `json:"client_secret,omitempty"`
}

// ProcessPayment records a payment attempt against an invoice. The pending
// ledger row is written before the gateway is contacted, so a crashed call
// leaves an auditable trace. Card payments settle through the gateway; bank
// transfers stay pending until a receipt is reviewed.
func (s *PaymentService) ProcessPayment(ctx context.Context, params *ProcessPaymentParams, actor *models.User, ip, userAgent string) (*ProcessPaymentResult, error) {
	if params.Amount <= 0 {
		return nil, models.ErrInvalidAmount
	}

	invoice, err := s.invoiceRepo.FindByID(ctx, params.InvoiceID)
	if err != nil {
		return nil, ErrNotFound
	}
	if invoice.IsTerminal() || invoice.Status == models.InvoiceStatusDraft {
		return nil, ErrInvalidState
	}
	if !actor.IsAdmin() {
		recipient := invoice.RecipientUserID()
		if recipient == nil || *recipient != actor.ID {
			return nil, ErrUnauthorized
		}
	}

	txn := &models.Transaction{
		Reference:     "txn_" + uuid.NewString(),
		Type:          models.TransactionTypePayment,
		Status:        models.TransactionStatusPending,
		Amount:        params.Amount,
		Currency:      invoice.Currency,
		UserID:        actor.ID,
		InvoiceID:     &invoice.ID,
		ProjectID:     invoice.ProjectID,
		ProposalID:    invoice.ProposalID,
		PaymentMethod: params.PaymentMethod,
		Description:   params.Description,
		BillingName:   actor.FullName,
		BillingEmail:  actor.Email,
	}
	if err := s.txnRepo.Create(ctx, txn); err != nil {
		return nil, err
	}

	if params.PaymentMethod == models.PaymentMethodBankTransfer {
		// Nothing moves until an admin reviews the wire receipt
		return &ProcessPaymentResult{Transaction: txn, Invoice: invoice}, nil
	}

	result, err := s.chargeCard(ctx, txn, invoice, actor)
	if err != nil {
		reason := err.Error()
		if ferr := statemachine.NewTransactionFSM(txn).Fail(ctx, reason); ferr != nil {
			logger.Error("Failed to fail transaction", "reference", txn.Reference, "error", ferr)
		} else if uerr := s.txnRepo.Update(ctx, txn); uerr != nil {
			logger.Error("Failed to record payment failure", "reference", txn.Reference, "error", uerr)
		}
		s.notifyPaymentFailed(actor.ID, invoice, reason)
		return nil, err
	}

	s.auditSvc.Log(ctx, actor.ID, "PAY", "Transaction", txn.ID,
		fmt.Sprintf("Payment of %.2f %s against invoice %s via %s", params.Amount, txn.Currency, invoice.Number, params.PaymentMethod), ip, userAgent)

	return result, nil
}

// chargeCard runs one card attempt through the gateway and settles it if the
// gateway reports success.
func (s *PaymentService) chargeCard(ctx context.Context, txn *models.Transaction, invoice *models.Invoice, actor *models.User) (*ProcessPaymentResult, error) {
	customerID, err := s.ensureGatewayCustomer(ctx, actor)
	if err != nil {
		return nil, err
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, gateway.IntentParams{
		Amount:         toMinorUnits(txn.Amount),
		Currency:       txn.Currency,
		CustomerID:     customerID,
		Description:    fmt.Sprintf("Invoice %s", invoice.Number),
		IdempotencyKey: txn.Reference,
		Metadata: map[string]string{
			"invoice_number": invoice.Number,
			"reference":      txn.Reference,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	txn.GatewayCustomerID = customerID
	txn.GatewayIntentID = intent.ID
	txn.GatewayChargeID = intent.ChargeID

	mapped := mapIntentStatus(intent.Status)
	if err := applyGatewayStatus(ctx, txn, mapped); err != nil {
		return nil, err
	}

	result := &ProcessPaymentResult{Transaction: txn, Invoice: invoice, ClientSecret: intent.ClientSecret}

	if mapped != models.TransactionStatusCompleted {
		if err := s.txnRepo.Update(ctx, txn); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := s.settle(ctx, txn, invoice); err != nil {
		return nil, err
	}
	s.notifyPaymentReceived(actor.ID, invoice, txn)
	return result, nil
}

// settle marks the transaction completed and folds the amount into the
// invoice, both inside one database transaction.
func (s *PaymentService) settle(ctx context.Context, txn *models.Transaction, invoice *models.Invoice) error {
	now := time.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := statemachine.NewTransactionFSM(txn).Complete(ctx); err != nil {
			return err
		}
		txn.ProcessedAt = &now
		if err := s.txnRepo.WithTx(tx).Update(ctx, txn); err != nil {
			return err
		}

		if err := invoice.ApplyPayment(txn.Amount, txn.Reference, now, s.overpaymentPolicy()); err != nil {
			return err
		}
		return s.invoiceRepo.WithTx(tx).Update(ctx, invoice)
	})
}

// ApproveBankTransfer settles a pending bank transfer after an admin has
// reviewed the uploaded receipt.
func (s *PaymentService) ApproveBankTransfer(ctx context.Context, transactionID uint, actorID uint, ip, userAgent string) (*models.Transaction, error) {
	txn, err := s.txnRepo.FindByID(ctx, transactionID)
	if err != nil {
		return nil, ErrNotFound
	}
	if txn.PaymentMethod != models.PaymentMethodBankTransfer || !txn.MayComplete() {
		return nil, ErrInvalidState
	}
	if txn.InvoiceID == nil {
		return nil, ErrInvalidState
	}

	invoice, err := s.invoiceRepo.FindByID(ctx, *txn.InvoiceID)
	if err != nil {
		return nil, ErrNotFound
	}

	if err := s.settle(ctx, txn, invoice); err != nil {
		return nil, err
	}

	s.notifyPaymentReceived(txn.UserID, invoice, txn)
	s.auditSvc.Log(ctx, actorID, "PAY", "Transaction", txn.ID,
		fmt.Sprintf("Bank transfer %s of %.2f %s approved for invoice %s", txn.Reference, txn.Amount, txn.Currency, invoice.Number), ip, userAgent)

	return txn, nil
}

// RejectBankTransfer fails a pending bank transfer
func (s *PaymentService) RejectBankTransfer(ctx context.Context, transactionID uint, reason string, actorID uint, ip, userAgent string) (*models.Transaction, error) {
	txn, err := s.txnRepo.FindByID(ctx, transactionID)
	if err != nil {
		return nil, ErrNotFound
	}
	if txn.PaymentMethod != models.PaymentMethodBankTransfer || !txn.MayCancel() {
		return nil, ErrInvalidState
	}

	if err := statemachine.NewTransactionFSM(txn).Fail(ctx, reason); err != nil {
		return nil, ErrInvalidState
	}
	if err := s.txnRepo.Update(ctx, txn); err != nil {
		return nil, err
	}

	s.worker.EnqueueAsync(func(ctx context.Context) error {
		return s.notificationSvc.NotifyUser(ctx, txn.UserID,
			"Payment rejected",
			fmt.Sprintf("Your bank transfer %s was rejected: %s", txn.Reference, reason),
			models.NotificationTypePaymentFailed)
	})

	s.auditSvc.Log(ctx, actorID, "UPDATE", "Transaction", txn.ID,
		fmt.Sprintf("Bank transfer %s rejected: %s", txn.Reference, reason), ip, userAgent)

	return txn, nil
}

// UploadReceipt stores a wire receipt against a pending bank transfer and
// moves it to processing for review.
func (s *PaymentService) UploadReceipt(ctx context.Context, transactionID uint, file *multipart.FileHeader, actorID uint) (*models.Transaction, error) {
	txn, err := s.txnRepo.FindByID(ctx, transactionID)
	if err != nil {
		return nil, ErrNotFound
	}
	if txn.UserID != actorID {
		return nil, ErrUnauthorized
	}
	if txn.PaymentMethod != models.PaymentMethodBankTransfer || txn.Status != models.TransactionStatusPending {
		return nil, ErrInvalidState
	}

	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	path, err := s.storage.Upload(src, file, "receipts")
	if err != nil {
		return nil, err
	}

	if err := statemachine.NewTransactionFSM(txn).Process(ctx); err != nil {
		return nil, ErrInvalidState
	}
	txn.ReceiptPath = &path
	if err := s.txnRepo.Update(ctx, txn); err != nil {
		return nil, err
	}

	s.worker.EnqueueAsync(func(ctx context.Context) error {
		return s.notificationSvc.NotifyAdmins(ctx,
			"Bank transfer receipt uploaded",
			fmt.Sprintf("Transaction %s awaits review", txn.Reference),
			models.NotificationTypeSystem)
	})

	return txn, nil
}

// RefundPayment reverses a settled payment. The gateway refund happens first;
// the ledger row and the invoice state change are then committed together, so
// the books never show a refund the invoice does not reflect.
func (s *PaymentService) RefundPayment(ctx context.Context, transactionID uint, amount *float64, reason string, actorID uint, ip, userAgent string) (*models.Transaction, error) {
	original, err := s.txnRepo.FindByID(ctx, transactionID)
	if err != nil {
		return nil, ErrNotFound
	}
	if original.Type != models.TransactionTypePayment || original.Status != models.TransactionStatusCompleted {
		return nil, ErrInvalidState
	}
	if original.InvoiceID == nil {
		return nil, ErrInvalidState
	}

	// One refund row per payment
	if _, err := s.txnRepo.FindByReference(ctx, original.RefundReference()); err == nil {
		return nil, ErrDuplicate
	}

	invoice, err := s.invoiceRepo.FindByID(ctx, *original.InvoiceID)
	if err != nil {
		return nil, ErrNotFound
	}
	if !invoice.MayRefund() {
		return nil, models.ErrRefundNotPaid
	}

	refundAmount := original.Amount
	if amount != nil {
		if *amount <= 0 || *amount > original.Amount {
			return nil, models.ErrInvalidAmount
		}
		refundAmount = *amount
	}

	if original.GatewayChargeID != "" || original.GatewayIntentID != "" {
		_, err := s.gateway.CreateRefund(ctx, gateway.RefundParams{
			ChargeID:       original.GatewayChargeID,
			IntentID:       original.GatewayIntentID,
			Amount:         toMinorUnits(refundAmount),
			Reason:         reason,
			IdempotencyKey: original.RefundReference(),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
	}

	now := time.Now()
	refund := &models.Transaction{
		Reference:     original.RefundReference(),
		Type:          models.TransactionTypeRefund,
		Status:        models.TransactionStatusCompleted,
		Amount:        -refundAmount,
		Currency:      original.Currency,
		UserID:        original.UserID,
		InvoiceID:     original.InvoiceID,
		ProjectID:     original.ProjectID,
		ProposalID:    original.ProposalID,
		PaymentMethod: original.PaymentMethod,
		Description:   fmt.Sprintf("Refund of %s: %s", original.Reference, reason),
		ProcessedAt:   &now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.txnRepo.WithTx(tx).Create(ctx, refund); err != nil {
			if errors.Is(err, repository.ErrDuplicateReference) {
				return ErrDuplicate
			}
			return err
		}

		if err := statemachine.NewTransactionFSM(original).MarkRefunded(ctx); err != nil {
			return err
		}
		if err := s.txnRepo.WithTx(tx).Update(ctx, original); err != nil {
			return err
		}

		var marked *float64
		if refundAmount < invoice.PaidAmount {
			marked = &refundAmount
		}
		if err := invoice.MarkRefunded(marked); err != nil {
			return err
		}
		return s.invoiceRepo.WithTx(tx).Update(ctx, invoice)
	})
	if err != nil {
		return nil, err
	}

	s.worker.EnqueueAsync(func(ctx context.Context) error {
		if err := s.notificationSvc.NotifyUser(ctx, original.UserID,
			"Refund issued",
			fmt.Sprintf("A refund of %.2f %s was issued for invoice %s", refundAmount, refund.Currency, invoice.Number),
			models.NotificationTypeRefundIssued); err != nil {
			return err
		}
		user, err := s.userRepo.FindByID(ctx, original.UserID)
		if err != nil {
			return err
		}
		return s.emailSvc.SendRefundIssued(ctx, user, invoice, refundAmount)
	})

	s.auditSvc.Log(ctx, actorID, "REFUND", "Transaction", refund.ID,
		fmt.Sprintf("Refund of %.2f %s for invoice %s (%s)", refundAmount, refund.Currency, invoice.Number, reason), ip, userAgent)

	return refund, nil
}

// SyncPendingCardPayments re-reads the gateway's view of card attempts stuck
// in pending or processing and reconciles the ledger. Intended to run
// periodically.
func (s *PaymentService) SyncPendingCardPayments(ctx context.Context) error {
	for _, status := range []string{models.TransactionStatusPending, models.TransactionStatusProcessing} {
		query := &repository.TransactionQuery{Status: status, Type: models.TransactionTypePayment}
		query.PerPage = 100
		query.Page = 1

		txns, _, err := s.txnRepo.List(ctx, query)
		if err != nil {
			return err
		}

		for i := range txns {
			txn := &txns[i]
			if txn.PaymentMethod != models.PaymentMethodCard || txn.GatewayIntentID == "" {
				continue
			}

			intent, err := s.gateway.RetrievePaymentIntent(ctx, txn.GatewayIntentID)
			if err != nil {
				logger.Warn(fmt.Sprintf("[Payment sync] Failed to retrieve intent %s: %v", txn.GatewayIntentID, err))
				continue
			}

			mapped := mapIntentStatus(intent.Status)
			if mapped == txn.Status {
				continue
			}

			txn.GatewayChargeID = intent.ChargeID
			if mapped != models.TransactionStatusCompleted {
				if err := applyGatewayStatus(ctx, txn, mapped); err != nil {
					logger.Warn(fmt.Sprintf("[Payment sync] Cannot move %s to %s: %v", txn.Reference, mapped, err))
					continue
				}
				if err := s.txnRepo.Update(ctx, txn); err != nil {
					logger.Error("Failed to sync transaction", "reference", txn.Reference, "error", err)
				}
				continue
			}

			if txn.InvoiceID == nil {
				continue
			}
			invoice, err := s.invoiceRepo.FindByID(ctx, *txn.InvoiceID)
			if err != nil {
				continue
			}
			if err := s.settle(ctx, txn, invoice); err != nil {
				logger.Error("Failed to settle synced payment", "reference", txn.Reference, "error", err)
				continue
			}
			s.notifyPaymentReceived(txn.UserID, invoice, txn)
		}
	}
	return nil
}

// PayoutConsultant transfers settled consultant earnings to their connected
// account and records the payout in the ledger.
func (s *PaymentService) PayoutConsultant(ctx context.Context, consultantID uint, amount float64, destination, description string, actorID uint, ip, userAgent string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, models.ErrInvalidAmount
	}
	consultant, err := s.userRepo.FindByID(ctx, consultantID)
	if err != nil {
		return nil, ErrNotFound
	}
	if !consultant.IsConsultant() {
		return nil, ErrInvalidState
	}

	reference := "payout_" + uuid.NewString()
	transfer, err := s.gateway.CreateTransfer(ctx, gateway.TransferParams{
		Amount:         toMinorUnits(amount),
		Currency:       "USD",
		Destination:    destination,
		Description:    description,
		IdempotencyKey: reference,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	now := time.Now()
	txn := &models.Transaction{
		Reference:       reference,
		Type:            models.TransactionTypePayout,
		Status:          models.TransactionStatusCompleted,
		Amount:          -amount,
		Currency:        transfer.Currency,
		UserID:          consultantID,
		PaymentMethod:   models.PaymentMethodBankTransfer,
		GatewayChargeID: transfer.ID,
		Description:     description,
		ProcessedAt:     &now,
	}
	if err := s.txnRepo.Create(ctx, txn); err != nil {
		return nil, err
	}

	s.worker.EnqueueAsync(func(ctx context.Context) error {
		return s.notificationSvc.NotifyUser(ctx, consultantID,
			"Payout sent",
			fmt.Sprintf("A payout of %.2f %s is on its way", amount, txn.Currency),
			models.NotificationTypePaymentReceived)
	})

	s.auditSvc.Log(ctx, actorID, "CREATE", "Transaction", txn.ID,
		fmt.Sprintf("Payout of %.2f %s to consultant %d", amount, txn.Currency, consultantID), ip, userAgent)

	return txn, nil
}

func (s *PaymentService) FindTransaction(ctx context.Context, id uint) (*models.Transaction, error) {
	return s.txnRepo.FindByID(ctx, id)
}

func (s *PaymentService) FindByInvoice(ctx context.Context, invoiceID uint) ([]models.Transaction, error) {
	return s.txnRepo.FindByInvoice(ctx, invoiceID)
}

func (s *PaymentService) ListTransactions(ctx context.Context, query *repository.TransactionQuery, actor *models.User) ([]models.Transaction, int64, error) {
	if actor != nil && !actor.IsAdmin() {
		query.UserID = &actor.ID
	}
	return s.txnRepo.List(ctx, query)
}

func (s *PaymentService) GetStats(ctx context.Context, from, to time.Time) (*repository.TransactionStats, error) {
	return s.txnRepo.Stats(ctx, from, to)
}

// ensureGatewayCustomer returns the user's gateway customer id, creating it
// on first use.
func (s *PaymentService) ensureGatewayCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.GatewayCustomerID != nil && *user.GatewayCustomerID != "" {
		return *user.GatewayCustomerID, nil
	}

	customer, err := s.gateway.CreateCustomer(ctx, gateway.CustomerParams{
		Email: user.Email,
		Name:  user.FullName,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if err := s.userRepo.SetGatewayCustomerID(ctx, user.ID, customer.ID); err != nil {
		return "", err
	}
	user.GatewayCustomerID = &customer.ID
	return customer.ID, nil
}

func (s *PaymentService) notifyPaymentReceived(userID uint, invoice *models.Invoice, txn *models.Transaction) {
	inv := *invoice
	t := *txn
	s.worker.EnqueueAsync(func(ctx context.Context) error {
		if err := s.notificationSvc.NotifyUser(ctx, userID,
			"Payment received",
			fmt.Sprintf("Your payment of %.2f %s for invoice %s was received", t.Amount, t.Currency, inv.Number),
			models.NotificationTypePaymentReceived); err != nil {
			return err
		}
		user, err := s.userRepo.FindByID(ctx, userID)
		if err != nil {
			return err
		}
		return s.emailSvc.SendPaymentReceipt(ctx, user, &inv, &t)
	})
}

func (s *PaymentService) notifyPaymentFailed(userID uint, invoice *models.Invoice, reason string) {
	number := invoice.Number
	s.worker.EnqueueAsync(func(ctx context.Context) error {
		return s.notificationSvc.NotifyUser(ctx, userID,
			"Payment failed",
			fmt.Sprintf("Your payment for invoice %s failed: %s", number, reason),
			models.NotificationTypePaymentFailed)
	})
}

func (s *PaymentService) overpaymentPolicy() models.OverpaymentPolicy {
	switch s.cfg.OverpaymentPolicy {
	case "clamp":
		return models.OverpaymentClamp
	case "reject":
		return models.OverpaymentReject
	default:
		return models.OverpaymentAllow
	}
}

// applyGatewayStatus moves an in-flight transaction toward the gateway's
// view of its intent through the guarded state machine. A status with no
// legal forward transition (an intent falling back to requires_action)
// leaves the row where it is.
func applyGatewayStatus(ctx context.Context, txn *models.Transaction, mapped string) error {
	if mapped == txn.Status {
		return nil
	}
	machine := statemachine.NewTransactionFSM(txn)
	switch mapped {
	case models.TransactionStatusProcessing:
		return machine.Process(ctx)
	case models.TransactionStatusCancelled:
		return machine.Cancel(ctx)
	}
	return nil
}

// mapIntentStatus translates gateway intent statuses into ledger statuses
func mapIntentStatus(status string) string {
	switch status {
	case gateway.IntentStatusSucceeded:
		return models.TransactionStatusCompleted
	case gateway.IntentStatusRequiresAction:
		return models.TransactionStatusPending
	case gateway.IntentStatusCanceled:
		return models.TransactionStatusCancelled
	default:
		return models.TransactionStatusProcessing
	}
}

// toMinorUnits converts a major-unit amount to the gateway's integer cents
func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
