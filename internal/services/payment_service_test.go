package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/consultia/billing-api/internal/config"
	"github.com/consultia/billing-api/internal/gateway"
	"github.com/consultia/billing-api/internal/jobs"
	"github.com/consultia/billing-api/internal/models"
	"github.com/consultia/billing-api/internal/repository"
)

// Mock TransactionRepository (using embedding to avoid implementing all methods)
type mockTransactionRepository struct {
	repository.TransactionRepository
	mockFindByID        func(ctx context.Context, id uint) (*models.Transaction, error)
	mockFindByReference func(ctx context.Context, reference string) (*models.Transaction, error)
	mockCreate          func(ctx context.Context, txn *models.Transaction) error
	mockUpdate          func(ctx context.Context, txn *models.Transaction) error
}

func (m *mockTransactionRepository) FindByID(ctx context.Context, id uint) (*models.Transaction, error) {
	if m.mockFindByID != nil {
		return m.mockFindByID(ctx, id)
	}
	return nil, errors.New("not found")
}
func (m *mockTransactionRepository) FindByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	if m.mockFindByReference != nil {
		return m.mockFindByReference(ctx, reference)
	}
	return nil, errors.New("not found")
}
func (m *mockTransactionRepository) Create(ctx context.Context, txn *models.Transaction) error {
	if m.mockCreate != nil {
		return m.mockCreate(ctx, txn)
	}
	return nil
}
func (m *mockTransactionRepository) Update(ctx context.Context, txn *models.Transaction) error {
	if m.mockUpdate != nil {
		return m.mockUpdate(ctx, txn)
	}
	return nil
}

// Mock InvoiceRepository
type mockInvoiceRepository struct {
	repository.InvoiceRepository
	mockFindByID func(ctx context.Context, id uint) (*models.Invoice, error)
}

func (m *mockInvoiceRepository) FindByID(ctx context.Context, id uint) (*models.Invoice, error) {
	if m.mockFindByID != nil {
		return m.mockFindByID(ctx, id)
	}
	return nil, errors.New("not found")
}

// Mock UserRepository
type mockUserRepository struct {
	repository.UserRepository
	mockFindByID             func(ctx context.Context, id uint) (*models.User, error)
	mockFindByEmail          func(ctx context.Context, email string) (*models.User, error)
	mockFindAdmins           func(ctx context.Context) ([]models.User, error)
	mockSetGatewayCustomerID func(ctx context.Context, userID uint, customerID string) error
}

func (m *mockUserRepository) FindByID(ctx context.Context, id uint) (*models.User, error) {
	if m.mockFindByID != nil {
		return m.mockFindByID(ctx, id)
	}
	return nil, errors.New("not found")
}
func (m *mockUserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.mockFindByEmail != nil {
		return m.mockFindByEmail(ctx, email)
	}
	return nil, errors.New("not found")
}
func (m *mockUserRepository) FindAdmins(ctx context.Context) ([]models.User, error) {
	if m.mockFindAdmins != nil {
		return m.mockFindAdmins(ctx)
	}
	return nil, nil
}
func (m *mockUserRepository) SetGatewayCustomerID(ctx context.Context, userID uint, customerID string) error {
	if m.mockSetGatewayCustomerID != nil {
		return m.mockSetGatewayCustomerID(ctx, userID, customerID)
	}
	return nil
}

// Mock NotificationRepository
type mockNotificationRepository struct {
	repository.NotificationRepository
	mockCreate func(ctx context.Context, notification *models.Notification) error
}

func (m *mockNotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	if m.mockCreate != nil {
		return m.mockCreate(ctx, notification)
	}
	return nil
}

// Fake gateway with scriptable responses
type fakeGateway struct {
	mockCreateCustomer      func(ctx context.Context, params gateway.CustomerParams) (*gateway.Customer, error)
	mockCreatePaymentIntent func(ctx context.Context, params gateway.IntentParams) (*gateway.PaymentIntent, error)
	mockRetrieveIntent      func(ctx context.Context, intentID string) (*gateway.PaymentIntent, error)
	mockCreateRefund        func(ctx context.Context, params gateway.RefundParams) (*gateway.Refund, error)
	mockCreateTransfer      func(ctx context.Context, params gateway.TransferParams) (*gateway.Transfer, error)
}

func (f *fakeGateway) CreateCustomer(ctx context.Context, params gateway.CustomerParams) (*gateway.Customer, error) {
	if f.mockCreateCustomer != nil {
		return f.mockCreateCustomer(ctx, params)
	}
	return &gateway.Customer{ID: "cus_test", Email: params.Email, Name: params.Name}, nil
}
func (f *fakeGateway) CreatePaymentIntent(ctx context.Context, params gateway.IntentParams) (*gateway.PaymentIntent, error) {
	if f.mockCreatePaymentIntent != nil {
		return f.mockCreatePaymentIntent(ctx, params)
	}
	return nil, errors.New("not scripted")
}
func (f *fakeGateway) RetrievePaymentIntent(ctx context.Context, intentID string) (*gateway.PaymentIntent, error) {
	if f.mockRetrieveIntent != nil {
		return f.mockRetrieveIntent(ctx, intentID)
	}
	return nil, errors.New("not scripted")
}
func (f *fakeGateway) CreateRefund(ctx context.Context, params gateway.RefundParams) (*gateway.Refund, error) {
	if f.mockCreateRefund != nil {
		return f.mockCreateRefund(ctx, params)
	}
	return nil, errors.New("not scripted")
}
func (f *fakeGateway) CreateTransfer(ctx context.Context, params gateway.TransferParams) (*gateway.Transfer, error) {
	if f.mockCreateTransfer != nil {
		return f.mockCreateTransfer(ctx, params)
	}
	return nil, errors.New("not scripted")
}

func newPaymentServiceForTest(txnRepo *mockTransactionRepository, invoiceRepo *mockInvoiceRepository, userRepo *mockUserRepository, gw *fakeGateway, worker *jobs.Worker) *PaymentService {
	notifService := NewNotificationService(&mockNotificationRepository{}, userRepo)
	cfg := &config.Config{OverpaymentPolicy: "allow"}
	return NewPaymentService(nil, txnRepo, invoiceRepo, userRepo, gw, notifService, nil, nil, nil, worker, cfg)
}

func sentInvoice(id uint, clientID uint, total float64) *models.Invoice {
	inv := &models.Invoice{
		ID:       id,
		Number:   "INV-2608-0007",
		Type:     models.InvoiceTypeClient,
		Status:   models.InvoiceStatusSent,
		ClientID: &clientID,
		Currency: "USD",
		Items:    []models.InvoiceItem{{Quantity: 1, UnitPrice: total}},
		DueDate:  time.Now().AddDate(0, 0, 30),
	}
	inv.RecomputeTotals(time.Now())
	return inv
}

func TestProcessPayment_BankTransferStaysPending(t *testing.T) {
	worker := jobs.NewWorker(0)
	defer worker.Shutdown()

	clientID := uint(5)
	invoice := sentInvoice(1, clientID, 500)

	var created *models.Transaction
	txnRepo := &mockTransactionRepository{
		mockCreate: func(ctx context.Context, txn *models.Transaction) error {
			created = txn
			return nil
		},
	}
	invoiceRepo := &mockInvoiceRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.Invoice, error) {
			return invoice, nil
		},
	}

	service := newPaymentServiceForTest(txnRepo, invoiceRepo, &mockUserRepository{}, &fakeGateway{}, worker)

	actor := &models.User{ID: clientID, Role: models.RoleClient, FullName: "Ada Client", Email: "ada@example.com"}
	result, err := service.ProcessPayment(context.Background(), &ProcessPaymentParams{
		InvoiceID:     1,
		Amount:        500,
		PaymentMethod: models.PaymentMethodBankTransfer,
	}, actor, "127.0.0.1", "test")

	assert.NoError(t, err)
	assert.NotNil(t, created, "a pending ledger row must be written")
	assert.Equal(t, models.TransactionStatusPending, result.Transaction.Status)
	assert.Equal(t, models.PaymentMethodBankTransfer, result.Transaction.PaymentMethod)
	assert.Contains(t, result.Transaction.Reference, "txn_")
	assert.Equal(t, "Ada Client", result.Transaction.BillingName)
	// The invoice does not move until the transfer is reviewed
	assert.Equal(t, models.InvoiceStatusSent, result.Invoice.Status)
	assert.Equal(t, 0.0, result.Invoice.PaidAmount)
}

func TestProcessPayment_Guards(t *testing.T) {
	worker := jobs.NewWorker(0)
	defer worker.Shutdown()

	clientID := uint(5)
	invoiceRepo := &mockInvoiceRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.Invoice, error) {
			inv := sentInvoice(id, clientID, 100)
			switch id {
			case 2:
				inv.Status = models.InvoiceStatusDraft
			case 3:
				inv.Status = models.InvoiceStatusCancelled
			}
			return inv, nil
		},
	}
	service := newPaymentServiceForTest(&mockTransactionRepository{}, invoiceRepo, &mockUserRepository{}, &fakeGateway{}, worker)

	actor := &models.User{ID: clientID, Role: models.RoleClient}

	_, err := service.ProcessPayment(context.Background(), &ProcessPaymentParams{InvoiceID: 1, Amount: -5, PaymentMethod: models.PaymentMethodCard}, actor, "", "")
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	_, err = service.ProcessPayment(context.Background(), &ProcessPaymentParams{InvoiceID: 2, Amount: 50, PaymentMethod: models.PaymentMethodCard}, actor, "", "")
	assert.ErrorIs(t, err, ErrInvalidState, "draft invoices are not payable")

	_, err = service.ProcessPayment(context.Background(), &ProcessPaymentParams{InvoiceID: 3, Amount: 50, PaymentMethod: models.PaymentMethodCard}, actor, "", "")
	assert.ErrorIs(t, err, ErrInvalidState, "cancelled invoices are not payable")

	stranger := &models.User{ID: 99, Role: models.RoleClient}
	_, err = service.ProcessPayment(context.Background(), &ProcessPaymentParams{InvoiceID: 1, Amount: 50, PaymentMethod: models.PaymentMethodBankTransfer}, stranger, "", "")
	assert.ErrorIs(t, err, ErrUnauthorized, "only the invoice recipient may pay")
}

func TestProcessPayment_GatewayFailureMarksTransactionFailed(t *testing.T) {
	worker := jobs.NewWorker(0)
	defer worker.Shutdown()

	clientID := uint(5)
	invoice := sentInvoice(1, clientID, 200)

	var updated *models.Transaction
	txnRepo := &mockTransactionRepository{
		mockUpdate: func(ctx context.Context, txn *models.Transaction) error {
			updated = txn
			return nil
		},
	}
	invoiceRepo := &mockInvoiceRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.Invoice, error) {
			return invoice, nil
		},
	}
	gw := &fakeGateway{
		mockCreatePaymentIntent: func(ctx context.Context, params gateway.IntentParams) (*gateway.PaymentIntent, error) {
			return nil, errors.New("card_declined")
		},
	}

	service := newPaymentServiceForTest(txnRepo, invoiceRepo, &mockUserRepository{}, gw, worker)

	actor := &models.User{ID: clientID, Role: models.RoleClient, Email: "ada@example.com"}
	_, err := service.ProcessPayment(context.Background(), &ProcessPaymentParams{
		InvoiceID:     1,
		Amount:        200,
		PaymentMethod: models.PaymentMethodCard,
	}, actor, "", "")

	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	// The pending row is kept as a failed attempt, never deleted
	assert.NotNil(t, updated)
	assert.Equal(t, models.TransactionStatusFailed, updated.Status)
	assert.NotNil(t, updated.FailureReason)
	assert.Contains(t, *updated.FailureReason, "card_declined")
}

func TestChargeCard_RequiresActionStaysPending(t *testing.T) {
	worker := jobs.NewWorker(0)
	defer worker.Shutdown()

	clientID := uint(5)
	invoice := sentInvoice(1, clientID, 300)

	var intentParams gateway.IntentParams
	gw := &fakeGateway{
		mockCreatePaymentIntent: func(ctx context.Context, params gateway.IntentParams) (*gateway.PaymentIntent, error) {
			intentParams = params
			return &gateway.PaymentIntent{
				ID:           "pi_123",
				ClientSecret: "pi_123_secret",
				Status:       gateway.IntentStatusRequiresAction,
			}, nil
		},
	}

	var customerAssigned string
	userRepo := &mockUserRepository{
		mockSetGatewayCustomerID: func(ctx context.Context, userID uint, customerID string) error {
			customerAssigned = customerID
			return nil
		},
	}

	service := newPaymentServiceForTest(&mockTransactionRepository{}, &mockInvoiceRepository{}, userRepo, gw, worker)

	actor := &models.User{ID: clientID, Role: models.RoleClient, Email: "ada@example.com", FullName: "Ada Client"}
	txn := &models.Transaction{
		Reference: "txn_requires_action",
		Status:    models.TransactionStatusPending,
		Amount:    300,
		Currency:  "USD",
		UserID:    actor.ID,
	}

	result, err := service.chargeCard(context.Background(), txn, invoice, actor)

	assert.NoError(t, err)
	assert.Equal(t, models.TransactionStatusPending, txn.Status)
	assert.Equal(t, "pi_123", txn.GatewayIntentID)
	assert.Equal(t, "pi_123_secret", result.ClientSecret)
	// The gateway customer is created lazily on first charge
	assert.Equal(t, "cus_test", customerAssigned)
	assert.Equal(t, "cus_test", *actor.GatewayCustomerID)
	// Amount converted to minor units, reference reused as idempotency key
	assert.Equal(t, int64(30000), intentParams.Amount)
	assert.Equal(t, "txn_requires_action", intentParams.IdempotencyKey)
	// No settlement happened
	assert.Equal(t, 0.0, invoice.PaidAmount)
}

func TestRefundPayment_Guards(t *testing.T) {
	worker := jobs.NewWorker(0)
	defer worker.Shutdown()

	invoiceID := uint(1)
	payment := &models.Transaction{
		ID:        10,
		Reference: "txn_original",
		Type:      models.TransactionTypePayment,
		Status:    models.TransactionStatusCompleted,
		Amount:    400,
		Currency:  "USD",
		UserID:    5,
		InvoiceID: &invoiceID,
	}

	t.Run("only completed payments are refundable", func(t *testing.T) {
		pending := *payment
		pending.Status = models.TransactionStatusPending
		txnRepo := &mockTransactionRepository{
			mockFindByID: func(ctx context.Context, id uint) (*models.Transaction, error) {
				return &pending, nil
			},
		}
		service := newPaymentServiceForTest(txnRepo, &mockInvoiceRepository{}, &mockUserRepository{}, &fakeGateway{}, worker)

		_, err := service.RefundPayment(context.Background(), 10, nil, "test", 1, "", "")
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("second refund of the same payment is rejected", func(t *testing.T) {
		txnRepo := &mockTransactionRepository{
			mockFindByID: func(ctx context.Context, id uint) (*models.Transaction, error) {
				p := *payment
				return &p, nil
			},
			mockFindByReference: func(ctx context.Context, reference string) (*models.Transaction, error) {
				assert.Equal(t, "refund_txn_original", reference)
				return &models.Transaction{Reference: reference}, nil
			},
		}
		service := newPaymentServiceForTest(txnRepo, &mockInvoiceRepository{}, &mockUserRepository{}, &fakeGateway{}, worker)

		_, err := service.RefundPayment(context.Background(), 10, nil, "test", 1, "", "")
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("partial amount must not exceed the original", func(t *testing.T) {
		txnRepo := &mockTransactionRepository{
			mockFindByID: func(ctx context.Context, id uint) (*models.Transaction, error) {
				p := *payment
				return &p, nil
			},
		}
		invoiceRepo := &mockInvoiceRepository{
			mockFindByID: func(ctx context.Context, id uint) (*models.Invoice, error) {
				inv := sentInvoice(id, 5, 400)
				inv.Status = models.InvoiceStatusPaid
				inv.PaidAmount = 400
				return inv, nil
			},
		}
		service := newPaymentServiceForTest(txnRepo, invoiceRepo, &mockUserRepository{}, &fakeGateway{}, worker)

		tooMuch := 500.0
		_, err := service.RefundPayment(context.Background(), 10, &tooMuch, "test", 1, "", "")
		assert.ErrorIs(t, err, models.ErrInvalidAmount)

		negative := -5.0
		_, err = service.RefundPayment(context.Background(), 10, &negative, "test", 1, "", "")
		assert.ErrorIs(t, err, models.ErrInvalidAmount)
	})

	t.Run("invoice must hold refundable funds", func(t *testing.T) {
		txnRepo := &mockTransactionRepository{
			mockFindByID: func(ctx context.Context, id uint) (*models.Transaction, error) {
				p := *payment
				return &p, nil
			},
		}
		invoiceRepo := &mockInvoiceRepository{
			mockFindByID: func(ctx context.Context, id uint) (*models.Invoice, error) {
				return sentInvoice(id, 5, 400), nil // still sent, nothing paid
			},
		}
		service := newPaymentServiceForTest(txnRepo, invoiceRepo, &mockUserRepository{}, &fakeGateway{}, worker)

		_, err := service.RefundPayment(context.Background(), 10, nil, "test", 1, "", "")
		assert.ErrorIs(t, err, models.ErrRefundNotPaid)
	})
}

func TestMapIntentStatus(t *testing.T) {
	assert.Equal(t, models.TransactionStatusCompleted, mapIntentStatus(gateway.IntentStatusSucceeded))
	assert.Equal(t, models.TransactionStatusPending, mapIntentStatus(gateway.IntentStatusRequiresAction))
	assert.Equal(t, models.TransactionStatusCancelled, mapIntentStatus(gateway.IntentStatusCanceled))
	assert.Equal(t, models.TransactionStatusProcessing, mapIntentStatus(gateway.IntentStatusProcessing))
	assert.Equal(t, models.TransactionStatusProcessing, mapIntentStatus("requires_payment_method"))
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(10000), toMinorUnits(100))
	assert.Equal(t, int64(1999), toMinorUnits(19.99))
	// Float noise must round, not truncate
	assert.Equal(t, int64(1003), toMinorUnits(10.03))
}

func TestApplyGatewayStatus(t *testing.T) {
	tests := []struct {
		name    string
		current string
		mapped  string
		want    string
	}{
		{"intent starts processing", models.TransactionStatusPending, models.TransactionStatusProcessing, models.TransactionStatusProcessing},
		{"intent cancelled before capture", models.TransactionStatusPending, models.TransactionStatusCancelled, models.TransactionStatusCancelled},
		{"processing cancelled at the gateway", models.TransactionStatusProcessing, models.TransactionStatusCancelled, models.TransactionStatusCancelled},
		{"same status is a no-op", models.TransactionStatusProcessing, models.TransactionStatusProcessing, models.TransactionStatusProcessing},
		// An intent falling back to requires_action has no forward
		// transition, the row stays where it is.
		{"no backwards move to pending", models.TransactionStatusProcessing, models.TransactionStatusPending, models.TransactionStatusProcessing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn := &models.Transaction{Status: tt.current}
			err := applyGatewayStatus(context.Background(), txn, tt.mapped)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, txn.Status)
		})
	}
}

func TestChargeCard_CanceledIntentCancelsTransaction(t *testing.T) {
	worker := jobs.NewWorker(0)
	defer worker.Shutdown()

	clientID := uint(5)
	invoice := sentInvoice(1, clientID, 250)

	gw := &fakeGateway{
		mockCreatePaymentIntent: func(ctx context.Context, params gateway.IntentParams) (*gateway.PaymentIntent, error) {
			return &gateway.PaymentIntent{ID: "pi_gone", Status: gateway.IntentStatusCanceled}, nil
		},
	}

	var updated *models.Transaction
	txnRepo := &mockTransactionRepository{
		mockUpdate: func(ctx context.Context, txn *models.Transaction) error {
			updated = txn
			return nil
		},
	}

	service := newPaymentServiceForTest(txnRepo, &mockInvoiceRepository{}, &mockUserRepository{}, gw, worker)

	actor := &models.User{ID: clientID, Role: models.RoleClient, Email: "ada@example.com", FullName: "Ada Client"}
	txn := &models.Transaction{
		Reference: "txn_canceled",
		Status:    models.TransactionStatusPending,
		Amount:    250,
		Currency:  "USD",
		UserID:    actor.ID,
	}

	_, err := service.chargeCard(context.Background(), txn, invoice, actor)

	assert.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCancelled, txn.Status)
	// The cancelled row is persisted and no settlement touched the invoice
	assert.Same(t, txn, updated)
	assert.Equal(t, 0.0, invoice.PaidAmount)
	assert.Equal(t, models.InvoiceStatusSent, invoice.Status)
}
