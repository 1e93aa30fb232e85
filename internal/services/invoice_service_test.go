package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/consultia/billing-api/internal/config"
	"github.com/consultia/billing-api/internal/jobs"
	"github.com/consultia/billing-api/internal/models"
	"github.com/consultia/billing-api/internal/repository"
)

// Separate mock with sweep support
type mockInvoiceRepoWithSweeps struct {
	repository.InvoiceRepository
	mockFindByID              func(ctx context.Context, id uint) (*models.Invoice, error)
	mockFindOverdueCandidates func(ctx context.Context, today time.Time) ([]models.Invoice, error)
	mockFindOverdue           func(ctx context.Context, today time.Time) ([]models.Invoice, error)
	mockFindDueRecurring      func(ctx context.Context, now time.Time) ([]models.Invoice, error)
	mockNextNumber            func(ctx context.Context, prefix string, now time.Time) (string, error)
	mockCreate                func(ctx context.Context, invoice *models.Invoice) error
	mockUpdate                func(ctx context.Context, invoice *models.Invoice) error
	mockReplaceItems          func(ctx context.Context, invoice *models.Invoice) error
}

func (m *mockInvoiceRepoWithSweeps) FindByID(ctx context.Context, id uint) (*models.Invoice, error) {
	if m.mockFindByID != nil {
		return m.mockFindByID(ctx, id)
	}
	return nil, errors.New("not found")
}

func (m *mockInvoiceRepoWithSweeps) FindOverdueCandidates(ctx context.Context, today time.Time) ([]models.Invoice, error) {
	if m.mockFindOverdueCandidates != nil {
		return m.mockFindOverdueCandidates(ctx, today)
	}
	return nil, nil
}
func (m *mockInvoiceRepoWithSweeps) FindOverdue(ctx context.Context, today time.Time) ([]models.Invoice, error) {
	if m.mockFindOverdue != nil {
		return m.mockFindOverdue(ctx, today)
	}
	return nil, nil
}
func (m *mockInvoiceRepoWithSweeps) FindDueRecurring(ctx context.Context, now time.Time) ([]models.Invoice, error) {
	if m.mockFindDueRecurring != nil {
		return m.mockFindDueRecurring(ctx, now)
	}
	return nil, nil
}
func (m *mockInvoiceRepoWithSweeps) NextNumber(ctx context.Context, prefix string, now time.Time) (string, error) {
	if m.mockNextNumber != nil {
		return m.mockNextNumber(ctx, prefix, now)
	}
	return prefix + "-0000-0001", nil
}
func (m *mockInvoiceRepoWithSweeps) Create(ctx context.Context, invoice *models.Invoice) error {
	if m.mockCreate != nil {
		return m.mockCreate(ctx, invoice)
	}
	return nil
}
func (m *mockInvoiceRepoWithSweeps) Update(ctx context.Context, invoice *models.Invoice) error {
	if m.mockUpdate != nil {
		return m.mockUpdate(ctx, invoice)
	}
	return nil
}
func (m *mockInvoiceRepoWithSweeps) ReplaceItems(ctx context.Context, invoice *models.Invoice) error {
	if m.mockReplaceItems != nil {
		return m.mockReplaceItems(ctx, invoice)
	}
	return nil
}

func newInvoiceServiceForTest(repo *mockInvoiceRepoWithSweeps, userRepo *mockUserRepository, worker *jobs.Worker) *InvoiceService {
	notifService := NewNotificationService(&mockNotificationRepository{}, userRepo)
	cfg := &config.Config{
		ClientInvoicePrefix:     "INV",
		ConsultantInvoicePrefix: "CON",
		PlatformInvoicePrefix:   "PLT",
		RefundInvoicePrefix:     "REF",
	}
	return NewInvoiceService(repo, userRepo, nil, nil, notifService, nil, nil, worker, cfg)
}

func TestCheckOverdueInvoices(t *testing.T) {
	worker := jobs.NewWorker(0)
	defer worker.Shutdown()

	clientID := uint(5)
	overdue := models.Invoice{
		ID:       1,
		Number:   "INV-2607-0003",
		Type:     models.InvoiceTypeClient,
		Status:   models.InvoiceStatusSent,
		ClientID: &clientID,
		Currency: "USD",
		DueDate:  time.Now().AddDate(0, 0, -5),
	}
	alreadyPaid := models.Invoice{
		ID:     2,
		Status: models.InvoiceStatusPaid,
	}

	var updated []uint
	repo := &mockInvoiceRepoWithSweeps{
		mockFindOverdueCandidates: func(ctx context.Context, today time.Time) ([]models.Invoice, error) {
			return []models.Invoice{overdue, alreadyPaid}, nil
		},
		mockUpdate: func(ctx context.Context, invoice *models.Invoice) error {
			updated = append(updated, invoice.ID)
			assert.Equal(t, models.InvoiceStatusOverdue, invoice.Status)
			return nil
		},
	}

	notified := 0
	userRepo := &mockUserRepository{}
	service := newInvoiceServiceForTest(repo, userRepo, worker)
	service.notificationSvc = NewNotificationService(&mockNotificationRepository{
		mockCreate: func(ctx context.Context, n *models.Notification) error {
			notified++
			assert.Equal(t, clientID, n.UserID)
			return nil
		},
	}, userRepo)

	err := service.CheckOverdueInvoices(context.Background())
	assert.NoError(t, err)
	// The paid invoice has no overdue transition and must be left alone
	assert.Equal(t, []uint{1}, updated)
	assert.Equal(t, 1, notified)
}

func TestGenerateDueRecurringInvoices(t *testing.T) {
	worker := jobs.NewWorker(0)
	defer worker.Shutdown()

	clientID := uint(5)
	cycles := 2
	parent := models.Invoice{
		ID:                 10,
		Number:             "INV-2607-0001",
		Type:               models.InvoiceTypeClient,
		Status:             models.InvoiceStatusPaid,
		ClientID:           &clientID,
		Currency:           "USD",
		IsRecurring:        true,
		RecurringFrequency: models.FrequencyMonthly,
		RemainingCycles:    &cycles,
		Items:              []models.InvoiceItem{{Description: "Retainer", Quantity: 1, UnitPrice: 1500}},
	}

	var createdChild *models.Invoice
	var updatedParent *models.Invoice
	repo := &mockInvoiceRepoWithSweeps{
		mockFindDueRecurring: func(ctx context.Context, now time.Time) ([]models.Invoice, error) {
			return []models.Invoice{parent}, nil
		},
		mockNextNumber: func(ctx context.Context, prefix string, now time.Time) (string, error) {
			assert.Equal(t, "INV", prefix)
			return "INV-2608-0009", nil
		},
		mockCreate: func(ctx context.Context, invoice *models.Invoice) error {
			invoice.ID = 11
			createdChild = invoice
			return nil
		},
		mockUpdate: func(ctx context.Context, invoice *models.Invoice) error {
			updatedParent = invoice
			return nil
		},
	}

	service := newInvoiceServiceForTest(repo, &mockUserRepository{}, worker)

	err := service.GenerateDueRecurringInvoices(context.Background())
	assert.NoError(t, err)

	assert.NotNil(t, createdChild)
	assert.Equal(t, "INV-2608-0009", createdChild.Number)
	assert.Equal(t, models.InvoiceStatusDraft, createdChild.Status)
	assert.Equal(t, uint(10), *createdChild.ParentInvoiceID)
	assert.Equal(t, 1500.0, createdChild.Total)
	assert.Equal(t, 1, *createdChild.RemainingCycles)

	assert.NotNil(t, updatedParent)
	assert.Equal(t, []uint{11}, updatedParent.RelatedInvoiceIDs)
	assert.Equal(t, 1, *updatedParent.RemainingCycles)
}

func TestGenerateDueRecurringInvoices_SkipsExhaustedChains(t *testing.T) {
	worker := jobs.NewWorker(0)
	defer worker.Shutdown()

	spent := 0
	parent := models.Invoice{
		ID:                 10,
		IsRecurring:        true,
		RecurringFrequency: models.FrequencyMonthly,
		RemainingCycles:    &spent,
	}

	created := false
	repo := &mockInvoiceRepoWithSweeps{
		mockFindDueRecurring: func(ctx context.Context, now time.Time) ([]models.Invoice, error) {
			return []models.Invoice{parent}, nil
		},
		mockCreate: func(ctx context.Context, invoice *models.Invoice) error {
			created = true
			return nil
		},
	}

	service := newInvoiceServiceForTest(repo, &mockUserRepository{}, worker)

	assert.NoError(t, service.GenerateDueRecurringInvoices(context.Background()))
	assert.False(t, created, "an exhausted chain spawns nothing")
}

func TestInvoiceService_CanAccess(t *testing.T) {
	clientID, consultantID := uint(1), uint(2)
	invoice := &models.Invoice{ClientID: &clientID, ConsultantID: &consultantID}
	service := &InvoiceService{}

	admin := &models.User{ID: 99, Role: models.RoleAdmin}
	assert.True(t, service.canAccess(admin, invoice))

	client := &models.User{ID: clientID, Role: models.RoleClient}
	assert.True(t, service.canAccess(client, invoice))

	consultant := &models.User{ID: consultantID, Role: models.RoleConsultant}
	assert.True(t, service.canAccess(consultant, invoice))

	stranger := &models.User{ID: 50, Role: models.RoleClient}
	assert.False(t, service.canAccess(stranger, invoice))
}

func TestValidateParties(t *testing.T) {
	clientID := uint(1)
	userRepo := &mockUserRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.User, error) {
			return &models.User{ID: id}, nil
		},
	}
	service := &InvoiceService{userRepo: userRepo}

	err := service.validateParties(context.Background(), &CreateInvoiceParams{Type: models.InvoiceTypeClient})
	assert.Error(t, err, "client invoice requires a client")

	err = service.validateParties(context.Background(), &CreateInvoiceParams{Type: models.InvoiceTypeClient, ClientID: &clientID})
	assert.NoError(t, err)

	err = service.validateParties(context.Background(), &CreateInvoiceParams{Type: "freeform"})
	assert.Error(t, err, "unknown invoice types are rejected")

	err = service.validateParties(context.Background(), &CreateInvoiceParams{
		Type:        models.InvoiceTypeClient,
		ClientID:    &clientID,
		IsRecurring: true,
	})
	assert.Error(t, err, "recurring invoices require a frequency")
}

func TestUpdateDraft_ReplacesItems(t *testing.T) {
	worker := jobs.NewWorker(0)
	defer worker.Shutdown()

	clientID := uint(5)
	draft := &models.Invoice{
		ID:       3,
		Number:   "INV-2608-0003",
		Type:     models.InvoiceTypeClient,
		Status:   models.InvoiceStatusDraft,
		ClientID: &clientID,
		Currency: "USD",
		DueDate:  time.Now().AddDate(0, 0, 30),
		Items: []models.InvoiceItem{
			{ID: 21, InvoiceID: 3, Description: "Discovery workshop", Quantity: 1, UnitPrice: 900},
			{ID: 22, InvoiceID: 3, Description: "Travel", Quantity: 1, UnitPrice: 150},
		},
	}
	draft.RecomputeTotals(time.Now())

	var replaced *models.Invoice
	plainUpdate := false
	repo := &mockInvoiceRepoWithSweeps{
		mockFindByID: func(ctx context.Context, id uint) (*models.Invoice, error) {
			return draft, nil
		},
		mockReplaceItems: func(ctx context.Context, invoice *models.Invoice) error {
			replaced = invoice
			return nil
		},
		mockUpdate: func(ctx context.Context, invoice *models.Invoice) error {
			plainUpdate = true
			return nil
		},
	}

	service := newInvoiceServiceForTest(repo, &mockUserRepository{}, worker)

	params := &CreateInvoiceParams{
		Type:     models.InvoiceTypeClient,
		ClientID: &clientID,
		Items: []ItemInput{
			{Description: "Architecture review", Quantity: 2, UnitPrice: 400},
		},
	}

	invoice, err := service.UpdateDraft(context.Background(), 3, params, 1, "", "")
	assert.NoError(t, err)

	// The save must go through the item-swapping path, not a plain update
	assert.NotNil(t, replaced)
	assert.False(t, plainUpdate)

	// Only the new line survives and the totals track it exactly
	assert.Len(t, invoice.Items, 1)
	assert.Equal(t, "Architecture review", invoice.Items[0].Description)
	assert.Equal(t, uint(0), invoice.Items[0].ID)
	assert.Equal(t, uint(3), invoice.Items[0].InvoiceID)

	var itemSum float64
	for _, item := range invoice.Items {
		itemSum += item.Amount
	}
	assert.Equal(t, 800.0, itemSum)
	assert.Equal(t, 800.0, invoice.Subtotal)
	assert.Equal(t, 800.0, invoice.Total)
}

func TestUpdateDraft_RejectsIssuedInvoice(t *testing.T) {
	worker := jobs.NewWorker(0)
	defer worker.Shutdown()

	replaced := false
	repo := &mockInvoiceRepoWithSweeps{
		mockFindByID: func(ctx context.Context, id uint) (*models.Invoice, error) {
			return &models.Invoice{ID: 3, Status: models.InvoiceStatusSent}, nil
		},
		mockReplaceItems: func(ctx context.Context, invoice *models.Invoice) error {
			replaced = true
			return nil
		},
	}

	service := newInvoiceServiceForTest(repo, &mockUserRepository{}, worker)

	_, err := service.UpdateDraft(context.Background(), 3, &CreateInvoiceParams{}, 1, "", "")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.False(t, replaced)
}

func TestSendDailyInvoiceReminders_IncludesMarkedOverdue(t *testing.T) {
	worker := jobs.NewWorker(0)
	defer worker.Shutdown()

	clientID := uint(5)
	// Already flipped by the hourly sweep, the digest must still pick it up
	marked := models.Invoice{
		ID:       1,
		Number:   "INV-2607-0004",
		Type:     models.InvoiceTypeClient,
		Status:   models.InvoiceStatusOverdue,
		ClientID: &clientID,
		Currency: "USD",
		DueDate:  time.Now().AddDate(0, 0, -10),
	}

	repo := &mockInvoiceRepoWithSweeps{
		mockFindOverdue: func(ctx context.Context, today time.Time) ([]models.Invoice, error) {
			return []models.Invoice{marked}, nil
		},
	}

	var lookedUp []uint
	userRepo := &mockUserRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.User, error) {
			lookedUp = append(lookedUp, id)
			return &models.User{ID: id, Email: "ada@example.com", FullName: "Ada Client"}, nil
		},
	}

	service := newInvoiceServiceForTest(repo, userRepo, worker)
	// No API key configured, the rendered email is logged and dropped
	service.emailSvc = NewEmailService(&config.Config{FromEmail: "billing@example.com"})

	err := service.SendDailyInvoiceReminders(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []uint{clientID}, lookedUp)
}
