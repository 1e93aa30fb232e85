package services

import (
	"context"
	"fmt"
	"time"

	"github.com/consultia/billing-api/internal/config"
	"github.com/consultia/billing-api/internal/jobs"
	"github.com/consultia/billing-api/internal/models"
	"github.com/consultia/billing-api/internal/repository"
	"github.com/consultia/billing-api/internal/statemachine"
	"github.com/consultia/billing-api/pkg/logger"
)

type InvoiceService struct {
	repo            repository.InvoiceRepository
	userRepo        repository.UserRepository
	projectRepo     repository.ProjectRepository
	proposalRepo    repository.ProposalRepository
	notificationSvc *NotificationService
	emailSvc        *EmailService
	auditSvc        *AuditService
	worker          *jobs.Worker
	cfg             *config.Config
}

func NewInvoiceService(
	repo repository.InvoiceRepository,
	userRepo repository.UserRepository,
	projectRepo repository.ProjectRepository,
	proposalRepo repository.ProposalRepository,
	notificationSvc *NotificationService,
	emailSvc *EmailService,
	auditSvc *AuditService,
	worker *jobs.Worker,
	cfg *config.Config,
) *InvoiceService {
	return &InvoiceService{
		repo:            repo,
		userRepo:        userRepo,
		projectRepo:     projectRepo,
		proposalRepo:    proposalRepo,
		notificationSvc: notificationSvc,
		emailSvc:        emailSvc,
		auditSvc:        auditSvc,
		worker:          worker,
		cfg:             cfg,
	}
}

// InstallmentInput describes one scheduled partial-payment obligation
type InstallmentInput struct {
	DueDate time.Time `json:"due_date" binding:"required"`
	Amount  float64   `json:"amount" binding:"required,gt=0"`
}

// ItemInput describes one line item of an invoice
type ItemInput struct {
	Description  string  `json:"description" binding:"required"`
	Quantity     float64 `json:"quantity" binding:"required,gt=0"`
	UnitPrice    float64 `json:"unit_price" binding:"required,gte=0"`
	TaxRate      float64 `json:"tax_rate" binding:"gte=0,lte=100"`
	DiscountRate float64 `json:"discount_rate" binding:"gte=0,lte=100"`
}

// CreateInvoiceParams carries everything needed to issue a new invoice
type CreateInvoiceParams struct {
	Type               string             `json:"type" binding:"required"`
	ClientID           *uint              `json:"client_id"`
	ConsultantID       *uint              `json:"consultant_id"`
	ProjectID          *uint              `json:"project_id"`
	ProposalID         *uint              `json:"proposal_id"`
	Currency           string             `json:"currency"`
	TaxRate            float64            `json:"tax_rate" binding:"gte=0,lte=100"`
	DiscountRate       float64            `json:"discount_rate" binding:"gte=0,lte=100"`
	PlatformFeePercent float64            `json:"platform_fee_percent" binding:"gte=0,lte=100"`
	IssueDate          *time.Time         `json:"issue_date"`
	DueDate            *time.Time         `json:"due_date"`
	Notes              string             `json:"notes"`
	Terms              string             `json:"terms"`
	Items              []ItemInput        `json:"items" binding:"required,min=1,dive"`
	Installments       []InstallmentInput `json:"installments" binding:"dive"`
	IsRecurring        bool               `json:"is_recurring"`
	RecurringFrequency string             `json:"recurring_frequency"`
	RecurringCycles    *int               `json:"recurring_cycles"`
}

// Create issues a new invoice: allocates a number, derives every aggregate
// from the line items, and persists it as a draft.
func (s *InvoiceService) Create(ctx context.Context, params *CreateInvoiceParams, actorID uint, ip, userAgent string) (*models.Invoice, error) {
	if err := s.validateParties(ctx, params); err != nil {
		return nil, err
	}

	now := time.Now()
	issueDate := now
	if params.IssueDate != nil {
		issueDate = *params.IssueDate
	}
	dueDate := issueDate.AddDate(0, 0, 30)
	if params.DueDate != nil {
		dueDate = *params.DueDate
	}

	number, err := s.repo.NextNumber(ctx, s.cfg.InvoicePrefix(params.Type), now)
	if err != nil {
		return nil, fmt.Errorf("allocate invoice number: %w", err)
	}

	currency := params.Currency
	if currency == "" {
		currency = "USD"
	}

	invoice := &models.Invoice{
		Number:             number,
		Type:               params.Type,
		Status:             models.InvoiceStatusDraft,
		ClientID:           params.ClientID,
		ConsultantID:       params.ConsultantID,
		ProjectID:          params.ProjectID,
		ProposalID:         params.ProposalID,
		TaxRate:            params.TaxRate,
		DiscountRate:       params.DiscountRate,
		PlatformFeePercent: params.PlatformFeePercent,
		Currency:           currency,
		IssueDate:          issueDate,
		DueDate:            dueDate,
		Notes:              params.Notes,
		Terms:              params.Terms,
		IsRecurring:        params.IsRecurring,
		RecurringFrequency: params.RecurringFrequency,
		RemainingCycles:    params.RecurringCycles,
	}

	for _, item := range params.Items {
		invoice.Items = append(invoice.Items, models.InvoiceItem{
			Description:  item.Description,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			TaxRate:      item.TaxRate,
			DiscountRate: item.DiscountRate,
		})
	}
	for i, inst := range params.Installments {
		invoice.Installments = append(invoice.Installments, models.Installment{
			Sequence: i + 1,
			DueDate:  inst.DueDate,
			Amount:   inst.Amount,
			Status:   models.InstallmentStatusPending,
		})
	}

	if invoice.IsRecurring {
		next := models.NextDueDate(invoice.RecurringFrequency, issueDate)
		invoice.NextInvoiceDate = &next
	}

	invoice.RecomputeTotals(now)

	if err := s.repo.Create(ctx, invoice); err != nil {
		return nil, err
	}

	s.auditSvc.Log(ctx, actorID, "CREATE", "Invoice", invoice.ID,
		fmt.Sprintf("Invoice %s created for %.2f %s", invoice.Number, invoice.Total, invoice.Currency), ip, userAgent)

	return invoice, nil
}

// validateParties checks that the references required by the invoice type exist
func (s *InvoiceService) validateParties(ctx context.Context, params *CreateInvoiceParams) error {
	switch params.Type {
	case models.InvoiceTypeClient:
		if params.ClientID == nil {
			return fmt.Errorf("client invoice requires client_id")
		}
	case models.InvoiceTypeConsultant:
		if params.ConsultantID == nil {
			return fmt.Errorf("consultant invoice requires consultant_id")
		}
	case models.InvoiceTypePlatform, models.InvoiceTypeRefund:
		// party references optional
	default:
		return fmt.Errorf("unknown invoice type: %s", params.Type)
	}

	if params.ClientID != nil {
		if _, err := s.userRepo.FindByID(ctx, *params.ClientID); err != nil {
			return ErrNotFound
		}
	}
	if params.ConsultantID != nil {
		if _, err := s.userRepo.FindByID(ctx, *params.ConsultantID); err != nil {
			return ErrNotFound
		}
	}
	if params.ProjectID != nil {
		if _, err := s.projectRepo.FindByID(ctx, *params.ProjectID); err != nil {
			return ErrNotFound
		}
	}
	if params.ProposalID != nil {
		if _, err := s.proposalRepo.FindByID(ctx, *params.ProposalID); err != nil {
			return ErrNotFound
		}
	}
	if params.IsRecurring && params.RecurringFrequency == "" {
		return fmt.Errorf("recurring invoice requires a frequency")
	}
	return nil
}

// FindByID retrieves an invoice, enforcing that non-admin actors only see
// invoices they are a party to.
func (s *InvoiceService) FindByID(ctx context.Context, id uint, actor *models.User) (*models.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.canAccess(actor, invoice) {
		return nil, ErrUnauthorized
	}
	return invoice, nil
}

// List retrieves invoices visible to the actor
func (s *InvoiceService) List(ctx context.Context, query *repository.InvoiceQuery, actor *models.User) ([]models.Invoice, int64, error) {
	// Non-admins are scoped to their own side of the ledger
	if actor != nil && !actor.IsAdmin() {
		if actor.IsConsultant() {
			query.ConsultantID = &actor.ID
		} else {
			query.ClientID = &actor.ID
		}
	}
	return s.repo.List(ctx, query)
}

// UpdateDraft replaces the mutable fields of a draft invoice and recomputes
// its aggregates. Issued invoices are immutable through this path.
func (s *InvoiceService) UpdateDraft(ctx context.Context, id uint, params *CreateInvoiceParams, actorID uint, ip, userAgent string) (*models.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice.Status != models.InvoiceStatusDraft {
		return nil, ErrInvalidState
	}

	invoice.TaxRate = params.TaxRate
	invoice.DiscountRate = params.DiscountRate
	invoice.PlatformFeePercent = params.PlatformFeePercent
	invoice.Notes = params.Notes
	invoice.Terms = params.Terms
	if params.DueDate != nil {
		invoice.DueDate = *params.DueDate
	}

	invoice.Items = invoice.Items[:0]
	for _, item := range params.Items {
		invoice.Items = append(invoice.Items, models.InvoiceItem{
			InvoiceID:    invoice.ID,
			Description:  item.Description,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			TaxRate:      item.TaxRate,
			DiscountRate: item.DiscountRate,
		})
	}

	invoice.RecomputeTotals(time.Now())

	// The old item rows must go with the save; a plain association upsert
	// would leave them attached and the next reload would double-count.
	if err := s.repo.ReplaceItems(ctx, invoice); err != nil {
		return nil, err
	}

	s.auditSvc.Log(ctx, actorID, "UPDATE", "Invoice", invoice.ID,
		fmt.Sprintf("Invoice %s updated, new total %.2f %s", invoice.Number, invoice.Total, invoice.Currency), ip, userAgent)

	return invoice, nil
}

// Send issues a draft invoice to its counterparty
func (s *InvoiceService) Send(ctx context.Context, id uint, actorID uint, ip, userAgent string) (*models.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	machine := statemachine.NewInvoiceFSM(invoice)
	if err := machine.Send(ctx); err != nil {
		return nil, ErrInvalidState
	}

	now := time.Now()
	invoice.SentAt = &now

	if err := s.repo.Update(ctx, invoice); err != nil {
		return nil, err
	}

	if recipientID := invoice.RecipientUserID(); recipientID != nil {
		id := *recipientID
		inv := *invoice
		s.worker.EnqueueAsync(func(ctx context.Context) error {
			if err := s.notificationSvc.NotifyUser(ctx, id,
				"New invoice",
				fmt.Sprintf("Invoice %s for %.2f %s is ready", inv.Number, inv.Total, inv.Currency),
				models.NotificationTypeInvoiceSent); err != nil {
				return err
			}
			recipient, err := s.userRepo.FindByID(ctx, id)
			if err != nil {
				return err
			}
			return s.emailSvc.SendInvoiceIssued(ctx, recipient, &inv)
		})
	}

	s.auditSvc.Log(ctx, actorID, "UPDATE", "Invoice", invoice.ID,
		fmt.Sprintf("Invoice %s sent", invoice.Number), ip, userAgent)

	return invoice, nil
}

// Cancel voids an invoice that has not settled
func (s *InvoiceService) Cancel(ctx context.Context, id uint, reason string, actorID uint, ip, userAgent string) (*models.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := invoice.Cancel(reason); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, invoice); err != nil {
		return nil, err
	}

	if recipientID := invoice.RecipientUserID(); recipientID != nil {
		id := *recipientID
		number := invoice.Number
		s.worker.EnqueueAsync(func(ctx context.Context) error {
			return s.notificationSvc.NotifyUser(ctx, id,
				"Invoice cancelled",
				fmt.Sprintf("Invoice %s has been cancelled", number),
				models.NotificationTypeInvoiceCancelled)
		})
	}

	s.auditSvc.Log(ctx, actorID, "CANCEL", "Invoice", invoice.ID,
		fmt.Sprintf("Invoice %s cancelled: %s", invoice.Number, reason), ip, userAgent)

	return invoice, nil
}

// CheckOverdueInvoices sweeps payable invoices past their due date into
// overdue and notifies the counterparty. Intended to run daily.
func (s *InvoiceService) CheckOverdueInvoices(ctx context.Context) error {
	today := time.Now().Truncate(24 * time.Hour)
	invoices, err := s.repo.FindOverdueCandidates(ctx, today)
	if err != nil {
		return err
	}

	marked := 0
	for i := range invoices {
		invoice := &invoices[i]
		machine := statemachine.NewInvoiceFSM(invoice)
		if err := machine.MarkOverdue(ctx); err != nil {
			continue
		}
		if err := s.repo.Update(ctx, invoice); err != nil {
			logger.Error("Failed to mark invoice overdue", "invoice_id", invoice.ID, "error", err)
			continue
		}
		marked++

		if recipientID := invoice.RecipientUserID(); recipientID != nil {
			s.notificationSvc.NotifyUser(ctx, *recipientID,
				"Invoice overdue",
				fmt.Sprintf("Invoice %s is past due, %.2f %s outstanding", invoice.Number, invoice.AmountDue, invoice.Currency),
				models.NotificationTypeInvoiceOverdue)
		}
	}

	if marked > 0 {
		logger.Info(fmt.Sprintf("[Overdue sweep] Marked %d invoice(s) overdue", marked))
	}
	return nil
}

// GenerateDueRecurringInvoices spawns successors for recurring invoices whose
// next generation date has arrived. Intended to run daily.
func (s *InvoiceService) GenerateDueRecurringInvoices(ctx context.Context) error {
	now := time.Now()
	parents, err := s.repo.FindDueRecurring(ctx, now)
	if err != nil {
		return err
	}

	generated := 0
	for i := range parents {
		parent := &parents[i]

		number, err := s.repo.NextNumber(ctx, s.cfg.InvoicePrefix(parent.Type), now)
		if err != nil {
			logger.Error("Failed to allocate number for recurring invoice", "parent_id", parent.ID, "error", err)
			continue
		}

		child, err := parent.GenerateRecurring(number, now)
		if err != nil {
			logger.Warn(fmt.Sprintf("[Recurring] Skipping invoice %s: %v", parent.Number, err))
			continue
		}

		if err := s.repo.Create(ctx, child); err != nil {
			logger.Error("Failed to persist recurring invoice", "parent_id", parent.ID, "error", err)
			continue
		}

		parent.LinkChild(child.ID)
		if err := s.repo.Update(ctx, parent); err != nil {
			logger.Error("Failed to update recurring parent", "parent_id", parent.ID, "error", err)
			continue
		}
		generated++

		if recipientID := child.RecipientUserID(); recipientID != nil {
			s.notificationSvc.NotifyUser(ctx, *recipientID,
				"Recurring invoice generated",
				fmt.Sprintf("Invoice %s for %.2f %s was generated from %s", child.Number, child.Total, child.Currency, parent.Number),
				models.NotificationTypeRecurringGenerated)
		}
	}

	if generated > 0 {
		logger.Info(fmt.Sprintf("[Recurring] Generated %d invoice(s)", generated))
	}
	return nil
}

// SendDailyInvoiceReminders emails each client one digest of their overdue
// invoices. Intended to run once per day.
func (s *InvoiceService) SendDailyInvoiceReminders(ctx context.Context) error {
	today := time.Now().Truncate(24 * time.Hour)
	invoices, err := s.repo.FindOverdue(ctx, today)
	if err != nil {
		return fmt.Errorf("find overdue invoices: %w", err)
	}

	byUser := make(map[uint][]models.Invoice)
	for i := range invoices {
		inv := &invoices[i]
		if recipientID := inv.RecipientUserID(); recipientID != nil {
			byUser[*recipientID] = append(byUser[*recipientID], *inv)
		}
	}

	sent := 0
	for userID, userInvoices := range byUser {
		user, err := s.userRepo.FindByID(ctx, userID)
		if err != nil {
			continue
		}
		if err := s.emailSvc.SendOverdueInvoices(ctx, user, userInvoices); err != nil {
			logger.Warn(fmt.Sprintf("[Daily reminder] Failed to send overdue email to user %d: %v", userID, err))
			continue
		}
		sent++
	}

	logger.Info(fmt.Sprintf("[Daily reminder] Sent %d overdue invoice reminder(s)", sent))
	return nil
}

// canAccess returns true if the actor may read the invoice
func (s *InvoiceService) canAccess(actor *models.User, invoice *models.Invoice) bool {
	if actor == nil || actor.IsAdmin() {
		return true
	}
	if invoice.ClientID != nil && *invoice.ClientID == actor.ID {
		return true
	}
	if invoice.ConsultantID != nil && *invoice.ConsultantID == actor.ID {
		return true
	}
	return false
}
