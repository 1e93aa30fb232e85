package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/consultia/billing-api/internal/models"

	"gorm.io/gorm"
)

// InvoiceQuery carries list filters specific to invoices on top of the
// generic pagination fields.
type InvoiceQuery struct {
	ListQuery
	Status       string
	Type         string
	ClientID     *uint
	ConsultantID *uint
	ProjectID    *uint
	IssuedAfter  *time.Time
	IssuedBefore *time.Time
	Search       string
}

// InvoiceRepository defines the interface for invoice data access
type InvoiceRepository interface {
	FindByID(ctx context.Context, id uint) (*models.Invoice, error)
	FindByNumber(ctx context.Context, number string) (*models.Invoice, error)
	Create(ctx context.Context, invoice *models.Invoice) error
	Update(ctx context.Context, invoice *models.Invoice) error
	ReplaceItems(ctx context.Context, invoice *models.Invoice) error
	Delete(ctx context.Context, id uint) error
	List(ctx context.Context, query *InvoiceQuery) ([]models.Invoice, int64, error)
	NextNumber(ctx context.Context, prefix string, now time.Time) (string, error)
	FindOverdueCandidates(ctx context.Context, today time.Time) ([]models.Invoice, error)
	FindOverdue(ctx context.Context, today time.Time) ([]models.Invoice, error)
	FindDueRecurring(ctx context.Context, now time.Time) ([]models.Invoice, error)
	WithTx(tx *gorm.DB) InvoiceRepository
}

type invoiceRepository struct {
	db *gorm.DB
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *gorm.DB) InvoiceRepository {
	return &invoiceRepository{db: db}
}

// WithTx returns a repository bound to the given transaction handle.
func (r *invoiceRepository) WithTx(tx *gorm.DB) InvoiceRepository {
	return &invoiceRepository{db: tx}
}

// FindByID retrieves an invoice with its line items and installments
func (r *invoiceRepository) FindByID(ctx context.Context, id uint) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Installments", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC")
		}).
		Preload("Client").
		Preload("Consultant").
		Preload("Project").
		First(&invoice, id).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// FindByNumber retrieves an invoice by its human-readable number
func (r *invoiceRepository) FindByNumber(ctx context.Context, number string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Installments", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC")
		}).
		Where("number = ?", number).
		First(&invoice).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// Create creates a new invoice together with its items and installments
func (r *invoiceRepository) Create(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

// Update persists the invoice and its associations
func (r *invoiceRepository) Update(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Session(&gorm.Session{FullSaveAssociations: true}).Save(invoice).Error
}

// ReplaceItems persists the invoice while swapping its line items for the
// ones on the struct. The old item rows are removed in the same transaction;
// FullSaveAssociations alone would insert the new rows but leave the
// replaced ones attached to the invoice.
func (r *invoiceRepository) ReplaceItems(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("invoice_id = ?", invoice.ID).Delete(&models.InvoiceItem{}).Error; err != nil {
			return err
		}
		return tx.Session(&gorm.Session{FullSaveAssociations: true}).Save(invoice).Error
	})
}

// Delete soft-deletes an invoice
func (r *invoiceRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.Invoice{}, id).Error
}

// invoiceSortFields maps allowed sort keys to column expressions.
var invoiceSortFields = map[string]string{
	"number":     "number",
	"status":     "status",
	"total":      "total",
	"issue_date": "issue_date",
	"due_date":   "due_date",
	"created_at": "created_at",
}

// List retrieves invoices matching the query with a total count
func (r *invoiceRepository) List(ctx context.Context, query *InvoiceQuery) ([]models.Invoice, int64, error) {
	db := r.db.WithContext(ctx).Model(&models.Invoice{})

	if query.Status != "" {
		db = db.Where("status = ?", query.Status)
	}
	if query.Type != "" {
		db = db.Where("type = ?", query.Type)
	}
	if query.ClientID != nil {
		db = db.Where("client_id = ?", *query.ClientID)
	}
	if query.ConsultantID != nil {
		db = db.Where("consultant_id = ?", *query.ConsultantID)
	}
	if query.ProjectID != nil {
		db = db.Where("project_id = ?", *query.ProjectID)
	}
	if query.IssuedAfter != nil {
		db = db.Where("issue_date >= ?", *query.IssuedAfter)
	}
	if query.IssuedBefore != nil {
		db = db.Where("issue_date <= ?", *query.IssuedBefore)
	}
	if query.Search != "" {
		pattern := "%" + query.Search + "%"
		db = db.Where("number ILIKE ? OR notes ILIKE ?", pattern, pattern)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if _, ok := invoiceSortFields[query.SortBy]; !ok {
		query.SortBy = ""
	}
	db = applySort(db, &query.ListQuery, "created_at DESC")

	var invoices []models.Invoice
	err := db.
		Preload("Items").
		Offset(query.Offset()).
		Limit(query.Limit()).
		Find(&invoices).Error
	return invoices, total, err
}

// NextNumber allocates the next sequential invoice number for the prefix
// within the current year-month bucket, e.g. INV-2609-0042.
func (r *invoiceRepository) NextNumber(ctx context.Context, prefix string, now time.Time) (string, error) {
	bucket := fmt.Sprintf("%s-%s-", prefix, now.Format("0601"))

	var result struct {
		MaxSeq int
	}
	err := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Select("COALESCE(MAX(CAST(RIGHT(number, 4) AS INTEGER)), 0) as max_seq").
		Where("number LIKE ?", bucket+"%").
		Scan(&result).Error
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s%04d", bucket, result.MaxSeq+1), nil
}

// FindOverdueCandidates retrieves payable invoices whose due date has passed
// but whose status does not yet say overdue.
func (r *invoiceRepository) FindOverdueCandidates(ctx context.Context, today time.Time) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.WithContext(ctx).
		Where("due_date < ?", today).
		Where("status IN ?", []string{
			models.InvoiceStatusSent,
			models.InvoiceStatusPending,
			models.InvoiceStatusPartial,
		}).
		Find(&invoices).Error
	return invoices, err
}

// FindOverdue retrieves every past-due invoice that still carries a balance,
// including ones the hourly sweep has already flipped to overdue. Used for
// the reminder digest; FindOverdueCandidates only sees not-yet-marked rows.
func (r *invoiceRepository) FindOverdue(ctx context.Context, today time.Time) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.WithContext(ctx).
		Where("due_date < ?", today).
		Where("status IN ?", []string{
			models.InvoiceStatusSent,
			models.InvoiceStatusPending,
			models.InvoiceStatusPartial,
			models.InvoiceStatusOverdue,
		}).
		Find(&invoices).Error
	return invoices, err
}

// FindDueRecurring retrieves recurring invoices whose next generation date
// has arrived and which still have cycles remaining.
func (r *invoiceRepository) FindDueRecurring(ctx context.Context, now time.Time) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("is_recurring = ?", true).
		Where("next_invoice_date IS NOT NULL AND next_invoice_date <= ?", now).
		Where("remaining_cycles IS NULL OR remaining_cycles > 0").
		Where("status NOT IN ?", []string{
			models.InvoiceStatusCancelled,
			models.InvoiceStatusRefunded,
		}).
		Find(&invoices).Error
	return invoices, err
}
