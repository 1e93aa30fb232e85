package repository

import (
	"context"
	"errors"
	"time"

	"github.com/consultia/billing-api/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// ErrDuplicateReference is returned when a transaction reference already exists.
var ErrDuplicateReference = errors.New("transaction reference already exists")

// TransactionQuery carries list filters specific to transactions.
type TransactionQuery struct {
	ListQuery
	Status    string
	Type      string
	UserID    *uint
	InvoiceID *uint
	From      *time.Time
	To        *time.Time
}

// TransactionStats aggregates ledger volume for reporting.
type TransactionStats struct {
	TotalCount     int64   `json:"total_count"`
	CompletedCount int64   `json:"completed_count"`
	TotalVolume    float64 `json:"total_volume"`
	TotalFees      float64 `json:"total_fees"`
	TotalNet       float64 `json:"total_net"`
}

// TransactionRepository defines the interface for transaction data access
type TransactionRepository interface {
	FindByID(ctx context.Context, id uint) (*models.Transaction, error)
	FindByReference(ctx context.Context, reference string) (*models.Transaction, error)
	FindByInvoice(ctx context.Context, invoiceID uint) ([]models.Transaction, error)
	Create(ctx context.Context, txn *models.Transaction) error
	Update(ctx context.Context, txn *models.Transaction) error
	List(ctx context.Context, query *TransactionQuery) ([]models.Transaction, int64, error)
	Stats(ctx context.Context, from, to time.Time) (*TransactionStats, error)
	WithTx(tx *gorm.DB) TransactionRepository
}

type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

// WithTx returns a repository bound to the given transaction handle.
func (r *transactionRepository) WithTx(tx *gorm.DB) TransactionRepository {
	return &transactionRepository{db: tx}
}

func (r *transactionRepository) FindByID(ctx context.Context, id uint) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Preload("User").
		Preload("Invoice").
		First(&txn, id).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *transactionRepository) FindByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Where("reference = ?", reference).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// FindByInvoice retrieves all ledger rows tied to an invoice, oldest first
func (r *transactionRepository) FindByInvoice(ctx context.Context, invoiceID uint) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at ASC").
		Find(&txns).Error
	return txns, err
}

// Create inserts a new transaction, surfacing reference collisions
func (r *transactionRepository) Create(ctx context.Context, txn *models.Transaction) error {
	err := r.db.WithContext(ctx).Create(txn).Error
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateReference
		}
	}
	return err
}

func (r *transactionRepository) Update(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Save(txn).Error
}

var transactionSortFields = map[string]string{
	"reference":  "reference",
	"amount":     "amount",
	"status":     "status",
	"created_at": "created_at",
}

func (r *transactionRepository) List(ctx context.Context, query *TransactionQuery) ([]models.Transaction, int64, error) {
	db := r.db.WithContext(ctx).Model(&models.Transaction{})

	if query.Status != "" {
		db = db.Where("status = ?", query.Status)
	}
	if query.Type != "" {
		db = db.Where("type = ?", query.Type)
	}
	if query.UserID != nil {
		db = db.Where("user_id = ?", *query.UserID)
	}
	if query.InvoiceID != nil {
		db = db.Where("invoice_id = ?", *query.InvoiceID)
	}
	if query.From != nil {
		db = db.Where("created_at >= ?", *query.From)
	}
	if query.To != nil {
		db = db.Where("created_at <= ?", *query.To)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if _, ok := transactionSortFields[query.SortBy]; !ok {
		query.SortBy = ""
	}
	db = applySort(db, &query.ListQuery, "created_at DESC")

	var txns []models.Transaction
	err := db.
		Offset(query.Offset()).
		Limit(query.Limit()).
		Find(&txns).Error
	return txns, total, err
}

// Stats aggregates volume over the completed ledger for a date window
func (r *transactionRepository) Stats(ctx context.Context, from, to time.Time) (*TransactionStats, error) {
	stats := &TransactionStats{}

	window := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("created_at >= ? AND created_at <= ?", from, to)

	if err := window.Session(&gorm.Session{}).Count(&stats.TotalCount).Error; err != nil {
		return nil, err
	}

	var agg struct {
		Count  int64
		Volume float64
		Fees   float64
		Net    float64
	}
	err := window.Session(&gorm.Session{}).
		Select("COUNT(*) as count, COALESCE(SUM(amount), 0) as volume, COALESCE(SUM(fee), 0) as fees, COALESCE(SUM(net), 0) as net").
		Where("status = ?", models.TransactionStatusCompleted).
		Scan(&agg).Error
	if err != nil {
		return nil, err
	}

	stats.CompletedCount = agg.Count
	stats.TotalVolume = agg.Volume
	stats.TotalFees = agg.Fees
	stats.TotalNet = agg.Net
	return stats, nil
}
