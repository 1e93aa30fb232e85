package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/xuri/excelize/v2"

	"github.com/consultia/billing-api/internal/models"
	"github.com/consultia/billing-api/internal/repository"
)

// Mock TransactionRepository with list and stats support
type mockTxnRepoWithWindow struct {
	repository.TransactionRepository
	mockList  func(ctx context.Context, query *repository.TransactionQuery) ([]models.Transaction, int64, error)
	mockStats func(ctx context.Context, from, to time.Time) (*repository.TransactionStats, error)
}

func (m *mockTxnRepoWithWindow) List(ctx context.Context, query *repository.TransactionQuery) ([]models.Transaction, int64, error) {
	if m.mockList != nil {
		return m.mockList(ctx, query)
	}
	return nil, 0, nil
}

func (m *mockTxnRepoWithWindow) Stats(ctx context.Context, from, to time.Time) (*repository.TransactionStats, error) {
	if m.mockStats != nil {
		return m.mockStats(ctx, from, to)
	}
	return nil, errors.New("not implemented")
}

func windowTxn(ref string, amount, fee float64) models.Transaction {
	return models.Transaction{
		Reference:     ref,
		Type:          models.TransactionTypePayment,
		Status:        models.TransactionStatusCompleted,
		Amount:        amount,
		Fee:           fee,
		Net:           amount - fee,
		Currency:      "USD",
		PaymentMethod: models.PaymentMethodCard,
	}
}

func TestExportService_ExportTransactionsCSV(t *testing.T) {
	repo := &mockTxnRepoWithWindow{
		mockList: func(ctx context.Context, query *repository.TransactionQuery) ([]models.Transaction, int64, error) {
			return []models.Transaction{
				windowTxn("txn_aaa", 250.00, 7.55),
				windowTxn("txn_bbb", 99.90, 3.20),
			}, 2, nil
		},
	}
	service := NewExportService(repo)

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	data, filename, err := service.ExportTransactionsCSV(context.Background(), from, to)

	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(filename, "transactions_"))
	assert.True(t, strings.HasSuffix(filename, ".csv"))

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	assert.NoError(t, err)
	assert.Len(t, records, 5)

	assert.Equal(t, []string{"Reference", "Type", "Status", "Amount", "Fee", "Net", "Currency", "Method", "Created"}, records[2])
	assert.Equal(t, "txn_aaa", records[3][0])
	assert.Equal(t, "250.00", records[3][3])
	assert.Equal(t, "242.45", records[3][5])
	assert.Equal(t, "txn_bbb", records[4][0])
	assert.Equal(t, "96.70", records[4][5])
}

func TestExportService_FetchWindowPaginates(t *testing.T) {
	pagesSeen := []int{}
	repo := &mockTxnRepoWithWindow{
		mockList: func(ctx context.Context, query *repository.TransactionQuery) ([]models.Transaction, int64, error) {
			pagesSeen = append(pagesSeen, query.Page)
			if query.Page == 1 {
				page := make([]models.Transaction, 100)
				for i := range page {
					page[i] = windowTxn("txn_page1", 10, 1)
				}
				return page, 150, nil
			}
			page := make([]models.Transaction, 50)
			for i := range page {
				page[i] = windowTxn("txn_page2", 10, 1)
			}
			return page, 150, nil
		},
	}
	service := NewExportService(repo)

	from := time.Now().AddDate(0, -1, 0)
	to := time.Now()

	data, _, err := service.ExportTransactionsCSV(context.Background(), from, to)

	assert.NoError(t, err)
	assert.Equal(t, []int{1, 2}, pagesSeen)

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	assert.NoError(t, err)
	// header rows plus 150 transactions
	assert.Len(t, records, 153)
}

func TestExportService_ExportTransactionsCSV_RepoError(t *testing.T) {
	repo := &mockTxnRepoWithWindow{
		mockList: func(ctx context.Context, query *repository.TransactionQuery) ([]models.Transaction, int64, error) {
			return nil, 0, errors.New("connection reset")
		},
	}
	service := NewExportService(repo)

	_, _, err := service.ExportTransactionsCSV(context.Background(), time.Now(), time.Now())
	assert.Error(t, err)
}

func TestExportService_ExportTransactionsXLSX(t *testing.T) {
	repo := &mockTxnRepoWithWindow{
		mockList: func(ctx context.Context, query *repository.TransactionQuery) ([]models.Transaction, int64, error) {
			return []models.Transaction{windowTxn("txn_xlsx", 500.00, 15.00)}, 1, nil
		},
	}
	service := NewExportService(repo)

	data, filename, err := service.ExportTransactionsXLSX(context.Background(), time.Now().AddDate(0, -1, 0), time.Now())

	assert.NoError(t, err)
	assert.True(t, strings.HasSuffix(filename, ".xlsx"))

	f, err := excelize.OpenReader(bytes.NewReader(data))
	assert.NoError(t, err)
	defer f.Close()

	title, err := f.GetCellValue("Transactions", "A1")
	assert.NoError(t, err)
	assert.Equal(t, "Transaction Export", title)

	ref, err := f.GetCellValue("Transactions", "A4")
	assert.NoError(t, err)
	assert.Equal(t, "txn_xlsx", ref)
}

func TestExportService_ExportSummaryPDF(t *testing.T) {
	repo := &mockTxnRepoWithWindow{
		mockStats: func(ctx context.Context, from, to time.Time) (*repository.TransactionStats, error) {
			return &repository.TransactionStats{
				TotalCount:     12,
				CompletedCount: 10,
				TotalVolume:    4800.00,
				TotalFees:      144.00,
				TotalNet:       4656.00,
			}, nil
		},
	}
	service := NewExportService(repo)

	data, filename, err := service.ExportSummaryPDF(context.Background(), time.Now().AddDate(0, -1, 0), time.Now())

	assert.NoError(t, err)
	assert.True(t, strings.HasSuffix(filename, ".pdf"))
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}
