package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/consultia/billing-api/internal/middleware"
	"github.com/consultia/billing-api/internal/repository"
	"github.com/consultia/billing-api/internal/services"
)

type TransactionHandler struct {
	paymentService *services.PaymentService
	exportService  *services.ExportService
	reportService  *services.ReportService
	userService    *services.UserService
}

func NewTransactionHandler(
	paymentService *services.PaymentService,
	exportService *services.ExportService,
	reportService *services.ReportService,
	userService *services.UserService,
) *TransactionHandler {
	return &TransactionHandler{
		paymentService: paymentService,
		exportService:  exportService,
		reportService:  reportService,
		userService:    userService,
	}
}

// @Summary List Transactions
// @Description Get a paginated list of ledger rows visible to the caller
// @Tags Transactions
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(20)
// @Param status query string false "Filter by status"
// @Param type query string false "Filter by type"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /transactions [get]
func (h *TransactionHandler) Index(c *gin.Context) {
	query := &repository.TransactionQuery{}
	query.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	query.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	query.Status = c.Query("status")
	query.Type = c.Query("type")

	if v := c.Query("invoice_id"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 32); err == nil {
			invoiceID := uint(id)
			query.InvoiceID = &invoiceID
		}
	}
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			query.From = &t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			query.To = &t
		}
	}

	if sort := c.Query("sort"); sort != "" {
		parts := strings.Split(sort, "-")
		query.SortBy = parts[0]
		if len(parts) > 1 {
			query.SortDir = parts[1]
		}
	}

	actor := currentUser(c, h.userService)
	txns, total, err := h.paymentService.ListTransactions(c.Request.Context(), query, actor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var responses []interface{}
	for i := range txns {
		responses = append(responses, txns[i].ToResponse())
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": responses,
		"pagination": gin.H{
			"page":        query.Page,
			"per_page":    query.PerPage,
			"total":       total,
			"total_pages": (total + int64(query.Limit()) - 1) / int64(query.Limit()),
		},
	})
}

// @Summary Get Transaction
// @Description Get a single ledger row
// @Tags Transactions
// @Produce json
// @Param id path int true "Transaction ID"
// @Success 200 {object} models.TransactionResponse
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /transactions/{id} [get]
func (h *TransactionHandler) Show(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transaction id"})
		return
	}

	txn, err := h.paymentService.FindTransaction(c.Request.Context(), uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Transaction not found"})
		return
	}

	if !middleware.IsAdmin(c) && txn.UserID != middleware.GetUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not authorized"})
		return
	}

	c.JSON(http.StatusOK, txn.ToResponse())
}

// @Summary Transaction Stats
// @Description Aggregated ledger volume for a date window
// @Tags Transactions
// @Produce json
// @Param from query string false "Start date (YYYY-MM-DD)"
// @Param to query string false "End date (YYYY-MM-DD)"
// @Success 200 {object} repository.TransactionStats
// @Security BearerAuth
// @Router /transactions/stats [get]
func (h *TransactionHandler) Stats(c *gin.Context) {
	from, to := parseWindow(c)
	stats, err := h.paymentService.GetStats(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// @Summary Export Transactions
// @Description Downloads the ledger window as csv, xlsx or pdf
// @Tags Transactions
// @Produce json
// @Param format query string false "csv | xlsx | pdf" default(csv)
// @Param from query string false "Start date (YYYY-MM-DD)"
// @Param to query string false "End date (YYYY-MM-DD)"
// @Success 200 {file} binary
// @Security BearerAuth
// @Router /transactions/export [get]
func (h *TransactionHandler) Export(c *gin.Context) {
	from, to := parseWindow(c)

	var (
		data     []byte
		filename string
		mime     string
		err      error
	)

	switch c.DefaultQuery("format", "csv") {
	case "xlsx":
		data, filename, err = h.exportService.ExportTransactionsXLSX(c.Request.Context(), from, to)
		mime = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		data, filename, err = h.exportService.ExportSummaryPDF(c.Request.Context(), from, to)
		mime = "application/pdf"
	default:
		data, filename, err = h.exportService.ExportTransactionsCSV(c.Request.Context(), from, to)
		mime = "text/csv"
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, mime, data)
}

// @Summary Statement of Account
// @Description Downloads the caller's statement of account as a PDF
// @Tags Transactions
// @Produce application/pdf
// @Success 200 {file} binary
// @Security BearerAuth
// @Router /transactions/statement [get]
func (h *TransactionHandler) Statement(c *gin.Context) {
	userID := middleware.GetUserID(c)

	// Admins may pull any user's statement
	if v := c.Query("user_id"); v != "" && middleware.IsAdmin(c) {
		if id, err := strconv.ParseUint(v, 10, 32); err == nil {
			userID = uint(id)
		}
	}

	buf, err := h.reportService.GenerateStatementPDF(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Disposition", "attachment; filename=statement.pdf")
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}

// parseWindow reads the from/to query params, defaulting to the last 30 days
func parseWindow(c *gin.Context) (time.Time, time.Time) {
	now := time.Now()
	from := now.AddDate(0, 0, -30)
	to := now

	if v := c.Query("from"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			from = t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			to = t.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
		}
	}
	return from, to
}
