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

type InvoiceHandler struct {
	invoiceService *services.InvoiceService
	paymentService *services.PaymentService
	userService    *services.UserService
	reportService  *services.ReportService
}

func NewInvoiceHandler(
	invoiceService *services.InvoiceService,
	paymentService *services.PaymentService,
	userService *services.UserService,
	reportService *services.ReportService,
) *InvoiceHandler {
	return &InvoiceHandler{
		invoiceService: invoiceService,
		paymentService: paymentService,
		userService:    userService,
		reportService:  reportService,
	}
}

// @Summary List Invoices
// @Description Get a paginated list of invoices visible to the caller
// @Tags Invoices
// @Accept json
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(20)
// @Param status query string false "Filter by status"
// @Param type query string false "Filter by type"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /invoices [get]
func (h *InvoiceHandler) Index(c *gin.Context) {
	query := &repository.InvoiceQuery{}
	query.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	query.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	query.Status = c.Query("status")
	query.Type = c.Query("type")
	query.Search = c.Query("search")

	if v := c.Query("project_id"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 32); err == nil {
			projectID := uint(id)
			query.ProjectID = &projectID
		}
	}
	if v := c.Query("issued_after"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			query.IssuedAfter = &t
		}
	}
	if v := c.Query("issued_before"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			query.IssuedBefore = &t
		}
	}

	// Parse sort parameter (format: field-direction)
	if sort := c.Query("sort"); sort != "" {
		parts := strings.Split(sort, "-")
		query.SortBy = parts[0]
		if len(parts) > 1 {
			query.SortDir = parts[1]
		}
	}

	actor := currentUser(c, h.userService)
	invoices, total, err := h.invoiceService.List(c.Request.Context(), query, actor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var responses []interface{}
	for i := range invoices {
		responses = append(responses, invoices[i].ToResponse())
	}

	c.JSON(http.StatusOK, gin.H{
		"invoices": responses,
		"pagination": gin.H{
			"page":        query.Page,
			"per_page":    query.PerPage,
			"total":       total,
			"total_pages": (total + int64(query.Limit()) - 1) / int64(query.Limit()),
		},
	})
}

// @Summary Get Invoice
// @Description Get a single invoice with items, installments and parties
// @Tags Invoices
// @Produce json
// @Param id path int true "Invoice ID"
// @Success 200 {object} models.InvoiceResponse
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /invoices/{id} [get]
func (h *InvoiceHandler) Show(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("invoice_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invoice id"})
		return
	}

	actor := currentUser(c, h.userService)
	invoice, err := h.invoiceService.FindByID(c.Request.Context(), uint(id), actor)
	if err != nil {
		status := http.StatusNotFound
		if err == services.ErrUnauthorized {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, invoice.ToResponse())
}

// @Summary Create Invoice
// @Description Issues a new draft invoice
// @Tags Invoices
// @Accept json
// @Produce json
// @Param request body services.CreateInvoiceParams true "Invoice"
// @Success 201 {object} models.InvoiceResponse
// @Failure 400 {object} map[string]string
// @Security BearerAuth
// @Router /invoices [post]
func (h *InvoiceHandler) Create(c *gin.Context) {
	var params services.CreateInvoiceParams
	if err := BindNestedOrFlat(c, "invoice", &params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(params.Items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "At least one line item is required"})
		return
	}

	invoice, err := h.invoiceService.Create(c.Request.Context(), &params,
		middleware.GetUserID(c), c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, invoice.ToResponse())
}

// @Summary Update Invoice
// @Description Updates a draft invoice and recomputes its totals
// @Tags Invoices
// @Accept json
// @Produce json
// @Param id path int true "Invoice ID"
// @Param request body services.CreateInvoiceParams true "Invoice"
// @Success 200 {object} models.InvoiceResponse
// @Failure 422 {object} map[string]string
// @Security BearerAuth
// @Router /invoices/{id} [put]
func (h *InvoiceHandler) Update(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("invoice_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invoice id"})
		return
	}

	var params services.CreateInvoiceParams
	if err := BindNestedOrFlat(c, "invoice", &params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	invoice, err := h.invoiceService.UpdateDraft(c.Request.Context(), uint(id), &params,
		middleware.GetUserID(c), c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		status := http.StatusUnprocessableEntity
		if err == services.ErrInvalidState {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, invoice.ToResponse())
}

// @Summary Send Invoice
// @Description Issues a draft invoice to its counterparty
// @Tags Invoices
// @Produce json
// @Param id path int true "Invoice ID"
// @Success 200 {object} models.InvoiceResponse
// @Failure 409 {object} map[string]string
// @Security BearerAuth
// @Router /invoices/{id}/send [post]
func (h *InvoiceHandler) Send(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("invoice_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invoice id"})
		return
	}

	invoice, err := h.invoiceService.Send(c.Request.Context(), uint(id),
		middleware.GetUserID(c), c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, invoice.ToResponse())
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

// @Summary Cancel Invoice
// @Description Voids an invoice that has not settled
// @Tags Invoices
// @Accept json
// @Produce json
// @Param id path int true "Invoice ID"
// @Param request body CancelRequest false "Cancellation reason"
// @Success 200 {object} models.InvoiceResponse
// @Failure 409 {object} map[string]string
// @Security BearerAuth
// @Router /invoices/{id}/cancel [post]
func (h *InvoiceHandler) Cancel(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("invoice_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invoice id"})
		return
	}

	var req CancelRequest
	_ = c.ShouldBindJSON(&req)

	invoice, err := h.invoiceService.Cancel(c.Request.Context(), uint(id), req.Reason,
		middleware.GetUserID(c), c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, invoice.ToResponse())
}

// @Summary Invoice Transactions
// @Description Lists every ledger row recorded against an invoice
// @Tags Invoices
// @Produce json
// @Param id path int true "Invoice ID"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /invoices/{id}/transactions [get]
func (h *InvoiceHandler) Transactions(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("invoice_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invoice id"})
		return
	}

	actor := currentUser(c, h.userService)
	if _, err := h.invoiceService.FindByID(c.Request.Context(), uint(id), actor); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	txns, err := h.paymentService.FindByInvoice(c.Request.Context(), uint(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var responses []interface{}
	for i := range txns {
		responses = append(responses, txns[i].ToResponse())
	}
	c.JSON(http.StatusOK, gin.H{"transactions": responses})
}

// @Summary Invoice PDF
// @Description Downloads the invoice as a PDF document
// @Tags Invoices
// @Produce application/pdf
// @Param id path int true "Invoice ID"
// @Success 200 {file} binary
// @Security BearerAuth
// @Router /invoices/{id}/pdf [get]
func (h *InvoiceHandler) DownloadPDF(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("invoice_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invoice id"})
		return
	}

	actor := currentUser(c, h.userService)
	invoice, err := h.invoiceService.FindByID(c.Request.Context(), uint(id), actor)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	buf, err := h.reportService.GenerateInvoicePDF(c.Request.Context(), invoice.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+invoice.Number+".pdf")
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}
