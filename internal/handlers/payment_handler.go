package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/consultia/billing-api/internal/middleware"
	"github.com/consultia/billing-api/internal/services"
	"github.com/consultia/billing-api/internal/storage"
)

type PaymentHandler struct {
	paymentService *services.PaymentService
	userService    *services.UserService
	storage        *storage.LocalStorage
}

func NewPaymentHandler(paymentService *services.PaymentService, userService *services.UserService, store *storage.LocalStorage) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService, userService: userService, storage: store}
}

// @Summary Process Payment
// @Description Records a payment attempt against an invoice. Card payments
// @Description settle through the gateway; bank transfers await receipt review.
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body services.ProcessPaymentParams true "Payment"
// @Success 200 {object} services.ProcessPaymentResult
// @Failure 402 {object} map[string]string
// @Security BearerAuth
// @Router /payments [post]
func (h *PaymentHandler) Process(c *gin.Context) {
	var params services.ProcessPaymentParams
	if err := BindNestedOrFlat(c, "payment", &params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor := currentUser(c, h.userService)
	if actor == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	result, err := h.paymentService.ProcessPayment(c.Request.Context(), &params, actor,
		c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		status := http.StatusPaymentRequired
		switch err {
		case services.ErrNotFound:
			status = http.StatusNotFound
		case services.ErrUnauthorized:
			status = http.StatusForbidden
		case services.ErrInvalidState:
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// @Summary Upload Receipt
// @Description Attaches a wire receipt to a pending bank transfer
// @Tags Payments
// @Accept multipart/form-data
// @Produce json
// @Param id path int true "Transaction ID"
// @Param receipt formData file true "Receipt file"
// @Success 200 {object} models.TransactionResponse
// @Security BearerAuth
// @Router /payments/{id}/receipt [post]
func (h *PaymentHandler) UploadReceipt(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transaction id"})
		return
	}

	file, err := c.FormFile("receipt")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Receipt file is required"})
		return
	}

	txn, err := h.paymentService.UploadReceipt(c.Request.Context(), uint(id), file, middleware.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, txn.ToResponse())
}

// @Summary Approve Bank Transfer
// @Description Settles a pending bank transfer after receipt review
// @Tags Payments
// @Produce json
// @Param id path int true "Transaction ID"
// @Success 200 {object} models.TransactionResponse
// @Failure 409 {object} map[string]string
// @Security BearerAuth
// @Router /payments/{id}/approve [post]
func (h *PaymentHandler) ApproveBankTransfer(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transaction id"})
		return
	}

	txn, err := h.paymentService.ApproveBankTransfer(c.Request.Context(), uint(id),
		middleware.GetUserID(c), c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, txn.ToResponse())
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

// @Summary Reject Bank Transfer
// @Description Fails a pending bank transfer
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path int true "Transaction ID"
// @Param request body RejectRequest false "Rejection reason"
// @Success 200 {object} models.TransactionResponse
// @Security BearerAuth
// @Router /payments/{id}/reject [post]
func (h *PaymentHandler) RejectBankTransfer(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transaction id"})
		return
	}

	var req RejectRequest
	_ = c.ShouldBindJSON(&req)

	txn, err := h.paymentService.RejectBankTransfer(c.Request.Context(), uint(id), req.Reason,
		middleware.GetUserID(c), c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, txn.ToResponse())
}

type RefundRequest struct {
	Amount *float64 `json:"amount"`
	Reason string   `json:"reason"`
}

// @Summary Refund Payment
// @Description Reverses a settled payment, fully or partially
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path int true "Transaction ID"
// @Param request body RefundRequest false "Refund details"
// @Success 200 {object} models.TransactionResponse
// @Failure 409 {object} map[string]string
// @Security BearerAuth
// @Router /payments/{id}/refund [post]
func (h *PaymentHandler) Refund(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transaction id"})
		return
	}

	var req RefundRequest
	_ = c.ShouldBindJSON(&req)

	refund, err := h.paymentService.RefundPayment(c.Request.Context(), uint(id), req.Amount, req.Reason,
		middleware.GetUserID(c), c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		status := http.StatusConflict
		if err == services.ErrDuplicate {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, refund.ToResponse())
}

// @Summary Download Receipt
// @Description Serves the uploaded wire receipt for a bank transfer
// @Tags Payments
// @Produce octet-stream
// @Param id path int true "Transaction ID"
// @Success 200 {file} binary
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /payments/{id}/receipt [get]
func (h *PaymentHandler) DownloadReceipt(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transaction id"})
		return
	}

	txn, err := h.paymentService.FindTransaction(c.Request.Context(), uint(id))
	if err != nil || txn.ReceiptPath == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Receipt not found"})
		return
	}

	if txn.UserID != middleware.GetUserID(c) && !middleware.IsAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	fullPath, err := h.storage.SafeFullPath(*txn.ReceiptPath)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Receipt not found"})
		return
	}

	c.File(fullPath)
}

type PayoutRequest struct {
	ConsultantID uint    `json:"consultant_id" binding:"required"`
	Amount       float64 `json:"amount" binding:"required,gt=0"`
	Destination  string  `json:"destination" binding:"required"`
	Description  string  `json:"description"`
}

// @Summary Payout Consultant
// @Description Transfers settled earnings to a consultant's connected account
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body PayoutRequest true "Payout"
// @Success 200 {object} models.TransactionResponse
// @Security BearerAuth
// @Router /payments/payouts [post]
func (h *PaymentHandler) Payout(c *gin.Context) {
	var req PayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	txn, err := h.paymentService.PayoutConsultant(c.Request.Context(),
		req.ConsultantID, req.Amount, req.Destination, req.Description,
		middleware.GetUserID(c), c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, txn.ToResponse())
}
