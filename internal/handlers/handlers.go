package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/consultia/billing-api/internal/jobs"
	"github.com/consultia/billing-api/internal/middleware"
	"github.com/consultia/billing-api/internal/models"
	"github.com/consultia/billing-api/internal/services"
	"github.com/consultia/billing-api/internal/storage"
)

// Handlers holds all handler instances
type Handlers struct {
	Health       *HealthHandler
	Auth         *AuthHandler
	User         *UserHandler
	Invoice      *InvoiceHandler
	Payment      *PaymentHandler
	Transaction  *TransactionHandler
	Notification *NotificationHandler
	Audit        *AuditHandler
}

// NewHandlers creates all handler instances
func NewHandlers(svcs *services.Services, storage *storage.LocalStorage, worker *jobs.Worker) *Handlers {
	return &Handlers{
		Health:       NewHealthHandler(worker),
		Auth:         NewAuthHandler(svcs.Auth, svcs.User),
		User:         NewUserHandler(svcs.User),
		Invoice:      NewInvoiceHandler(svcs.Invoice, svcs.Payment, svcs.User, svcs.Report),
		Payment:      NewPaymentHandler(svcs.Payment, svcs.User, storage),
		Transaction:  NewTransactionHandler(svcs.Payment, svcs.Export, svcs.Report, svcs.User),
		Notification: NewNotificationHandler(svcs.Notification),
		Audit:        NewAuditHandler(svcs.Audit),
	}
}

// currentUser resolves the authenticated account from the request context
func currentUser(c *gin.Context, users *services.UserService) *models.User {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		return nil
	}
	user, err := users.FindByID(c.Request.Context(), userID)
	if err != nil {
		return nil
	}
	return user
}
