package services

import (
	"gorm.io/gorm"

	"github.com/consultia/billing-api/internal/config"
	"github.com/consultia/billing-api/internal/gateway"
	"github.com/consultia/billing-api/internal/jobs"
	"github.com/consultia/billing-api/internal/repository"
	"github.com/consultia/billing-api/internal/storage"
)

// Services holds all service instances
type Services struct {
	Auth         *AuthService
	User         *UserService
	Invoice      *InvoiceService
	Payment      *PaymentService
	Notification *NotificationService
	Email        *EmailService
	Audit        *AuditService
	Report       *ReportService
	Export       *ExportService
}

// NewServices creates all service instances
func NewServices(
	repos *repository.Repositories,
	worker *jobs.Worker,
	storage *storage.LocalStorage,
	gw gateway.PaymentGateway,
	cfg *config.Config,
	db *gorm.DB,
) *Services {
	notificationSvc := NewNotificationService(repos.Notification, repos.User)
	emailSvc := NewEmailService(cfg)
	auditSvc := NewAuditService(db)

	return &Services{
		Auth:         NewAuthService(repos.User, repos.RefreshToken, cfg),
		User:         NewUserService(repos.User, emailSvc, auditSvc),
		Invoice:      NewInvoiceService(repos.Invoice, repos.User, repos.Project, repos.Proposal, notificationSvc, emailSvc, auditSvc, worker, cfg),
		Payment:      NewPaymentService(db, repos.Transaction, repos.Invoice, repos.User, gw, notificationSvc, emailSvc, auditSvc, storage, worker, cfg),
		Notification: notificationSvc,
		Email:        emailSvc,
		Audit:        auditSvc,
		Report:       NewReportService(repos.Invoice, repos.Transaction, repos.User),
		Export:       NewExportService(repos.Transaction),
	}
}
