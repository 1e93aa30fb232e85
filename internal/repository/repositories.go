package repository

import (
	"gorm.io/gorm"
)

// Repositories holds all repository instances
type Repositories struct {
	User         UserRepository
	Project      ProjectRepository
	Proposal     ProposalRepository
	Invoice      InvoiceRepository
	Transaction  TransactionRepository
	Notification NotificationRepository
	RefreshToken RefreshTokenRepository
}

// NewRepositories creates all repository instances
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Project:      NewProjectRepository(db),
		Proposal:     NewProposalRepository(db),
		Invoice:      NewInvoiceRepository(db),
		Transaction:  NewTransactionRepository(db),
		Notification: NewNotificationRepository(db),
		RefreshToken: NewRefreshTokenRepository(db),
	}
}
