package models

import (
	"time"
)

// Project is an engagement posted by a client. The billing core only needs
// it as a payment context and ownership anchor.
type Project struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	ClientID    uint    `gorm:"not null;index" json:"client_id"`
	Title       string  `gorm:"not null" json:"title"`
	Description string  `gorm:"type:text" json:"description"`
	Status      string  `gorm:"default:open;index" json:"status"`
	Budget      float64 `gorm:"type:decimal(15,2)" json:"budget"`
	Currency    string  `gorm:"default:USD" json:"currency"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Associations
	Client    User       `gorm:"foreignKey:ClientID" json:"client,omitempty"`
	Proposals []Proposal `gorm:"foreignKey:ProjectID" json:"proposals,omitempty"`
}

// TableName specifies the table name for Project
func (Project) TableName() string {
	return "projects"
}

// Project status constants
const (
	ProjectStatusOpen       = "open"
	ProjectStatusInProgress = "in_progress"
	ProjectStatusCompleted  = "completed"
	ProjectStatusCancelled  = "cancelled"
)

// OwnedBy returns true if the given user owns the project
func (p *Project) OwnedBy(userID uint) bool {
	return p.ClientID == userID
}

// Proposal is a consultant's offer against a project. Accepted proposals
// anchor consultant-side invoices and payouts.
type Proposal struct {
	ID           uint    `gorm:"primaryKey" json:"id"`
	ProjectID    uint    `gorm:"not null;index" json:"project_id"`
	ConsultantID uint    `gorm:"not null;index" json:"consultant_id"`
	Status       string  `gorm:"default:submitted;index" json:"status"`
	Amount       float64 `gorm:"type:decimal(15,2)" json:"amount"`
	Currency     string  `gorm:"default:USD" json:"currency"`
	CoverLetter  string  `gorm:"type:text" json:"cover_letter"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Associations
	Project    Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Consultant User    `gorm:"foreignKey:ConsultantID" json:"consultant,omitempty"`
}

// TableName specifies the table name for Proposal
func (Proposal) TableName() string {
	return "proposals"
}

// Proposal status constants
const (
	ProposalStatusSubmitted = "submitted"
	ProposalStatusAccepted  = "accepted"
	ProposalStatusRejected  = "rejected"
	ProposalStatusWithdrawn = "withdrawn"
)

// OwnedBy returns true if the given user submitted the proposal
func (p *Proposal) OwnedBy(userID uint) bool {
	return p.ConsultantID == userID
}
