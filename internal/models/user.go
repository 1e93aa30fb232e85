package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a marketplace account: a client posting projects, a
// consultant submitting proposals, or a platform admin.
type User struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	Email             string     `gorm:"uniqueIndex;not null" json:"email"`
	EncryptedPassword string     `gorm:"column:encrypted_password;not null" json:"-"`
	Role              string     `gorm:"default:client" json:"role"`
	FullName          string     `json:"full_name"`
	CompanyName       *string    `json:"company_name"`
	Phone             string     `json:"phone"`
	Status            string     `gorm:"default:active" json:"status"`
	Address           *string    `json:"address"`
	TaxID             *string    `gorm:"column:tax_id" json:"tax_id"`
	DiscardedAt       *time.Time `gorm:"index" json:"-"`

	// Cached gateway customer reference, created lazily on first card payment
	GatewayCustomerID *string `gorm:"index" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Associations
	Projects      []Project      `gorm:"foreignKey:ClientID" json:"projects,omitempty"`
	Proposals     []Proposal     `gorm:"foreignKey:ConsultantID" json:"proposals,omitempty"`
	Notifications []Notification `gorm:"foreignKey:UserID" json:"notifications,omitempty"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}

// BeforeCreate hook for setting defaults
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.Role == "" {
		u.Role = RoleClient
	}
	if u.Status == "" {
		u.Status = StatusActive
	}
	return nil
}

// IsAdmin returns true if user has admin role
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// IsClient returns true if user has client role
func (u *User) IsClient() bool {
	return u.Role == RoleClient
}

// IsConsultant returns true if user has consultant role
func (u *User) IsConsultant() bool {
	return u.Role == RoleConsultant
}

// IsActive returns true if user status is active
func (u *User) IsActive() bool {
	return u.Status == StatusActive && u.DiscardedAt == nil
}

// Role constants
const (
	RoleAdmin      = "admin"
	RoleClient     = "client"
	RoleConsultant = "consultant"
)

// Status constants
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
)

// UserResponse is the JSON response format for users
type UserResponse struct {
	ID          uint      `json:"id"`
	Email       string    `json:"email"`
	FullName    string    `json:"full_name"`
	CompanyName *string   `json:"company_name"`
	Phone       string    `json:"phone"`
	Role        string    `json:"role"`
	Status      string    `json:"status"`
	Address     *string   `json:"address"`
	TaxID       *string   `json:"tax_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ToResponse converts User to UserResponse
func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:          u.ID,
		Email:       u.Email,
		FullName:    u.FullName,
		CompanyName: u.CompanyName,
		Phone:       u.Phone,
		Role:        u.Role,
		Status:      u.Status,
		Address:     u.Address,
		TaxID:       u.TaxID,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}
