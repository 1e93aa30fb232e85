package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/consultia/billing-api/internal/models"
	"github.com/consultia/billing-api/internal/repository"
)

type UserService struct {
	repo     repository.UserRepository
	emailSvc *EmailService
	auditSvc *AuditService
}

func NewUserService(repo repository.UserRepository, emailSvc *EmailService, auditSvc *AuditService) *UserService {
	return &UserService{
		repo:     repo,
		emailSvc: emailSvc,
		auditSvc: auditSvc,
	}
}

// CreateUserParams carries a new account's fields
type CreateUserParams struct {
	Email       string  `json:"email" binding:"required,email"`
	Password    string  `json:"password" binding:"required,min=8"`
	FullName    string  `json:"full_name" binding:"required"`
	Role        string  `json:"role" binding:"omitempty,oneof=admin client consultant"`
	CompanyName *string `json:"company_name"`
	Phone       string  `json:"phone"`
	Address     *string `json:"address"`
	TaxID       *string `json:"tax_id"`
}

func (s *UserService) Create(ctx context.Context, params *CreateUserParams, actorID uint, ip, userAgent string) (*models.User, error) {
	hashed, err := HashPassword(params.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:             params.Email,
		EncryptedPassword: hashed,
		FullName:          params.FullName,
		Role:              params.Role,
		CompanyName:       params.CompanyName,
		Phone:             params.Phone,
		Address:           params.Address,
		TaxID:             params.TaxID,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	s.auditSvc.Log(ctx, actorID, "CREATE", "User", user.ID,
		fmt.Sprintf("User %s created with role %s", user.Email, user.Role), ip, userAgent)

	return user, nil
}

func (s *UserService) FindByID(ctx context.Context, id uint) (*models.User, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *UserService) List(ctx context.Context, query *repository.ListQuery) ([]models.User, int64, error) {
	return s.repo.List(ctx, query)
}

// UpdateProfileParams carries the self-service editable fields
type UpdateProfileParams struct {
	FullName    string  `json:"full_name"`
	CompanyName *string `json:"company_name"`
	Phone       string  `json:"phone"`
	Address     *string `json:"address"`
	TaxID       *string `json:"tax_id"`
}

func (s *UserService) UpdateProfile(ctx context.Context, id uint, params *UpdateProfileParams) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if params.FullName != "" {
		user.FullName = params.FullName
	}
	if params.Phone != "" {
		user.Phone = params.Phone
	}
	if params.CompanyName != nil {
		user.CompanyName = params.CompanyName
	}
	if params.Address != nil {
		user.Address = params.Address
	}
	if params.TaxID != nil {
		user.TaxID = params.TaxID
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SetStatus activates, deactivates or suspends an account
func (s *UserService) SetStatus(ctx context.Context, id uint, status string, actorID uint, ip, userAgent string) (*models.User, error) {
	switch status {
	case models.StatusActive, models.StatusInactive, models.StatusSuspended:
	default:
		return nil, fmt.Errorf("unknown status: %s", status)
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	user.Status = status
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}

	s.auditSvc.Log(ctx, actorID, "UPDATE", "User", user.ID,
		fmt.Sprintf("User %s status set to %s", user.Email, status), ip, userAgent)

	return user, nil
}

func (s *UserService) Delete(ctx context.Context, id uint, actorID uint, ip, userAgent string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.auditSvc.Log(ctx, actorID, "UPDATE", "User", id, "User soft-deleted", ip, userAgent)
	return nil
}
