package repository

import (
	"context"

	"github.com/consultia/billing-api/internal/models"

	"gorm.io/gorm"
)

// ProjectRepository defines the interface for project data access
type ProjectRepository interface {
	FindByID(ctx context.Context, id uint) (*models.Project, error)
	Create(ctx context.Context, project *models.Project) error
	Update(ctx context.Context, project *models.Project) error
	ListByClient(ctx context.Context, clientID uint) ([]models.Project, error)
}

type projectRepository struct {
	db *gorm.DB
}

// NewProjectRepository creates a new project repository
func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{db: db}
}

func (r *projectRepository) FindByID(ctx context.Context, id uint) (*models.Project, error) {
	var project models.Project
	if err := r.db.WithContext(ctx).First(&project, id).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

func (r *projectRepository) Create(ctx context.Context, project *models.Project) error {
	return r.db.WithContext(ctx).Create(project).Error
}

func (r *projectRepository) Update(ctx context.Context, project *models.Project) error {
	return r.db.WithContext(ctx).Save(project).Error
}

func (r *projectRepository) ListByClient(ctx context.Context, clientID uint) ([]models.Project, error) {
	var projects []models.Project
	err := r.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("created_at DESC").
		Find(&projects).Error
	return projects, err
}

// ProposalRepository defines the interface for proposal data access
type ProposalRepository interface {
	FindByID(ctx context.Context, id uint) (*models.Proposal, error)
	Create(ctx context.Context, proposal *models.Proposal) error
	Update(ctx context.Context, proposal *models.Proposal) error
	ListByProject(ctx context.Context, projectID uint) ([]models.Proposal, error)
}

type proposalRepository struct {
	db *gorm.DB
}

// NewProposalRepository creates a new proposal repository
func NewProposalRepository(db *gorm.DB) ProposalRepository {
	return &proposalRepository{db: db}
}

func (r *proposalRepository) FindByID(ctx context.Context, id uint) (*models.Proposal, error) {
	var proposal models.Proposal
	if err := r.db.WithContext(ctx).First(&proposal, id).Error; err != nil {
		return nil, err
	}
	return &proposal, nil
}

func (r *proposalRepository) Create(ctx context.Context, proposal *models.Proposal) error {
	return r.db.WithContext(ctx).Create(proposal).Error
}

func (r *proposalRepository) Update(ctx context.Context, proposal *models.Proposal) error {
	return r.db.WithContext(ctx).Save(proposal).Error
}

func (r *proposalRepository) ListByProject(ctx context.Context, projectID uint) ([]models.Proposal, error) {
	var proposals []models.Proposal
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Find(&proposals).Error
	return proposals, err
}
