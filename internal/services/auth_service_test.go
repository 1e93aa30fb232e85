package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/consultia/billing-api/internal/config"
	"github.com/consultia/billing-api/internal/models"
	"github.com/consultia/billing-api/internal/repository"
)

type mockRefreshTokenRepository struct {
	repository.RefreshTokenRepository
	mockCreate      func(ctx context.Context, token *models.RefreshToken) error
	mockFindByToken func(ctx context.Context, token string) (*models.RefreshToken, error)
	mockRevoke      func(ctx context.Context, token string) error
}

func (m *mockRefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	if m.mockCreate != nil {
		return m.mockCreate(ctx, token)
	}
	return nil
}
func (m *mockRefreshTokenRepository) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	if m.mockFindByToken != nil {
		return m.mockFindByToken(ctx, token)
	}
	return nil, ErrNotFound
}
func (m *mockRefreshTokenRepository) Revoke(ctx context.Context, token string) error {
	if m.mockRevoke != nil {
		return m.mockRevoke(ctx, token)
	}
	return nil
}

func authTestConfig() *config.Config {
	return &config.Config{JWTSecret: "test-secret", JWTExpirationHours: 1}
}

func TestAuthService_Login(t *testing.T) {
	hash, err := HashPassword("correct horse")
	assert.NoError(t, err)

	userRepo := &mockUserRepository{
		mockFindByEmail: func(ctx context.Context, email string) (*models.User, error) {
			return &models.User{
				ID:                1,
				Email:             email,
				Role:              models.RoleClient,
				Status:            models.StatusActive,
				EncryptedPassword: hash,
			}, nil
		},
	}
	service := NewAuthService(userRepo, &mockRefreshTokenRepository{}, authTestConfig())

	result, err := service.Login(context.Background(), "ada@example.com", "correct horse")
	assert.NoError(t, err)
	assert.NotEmpty(t, result.Token)
	assert.NotEmpty(t, result.RefreshToken)
	assert.Equal(t, "ada@example.com", result.User.Email)

	_, err = service.Login(context.Background(), "ada@example.com", "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_Login_InactiveUser(t *testing.T) {
	userRepo := &mockUserRepository{
		mockFindByEmail: func(ctx context.Context, email string) (*models.User, error) {
			return &models.User{Email: email, Status: models.StatusInactive}, nil
		},
	}
	service := NewAuthService(userRepo, &mockRefreshTokenRepository{}, authTestConfig())

	result, err := service.Login(context.Background(), "inactive@example.com", "password")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrAccountInactive)
}

func TestAuthService_RefreshToken_Rotation(t *testing.T) {
	userRepo := &mockUserRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.User, error) {
			return &models.User{ID: id, Email: "ada@example.com", Status: models.StatusActive}, nil
		},
	}

	var revoked string
	rtRepo := &mockRefreshTokenRepository{
		mockFindByToken: func(ctx context.Context, token string) (*models.RefreshToken, error) {
			return &models.RefreshToken{UserID: 1, Token: token}, nil
		},
		mockRevoke: func(ctx context.Context, token string) error {
			revoked = token
			return nil
		},
	}
	service := NewAuthService(userRepo, rtRepo, authTestConfig())

	result, err := service.RefreshToken(context.Background(), "old-token")
	assert.NoError(t, err)
	assert.Equal(t, "old-token", revoked, "the old token is single-use")
	assert.NotEmpty(t, result.RefreshToken)
	assert.NotEqual(t, "old-token", result.RefreshToken)
}

func TestAuthService_RefreshToken_Unknown(t *testing.T) {
	service := NewAuthService(&mockUserRepository{}, &mockRefreshTokenRepository{}, authTestConfig())

	_, err := service.RefreshToken(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	assert.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	assert.True(t, VerifyPassword("s3cret", hash))
	assert.False(t, VerifyPassword("other", hash))
}
