package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/consultia/billing-api/internal/models"
	"github.com/consultia/billing-api/internal/repository"
	"github.com/consultia/billing-api/internal/services"
)

type mockUserRepo struct {
	repository.UserRepository
	mockList     func(ctx context.Context, query *repository.ListQuery) ([]models.User, int64, error)
	mockFindByID func(ctx context.Context, id uint) (*models.User, error)
}

func (m *mockUserRepo) List(ctx context.Context, query *repository.ListQuery) ([]models.User, int64, error) {
	return m.mockList(ctx, query)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id uint) (*models.User, error) {
	return m.mockFindByID(ctx, id)
}

func TestUserHandler_Index_QueryParsing(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockRepo := &mockUserRepo{}
	handler := NewUserHandler(services.NewUserService(mockRepo, nil, nil))

	var captured *repository.ListQuery
	mockRepo.mockList = func(ctx context.Context, query *repository.ListQuery) ([]models.User, int64, error) {
		captured = query
		return []models.User{{Email: "client@example.com", Role: models.RoleClient}}, 1, nil
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/users?page=2&per_page=5&role=client&status=inactive&search=acme&sort=created_at-desc", nil)

	handler.Index(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, captured.Page)
	assert.Equal(t, 5, captured.PerPage)
	assert.Equal(t, "client", captured.Filters["role"])
	assert.Equal(t, "inactive", captured.Filters["status"])
	assert.Equal(t, "acme", captured.Filters["search_term"])
	assert.Equal(t, "created_at", captured.SortBy)
	assert.Equal(t, "desc", captured.SortDir)
	assert.Contains(t, w.Body.String(), "client@example.com")
}

func TestUserHandler_Show_OwnerAndAdminAccess(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockRepo := &mockUserRepo{
		mockFindByID: func(ctx context.Context, id uint) (*models.User, error) {
			return &models.User{Email: "owner@example.com", Role: models.RoleClient}, nil
		},
	}
	handler := NewUserHandler(services.NewUserService(mockRepo, nil, nil))

	show := func(userID uint, role string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request, _ = http.NewRequest("GET", "/users/7", nil)
		c.Params = gin.Params{{Key: "user_id", Value: "7"}}
		c.Set("userID", userID)
		c.Set("userRole", role)
		handler.Show(c)
		return w
	}

	// Owner sees their own record
	w := show(7, models.RoleClient)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "owner@example.com")

	// Admins see anyone
	w = show(99, models.RoleAdmin)
	assert.Equal(t, http.StatusOK, w.Code)

	// Another client is rejected
	w = show(8, models.RoleClient)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUserHandler_Show_InvalidID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewUserHandler(services.NewUserService(&mockUserRepo{}, nil, nil))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/users/abc", nil)
	c.Params = gin.Params{{Key: "user_id", Value: "abc"}}
	c.Set("userID", uint(1))
	c.Set("userRole", models.RoleAdmin)

	handler.Show(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
