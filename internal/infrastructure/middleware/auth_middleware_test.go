package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"playlink/internal/core/domain"
	"playlink/internal/core/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) GenerateToken(room string, role domain.RelayRole) (string, error) {
	args := m.Called(room, role)
	return args.String(0), args.Error(1)
}

func (m *MockAuthService) ValidateToken(tokenString string) (*services.Claims, error) {
	args := m.Called(tokenString)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Claims), args.Error(1)
}

func (m *MockAuthService) Authorize(claims *services.Claims, room string, role domain.RelayRole) error {
	args := m.Called(claims, room, role)
	return args.Error(0)
}

func newAuthRouter(auth services.AuthService, seen *any) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	router.GET("/ws", AuthMiddleware(auth), func(c *gin.Context) {
		*seen, _ = c.Get(ClaimsKey)
		c.Status(http.StatusOK)
	})
	return router
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	auth := new(MockAuthService)
	var seen any
	router := newAuthRouter(auth, &seen)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
	assert.Nil(t, seen)
	auth.AssertNotCalled(t, "ValidateToken", mock.Anything)
}

func TestAuthMiddleware_MalformedHeader(t *testing.T) {
	auth := new(MockAuthService)
	var seen any
	router := newAuthRouter(auth, &seen)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Token abc")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	auth.AssertNotCalled(t, "ValidateToken", mock.Anything)
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	auth := new(MockAuthService)
	auth.On("ValidateToken", "bad").Return(nil, services.ErrExpiredToken)
	var seen any
	router := newAuthRouter(auth, &seen)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer bad")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "token expired")
	auth.AssertExpectations(t)
}

func TestAuthMiddleware_StoresClaims(t *testing.T) {
	claims := &services.Claims{Room: "lobby", Role: domain.RoleHost}
	auth := new(MockAuthService)
	auth.On("ValidateToken", "header-token").Return(claims, nil).Once()
	auth.On("ValidateToken", "query-token").Return(claims, nil).Once()
	var seen any
	router := newAuthRouter(auth, &seen)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Same(t, claims, seen)

	seen = nil
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?token=query-token", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Same(t, claims, seen)

	auth.AssertExpectations(t)
}
