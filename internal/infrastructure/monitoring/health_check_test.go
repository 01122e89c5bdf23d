package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"playlink/internal/core/domain"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestHealthChecker_AllHealthy(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("relay", func(ctx context.Context) error { return nil }, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["relay"])
	assert.True(t, h.IsReady(context.Background()))
}

func TestHealthChecker_FailingCheck(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("ok", func(ctx context.Context) error { return nil }, time.Second)
	h.AddCheck("broken", func(ctx context.Context) error { return errors.New("boom") }, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["ok"])
	assert.Equal(t, "boom", status.Checks["broken"])
	assert.False(t, h.IsReady(context.Background()))
}

func TestHealthChecker_Timeout(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 10*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"])
}

func TestHealthChecker_SessionCheck(t *testing.T) {
	current := domain.Status{State: domain.StateLive, Generation: 2}
	h := NewHealthChecker()
	h.AddSessionCheck(func() domain.Status { return current })

	assert.True(t, h.IsReady(context.Background()))

	current.State = domain.StateNegotiating
	assert.True(t, h.IsReady(context.Background()))

	current.State = domain.StateFailed
	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Contains(t, status.Checks["session"], "session failed")
}

func TestHealthChecker_Handlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	current := domain.Status{State: domain.StateLive}
	h := NewHealthChecker()
	h.AddSessionCheck(func() domain.Status { return current })

	router := gin.New()
	router.GET("/health", h.HealthHandler)
	router.GET("/ready", h.ReadyHandler)

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	assert.Equal(t, http.StatusOK, get("/ready").Code)
	w := get("/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	current.State = domain.StateFailed
	assert.Equal(t, http.StatusServiceUnavailable, get("/ready").Code)
	w = get("/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "session failed")
}
