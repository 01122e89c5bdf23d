package monitoring

import (
	"context"
	"net/http"
	"sync"
	"time"

	"playlink/internal/core/domain"

	"github.com/gin-gonic/gin"
)

type HealthChecker struct {
	checks []HealthCheck
	mu     sync.RWMutex
}

type HealthCheck struct {
	Name    string
	Check   func(ctx context.Context) error
	Timeout time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks: make([]HealthCheck, 0),
	}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:    name,
		Check:   check,
		Timeout: timeout,
	})
}

// AddSessionCheck reports unhealthy while the session sits in Failed.
func (h *HealthChecker) AddSessionCheck(status func() domain.Status) {
	h.AddCheck("session", func(ctx context.Context) error {
		s := status()
		if s.State == domain.StateFailed {
			return &unhealthyError{reason: "session failed, reconnect pending (" + s.Generation.String() + ")"}
		}
		return nil
	}, time.Second)
}

func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	for _, check := range h.checks {
		checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
		err := check.Check(checkCtx)
		cancel()

		if err != nil {
			status.Status = "unhealthy"
			status.Checks[check.Name] = err.Error()
		} else {
			status.Checks[check.Name] = "healthy"
		}
	}

	return status
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == "healthy"
}

// HealthHandler serves the full check report, 503 when any check fails.
func (h *HealthChecker) HealthHandler(c *gin.Context) {
	status := h.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// ReadyHandler serves a bare readiness probe.
func (h *HealthChecker) ReadyHandler(c *gin.Context) {
	if !h.IsReady(c.Request.Context()) {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	c.Status(http.StatusOK)
}

type unhealthyError struct {
	reason string
}

func (e *unhealthyError) Error() string {
	return e.reason
}
