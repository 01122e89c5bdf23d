package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	apperrors "playlink/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// idle limiters are dropped after this long
const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiterStore stores per-key (for example, per IP) rate limiters.
type rateLimiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	rate      rate.Limit
	burstSize int
	lastSweep time.Time
}

func newRateLimiterStore(r rate.Limit, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		limiters:  make(map[string]*limiterEntry),
		rate:      r,
		burstSize: burst,
		lastSweep: time.Now(),
	}
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.lastSweep) > limiterIdleTTL {
		for k, e := range s.limiters {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(s.limiters, k)
			}
		}
		s.lastSweep = now
	}

	entry, exists := s.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(s.rate, s.burstSize)}
		s.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// clientIP extracts the IP part from the request's remote address.
func clientIP(r *http.Request) string {
	// Try X-Forwarded-For first (behind proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := net.ParseIP(xff); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewHTTPRateLimitMiddleware limits requests per client IP. A non-positive
// rps disables limiting.
func NewHTTPRateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	store := newRateLimiterStore(rate.Limit(rps), burst)

	return func(c *gin.Context) {
		limiter := store.getLimiter(clientIP(c.Request))
		if !limiter.Allow() {
			c.Error(apperrors.NewRateLimitError())
			c.Abort()
			return
		}
		c.Next()
	}
}
