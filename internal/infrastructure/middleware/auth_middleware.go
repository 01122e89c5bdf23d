package middleware

import (
	"net/http"
	"strings"

	"playlink/internal/core/services"
	apperrors "playlink/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ClaimsKey is where validated claims are stored on the gin context.
const ClaimsKey = "claims"

// AuthMiddleware requires a relay token, sent either as an
// "Authorization: Bearer" header or as a "token" query parameter for clients
// that cannot set headers on a websocket handshake.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.Error(apperrors.NewUnauthorizedError("authorization header or token parameter required"))
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			c.Error(apperrors.WrapError(err, apperrors.ErrCodeUnauthorized, err.Error(), http.StatusUnauthorized))
			c.Abort()
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}
