package services

import (
	"errors"
	"time"

	"playlink/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// AuthService issues and checks the bearer tokens accepted by the relay.
// A token binds its holder to one room and one role.
type AuthService interface {
	GenerateToken(room string, role domain.RelayRole) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	Authorize(claims *Claims, room string, role domain.RelayRole) error
}

type Claims struct {
	Room string           `json:"room"`
	Role domain.RelayRole `json:"role"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewAuthService(jwtSecret string, tokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

func (s *authService) GenerateToken(room string, role domain.RelayRole) (string, error) {
	now := time.Now()
	claims := &Claims{
		Room: room,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// Authorize checks that claims grant access to room as role. An empty room
// claim admits any room.
func (s *authService) Authorize(claims *Claims, room string, role domain.RelayRole) error {
	if claims == nil {
		return ErrUnauthorized
	}
	if claims.Room != "" && claims.Room != room {
		return ErrUnauthorized
	}
	if claims.Role != role {
		return ErrUnauthorized
	}
	return nil
}
